package installer

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/y0rik/pwsh-azure/internal/planner"
)

// WriteTable writes the per-phase module table. Formatting is for humans,
// not a compatibility surface.
func WriteTable(w io.Writer, phases []planner.Phase) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "MODULE\tVERSION\tREPOSITORY\tPHASE\tSTATUS")
	for _, ph := range phases {
		for _, m := range ph.Modules {
			status := m.Status.String()
			if m.Err != "" {
				status += " (" + m.Err + ")"
			}
			fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%s\n", m.Name, m.Version, m.Repository, m.Phase, status)
		}
	}
	tw.Flush()
}
