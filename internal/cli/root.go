// Package cli wires the aamodules command tree.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// Version is stamped at build time via -ldflags.
var Version = "dev"

var rootCmd = &cobra.Command{
	Use:     "aamodules",
	Short:   "Install PowerShell modules into an Azure Automation account",
	Version: Version,
	Long: `aamodules resolves a PowerShell module's full dependency tree from a
NuGet v2 gallery (PowerShell Gallery by default), orders the modules so
every dependency lands before its dependents, and imports them into an
Azure Automation account through the ARM API.`,
	SilenceUsage: true,
}

// Execute runs the root command. Cancelling ctx aborts any in-flight
// polling loop.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}
