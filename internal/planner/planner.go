// Package planner turns the resolver's raw occurrence list into ordered
// installation phases.
//
// Duplicate (name, version, repository) occurrences collapse to one planned
// module whose phase is the deepest depth seen; phases run deepest-first so
// a module never installs before its dependencies are terminal.
package planner

import (
	"sort"
	"strings"

	"github.com/y0rik/pwsh-azure/internal/resolver"
)

// Status tracks a planned module through its install lifecycle.
type Status int

const (
	StatusNotStarted Status = iota
	StatusSubmitted
	StatusSucceeded
	StatusFailed
	// StatusUnknown marks a transient status-read failure; it is retried,
	// never treated as terminal.
	StatusUnknown
)

func (s Status) String() string {
	switch s {
	case StatusSubmitted:
		return "Submitted"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusUnknown:
		return "Unknown"
	default:
		return "NotStarted"
	}
}

// Terminal reports whether the status is final.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// Module is one deduplicated entry in the installation plan.
type Module struct {
	Name       string
	Version    string
	Repository string
	Phase      int
	Status     Status
	Err        string // last reported failure detail, if any
}

// Phase is a batch of modules whose dependencies are all in deeper phases.
type Phase struct {
	Index   int
	Modules []*Module
}

type dedupeKey struct {
	name       string
	version    string
	repository string
}

// Plan deduplicates resolved entries and groups them into phases ordered by
// strictly descending index. The deepest occurrence of a key wins: entries
// are sorted depth-descending first and only the first occurrence of each
// key is kept.
func Plan(entries []resolver.Entry) []Phase {
	sorted := make([]resolver.Entry, len(entries))
	copy(sorted, entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Depth > sorted[j].Depth
	})

	seen := make(map[dedupeKey]bool)
	byDepth := make(map[int][]*Module)
	var depths []int

	for _, e := range sorted {
		key := dedupeKey{
			name:       strings.ToLower(e.Module.Name),
			version:    e.Module.Version,
			repository: e.Module.Repository,
		}
		if seen[key] {
			continue
		}
		seen[key] = true

		if _, ok := byDepth[e.Depth]; !ok {
			depths = append(depths, e.Depth)
		}
		byDepth[e.Depth] = append(byDepth[e.Depth], &Module{
			Name:       e.Module.Name,
			Version:    e.Module.Version,
			Repository: e.Module.Repository,
			Phase:      e.Depth,
			Status:     StatusNotStarted,
		})
	}

	sort.Sort(sort.Reverse(sort.IntSlice(depths)))

	phases := make([]Phase, 0, len(depths))
	for _, d := range depths {
		phases = append(phases, Phase{Index: d, Modules: byDepth[d]})
	}
	return phases
}
