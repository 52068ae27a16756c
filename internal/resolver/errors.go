package resolver

import (
	"fmt"
	"strings"
)

// VersionTooLowError means the registry's chosen version for a module is
// below the minimum its parent declared.
type VersionTooLowError struct {
	Name     string
	Minimum  string
	Resolved string
}

func (e *VersionTooLowError) Error() string {
	return fmt.Sprintf("module %s resolved to %s, below required minimum %s", e.Name, e.Resolved, e.Minimum)
}

// CyclicDependencyError means a module depends on itself, directly or
// through the chain in Path.
type CyclicDependencyError struct {
	Name       string
	Repository string
	Path       []string
}

func (e *CyclicDependencyError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("dependency cycle at %s (%s)", e.Name, e.Repository)
	}
	return fmt.Sprintf("dependency cycle at %s (%s): %s -> %s",
		e.Name, e.Repository, strings.Join(e.Path, " -> "), strings.ToLower(e.Name))
}
