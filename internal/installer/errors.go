package installer

import (
	"fmt"
	"strings"
)

// RemovalTimeoutError means an outdated module was still present in the
// account after the removal wait expired. Aborts the run immediately.
type RemovalTimeoutError struct {
	Module string
}

func (e *RemovalTimeoutError) Error() string {
	return fmt.Sprintf("module %s was not removed within the removal timeout", e.Module)
}

// PhaseTimeoutError means one or more modules never reached a terminal state
// before the phase deadline. Pending holds their last-known states.
type PhaseTimeoutError struct {
	Phase   int
	Pending map[string]string // module name -> last-known status
}

func (e *PhaseTimeoutError) Error() string {
	parts := make([]string, 0, len(e.Pending))
	for name, status := range e.Pending {
		parts = append(parts, fmt.Sprintf("%s=%s", name, status))
	}
	return fmt.Sprintf("phase %d timed out with non-terminal modules: %s", e.Phase, strings.Join(parts, ", "))
}

// ProvisioningSubmitError wraps a failed install submission. Reported
// per-module; does not abort the phase.
type ProvisioningSubmitError struct {
	Module string
	Err    error
}

func (e *ProvisioningSubmitError) Error() string {
	return fmt.Sprintf("submit install for %s: %v", e.Module, e.Err)
}

func (e *ProvisioningSubmitError) Unwrap() error { return e.Err }
