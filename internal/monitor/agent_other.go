//go:build !windows

package monitor

import (
	"context"
	"fmt"
)

// agentInstalled is a stub for non-Windows platforms.
func agentInstalled() (bool, error) {
	return false, fmt.Errorf("monitoring agent install only supported on Windows")
}

// workspaceJoined is a stub for non-Windows platforms.
func workspaceJoined(workspaceID string) (bool, error) {
	return false, fmt.Errorf("workspace configuration only supported on Windows")
}

// addWorkspace is a stub for non-Windows platforms.
func addWorkspace(workspaceID, workspaceKey string) error {
	return fmt.Errorf("workspace configuration only supported on Windows")
}

// runSetup is a stub for non-Windows platforms.
func runSetup(ctx context.Context, setupPath string, args []string) error {
	return fmt.Errorf("agent setup only supported on Windows")
}

// verifyAgentRunning is a stub for non-Windows platforms.
func verifyAgentRunning() error {
	return fmt.Errorf("service query only supported on Windows")
}
