//go:build windows

package monitor

import (
	"context"
	"fmt"
	"log"
	"os/exec"
	"time"

	"github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
	"golang.org/x/sys/windows/svc"
	"golang.org/x/sys/windows/svc/mgr"
)

// agentConfigProgID is the agent's COM configuration object.
const agentConfigProgID = "AgentConfigManager.MgmtSvcCfg"

// agentInstalled reports whether the agent service exists in the SCM.
func agentInstalled() (bool, error) {
	m, err := mgr.Connect()
	if err != nil {
		return false, fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err != nil {
		// Missing service, not an SCM failure.
		return false, nil
	}
	s.Close()
	return true, nil
}

// withAgentConfig runs fn against the agent's COM configuration object,
// handling COM setup/teardown.
func withAgentConfig(fn func(cfg *ole.IDispatch) error) error {
	if err := ole.CoInitializeEx(0, ole.COINIT_MULTITHREADED); err != nil {
		oleErr, ok := err.(*ole.OleError)
		// S_FALSE means already initialized, which is fine
		if !ok || oleErr.Code() != 0x00000001 {
			return fmt.Errorf("COM initialization failed: %w", err)
		}
	}
	defer ole.CoUninitialize()

	unknown, err := oleutil.CreateObject(agentConfigProgID)
	if err != nil {
		return fmt.Errorf("create %s: %w", agentConfigProgID, err)
	}
	defer unknown.Release()

	cfg, err := unknown.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("get IDispatch: %w", err)
	}
	defer cfg.Release()

	return fn(cfg)
}

// workspaceJoined reports whether the agent already has the workspace
// configured.
func workspaceJoined(workspaceID string) (joined bool, err error) {
	err = withAgentConfig(func(cfg *ole.IDispatch) error {
		ws, callErr := oleutil.CallMethod(cfg, "GetCloudWorkspace", workspaceID)
		if callErr != nil {
			// The agent throws for unknown workspace IDs.
			return nil
		}
		if d := ws.ToIDispatch(); d != nil {
			d.Release()
			joined = true
		}
		return nil
	})
	return joined, err
}

// addWorkspace registers the workspace with the agent and reloads its
// configuration so reporting starts without a reboot.
func addWorkspace(workspaceID, workspaceKey string) error {
	return withAgentConfig(func(cfg *ole.IDispatch) error {
		if _, err := oleutil.CallMethod(cfg, "AddCloudWorkspace", workspaceID, workspaceKey); err != nil {
			return fmt.Errorf("AddCloudWorkspace: %w", err)
		}
		if _, err := oleutil.CallMethod(cfg, "ReloadConfiguration"); err != nil {
			return fmt.Errorf("ReloadConfiguration: %w", err)
		}
		log.Printf("[monagent] Workspace %s added, configuration reloaded", workspaceID)
		return nil
	})
}

// runSetup executes the self-extracting setup bundle and waits for it.
func runSetup(ctx context.Context, setupPath string, args []string) error {
	cmd := exec.CommandContext(ctx, setupPath, args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%w: %s", err, string(output))
	}
	return nil
}

// verifyAgentRunning waits briefly for the service to report Running.
func verifyAgentRunning() error {
	m, err := mgr.Connect()
	if err != nil {
		return fmt.Errorf("connect to service manager: %w", err)
	}
	defer m.Disconnect()

	s, err := m.OpenService(ServiceName)
	if err != nil {
		return fmt.Errorf("service %s not found after install: %w", ServiceName, err)
	}
	defer s.Close()

	deadline := time.Now().Add(60 * time.Second)
	for {
		status, err := s.Query()
		if err == nil && status.State == svc.Running {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("service %s not running after install", ServiceName)
		}
		time.Sleep(2 * time.Second)
	}
}
