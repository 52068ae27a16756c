// Package monitor installs and configures the Log Analytics monitoring
// agent on the local Windows host.
//
// One-shot flow:
//  1. Detect the agent's HealthService in the Service Control Manager
//  2. Installed + already joined to the workspace -> nothing to do
//  3. Installed, wrong/missing workspace -> add the workspace through the
//     agent's COM configuration object and reload the service
//  4. Not installed -> download the setup bundle, run it silently with the
//     workspace baked into the install arguments, verify the service starts
//
// Platform-specific pieces (SCM, COM) live in agent_windows.go with
// non-Windows stubs in agent_other.go.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

const (
	// ServiceName is the monitoring agent's Windows service.
	ServiceName = "HealthService"

	// DefaultDownloadURL is the 64-bit agent setup bundle.
	DefaultDownloadURL = "https://go.microsoft.com/fwlink/?LinkId=828603"

	setupFileName = "MMASetup-AMD64.exe"
)

// Installer performs the one-shot install/configure run.
type Installer struct {
	WorkspaceID  string
	WorkspaceKey string
	DownloadURL  string

	client *http.Client
}

// New creates an installer for the given workspace. downloadURL may be
// empty to use the default.
func New(workspaceID, workspaceKey, downloadURL string) *Installer {
	if downloadURL == "" {
		downloadURL = DefaultDownloadURL
	}
	return &Installer{
		WorkspaceID:  workspaceID,
		WorkspaceKey: workspaceKey,
		DownloadURL:  downloadURL,
		client: &http.Client{
			Timeout: 10 * time.Minute, // the setup bundle is large
		},
	}
}

// Run executes the full install/configure sequence.
func (i *Installer) Run(ctx context.Context) error {
	if i.WorkspaceID == "" || i.WorkspaceKey == "" {
		return fmt.Errorf("workspace id and key are required")
	}

	installed, err := agentInstalled()
	if err != nil {
		return fmt.Errorf("detect agent: %w", err)
	}

	if installed {
		log.Printf("[monagent] Agent already installed, checking workspace membership")
		joined, err := workspaceJoined(i.WorkspaceID)
		if err != nil {
			return fmt.Errorf("check workspace: %w", err)
		}
		if joined {
			log.Printf("[monagent] Host already reports to workspace %s, nothing to do", i.WorkspaceID)
			return nil
		}
		log.Printf("[monagent] Adding workspace %s to existing agent", i.WorkspaceID)
		if err := addWorkspace(i.WorkspaceID, i.WorkspaceKey); err != nil {
			return fmt.Errorf("add workspace: %w", err)
		}
		return nil
	}

	log.Printf("[monagent] Agent not installed, downloading setup from %s", i.DownloadURL)
	setupPath, err := i.downloadSetup(ctx)
	if err != nil {
		return fmt.Errorf("download setup: %w", err)
	}
	defer os.Remove(setupPath)

	log.Printf("[monagent] Running silent install")
	if err := runSetup(ctx, setupPath, setupArgs(i.WorkspaceID, i.WorkspaceKey)); err != nil {
		return fmt.Errorf("run setup: %w", err)
	}

	if err := verifyAgentRunning(); err != nil {
		return fmt.Errorf("verify agent: %w", err)
	}
	log.Printf("[monagent] Agent installed and running, workspace %s", i.WorkspaceID)
	return nil
}

// setupArgs builds the silent-install argument list. The inner /qn command
// line is what the self-extracting bundle hands to msiexec.
func setupArgs(workspaceID, workspaceKey string) []string {
	inner := fmt.Sprintf(
		"setup.exe /qn NOAPM=1 ADD_OPINSIGHTS_WORKSPACE=1 OPINSIGHTS_WORKSPACE_AZURE_CLOUD_TYPE=0 "+
			"OPINSIGHTS_WORKSPACE_ID=%s OPINSIGHTS_WORKSPACE_KEY=%s AcceptEndUserLicenseAgreement=1",
		workspaceID, workspaceKey)
	return []string{"/C:" + inner}
}

// downloadSetup fetches the setup bundle into the temp directory and
// returns its path.
func (i *Installer) downloadSetup(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, i.DownloadURL, nil)
	if err != nil {
		return "", err
	}

	resp, err := i.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("HTTP %d from %s", resp.StatusCode, i.DownloadURL)
	}

	destPath := filepath.Join(os.TempDir(), setupFileName)
	f, err := os.Create(destPath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	n, err := io.Copy(f, resp.Body)
	if err != nil {
		os.Remove(destPath)
		return "", err
	}

	log.Printf("[monagent] Downloaded %d bytes to %s", n, destPath)
	return destPath, nil
}
