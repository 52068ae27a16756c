// monagent installs the Log Analytics monitoring agent on the local
// Windows host and joins it to a workspace. Idempotent: re-running against
// an already-configured host is a no-op.
//
// Usage:
//
//	monagent -workspace-id <id> -workspace-key <key>
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/y0rik/pwsh-azure/internal/cli"
	"github.com/y0rik/pwsh-azure/internal/monitor"
)

var (
	flagWorkspaceID  = flag.String("workspace-id", "", "Log Analytics workspace ID")
	flagWorkspaceKey = flag.String("workspace-key", "", "Log Analytics workspace key")
	flagDownloadURL  = flag.String("download-url", "", "Override the agent setup download URL")
	flagVersion      = flag.Bool("version", false, "Print version and exit")
)

func main() {
	flag.Parse()

	if *flagVersion {
		log.Printf("monagent %s", cli.Version)
		os.Exit(0)
	}

	log.SetFlags(log.LstdFlags | log.Lshortfile)

	if *flagWorkspaceID == "" || *flagWorkspaceKey == "" {
		log.Fatalf("Both -workspace-id and -workspace-key are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal: %v", sig)
		cancel()
	}()

	inst := monitor.New(*flagWorkspaceID, *flagWorkspaceKey, *flagDownloadURL)
	if err := inst.Run(ctx); err != nil {
		log.Fatalf("Agent install failed: %v", err)
	}
}
