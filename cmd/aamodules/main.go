// aamodules imports PowerShell modules, with their full dependency trees,
// into Azure Automation accounts.
//
// Usage:
//
//	aamodules install --module Az.Accounts --account prod-aa -g prod-rg
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/y0rik/pwsh-azure/internal/cli"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Printf("Shutdown signal: %v", sig)
		cancel()
	}()

	if err := cli.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
