package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/groundcrew/groundcrew/cmd/groundcrew/commands"
	"github.com/groundcrew/groundcrew/pkg/engine"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Fprintln(os.Stderr, "interrupted, shutting down")
		cancel()
	}()

	if err := commands.Execute(ctx, Version, Commit, BuildDate); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		var oe *engine.OrchestrationError
		if errors.As(err, &oe) && oe.Remedy != "" {
			fmt.Fprintf(os.Stderr, "Remedy: %s\n", oe.Remedy)
		}
		os.Exit(engine.ExitCode(err))
	}
}
