// cmd/provisioner/main.go
package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"

	"golang.org/x/term"

	"github.com/benchline/provisioner/internal/config"
	"github.com/benchline/provisioner/internal/operator"
	"github.com/benchline/provisioner/internal/provision"
)

func main() {
	if len(os.Args) < 2 {
		log.Fatal("usage: provisioner <config.yaml>")
	}

	cfgPath := os.Args[1]

	// --------------------
	// Load + validate config
	// --------------------

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := config.Validate(cfg); err != nil {
		log.Fatalf("config validation failed: %v", err)
	}

	config.Normalize(cfg)

	// --------------------
	// Operator surface
	// --------------------

	interactive := term.IsTerminal(int(os.Stdin.Fd()))
	op := operator.New(interactive)
	op.Banner("Bench provisioner")

	// --------------------
	// Signal policy
	// --------------------

	// Ctrl-C mid-run is operator interruption, handled like a timeout:
	// the loop keeps waiting. SIGTERM keeps its default disposition, so
	// a supervisor stop takes effect immediately even during the long
	// test-verdict wait.
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	go func() {
		for range sig {
			log.Printf("interrupt ignored; still running (send SIGTERM to stop)")
		}
	}()

	// --------------------
	// Provisioning loop
	// --------------------

	engine := provision.New(cfg, op)
	if err := engine.Run(context.Background()); err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("provisioning loop stopped: %v", err)
	}
}
