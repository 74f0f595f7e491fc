// Package main is the entry point for the ikanban CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ikanban/ikanban/internal/app"
	"github.com/ikanban/ikanban/internal/cli"
)

// version is set at build time using -ldflags.
var version = "dev"

// newRootCommand is swapped in tests.
var newRootCommand = cli.NewRootCommand

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	paths, err := app.DefaultPaths()
	if err != nil {
		return err
	}

	container, err := app.New(paths)
	if err != nil {
		// Allow help, version and the config template with broken config
		if canRunWithoutContainer(args) {
			return execute(ctx, nil, args)
		}
		return fmt.Errorf("failed to initialize: %w", err)
	}
	defer func() { _ = container.Close() }()

	return execute(ctx, container, args)
}

func execute(ctx context.Context, c *app.Container, args []string) error {
	rootCmd := newRootCommand(c, version)
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}

func canRunWithoutContainer(args []string) bool {
	if len(args) == 0 {
		return true
	}
	switch args[0] {
	case "help":
		return true
	case "config":
		return len(args) > 1 && args[1] == "template"
	}
	for _, arg := range args {
		if arg == "--version" || arg == "--help" || arg == "-h" {
			return true
		}
	}
	return false
}
