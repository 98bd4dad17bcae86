// Package main is the entry point for the choragen orchestrator CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"

	"github.com/jlneal/choragen-sub010/internal/setup"
	"github.com/jlneal/choragen-sub010/internal/telemetry"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func init() {
	// Load .env for API keys and endpoints. Existing env vars win.
	_ = godotenv.Load()
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("choragen"),
		kong.Description("Agent orchestration: sessions, workflows, governed tools, and scope locks."),
		kong.UsageOnError(),
		kong.Vars{"version": version},
	)

	// Version and init need no wiring; everything else gets the full graph.
	switch {
	case ctx.Command() == "version":
		fmt.Printf("choragen version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	case strings.HasPrefix(ctx.Command(), "init"):
		if err := setup.Run(cli.Init.Dir, cli.Init.Name); err != nil {
			fmt.Fprintf(os.Stderr, "choragen: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("initialized choragen project in %s\n", cli.Init.Dir)
		return
	}

	a, err := newApp(cli.Config, cli.Verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "choragen: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	shutdown, err := telemetry.Init(context.Background(), a.cfg.Telemetry)
	if err != nil {
		a.logger.Warn("telemetry_init_failed", map[string]interface{}{"error": err.Error()})
	} else {
		defer shutdown(context.Background())
	}

	if err := ctx.Run(a); err != nil {
		fmt.Fprintf(os.Stderr, "choragen: %v\n", err)
		a.Close()
		os.Exit(1)
	}
}
