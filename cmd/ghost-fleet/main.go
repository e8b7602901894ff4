// Command ghost-fleet runs the autonomous browser orchestration engine: a
// warm pool of isolated browser contexts (GCP), a parallel task scheduler
// (PTS) layered over it, and the perception-action loop (PAL) that drives
// each leased context through a browser control layer (BCL) session.
//
// Supported channels: none — this binary is a headless fleet service, not
// a chat gateway. Callers embed the pts/gcp/pal/bcl packages directly, or
// drive a running fleet over the IPC surface documented in spec.md §6.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information, populated by ldflags during build:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"

	configPath string
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
// Separated from main() so tests can exercise it without os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "ghost-fleet",
		Short: "ghost-fleet - autonomous browser orchestration engine",
		Long: `ghost-fleet drives a fleet of isolated headless browser contexts to
execute natural-language web tasks. It perceives a page, decides the next
action through an injected decision engine, executes it, and iterates
until the task's intent is satisfied or a bounded failure occurs.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "ghost-fleet.yaml", "path to the fleet configuration file")

	rootCmd.AddCommand(
		buildRunCmd(),
		buildDoctorCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "ghost-fleet %s (commit: %s, built: %s)\n", version, commit, date)
			return nil
		},
	}
}
