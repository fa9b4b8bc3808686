package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/config"
)

var (
	cfg    config.Config
	dbPath string
)

var rootCmd = &cobra.Command{
	Use:   "uxt",
	Short: "UXTest - self-hosted UX testing with session telemetry",
	Long: `UXTest is a self-hosted UX testing tool. Testers work through the tasks
of a test while the SDK streams interaction events to the server; the server
derives sessions from the event stream and computes per-variant analytics.

Running without a subcommand starts the server (same as 'uxt serve').`,
	RunE: runServe, // Default action is to start the server
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	var err error
	cfg, err = config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: %v\n", err)
	}

	rootCmd.PersistentFlags().StringVar(&dbPath, "db", cfg.DBPath, "database path")
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	switch cfg.LogLevel {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
