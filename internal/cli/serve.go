package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/server"
	"github.com/uxtest/uxtest/internal/store"
)

var (
	port     int
	seedDemo bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP server",
	Long: `Start the UXTest HTTP server.

The server provides:
  - Batch event ingestion (POST /events)
  - Per-variant analytics (GET /analytics/{testId})
  - Test and project management
  - Health check endpoint

Example:
  uxt serve --port 3001 --seed`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&port, "port", "p", cfg.Port, "port to listen on")
	serveCmd.Flags().BoolVar(&seedDemo, "seed", cfg.SeedDemo, "seed demo project and tests")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	s, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer s.Close()

	if seedDemo {
		if err := s.SeedDemo(context.Background()); err != nil {
			return fmt.Errorf("failed to seed demo data: %w", err)
		}
	}

	srv := server.New(s, port, newLogger())
	return srv.Start()
}
