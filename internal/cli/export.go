package cli

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/store"
)

var exportFormat string

var exportCmd = &cobra.Command{
	Use:   "export <test-id>",
	Short: "Export raw event data",
	Long: `Export the raw event log of a test in CSV or JSON format.

Examples:
  uxt export test-checkout --format csv > checkout-events.csv
  uxt export test-checkout --format json > checkout-events.json`,
	Args: cobra.ExactArgs(1),
	RunE: runExport,
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "csv", "output format (csv or json)")
	rootCmd.AddCommand(exportCmd)
}

func runExport(cmd *cobra.Command, args []string) error {
	testID := args[0]

	if exportFormat != "csv" && exportFormat != "json" {
		return fmt.Errorf("invalid format: must be 'csv' or 'json'")
	}

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		if _, err := s.GetTest(ctx, testID); err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to get test: %w", err)
		}

		events, err := s.EventsForTest(ctx, testID)
		if err != nil {
			return fmt.Errorf("failed to get events: %w", err)
		}

		if exportFormat == "csv" {
			return exportCSV(events)
		}
		return exportJSON(events)
	})
}

func exportCSV(events []*store.Event) error {
	w := csv.NewWriter(os.Stdout)
	defer w.Flush()

	if err := w.Write([]string{"timestamp", "session_id", "variant", "type", "duration_ms"}); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, e := range events {
		duration := ""
		if e.Duration != nil {
			duration = strconv.FormatInt(*e.Duration, 10)
		}
		row := []string{
			strconv.FormatInt(e.Timestamp, 10),
			e.SessionID,
			e.Variant,
			e.Type,
			duration,
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write row: %w", err)
		}
	}

	return nil
}

func exportJSON(events []*store.Event) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(events)
}
