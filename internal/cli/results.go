package cli

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/analytics"
	"github.com/uxtest/uxtest/internal/store"
)

var resultsCmd = &cobra.Command{
	Use:   "results <test-id>",
	Short: "Show analytics for a test",
	Long:  `Show per-variant analytics: completion rates, time distributions, and error counts.`,
	Args:  cobra.ExactArgs(1),
	RunE:  runResults,
}

func init() {
	rootCmd.AddCommand(resultsCmd)
}

func runResults(cmd *cobra.Command, args []string) error {
	testID := args[0]

	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		agg := analytics.New(s)
		result, err := agg.ComputeTest(ctx, testID)
		if err != nil {
			if err == store.ErrNotFound {
				return fmt.Errorf("test '%s' not found", testID)
			}
			return fmt.Errorf("failed to compute analytics: %w", err)
		}

		fmt.Printf("TEST: %s (%s)\n", result.TestName, result.TestID)
		if result.Description != "" {
			fmt.Printf("DESCRIPTION: %s\n", result.Description)
		}
		fmt.Printf("SAMPLE SIZE: %d sessions\n", result.SampleSize)
		fmt.Println()

		// Stable variant order
		names := make([]string, 0, len(result.Variants))
		for name := range result.Variants {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Println("VARIANT  SESSIONS  COMPLETED  ABANDONED  COMPLETION  MEDIAN TIME")
		fmt.Println(strings.Repeat("─", 66))
		for _, name := range names {
			v := result.Variants[name]
			fmt.Printf("%-7s  %-8d  %-9d  %-9d  %-9.1f%%  %s\n",
				name, v.Sessions, v.Completed, v.Abandoned, v.CompletionRate,
				formatMs(v.MedianCompletionTimeMs))
		}

		for _, name := range names {
			v := result.Variants[name]
			if v.Completed == 0 && len(v.ErrorsByType) == 0 {
				continue
			}
			fmt.Println()
			fmt.Printf("Variant %s time distribution:\n", name)
			for _, b := range v.TimeDistribution {
				fmt.Printf("  %-8s %d\n", b.Bucket, b.Count)
			}
			if len(v.ErrorsByType) > 0 {
				fmt.Printf("Errors:\n")
				for typ, n := range v.ErrorsByType {
					fmt.Printf("  %-18s %d\n", typ, n)
				}
			}
		}

		return nil
	})
}

func formatMs(ms int64) string {
	if ms == 0 {
		return "n/a"
	}
	return time.Duration(ms * int64(time.Millisecond)).Truncate(100 * time.Millisecond).String()
}
