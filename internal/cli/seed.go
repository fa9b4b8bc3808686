package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/store"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the demo project and sample tests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(func(s *store.SQLiteStore) error {
			if err := s.SeedDemo(context.Background()); err != nil {
				return fmt.Errorf("failed to seed demo data: %w", err)
			}
			fmt.Println("Demo data seeded.")
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(seedCmd)
}
