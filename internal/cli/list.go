package cli

import (
	"context"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/store"
)

var listProjectID string

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all tests",
	Long:  `List all UX tests in a project with their session counts.`,
	RunE:  runList,
}

func init() {
	listCmd.Flags().StringVar(&listProjectID, "project", "demo-project", "project id")
	rootCmd.AddCommand(listCmd)
}

func runList(cmd *cobra.Command, args []string) error {
	return withStore(func(s *store.SQLiteStore) error {
		ctx := context.Background()

		tests, err := s.ListTests(ctx, listProjectID)
		if err != nil {
			return fmt.Errorf("failed to list tests: %w", err)
		}

		if len(tests) == 0 {
			fmt.Println("No tests yet.")
			fmt.Println()
			fmt.Println("Create one with:")
			fmt.Println("  uxt create \"My first test\" --task \"Complete the signup form\"")
			return nil
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tACTIVE\tVARIANTS\tSESSIONS\tCOMPLETION\tCREATED")
		for _, test := range tests {
			active := "no"
			if test.IsActive {
				active = "yes"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f%%\t%s\n",
				test.ID,
				test.Name,
				active,
				len(test.Variants),
				test.TotalSessions,
				test.CompletionRate,
				test.CreatedAt.Format("2006-01-02"),
			)
		}
		return w.Flush()
	})
}
