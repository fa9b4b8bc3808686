package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"

	"github.com/uxtest/uxtest/internal/store"
)

func init() {
	rootCmd.AddCommand(newCreateCmd())
}

func newCreateCmd() *cobra.Command {
	var (
		projectID    string
		description  string
		targetURL    string
		instructions string
		variants     string
		taskTitles   []string
	)

	cmd := &cobra.Command{
		Use:   "create [name]",
		Short: "Create a new UX test",
		Long: `Create a new UX test with tasks and variants. Prompts interactively for
anything not supplied as a flag.

Examples:
  uxt create "Checkout Flow" --variants "A,B" --task "Find the product" --task "Complete checkout"
  uxt create "Sign Up Form" --url "https://example.com/signup"`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var name string
			if len(args) > 0 {
				name = args[0]
			} else {
				prompt := promptui.Prompt{
					Label: "Test name",
					Validate: func(s string) error {
						if strings.TrimSpace(s) == "" {
							return fmt.Errorf("name cannot be empty")
						}
						return nil
					},
				}
				var err error
				name, err = prompt.Run()
				if err != nil {
					if err == promptui.ErrInterrupt {
						return fmt.Errorf("cancelled")
					}
					return err
				}
			}

			variantList := strings.Split(variants, ",")
			for i := range variantList {
				variantList[i] = strings.TrimSpace(variantList[i])
			}

			if len(taskTitles) == 0 {
				titles, err := promptTasks()
				if err != nil {
					return err
				}
				taskTitles = titles
			}

			test := &store.Test{
				ID:           "test-" + uuid.NewString(),
				ProjectID:    projectID,
				Name:         name,
				Description:  description,
				TargetURL:    targetURL,
				Instructions: instructions,
				Variants:     variantList,
				IsActive:     true,
			}
			for _, title := range taskTitles {
				test.Tasks = append(test.Tasks, store.Task{
					ID:    "task-" + uuid.NewString(),
					Title: title,
				})
			}

			return withStore(func(s *store.SQLiteStore) error {
				ctx := context.Background()

				if err := s.CreateTest(ctx, test); err != nil {
					return fmt.Errorf("failed to create test: %w", err)
				}

				fmt.Printf("Created test '%s' (%s) with %d variants:\n", test.Name, test.ID, len(test.Variants))
				for _, v := range test.Variants {
					fmt.Printf("  %s\n", v)
				}
				if len(test.Tasks) > 0 {
					fmt.Printf("Tasks:\n")
					for i, t := range test.Tasks {
						fmt.Printf("  %d. %s\n", i+1, t.Title)
					}
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&projectID, "project", "demo-project", "project id")
	cmd.Flags().StringVarP(&description, "description", "d", "", "what this test measures")
	cmd.Flags().StringVar(&targetURL, "url", "", "URL the test runs against")
	cmd.Flags().StringVar(&instructions, "instructions", "", "instructions shown to testers")
	cmd.Flags().StringVarP(&variants, "variants", "v", "A,B", "comma-separated variant names")
	cmd.Flags().StringArrayVarP(&taskTitles, "task", "t", nil, "task title (repeatable, in order)")

	return cmd
}

// promptTasks collects task titles interactively until an empty entry.
func promptTasks() ([]string, error) {
	var titles []string
	for {
		prompt := promptui.Prompt{
			Label: fmt.Sprintf("Task %d title (empty to finish)", len(titles)+1),
		}
		title, err := prompt.Run()
		if err != nil {
			if err == promptui.ErrInterrupt {
				return nil, fmt.Errorf("cancelled")
			}
			return nil, err
		}
		title = strings.TrimSpace(title)
		if title == "" {
			return titles, nil
		}
		titles = append(titles, title)
	}
}
