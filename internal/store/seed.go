package store

import (
	"context"
	"fmt"
)

// SeedDemo inserts the demo project with three sample tests and their tasks.
// It is a no-op when the demo project already exists.
func (s *SQLiteStore) SeedDemo(ctx context.Context) error {
	var exists int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM projects WHERE id = ?`, "demo-project",
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check demo project: %w", err)
	}
	if exists > 0 {
		return nil
	}

	if _, err := s.CreateProject(ctx, "demo-project", "Demo Project"); err != nil {
		return err
	}

	tests := []*Test{
		{
			ID:           "test-checkout",
			ProjectID:    "demo-project",
			Name:         "Checkout Flow",
			Description:  "Test if users can complete the checkout process",
			TargetURL:    "https://example.com",
			Instructions: "Try to find and click the checkout button, then complete the purchase form.",
			Variants:     []string{"A", "B"},
			IsActive:     true,
			Tasks: []Task{
				{ID: "task-1", Title: "Find the product", Description: "Navigate to a product you want to buy"},
				{ID: "task-2", Title: "Add to cart", Description: "Add the product to your shopping cart"},
				{ID: "task-3", Title: "Complete checkout", Description: "Fill in the checkout form and submit"},
			},
		},
		{
			ID:           "test-signup",
			ProjectID:    "demo-project",
			Name:         "Sign Up Form",
			Description:  "Measure time to complete registration",
			TargetURL:    "https://github.com/signup",
			Instructions: "Navigate to the sign up page and fill out the registration form.",
			Variants:     []string{"A"},
			Tasks: []Task{
				{ID: "task-4", Title: "Find sign up", Description: "Navigate to the registration page"},
				{ID: "task-5", Title: "Fill the form", Description: "Complete all required fields"},
			},
		},
		{
			ID:           "test-search",
			ProjectID:    "demo-project",
			Name:         "Product Search",
			Description:  "Can users find products using search?",
			TargetURL:    "https://www.google.com",
			Instructions: `Use the search bar to find information about "UX testing tools".`,
			Variants:     []string{"A", "B"},
			IsActive:     true,
			Tasks: []Task{
				{ID: "task-6", Title: "Use search", Description: "Type a search query in the search bar"},
				{ID: "task-7", Title: "Find result", Description: "Click on a relevant search result"},
			},
		},
	}

	for _, test := range tests {
		if err := s.CreateTest(ctx, test); err != nil {
			return fmt.Errorf("failed to seed test %s: %w", test.ID, err)
		}
	}

	return nil
}
