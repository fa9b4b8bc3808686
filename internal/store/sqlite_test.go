package store_test

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/uxtest/uxtest/internal/store"
)

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "test.db")
	s, err := store.Open(dbPath)
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func ptr(v int64) *int64 { return &v }

func TestCreateSessionIfAbsent_Idempotent(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sess := &store.Session{
		ID:        "s1",
		TestID:    "test-1",
		Variant:   "A",
		StartedAt: time.UnixMilli(1000),
		UserAgent: "Mozilla/5.0",
	}

	created, err := s.CreateSessionIfAbsent(ctx, sess)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if !created {
		t.Error("expected first create to insert a row")
	}

	// Same id again, different metadata: must be a no-op
	dup := &store.Session{ID: "s1", TestID: "test-1", Variant: "B", StartedAt: time.UnixMilli(9999)}
	created, err = s.CreateSessionIfAbsent(ctx, dup)
	if err != nil {
		t.Fatalf("duplicate create errored: %v", err)
	}
	if created {
		t.Error("expected duplicate create to be a no-op")
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Variant != "A" {
		t.Errorf("duplicate create overwrote variant: got %q", got.Variant)
	}
	if got.UserAgent != "Mozilla/5.0" {
		t.Errorf("duplicate create overwrote user agent: got %q", got.UserAgent)
	}
}

func TestFinishSession_StickyTerminal(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	_, err := s.CreateSessionIfAbsent(ctx, &store.Session{
		ID: "s1", TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
	})
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	won, err := s.FinishSession(ctx, "s1", store.OutcomeCompleted, 6000, ptr(5000))
	if err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}
	if !won {
		t.Error("expected first terminal update to win")
	}

	// A later abandonment must not overwrite the completed outcome
	won, err = s.FinishSession(ctx, "s1", store.OutcomeAbandoned, 7000, ptr(6000))
	if err != nil {
		t.Fatalf("second finish errored: %v", err)
	}
	if won {
		t.Error("expected second terminal update to lose")
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Outcome != store.OutcomeCompleted {
		t.Errorf("outcome = %q, want completed", got.Outcome)
	}
	if got.DurationMs == nil || *got.DurationMs != 5000 {
		t.Errorf("duration = %v, want 5000", got.DurationMs)
	}
}

func TestFinishSession_AbandonedFirstStays(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
		ID: "s1", TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
	}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	if _, err := s.FinishSession(ctx, "s1", store.OutcomeAbandoned, 3000, nil); err != nil {
		t.Fatalf("failed to abandon session: %v", err)
	}
	if _, err := s.FinishSession(ctx, "s1", store.OutcomeCompleted, 9000, ptr(8000)); err != nil {
		t.Fatalf("second finish errored: %v", err)
	}

	got, err := s.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get session: %v", err)
	}
	if got.Outcome != store.OutcomeAbandoned {
		t.Errorf("outcome = %q, want abandoned", got.Outcome)
	}
	if got.DurationMs != nil {
		t.Errorf("duration = %v, want nil", got.DurationMs)
	}
}

func TestSessionEvents_OrderedByClientTimestamp(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	// Insert out of client-clock order; reads must sort by timestamp
	timestamps := []int64{3000, 1000, 2000}
	for _, ts := range timestamps {
		err := s.InsertEvent(ctx, &store.Event{
			SessionID: "s1", TestID: "test-1", Type: "custom", Timestamp: ts,
		})
		if err != nil {
			t.Fatalf("failed to insert event: %v", err)
		}
	}

	events, err := s.SessionEvents(ctx, "s1")
	if err != nil {
		t.Fatalf("failed to get events: %v", err)
	}
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	for i, want := range []int64{1000, 2000, 3000} {
		if events[i].Timestamp != want {
			t.Errorf("events[%d].Timestamp = %d, want %d", i, events[i].Timestamp, want)
		}
	}
}

func TestCompletedDurations_ExcludesMissing(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	sessions := []struct {
		id       string
		outcome  store.Outcome
		duration *int64
	}{
		{"s1", store.OutcomeCompleted, ptr(30000)},
		{"s2", store.OutcomeCompleted, nil}, // unknown duration, excluded
		{"s3", store.OutcomeCompleted, ptr(10000)},
		{"s4", store.OutcomeAbandoned, ptr(5000)}, // abandoned, excluded
	}
	for _, sess := range sessions {
		if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
			ID: sess.id, TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
		}); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if _, err := s.FinishSession(ctx, sess.id, sess.outcome, 2000, sess.duration); err != nil {
			t.Fatalf("failed to finish session: %v", err)
		}
	}

	durations, err := s.CompletedDurations(ctx, "test-1", "A")
	if err != nil {
		t.Fatalf("failed to get durations: %v", err)
	}
	if len(durations) != 2 {
		t.Fatalf("got %d durations, want 2", len(durations))
	}
	if durations[0] != 10000 || durations[1] != 30000 {
		t.Errorf("durations = %v, want [10000 30000]", durations)
	}
}

func TestSessionOutcomeCounts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	outcomes := map[string]store.Outcome{"s1": store.OutcomeCompleted, "s2": store.OutcomeAbandoned, "s3": ""}
	for id, outcome := range outcomes {
		if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
			ID: id, TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
		}); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if outcome != "" {
			if _, err := s.FinishSession(ctx, id, outcome, 2000, nil); err != nil {
				t.Fatalf("failed to finish session: %v", err)
			}
		}
	}

	counts, err := s.SessionOutcomeCounts(ctx, "test-1", "A")
	if err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if counts.Sessions != 3 || counts.Completed != 1 || counts.Abandoned != 1 {
		t.Errorf("counts = %+v, want {3 1 1}", counts)
	}

	// Unknown variant is empty, not an error
	counts, err = s.SessionOutcomeCounts(ctx, "test-1", "Z")
	if err != nil {
		t.Fatalf("failed to count empty variant: %v", err)
	}
	if counts.Sessions != 0 {
		t.Errorf("empty variant sessions = %d, want 0", counts.Sessions)
	}
}

func TestErrorCountsByType(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
		ID: "s1", TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
	}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	types := []string{"api_error", "api_error", "validation_error", "custom"}
	for i, typ := range types {
		if err := s.InsertEvent(ctx, &store.Event{
			SessionID: "s1", TestID: "test-1", Type: typ, Timestamp: int64(1000 + i),
		}); err != nil {
			t.Fatalf("failed to insert event: %v", err)
		}
	}

	counts, err := s.ErrorCountsByType(ctx, "test-1", "A")
	if err != nil {
		t.Fatalf("failed to count errors: %v", err)
	}
	if counts["api_error"] != 2 || counts["validation_error"] != 1 {
		t.Errorf("counts = %v, want api_error:2 validation_error:1", counts)
	}
	if _, ok := counts["custom"]; ok {
		t.Error("custom events must not count as errors")
	}
}

func TestCreateAndGetTest(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	test := &store.Test{
		ID:        "test-1",
		ProjectID: "p1",
		Name:      "Checkout Flow",
		Variants:  []string{"A", "B"},
		IsActive:  true,
		Tasks: []store.Task{
			{ID: "task-1", Title: "Find the product"},
			{ID: "task-2", Title: "Complete checkout"},
		},
	}
	if err := s.CreateTest(ctx, test); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	got, err := s.GetTest(ctx, "test-1")
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Name != "Checkout Flow" || !got.IsActive {
		t.Errorf("test = %+v", got)
	}
	if len(got.Variants) != 2 || got.Variants[1] != "B" {
		t.Errorf("variants = %v", got.Variants)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].Title != "Find the product" || got.Tasks[1].OrderIndex != 1 {
		t.Errorf("tasks = %+v", got.Tasks)
	}
	if got.TimeoutMs != 300000 {
		t.Errorf("timeout = %d, want default 300000", got.TimeoutMs)
	}

	if _, err := s.GetTest(ctx, "nope"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestListTests_SummaryCounts(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.CreateTest(ctx, &store.Test{
		ID: "test-1", ProjectID: "p1", Name: "T", Variants: []string{"A"}, IsActive: true,
	}); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	for i, outcome := range []store.Outcome{store.OutcomeCompleted, ""} {
		id := []string{"s1", "s2"}[i]
		if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
			ID: id, TestID: "test-1", Variant: "A", StartedAt: time.UnixMilli(1000),
		}); err != nil {
			t.Fatalf("failed to create session: %v", err)
		}
		if outcome != "" {
			if _, err := s.FinishSession(ctx, id, outcome, 2000, nil); err != nil {
				t.Fatalf("failed to finish session: %v", err)
			}
		}
	}

	tests, err := s.ListTests(ctx, "p1")
	if err != nil {
		t.Fatalf("failed to list tests: %v", err)
	}
	if len(tests) != 1 {
		t.Fatalf("got %d tests, want 1", len(tests))
	}
	if tests[0].TotalSessions != 2 {
		t.Errorf("total sessions = %d, want 2", tests[0].TotalSessions)
	}
	if tests[0].CompletionRate != 50.0 {
		t.Errorf("completion rate = %v, want 50.0", tests[0].CompletionRate)
	}
}

func TestUpdateTest_ReplacesTasks(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	test := &store.Test{
		ID: "test-1", ProjectID: "p1", Name: "T", Variants: []string{"A"},
		Tasks: []store.Task{{ID: "task-1", Title: "Old"}},
	}
	if err := s.CreateTest(ctx, test); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	test.Name = "Renamed"
	test.Tasks = []store.Task{{ID: "task-2", Title: "New first"}, {ID: "task-3", Title: "New second"}}
	if err := s.UpdateTest(ctx, test); err != nil {
		t.Fatalf("failed to update test: %v", err)
	}

	got, err := s.GetTest(ctx, "test-1")
	if err != nil {
		t.Fatalf("failed to get test: %v", err)
	}
	if got.Name != "Renamed" {
		t.Errorf("name = %q", got.Name)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].Title != "New first" {
		t.Errorf("tasks = %+v", got.Tasks)
	}

	missing := &store.Test{ID: "nope", Variants: []string{"A"}}
	if err := s.UpdateTest(ctx, missing); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDeleteTest(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	if err := s.CreateTest(ctx, &store.Test{
		ID: "test-1", ProjectID: "p1", Name: "T", Variants: []string{"A"},
	}); err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	if err := s.DeleteTest(ctx, "test-1"); err != nil {
		t.Fatalf("failed to delete test: %v", err)
	}
	if err := s.DeleteTest(ctx, "test-1"); err != store.ErrNotFound {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
