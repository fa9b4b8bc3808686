package analytics

import (
	"context"
	"path/filepath"
	"reflect"
	"testing"
	"time"

	"github.com/uxtest/uxtest/internal/store"
)

func TestRate(t *testing.T) {
	cases := []struct {
		part, total int
		want        float64
	}{
		{0, 0, 0},
		{1, 0, 0},
		{1, 2, 50.0},
		{1, 3, 33.3},
		{2, 3, 66.7},
		{3, 3, 100.0},
		{1, 8, 12.5},
	}
	for _, c := range cases {
		if got := rate(c.part, c.total); got != c.want {
			t.Errorf("rate(%d, %d) = %v, want %v", c.part, c.total, got, c.want)
		}
	}
}

func TestMedian(t *testing.T) {
	cases := []struct {
		sorted []int64
		want   int64
	}{
		{nil, 0},
		{[]int64{42}, 42},
		{[]int64{10, 20}, 20},
		{[]int64{10, 20, 30}, 20},
		// Even count takes the upper of the two middle slots, not the mean
		{[]int64{10, 20, 30, 40}, 30},
	}
	for _, c := range cases {
		if got := median(c.sorted); got != c.want {
			t.Errorf("median(%v) = %d, want %d", c.sorted, got, c.want)
		}
	}
}

func TestMeanRounded(t *testing.T) {
	cases := []struct {
		durations []int64
		want      int64
	}{
		{nil, 0},
		{[]int64{1000, 2000}, 1500},
		{[]int64{1, 2}, 2}, // rounds half away from zero
	}
	for _, c := range cases {
		if got := meanRounded(c.durations); got != c.want {
			t.Errorf("meanRounded(%v) = %d, want %d", c.durations, got, c.want)
		}
	}
}

func TestBucketIndex_Boundaries(t *testing.T) {
	cases := []struct {
		duration int64
		want     int
	}{
		{0, 0},
		{29999, 0},
		{30000, 1},
		{59999, 1},
		{60000, 2},
		{119999, 2},
		{120000, 3},
		{3600000, 3},
	}
	for _, c := range cases {
		if got := bucketIndex(c.duration); got != c.want {
			t.Errorf("bucketIndex(%d) = %d, want %d", c.duration, got, c.want)
		}
	}
}

func TestDistribute_AllBucketsPresent(t *testing.T) {
	got := distribute(nil)
	want := []Bucket{
		{Bucket: "0-30s"}, {Bucket: "30-60s"}, {Bucket: "60-120s"}, {Bucket: "120s+"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("distribute(nil) = %v, want %v", got, want)
	}

	got = distribute([]int64{5000, 45000, 45001, 240000})
	counts := []int{1, 2, 0, 1}
	for i, b := range got {
		if b.Count != counts[i] {
			t.Errorf("bucket %s count = %d, want %d", b.Bucket, b.Count, counts[i])
		}
	}
}

func setupStore(t *testing.T) *store.SQLiteStore {
	t.Helper()

	s, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func finishSession(t *testing.T, s *store.SQLiteStore, id, variant string, outcome store.Outcome, durationMs int64) {
	t.Helper()
	ctx := context.Background()

	if _, err := s.CreateSessionIfAbsent(ctx, &store.Session{
		ID: id, TestID: "test-1", Variant: variant, StartedAt: time.UnixMilli(1000),
	}); err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if outcome == "" {
		return
	}
	var d *int64
	if durationMs > 0 {
		d = &durationMs
	}
	if _, err := s.FinishSession(ctx, id, outcome, 1000+durationMs, d); err != nil {
		t.Fatalf("failed to finish session: %v", err)
	}
}

func TestComputeTest(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.CreateTest(ctx, &store.Test{
		ID: "test-1", ProjectID: "p1", Name: "Checkout", Variants: []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	finishSession(t, s, "a1", "A", store.OutcomeCompleted, 10000)
	finishSession(t, s, "a2", "A", store.OutcomeCompleted, 40000)
	finishSession(t, s, "a3", "A", store.OutcomeAbandoned, 0)
	finishSession(t, s, "b1", "B", "", 0) // still open

	if err := s.InsertEvent(ctx, &store.Event{
		SessionID: "a3", TestID: "test-1", Type: "api_error", Timestamp: 2000,
	}); err != nil {
		t.Fatalf("failed to insert error event: %v", err)
	}

	result, err := New(s).ComputeTest(ctx, "test-1")
	if err != nil {
		t.Fatalf("failed to compute: %v", err)
	}

	if result.TestName != "Checkout" || result.SampleSize != 4 {
		t.Errorf("result = %+v", result)
	}

	a := result.Variants["A"]
	if a.Sessions != 3 || a.Completed != 2 || a.Abandoned != 1 {
		t.Errorf("variant A counts = %+v", a)
	}
	if a.CompletionRate != 66.7 || a.AbandonRate != 33.3 {
		t.Errorf("variant A rates = %v / %v", a.CompletionRate, a.AbandonRate)
	}
	if a.MedianCompletionTimeMs != 40000 || a.AvgCompletionTimeMs != 25000 {
		t.Errorf("variant A times = %+v", a)
	}
	if a.MinCompletionTimeMs != 10000 || a.MaxCompletionTimeMs != 40000 {
		t.Errorf("variant A min/max = %d / %d", a.MinCompletionTimeMs, a.MaxCompletionTimeMs)
	}
	if a.ErrorsByType["api_error"] != 1 {
		t.Errorf("variant A errors = %v", a.ErrorsByType)
	}
	if a.TimeDistribution[0].Count != 1 || a.TimeDistribution[1].Count != 1 {
		t.Errorf("variant A distribution = %v", a.TimeDistribution)
	}

	b := result.Variants["B"]
	if b.Sessions != 1 || b.Completed != 0 || b.CompletionRate != 0 {
		t.Errorf("variant B = %+v", b)
	}

	if _, err := New(s).ComputeTest(ctx, "nope"); err != store.ErrNotFound {
		t.Errorf("unknown test err = %v, want ErrNotFound", err)
	}
}

func TestComputeTest_EmptyVariantsDeterministic(t *testing.T) {
	s := setupStore(t)
	ctx := context.Background()

	err := s.CreateTest(ctx, &store.Test{
		ID: "test-1", ProjectID: "p1", Name: "T", Variants: []string{"A", "B"},
	})
	if err != nil {
		t.Fatalf("failed to create test: %v", err)
	}

	first, err := New(s).ComputeTest(ctx, "test-1")
	if err != nil {
		t.Fatalf("failed to compute: %v", err)
	}
	second, err := New(s).ComputeTest(ctx, "test-1")
	if err != nil {
		t.Fatalf("failed to recompute: %v", err)
	}

	if !reflect.DeepEqual(first.Variants, second.Variants) {
		t.Errorf("recompute over unchanged data diverged:\n%+v\n%+v", first.Variants, second.Variants)
	}

	a := first.Variants["A"]
	if a.Sessions != 0 || a.CompletionRate != 0 || a.MedianCompletionTimeMs != 0 {
		t.Errorf("empty variant stats = %+v, want zeros", a)
	}
	if len(a.TimeDistribution) != 4 {
		t.Errorf("got %d buckets, want 4", len(a.TimeDistribution))
	}
	for _, b := range a.TimeDistribution {
		if b.Count != 0 {
			t.Errorf("bucket %s count = %d, want 0", b.Bucket, b.Count)
		}
	}
}
