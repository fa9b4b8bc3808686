// Package analytics computes per-variant statistics from persisted sessions
// and events. It is strictly read-only: recomputing over unchanged data
// yields identical results.
package analytics

import (
	"context"
	"math"
	"time"

	"github.com/uxtest/uxtest/internal/store"
)

// Bucket is one slot of the fixed completion-time histogram.
type Bucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

// VariantStats is the read projection for one variant of a test.
type VariantStats struct {
	Sessions               int            `json:"sessions"`
	Completed              int            `json:"completed"`
	Abandoned              int            `json:"abandoned"`
	CompletionRate         float64        `json:"completionRate"`
	AbandonRate            float64        `json:"abandonRate"`
	AvgCompletionTimeMs    int64          `json:"avgCompletionTimeMs"`
	MedianCompletionTimeMs int64          `json:"medianCompletionTimeMs"`
	MinCompletionTimeMs    int64          `json:"minCompletionTimeMs"`
	MaxCompletionTimeMs    int64          `json:"maxCompletionTimeMs"`
	ErrorsByType           map[string]int `json:"errors"`
	TimeDistribution       []Bucket       `json:"timeDistribution"`
}

// TestAnalytics aggregates VariantStats across every variant of a test.
type TestAnalytics struct {
	TestID      string                  `json:"testId"`
	TestName    string                  `json:"testName"`
	Description string                  `json:"description,omitempty"`
	SampleSize  int                     `json:"sampleSize"`
	Variants    map[string]VariantStats `json:"variants"`
	ComputedAt  time.Time               `json:"computedAt"`
}

// Histogram bucket lower edges in milliseconds. Buckets are half-open on the
// right: [0,30s) [30,60s) [60,120s) [120s,inf).
var bucketEdges = []int64{30000, 60000, 120000}

var bucketLabels = []string{"0-30s", "30-60s", "60-120s", "120s+"}

type Aggregator struct {
	store store.Store
}

func New(s store.Store) *Aggregator {
	return &Aggregator{store: s}
}

// ComputeTest computes analytics for every variant declared on the test.
// Returns store.ErrNotFound for an unknown test id.
func (a *Aggregator) ComputeTest(ctx context.Context, testID string) (*TestAnalytics, error) {
	test, err := a.store.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	result := &TestAnalytics{
		TestID:      test.ID,
		TestName:    test.Name,
		Description: test.Description,
		Variants:    make(map[string]VariantStats, len(test.Variants)),
		ComputedAt:  time.Now().UTC(),
	}

	for _, variant := range test.Variants {
		stats, err := a.computeVariant(ctx, testID, variant)
		if err != nil {
			return nil, err
		}
		result.Variants[variant] = stats
		result.SampleSize += stats.Sessions
	}

	return result, nil
}

func (a *Aggregator) computeVariant(ctx context.Context, testID, variant string) (VariantStats, error) {
	counts, err := a.store.SessionOutcomeCounts(ctx, testID, variant)
	if err != nil {
		return VariantStats{}, err
	}

	durations, err := a.store.CompletedDurations(ctx, testID, variant)
	if err != nil {
		return VariantStats{}, err
	}

	errorCounts, err := a.store.ErrorCountsByType(ctx, testID, variant)
	if err != nil {
		return VariantStats{}, err
	}

	stats := VariantStats{
		Sessions:               counts.Sessions,
		Completed:              counts.Completed,
		Abandoned:              counts.Abandoned,
		CompletionRate:         rate(counts.Completed, counts.Sessions),
		AbandonRate:            rate(counts.Abandoned, counts.Sessions),
		AvgCompletionTimeMs:    meanRounded(durations),
		MedianCompletionTimeMs: median(durations),
		ErrorsByType:           errorCounts,
		TimeDistribution:       distribute(durations),
	}
	if len(durations) > 0 {
		stats.MinCompletionTimeMs = durations[0]
		stats.MaxCompletionTimeMs = durations[len(durations)-1]
	}

	return stats, nil
}

// rate returns part/total as a percentage with one decimal place. Zero, not
// NaN, when total is zero.
func rate(part, total int) float64 {
	if total == 0 {
		return 0
	}
	return math.Round(float64(part)/float64(total)*1000) / 10
}

func meanRounded(durations []int64) int64 {
	if len(durations) == 0 {
		return 0
	}
	var sum int64
	for _, d := range durations {
		sum += d
	}
	return int64(math.Round(float64(sum) / float64(len(durations))))
}

// median returns the element at index len/2 of the ascending-sorted
// durations. For even counts this is the upper of the two middle candidates,
// not their average; consumers depend on this exact tie-break.
func median(sorted []int64) int64 {
	if len(sorted) == 0 {
		return 0
	}
	return sorted[len(sorted)/2]
}

// distribute counts durations into the fixed histogram. All buckets are
// always present, in order, with explicit zero counts.
func distribute(durations []int64) []Bucket {
	buckets := make([]Bucket, len(bucketLabels))
	for i, label := range bucketLabels {
		buckets[i] = Bucket{Bucket: label}
	}
	for _, d := range durations {
		buckets[bucketIndex(d)].Count++
	}
	return buckets
}

func bucketIndex(d int64) int {
	for i, edge := range bucketEdges {
		if d < edge {
			return i
		}
	}
	return len(bucketEdges)
}
