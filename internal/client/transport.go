package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/uxtest/uxtest/internal/event"
)

// Sender delivers a batch of events to the ingestion endpoint.
type Sender interface {
	// Send delivers the batch, retrying transient failures with backoff.
	// An error means the batch was not acknowledged and must be re-queued.
	Send(ctx context.Context, events []event.Event) error

	// SendBestEffort makes a single fire-and-forget delivery attempt. It is
	// used on teardown, when there may be no time for a retried round trip.
	// Failures are swallowed; the caller keeps the persisted copy either way.
	SendBestEffort(events []event.Event)
}

const (
	defaultMaxAttempts    = 3
	defaultBaseDelay      = time.Second
	defaultMaxDelay       = 30 * time.Second
	bestEffortTimeout     = 2 * time.Second
	defaultRequestTimeout = 10 * time.Second
	jitterFraction        = 0.2
)

// Transport posts event batches to the server with exponential backoff.
// Retry scheduling happens in exactly one place (the wait hook) so tests can
// observe delays without real timers.
type Transport struct {
	endpoint    string
	client      *http.Client
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	rng         *rand.Rand
	wait        func(ctx context.Context, d time.Duration) error
	log         *slog.Logger
}

func NewTransport(endpoint string, client *http.Client, log *slog.Logger) *Transport {
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Transport{
		endpoint:    endpoint,
		client:      client,
		maxAttempts: defaultMaxAttempts,
		baseDelay:   defaultBaseDelay,
		maxDelay:    defaultMaxDelay,
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		wait:        waitContext,
		log:         log,
	}
}

func waitContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Send attempts delivery, then retries up to maxAttempts times. The data is
// not lost when retries are exhausted; the emitter re-queues it for the next
// periodic flush.
func (t *Transport) Send(ctx context.Context, events []event.Event) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = t.post(ctx, t.client, events)
		if lastErr == nil {
			return nil
		}
		if attempt > t.maxAttempts {
			break
		}

		delay := RetryDelay(attempt, t.baseDelay, t.maxDelay, t.rng)
		t.log.Warn("batch delivery failed, retrying",
			"attempt", attempt, "delay", delay, "events", len(events), "error", lastErr)
		if err := t.wait(ctx, delay); err != nil {
			return err
		}
	}
	return fmt.Errorf("delivery failed after %d retries: %w", t.maxAttempts, lastErr)
}

// SendBestEffort is the unload-safety path: one short-deadline attempt, no
// retry, no error surfaced to the caller.
func (t *Transport) SendBestEffort(events []event.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), bestEffortTimeout)
	defer cancel()

	client := &http.Client{Timeout: bestEffortTimeout}
	if err := t.post(ctx, client, events); err != nil {
		t.log.Debug("best-effort delivery failed", "events", len(events), "error", err)
	}
}

func (t *Transport) post(ctx context.Context, client *http.Client, events []event.Event) error {
	body, err := json.Marshal(event.BatchRequest{Events: events})
	if err != nil {
		return fmt.Errorf("failed to encode batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint+"/events", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("server returned %d", resp.StatusCode)
	}
	return nil
}

// RetryDelay computes the backoff for retry attempt n (1-indexed):
// min(base * 2^n +- 20% jitter, limit).
func RetryDelay(attempt int, base, limit time.Duration, rng *rand.Rand) time.Duration {
	d := base << uint(attempt)
	jittered := float64(d) * (1 - jitterFraction + 2*jitterFraction*rng.Float64())
	if jittered > float64(limit) {
		return limit
	}
	return time.Duration(jittered)
}
