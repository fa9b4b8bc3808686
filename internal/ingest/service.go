// Package ingest accepts batches of telemetry events and folds them into the
// session projection. Sessions are a materialized view over the append-only
// event log: idempotent creation on the opening event, sticky terminal
// outcome on the closing event, both enforced by conditional writes in the
// store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/uxtest/uxtest/internal/event"
	"github.com/uxtest/uxtest/internal/store"
)

// ErrInvalidBatch is returned when any event in a batch is missing a
// required field. The batch is rejected before any side effects.
var ErrInvalidBatch = errors.New("invalid batch")

type Service struct {
	store store.Store
	log   *slog.Logger
}

func New(s store.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: s, log: log}
}

// ProcessBatch applies events in arrival order. Each event is processed in
// isolation: a storage fault on one event is recorded in the result and does
// not roll back or abort the rest of the batch.
func (s *Service) ProcessBatch(ctx context.Context, events []event.Event) (event.BatchResult, error) {
	result := event.BatchResult{Errors: []event.BatchError{}}

	if len(events) == 0 {
		return result, nil
	}

	// Validate the whole batch up front so a malformed batch has no
	// partial side effects.
	for _, ev := range events {
		if err := ev.Validate(); err != nil {
			return result, fmt.Errorf("%w: %v", ErrInvalidBatch, err)
		}
	}

	for _, ev := range events {
		if err := s.processEvent(ctx, ev); err != nil {
			s.log.Error("event processing failed",
				"sessionId", ev.SessionID, "type", ev.Type, "error", err)
			result.Errors = append(result.Errors, event.BatchError{
				SessionID: ev.SessionID,
				Type:      ev.Type,
				Error:     err.Error(),
			})
			continue
		}
		result.Processed++
	}

	return result, nil
}

func (s *Service) processEvent(ctx context.Context, ev event.Event) error {
	if event.IsOpening(ev.Type) {
		created, err := s.store.CreateSessionIfAbsent(ctx, sessionFromEvent(ev))
		if err != nil {
			return err
		}
		if created {
			s.log.Info("new session", "sessionId", ev.SessionID, "testId", ev.TestID, "variant", ev.Variant)
		}
	}

	if err := s.store.InsertEvent(ctx, &store.Event{
		SessionID: ev.SessionID,
		TestID:    ev.TestID,
		Variant:   ev.Variant,
		Type:      ev.Type,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
		Duration:  ev.Duration,
	}); err != nil {
		return err
	}

	return s.applyTerminal(ctx, ev)
}

// applyTerminal transitions the session to its terminal outcome. The store
// update is conditional on the outcome still being unset, so a later
// terminal event for an already-closed session is a no-op.
func (s *Service) applyTerminal(ctx context.Context, ev event.Event) error {
	if !event.IsTerminal(ev.Type) {
		return nil
	}

	outcome := store.OutcomeCompleted
	if ev.Type == event.TestAbandoned {
		outcome = store.OutcomeAbandoned
	}

	won, err := s.store.FinishSession(ctx, ev.SessionID, outcome, ev.Timestamp, ev.Duration)
	if err != nil {
		return err
	}
	if won {
		s.log.Info("session closed", "sessionId", ev.SessionID, "outcome", outcome, "durationMs", ev.Duration)
	}
	return nil
}

// RebuildSessions drops the session projection for a test and re-derives it
// by replaying the event log in client timestamp order through the same fold
// used for live ingestion.
func (s *Service) RebuildSessions(ctx context.Context, testID string) (int, error) {
	events, err := s.store.EventsForTest(ctx, testID)
	if err != nil {
		return 0, fmt.Errorf("failed to load event log: %w", err)
	}

	if err := s.store.DeleteSessionsForTest(ctx, testID); err != nil {
		return 0, err
	}

	replayed := 0
	for _, row := range events {
		ev := event.Event{
			SessionID: row.SessionID,
			TestID:    row.TestID,
			Variant:   row.Variant,
			Type:      row.Type,
			Payload:   row.Payload,
			Timestamp: row.Timestamp,
			Duration:  row.Duration,
		}
		if event.IsOpening(ev.Type) {
			if _, err := s.store.CreateSessionIfAbsent(ctx, sessionFromEvent(ev)); err != nil {
				return replayed, fmt.Errorf("failed to replay session create: %w", err)
			}
		}
		if err := s.applyTerminal(ctx, ev); err != nil {
			return replayed, fmt.Errorf("failed to replay terminal event: %w", err)
		}
		replayed++
	}

	s.log.Info("session projection rebuilt", "testId", testID, "events", replayed)
	return replayed, nil
}

// sessionFromEvent builds the initial session row from an opening event,
// capturing device metadata from the payload.
func sessionFromEvent(ev event.Event) *store.Session {
	variant := ev.Variant
	if variant == "" {
		variant = "A"
	}

	sess := &store.Session{
		ID:        ev.SessionID,
		TestID:    ev.TestID,
		Variant:   variant,
		StartedAt: time.UnixMilli(ev.Timestamp),
	}

	if ua, ok := ev.Payload["userAgent"].(string); ok {
		sess.UserAgent = ua
	}
	if lang, ok := ev.Payload["language"].(string); ok {
		sess.Language = lang
	}
	sess.ScreenWidth = payloadInt(ev.Payload, "screenWidth")
	sess.ScreenHeight = payloadInt(ev.Payload, "screenHeight")

	return sess
}

// payloadInt reads a numeric payload value; JSON decoding yields float64.
func payloadInt(payload map[string]any, key string) int {
	switch v := payload[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
