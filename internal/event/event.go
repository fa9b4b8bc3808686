// Package event defines the wire format shared by the client SDK and the
// ingestion service: immutable telemetry events, batch envelopes, and the
// per-batch processing result.
package event

import "fmt"

// Event types emitted over a session's lifetime. A session is opened by
// TestStarted and closed by exactly one of TestCompleted or TestAbandoned.
const (
	TestStarted   = "test_started"
	TaskStarted   = "task_started"
	TaskCompleted = "task_completed"
	TaskSkipped   = "task_skipped"
	TaskAbandoned = "task_abandoned"
	TestCompleted = "test_completed"
	TestAbandoned = "test_abandoned"
	Custom        = "custom"
)

// Error event types recognized by analytics.
const (
	ErrValidation = "validation_error"
	ErrAPI        = "api_error"
	ErrGeneric    = "error"
)

// Event is an immutable telemetry fact. Ordering is defined by Timestamp
// (the client clock, epoch milliseconds), not by arrival order.
type Event struct {
	SessionID string         `json:"sessionId"`
	TestID    string         `json:"testId"`
	Variant   string         `json:"variant,omitempty"`
	Type      string         `json:"type"`
	Payload   map[string]any `json:"payload,omitempty"`
	Timestamp int64          `json:"timestamp"`
	Duration  *int64         `json:"duration,omitempty"`
}

// BatchRequest is the body of POST /events.
type BatchRequest struct {
	Events []Event `json:"events"`
}

// BatchError records a single event that failed during batch processing.
type BatchError struct {
	SessionID string `json:"sessionId"`
	Type      string `json:"type"`
	Error     string `json:"error"`
}

// BatchResult reports how a batch was processed. Errors is never nil so the
// JSON response always carries an array.
type BatchResult struct {
	Processed int          `json:"processed"`
	Errors    []BatchError `json:"errors"`
}

// Validate checks the fields every event must carry. A batch containing any
// invalid event is rejected wholesale before processing.
func (e Event) Validate() error {
	switch {
	case e.SessionID == "":
		return fmt.Errorf("missing sessionId")
	case e.TestID == "":
		return fmt.Errorf("missing testId")
	case e.Type == "":
		return fmt.Errorf("missing type")
	case e.Timestamp == 0:
		return fmt.Errorf("missing timestamp")
	}
	return nil
}

// IsOpening reports whether the event type opens a session.
func IsOpening(t string) bool {
	return t == TestStarted
}

// IsTerminal reports whether the event type closes a session.
func IsTerminal(t string) bool {
	return t == TestCompleted || t == TestAbandoned
}

// IsError reports whether the event type counts toward errorsByType.
func IsError(t string) bool {
	return t == ErrValidation || t == ErrAPI || t == ErrGeneric
}
