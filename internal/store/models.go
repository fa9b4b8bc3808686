package store

import "time"

// Outcome is the derived terminal state of a session. The empty string means
// the session is still open; once set the outcome never changes.
type Outcome string

const (
	OutcomeCompleted Outcome = "completed"
	OutcomeAbandoned Outcome = "abandoned"
)

type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

type Test struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"projectId"`
	Name         string    `json:"name"`
	Description  string    `json:"description,omitempty"`
	TargetURL    string    `json:"targetUrl,omitempty"`
	Instructions string    `json:"instructions,omitempty"`
	TimeoutMs    int64     `json:"timeoutMs"`
	Variants     []string  `json:"variants"` // decoded from JSON
	IsActive     bool      `json:"isActive"`
	CreatedAt    time.Time `json:"createdAt"`
	Tasks        []Task    `json:"tasks,omitempty"`
}

type Task struct {
	ID          string `json:"id"`
	TestID      string `json:"-"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	OrderIndex  int    `json:"orderIndex"`
}

// TestSummary is the list-view projection of a test: the test row plus
// session counts and a one-decimal completion percentage.
type TestSummary struct {
	Test
	TotalSessions  int     `json:"totalSessions"`
	CompletionRate float64 `json:"completionRate"`
}

// Session is a mutable aggregate derived from the event stream. It is created
// exactly once per session id and its outcome is sticky once terminal.
type Session struct {
	ID           string     `json:"id"`
	TestID       string     `json:"testId"`
	Variant      string     `json:"variant"`
	StartedAt    time.Time  `json:"startedAt"`
	EndedAt      *time.Time `json:"endedAt,omitempty"`
	Outcome      Outcome    `json:"outcome,omitempty"`
	DurationMs   *int64     `json:"durationMs,omitempty"`
	UserAgent    string     `json:"userAgent,omitempty"`
	ScreenWidth  int        `json:"screenWidth,omitempty"`
	ScreenHeight int        `json:"screenHeight,omitempty"`
	Language     string     `json:"language,omitempty"`
}

// Event is a persisted telemetry event row. Rows are append-only; they are
// never mutated or deleted by normal operation.
type Event struct {
	ID         int64          `json:"id"`
	SessionID  string         `json:"sessionId"`
	TestID     string         `json:"testId"`
	Variant    string         `json:"variant,omitempty"`
	Type       string         `json:"type"`
	Payload    map[string]any `json:"payload,omitempty"`
	Timestamp  int64          `json:"timestamp"` // client clock, epoch ms
	Duration   *int64         `json:"duration,omitempty"`
	ReceivedAt time.Time      `json:"receivedAt"`
}

// OutcomeCounts are per-variant session counts grouped by outcome.
type OutcomeCounts struct {
	Sessions  int
	Completed int
	Abandoned int
}
