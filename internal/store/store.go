package store

import "context"

// Store defines the persistence operations used by ingestion, analytics, and
// the CRUD layer.
type Store interface {
	// Project operations
	CreateProject(ctx context.Context, id, name string) (*Project, error)
	ListProjects(ctx context.Context) ([]*Project, error)

	// Test operations
	CreateTest(ctx context.Context, test *Test) error
	GetTest(ctx context.Context, id string) (*Test, error)
	ListTests(ctx context.Context, projectID string) ([]*TestSummary, error)
	UpdateTest(ctx context.Context, test *Test) error
	DeleteTest(ctx context.Context, id string) error

	// Session projection operations. CreateSessionIfAbsent and FinishSession
	// are atomic conditional writes: the first is a no-op for a known id, the
	// second refuses to overwrite a terminal outcome.
	CreateSessionIfAbsent(ctx context.Context, session *Session) (bool, error)
	FinishSession(ctx context.Context, id string, outcome Outcome, endedAtMs int64, durationMs *int64) (bool, error)
	GetSession(ctx context.Context, id string) (*Session, error)
	DeleteSessionsForTest(ctx context.Context, testID string) error

	// Event operations. Events are append-only and read back in client
	// timestamp order.
	InsertEvent(ctx context.Context, ev *Event) error
	SessionEvents(ctx context.Context, sessionID string) ([]*Event, error)
	EventsForTest(ctx context.Context, testID string) ([]*Event, error)

	// Aggregation reads
	SessionOutcomeCounts(ctx context.Context, testID, variant string) (OutcomeCounts, error)
	CompletedDurations(ctx context.Context, testID, variant string) ([]int64, error)
	ErrorCountsByType(ctx context.Context, testID, variant string) (map[string]int, error)

	// Lifecycle
	Close() error
}
