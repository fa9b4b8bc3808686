package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

var ErrNotFound = errors.New("not found")

type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS projects (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL,
    created_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE TABLE IF NOT EXISTS tests (
    id TEXT PRIMARY KEY,
    project_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT,
    target_url TEXT,
    instructions TEXT,
    timeout_ms INTEGER NOT NULL DEFAULT 300000,
    variants TEXT NOT NULL,
    is_active INTEGER NOT NULL DEFAULT 1,
    created_at INTEGER NOT NULL DEFAULT (unixepoch()),
    FOREIGN KEY (project_id) REFERENCES projects(id)
);

CREATE INDEX IF NOT EXISTS idx_tests_project ON tests(project_id);

CREATE TABLE IF NOT EXISTS tasks (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    title TEXT NOT NULL,
    description TEXT,
    order_index INTEGER NOT NULL,
    FOREIGN KEY (test_id) REFERENCES tests(id)
);

CREATE INDEX IF NOT EXISTS idx_tasks_test ON tasks(test_id, order_index);

CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    test_id TEXT NOT NULL,
    variant TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    outcome TEXT,
    duration_ms INTEGER,
    user_agent TEXT,
    screen_width INTEGER,
    screen_height INTEGER,
    language TEXT
);

CREATE INDEX IF NOT EXISTS idx_sessions_test_variant ON sessions(test_id, variant);

CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    test_id TEXT NOT NULL,
    variant TEXT,
    type TEXT NOT NULL,
    payload TEXT,
    timestamp INTEGER NOT NULL,
    duration INTEGER,
    received_at INTEGER NOT NULL DEFAULT (unixepoch())
);

CREATE INDEX IF NOT EXISTS idx_events_session ON events(session_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_test ON events(test_id, timestamp);
CREATE INDEX IF NOT EXISTS idx_events_type ON events(type);
`

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// Apply schema
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying database connection for health checks
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

func (s *SQLiteStore) CreateProject(ctx context.Context, id, name string) (*Project, error) {
	now := time.Now().Unix()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO projects (id, name, created_at) VALUES (?, ?, ?)`,
		id, name, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert project: %w", err)
	}
	return &Project{ID: id, Name: name, CreatedAt: time.Unix(now, 0)}, nil
}

func (s *SQLiteStore) ListProjects(ctx context.Context) ([]*Project, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, created_at FROM projects ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []*Project
	for rows.Next() {
		var p Project
		var createdAt int64
		if err := rows.Scan(&p.ID, &p.Name, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan project: %w", err)
		}
		p.CreatedAt = time.Unix(createdAt, 0)
		projects = append(projects, &p)
	}
	return projects, rows.Err()
}

func (s *SQLiteStore) CreateTest(ctx context.Context, test *Test) error {
	variantsJSON, err := json.Marshal(test.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}

	if test.TimeoutMs == 0 {
		test.TimeoutMs = 300000
	}
	now := time.Now().Unix()
	test.CreatedAt = time.Unix(now, 0)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO tests (id, project_id, name, description, target_url, instructions, timeout_ms, variants, is_active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		test.ID, test.ProjectID, test.Name, nullable(test.Description), nullable(test.TargetURL),
		nullable(test.Instructions), test.TimeoutMs, string(variantsJSON), boolToInt(test.IsActive), now,
	)
	if err != nil {
		return fmt.Errorf("failed to insert test: %w", err)
	}

	for i := range test.Tasks {
		task := &test.Tasks[i]
		task.TestID = test.ID
		task.OrderIndex = i
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, test_id, title, description, order_index) VALUES (?, ?, ?, ?, ?)`,
			task.ID, task.TestID, task.Title, nullable(task.Description), task.OrderIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetTest(ctx context.Context, id string) (*Test, error) {
	var test Test
	var variantsJSON string
	var description, targetURL, instructions sql.NullString
	var isActive int
	var createdAt int64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, project_id, name, description, target_url, instructions, timeout_ms, variants, is_active, created_at
		 FROM tests WHERE id = ?`, id,
	).Scan(&test.ID, &test.ProjectID, &test.Name, &description, &targetURL, &instructions,
		&test.TimeoutMs, &variantsJSON, &isActive, &createdAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get test: %w", err)
	}

	if err := json.Unmarshal([]byte(variantsJSON), &test.Variants); err != nil {
		return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
	}
	test.Description = description.String
	test.TargetURL = targetURL.String
	test.Instructions = instructions.String
	test.IsActive = isActive != 0
	test.CreatedAt = time.Unix(createdAt, 0)

	tasks, err := s.testTasks(ctx, id)
	if err != nil {
		return nil, err
	}
	test.Tasks = tasks

	return &test, nil
}

func (s *SQLiteStore) testTasks(ctx context.Context, testID string) ([]Task, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, test_id, title, description, order_index
		 FROM tasks WHERE test_id = ? ORDER BY order_index ASC`, testID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get tasks: %w", err)
	}
	defer rows.Close()

	var tasks []Task
	for rows.Next() {
		var t Task
		var description sql.NullString
		if err := rows.Scan(&t.ID, &t.TestID, &t.Title, &description, &t.OrderIndex); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		t.Description = description.String
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

func (s *SQLiteStore) ListTests(ctx context.Context, projectID string) ([]*TestSummary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.project_id, t.name, t.description, t.target_url, t.instructions,
		       t.timeout_ms, t.variants, t.is_active, t.created_at,
		       (SELECT COUNT(*) FROM sessions s WHERE s.test_id = t.id) AS total_sessions,
		       (SELECT COUNT(*) FROM sessions s WHERE s.test_id = t.id AND s.outcome = 'completed') AS completed_sessions
		FROM tests t
		WHERE t.project_id = ?
		ORDER BY t.created_at DESC
	`, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tests: %w", err)
	}
	defer rows.Close()

	var tests []*TestSummary
	for rows.Next() {
		var sum TestSummary
		var variantsJSON string
		var description, targetURL, instructions sql.NullString
		var isActive int
		var createdAt int64
		var completed int

		err := rows.Scan(&sum.ID, &sum.ProjectID, &sum.Name, &description, &targetURL, &instructions,
			&sum.TimeoutMs, &variantsJSON, &isActive, &createdAt, &sum.TotalSessions, &completed)
		if err != nil {
			return nil, fmt.Errorf("failed to scan test: %w", err)
		}

		if err := json.Unmarshal([]byte(variantsJSON), &sum.Variants); err != nil {
			return nil, fmt.Errorf("failed to unmarshal variants: %w", err)
		}
		sum.Description = description.String
		sum.TargetURL = targetURL.String
		sum.Instructions = instructions.String
		sum.IsActive = isActive != 0
		sum.CreatedAt = time.Unix(createdAt, 0)
		if sum.TotalSessions > 0 {
			sum.CompletionRate = float64(int(float64(completed)/float64(sum.TotalSessions)*1000+0.5)) / 10
		}

		tests = append(tests, &sum)
	}
	return tests, rows.Err()
}

func (s *SQLiteStore) UpdateTest(ctx context.Context, test *Test) error {
	variantsJSON, err := json.Marshal(test.Variants)
	if err != nil {
		return fmt.Errorf("failed to marshal variants: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE tests SET name = ?, description = ?, target_url = ?, instructions = ?,
		        timeout_ms = ?, variants = ?, is_active = ?
		 WHERE id = ?`,
		test.Name, nullable(test.Description), nullable(test.TargetURL), nullable(test.Instructions),
		test.TimeoutMs, string(variantsJSON), boolToInt(test.IsActive), test.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update test: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}

	// Task lists are replaced wholesale
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE test_id = ?`, test.ID); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}
	for i := range test.Tasks {
		task := &test.Tasks[i]
		task.TestID = test.ID
		task.OrderIndex = i
		_, err = tx.ExecContext(ctx,
			`INSERT INTO tasks (id, test_id, title, description, order_index) VALUES (?, ?, ?, ?, ?)`,
			task.ID, task.TestID, task.Title, nullable(task.Description), task.OrderIndex,
		)
		if err != nil {
			return fmt.Errorf("failed to insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit test update: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteTest(ctx context.Context, id string) error {
	// Tasks go with the test; sessions and events are retained as history
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE test_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete tasks: %w", err)
	}

	result, err := s.db.ExecContext(ctx, `DELETE FROM tests WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete test: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateSessionIfAbsent inserts the session row if no row exists for its id.
// INSERT OR IGNORE makes the create idempotent without a read-then-write
// race. Returns true when a row was actually created.
func (s *SQLiteStore) CreateSessionIfAbsent(ctx context.Context, session *Session) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO sessions (id, test_id, variant, started_at, user_agent, screen_width, screen_height, language)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.TestID, session.Variant, session.StartedAt.UnixMilli(),
		nullable(session.UserAgent), nullableInt(session.ScreenWidth), nullableInt(session.ScreenHeight),
		nullable(session.Language),
	)
	if err != nil {
		return false, fmt.Errorf("failed to create session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

// FinishSession sets the terminal outcome of a session. The update is
// conditional on the outcome still being unset, which makes terminal state
// sticky under concurrent duplicate terminal events. Returns true when this
// call won the transition.
func (s *SQLiteStore) FinishSession(ctx context.Context, id string, outcome Outcome, endedAtMs int64, durationMs *int64) (bool, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, outcome = ?, duration_ms = ?
		 WHERE id = ? AND outcome IS NULL`,
		endedAtMs, string(outcome), nullableInt64(durationMs), id,
	)
	if err != nil {
		return false, fmt.Errorf("failed to finish session: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return rowsAffected > 0, nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	var sess Session
	var startedAt int64
	var endedAt, durationMs sql.NullInt64
	var outcome, userAgent, language sql.NullString
	var screenWidth, screenHeight sql.NullInt64

	err := s.db.QueryRowContext(ctx,
		`SELECT id, test_id, variant, started_at, ended_at, outcome, duration_ms, user_agent, screen_width, screen_height, language
		 FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.TestID, &sess.Variant, &startedAt, &endedAt, &outcome, &durationMs,
		&userAgent, &screenWidth, &screenHeight, &language)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	sess.StartedAt = time.UnixMilli(startedAt)
	if endedAt.Valid {
		t := time.UnixMilli(endedAt.Int64)
		sess.EndedAt = &t
	}
	sess.Outcome = Outcome(outcome.String)
	if durationMs.Valid {
		d := durationMs.Int64
		sess.DurationMs = &d
	}
	sess.UserAgent = userAgent.String
	sess.ScreenWidth = int(screenWidth.Int64)
	sess.ScreenHeight = int(screenHeight.Int64)
	sess.Language = language.String

	return &sess, nil
}

// DeleteSessionsForTest drops the session projection for a test so it can be
// rebuilt by replaying the event log.
func (s *SQLiteStore) DeleteSessionsForTest(ctx context.Context, testID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE test_id = ?`, testID); err != nil {
		return fmt.Errorf("failed to delete sessions: %w", err)
	}
	return nil
}

func (s *SQLiteStore) InsertEvent(ctx context.Context, ev *Event) error {
	var payloadJSON sql.NullString
	if len(ev.Payload) > 0 {
		b, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
		payloadJSON = sql.NullString{String: string(b), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (session_id, test_id, variant, type, payload, timestamp, duration, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.SessionID, ev.TestID, nullable(ev.Variant), ev.Type, payloadJSON,
		ev.Timestamp, nullableInt64(ev.Duration), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) SessionEvents(ctx context.Context, sessionID string) ([]*Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, session_id, test_id, variant, type, payload, timestamp, duration, received_at
		 FROM events WHERE session_id = ? ORDER BY timestamp ASC, id ASC`, sessionID)
}

func (s *SQLiteStore) EventsForTest(ctx context.Context, testID string) ([]*Event, error) {
	return s.queryEvents(ctx,
		`SELECT id, session_id, test_id, variant, type, payload, timestamp, duration, received_at
		 FROM events WHERE test_id = ? ORDER BY timestamp ASC, id ASC`, testID)
}

func (s *SQLiteStore) queryEvents(ctx context.Context, query string, arg string) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to get events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var variant, payloadJSON sql.NullString
		var duration sql.NullInt64
		var receivedAt int64
		err := rows.Scan(&e.ID, &e.SessionID, &e.TestID, &variant, &e.Type, &payloadJSON,
			&e.Timestamp, &duration, &receivedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		e.Variant = variant.String
		if payloadJSON.Valid && payloadJSON.String != "" {
			if err := json.Unmarshal([]byte(payloadJSON.String), &e.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}
		if duration.Valid {
			d := duration.Int64
			e.Duration = &d
		}
		e.ReceivedAt = time.Unix(receivedAt, 0)
		events = append(events, &e)
	}
	return events, rows.Err()
}

func (s *SQLiteStore) SessionOutcomeCounts(ctx context.Context, testID, variant string) (OutcomeCounts, error) {
	var counts OutcomeCounts
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN outcome = 'completed' THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN outcome = 'abandoned' THEN 1 ELSE 0 END), 0)
		FROM sessions
		WHERE test_id = ? AND variant = ?
	`, testID, variant).Scan(&counts.Sessions, &counts.Completed, &counts.Abandoned)
	if err != nil {
		return OutcomeCounts{}, fmt.Errorf("failed to count sessions: %w", err)
	}
	return counts, nil
}

// CompletedDurations returns the non-null durations of completed sessions in
// ascending order. Sessions without a reported duration are excluded, not
// counted as zero.
func (s *SQLiteStore) CompletedDurations(ctx context.Context, testID, variant string) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT duration_ms FROM sessions
		WHERE test_id = ? AND variant = ? AND outcome = 'completed' AND duration_ms IS NOT NULL
		ORDER BY duration_ms ASC
	`, testID, variant)
	if err != nil {
		return nil, fmt.Errorf("failed to get durations: %w", err)
	}
	defer rows.Close()

	var durations []int64
	for rows.Next() {
		var d int64
		if err := rows.Scan(&d); err != nil {
			return nil, fmt.Errorf("failed to scan duration: %w", err)
		}
		durations = append(durations, d)
	}
	return durations, rows.Err()
}

func (s *SQLiteStore) ErrorCountsByType(ctx context.Context, testID, variant string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.type, COUNT(*)
		FROM events e
		JOIN sessions s ON e.session_id = s.id
		WHERE s.test_id = ? AND s.variant = ? AND e.type IN ('validation_error', 'api_error', 'error')
		GROUP BY e.type
	`, testID, variant)
	if err != nil {
		return nil, fmt.Errorf("failed to count errors: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var typ string
		var n int
		if err := rows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("failed to scan error count: %w", err)
		}
		counts[typ] = n
	}
	return counts, rows.Err()
}

func nullable(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullableInt(n int) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(n), Valid: true}
}

func nullableInt64(n *int64) sql.NullInt64 {
	if n == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *n, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
