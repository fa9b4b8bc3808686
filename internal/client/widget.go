package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/uxtest/uxtest/internal/event"
)

// TestConfig is the test definition the widget drives the tester through.
type TestConfig struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description"`
	Instructions string       `json:"instructions"`
	Tasks        []TaskConfig `json:"tasks"`
}

type TaskConfig struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Widget drives task progression for one test session. It is the emitter's
// only caller: every interaction becomes an enqueued event. After Success or
// Abandon the flush timer is torn down and later events are best-effort only.
type Widget struct {
	mu       sync.Mutex
	em       *Emitter
	test     TestConfig
	clock    Clock
	log      *slog.Logger
	terminal bool
}

// WidgetConfig configures Init. Test, when set, skips fetching the test
// definition from the server.
type WidgetConfig struct {
	Config
	Test *TestConfig
}

// Init creates the emitter, recovers any undelivered events from a previous
// run, resumes or starts a session, and emits the opening events for a fresh
// session.
func Init(ctx context.Context, cfg WidgetConfig) (*Widget, error) {
	em, err := NewEmitter(cfg.Config)
	if err != nil {
		return nil, err
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}

	test := fetchTestConfig(ctx, cfg, log)

	w := &Widget{em: em, test: test, clock: clk, log: log}

	if em.IsNewSession() {
		em.Enqueue(event.TestStarted, devicePayload(cfg.Device), nil)
		w.enqueueTaskStarted(0)
	}

	log.Info("widget ready", "testId", cfg.TestID, "tasks", len(test.Tasks), "sessionId", em.SessionID())
	return w, nil
}

// fetchTestConfig loads the test definition from the server, falling back to
// a single synthetic task so the widget stays usable when the fetch fails.
func fetchTestConfig(ctx context.Context, cfg WidgetConfig, log *slog.Logger) TestConfig {
	fallback := TestConfig{
		ID:    cfg.TestID,
		Tasks: []TaskConfig{{Title: "Complete the test"}},
	}

	if cfg.Test != nil {
		test := *cfg.Test
		if len(test.Tasks) == 0 {
			test.Tasks = fallback.Tasks
		}
		return test
	}
	if cfg.Endpoint == "" {
		return fallback
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultRequestTimeout}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("%s/tests/%s", cfg.Endpoint, cfg.TestID), nil)
	if err != nil {
		log.Warn("failed to build test config request", "error", err)
		return fallback
	}

	resp, err := client.Do(req)
	if err != nil {
		log.Warn("could not fetch test config", "error", err)
		return fallback
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		log.Warn("could not fetch test config", "status", resp.StatusCode)
		return fallback
	}

	var test TestConfig
	if err := json.NewDecoder(resp.Body).Decode(&test); err != nil {
		log.Warn("failed to decode test config", "error", err)
		return fallback
	}
	if len(test.Tasks) == 0 {
		test.Tasks = []TaskConfig{{
			Title:       test.Name,
			Description: test.Instructions,
		}}
	}
	return test
}

func devicePayload(d DeviceInfo) map[string]any {
	payload := map[string]any{}
	if d.UserAgent != "" {
		payload["userAgent"] = d.UserAgent
	}
	if d.Language != "" {
		payload["language"] = d.Language
	}
	if d.ScreenWidth != 0 {
		payload["screenWidth"] = d.ScreenWidth
	}
	if d.ScreenHeight != 0 {
		payload["screenHeight"] = d.ScreenHeight
	}
	return payload
}

// GetSessionID returns the current session id.
func (w *Widget) GetSessionID() string {
	return w.em.SessionID()
}

// LogEvent records an application-level event. After a terminal call the
// event is still buffered but delivery is no longer guaranteed.
func (w *Widget) LogEvent(typ string, payload map[string]any) {
	w.em.Enqueue(typ, payload, nil)
}

// Flush forces delivery of the current buffer.
func (w *Widget) Flush(ctx context.Context) error {
	return w.em.Flush(ctx)
}

// CompleteTask marks the current task done and advances. Completing the last
// task completes the test.
func (w *Widget) CompleteTask(ctx context.Context) {
	w.mu.Lock()
	if w.terminal {
		w.mu.Unlock()
		return
	}
	session := w.em.Session()
	idx := session.CurrentTaskIndex
	elapsed := w.clock.Now().UnixMilli() - session.TaskStartTime
	last := idx >= len(w.test.Tasks)-1
	w.mu.Unlock()

	w.em.Enqueue(event.TaskCompleted, map[string]any{
		"taskIndex": idx,
		"taskTitle": w.taskTitle(idx),
	}, &elapsed)

	if last {
		w.Success(ctx, nil)
		return
	}
	w.advance(idx + 1)
}

// SkipTask skips the current task. Skipping the last task abandons the test.
func (w *Widget) SkipTask(ctx context.Context) {
	w.mu.Lock()
	if w.terminal {
		w.mu.Unlock()
		return
	}
	session := w.em.Session()
	idx := session.CurrentTaskIndex
	last := idx >= len(w.test.Tasks)-1
	w.mu.Unlock()

	w.em.Enqueue(event.TaskSkipped, map[string]any{
		"taskIndex": idx,
		"taskTitle": w.taskTitle(idx),
	}, nil)

	if last {
		w.Abandon(ctx, "all_tasks_skipped")
		return
	}
	w.advance(idx + 1)
}

func (w *Widget) advance(next int) {
	w.em.SetTaskIndex(next)
	w.enqueueTaskStarted(next)
}

func (w *Widget) enqueueTaskStarted(idx int) {
	w.em.Enqueue(event.TaskStarted, map[string]any{
		"taskIndex": idx,
		"taskTitle": w.taskTitle(idx),
	}, nil)
}

func (w *Widget) taskTitle(idx int) string {
	if idx >= 0 && idx < len(w.test.Tasks) {
		return w.test.Tasks[idx].Title
	}
	return ""
}

// Success marks the session complete. The reported duration is the
// wall-clock span since the session started.
func (w *Widget) Success(ctx context.Context, metadata map[string]any) {
	w.finish(ctx, event.TestCompleted, metadata)
}

// Abandon marks the session abandoned with a reason.
func (w *Widget) Abandon(ctx context.Context, reason string) {
	session := w.em.Session()
	w.finish(ctx, event.TestAbandoned, map[string]any{
		"reason":        reason,
		"lastTaskIndex": session.CurrentTaskIndex,
	})
}

func (w *Widget) finish(ctx context.Context, typ string, payload map[string]any) {
	w.mu.Lock()
	if w.terminal {
		w.mu.Unlock()
		return
	}
	w.terminal = true
	w.mu.Unlock()

	session := w.em.Session()
	duration := w.clock.Now().UnixMilli() - session.StartTime
	w.em.Enqueue(typ, payload, &duration)

	if err := w.em.EndSession(ctx); err != nil {
		w.log.Warn("terminal flush failed; events remain persisted", "error", err)
	}
}

// Close tears down the widget without closing the session; undelivered
// events and session state stay persisted for the next startup.
func (w *Widget) Close() error {
	return w.em.Close()
}
