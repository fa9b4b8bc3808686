// Package client is the UXTest SDK: a durable event emitter that buffers
// interaction events, persists them across restarts, and delivers them in
// batches with at-least-once semantics.
package client

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/uxtest/uxtest/internal/event"
)

const (
	defaultBatchSize     = 5
	defaultFlushInterval = 10 * time.Second
	defaultStateDir      = ".uxtest"
)

// DeviceInfo is context metadata attached to the session-opening event.
type DeviceInfo struct {
	UserAgent    string
	ScreenWidth  int
	ScreenHeight int
	Language     string
}

// Config configures an Emitter.
type Config struct {
	TestID   string
	Variant  string
	Endpoint string

	// StateDir holds the persisted queue and session state. Defaults to
	// ".uxtest" in the working directory.
	StateDir string

	// BatchSize triggers a flush when the buffer reaches it. Default 5.
	BatchSize int

	// FlushInterval is the periodic flush cadence. Default 10s; negative
	// disables the timer.
	FlushInterval time.Duration

	Device     DeviceInfo
	HTTPClient *http.Client
	Logger     *slog.Logger

	// Test seams. When nil, real implementations are used.
	Clock  Clock
	Sender Sender
	Store  QueueStore
}

// Emitter buffers events in order, mirrors the buffer to durable storage on
// every change, and hands snapshots to the transport. A failed flush puts
// the snapshot back at the head of the buffer; events are only dropped after
// the server acknowledges them.
type Emitter struct {
	mu       sync.Mutex
	queue    []event.Event
	inFlight bool
	closed   bool
	session  SessionState
	fresh    bool

	batchSize int
	sender    Sender
	qs        QueueStore
	clock     Clock
	log       *slog.Logger

	ticker *time.Ticker
	done   chan struct{}
}

func NewEmitter(cfg Config) (*Emitter, error) {
	if cfg.TestID == "" {
		return nil, fmt.Errorf("testId is required")
	}
	if cfg.Endpoint == "" && cfg.Sender == nil {
		return nil, fmt.Errorf("endpoint is required")
	}

	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	clk := cfg.Clock
	if clk == nil {
		clk = systemClock{}
	}
	qs := cfg.Store
	if qs == nil {
		dir := cfg.StateDir
		if dir == "" {
			dir = defaultStateDir
		}
		fs, err := NewFileStore(dir)
		if err != nil {
			return nil, err
		}
		qs = fs
	}
	sender := cfg.Sender
	if sender == nil {
		sender = NewTransport(cfg.Endpoint, cfg.HTTPClient, log)
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	variant := cfg.Variant
	if variant == "" {
		variant = "A"
	}

	e := &Emitter{
		batchSize: batchSize,
		sender:    sender,
		qs:        qs,
		clock:     clk,
		log:       log,
		done:      make(chan struct{}),
	}

	// Recover any events a previous run persisted but never delivered.
	recovered, err := qs.LoadQueue()
	if err != nil {
		log.Warn("failed to recover persisted queue", "error", err)
	}
	if len(recovered) > 0 {
		log.Info("recovered undelivered events", "count", len(recovered))
		e.queue = recovered
	}

	e.session, e.fresh = resumeOrStart(qs, cfg.TestID, variant, clk, log)
	if err := qs.SaveSession(e.session); err != nil {
		log.Warn("failed to persist session", "error", err)
	}

	interval := cfg.FlushInterval
	if interval == 0 {
		interval = defaultFlushInterval
	}
	if interval > 0 {
		e.ticker = time.NewTicker(interval)
		go e.run()
	}

	return e, nil
}

func (e *Emitter) run() {
	for {
		select {
		case <-e.done:
			return
		case <-e.ticker.C:
			if err := e.Flush(context.Background()); err != nil {
				e.log.Warn("periodic flush failed", "error", err)
			}
		}
	}
}

// SessionID returns the id of the current session.
func (e *Emitter) SessionID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session.SessionID
}

// Session returns a copy of the current session-continuity state.
func (e *Emitter) Session() SessionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.session
}

// IsNewSession reports whether this emitter started a fresh session rather
// than resuming a persisted one.
func (e *Emitter) IsNewSession() bool {
	return e.fresh
}

// SetTaskIndex records progression to a new task and restarts the task timer.
func (e *Emitter) SetTaskIndex(index int) {
	e.mu.Lock()
	e.session.CurrentTaskIndex = index
	e.session.TaskStartTime = e.clock.Now().UnixMilli()
	state := e.session
	e.mu.Unlock()

	if err := e.qs.SaveSession(state); err != nil {
		e.log.Warn("failed to persist session", "error", err)
	}
}

// Enqueue appends an event to the buffer and persists the buffer. When the
// buffer reaches the batch size a flush is kicked off in the background; the
// caller never blocks on delivery.
func (e *Emitter) Enqueue(typ string, payload map[string]any, duration *int64) {
	e.mu.Lock()
	ev := event.Event{
		SessionID: e.session.SessionID,
		TestID:    e.session.TestID,
		Variant:   e.session.Variant,
		Type:      typ,
		Payload:   payload,
		Timestamp: e.clock.Now().UnixMilli(),
		Duration:  duration,
	}
	e.queue = append(e.queue, ev)
	e.persistLocked()
	full := len(e.queue) >= e.batchSize
	closed := e.closed
	e.mu.Unlock()

	if full && !closed {
		go func() {
			if err := e.Flush(context.Background()); err != nil {
				e.log.Warn("batch flush failed", "error", err)
			}
		}()
	}
}

// Flush snapshots the buffer, clears it optimistically, and hands the
// snapshot to the transport. On failure the snapshot is re-prepended and
// re-persisted. An in-progress flush suppresses new attempts so the same
// events are never in flight twice.
func (e *Emitter) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.inFlight || len(e.queue) == 0 {
		e.mu.Unlock()
		return nil
	}
	batch := e.queue
	e.queue = nil
	e.inFlight = true
	e.mu.Unlock()

	err := e.sender.Send(ctx, batch)

	e.mu.Lock()
	e.inFlight = false
	if err != nil {
		e.queue = append(batch, e.queue...)
	}
	e.persistLocked()
	e.mu.Unlock()

	if err != nil {
		return fmt.Errorf("flush failed, %d events re-queued: %w", len(batch), err)
	}
	return nil
}

// FlushBestEffort makes a single fire-and-forget delivery attempt with the
// current buffer. The persisted copy is left intact: if delivery silently
// fails, the next startup recovers the events; if it succeeds, redelivery is
// absorbed by the server's idempotent processing.
func (e *Emitter) FlushBestEffort() {
	e.mu.Lock()
	if e.inFlight || len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	batch := make([]event.Event, len(e.queue))
	copy(batch, e.queue)
	e.mu.Unlock()

	e.sender.SendBestEffort(batch)
}

// EndSession tears down the periodic flush and clears the persisted session
// so a later startup does not resume a closed session. Called after a
// terminal event has been enqueued and flushed.
func (e *Emitter) EndSession(ctx context.Context) error {
	e.stopTimer()

	err := e.Flush(ctx)
	if err != nil {
		// Delivery failed; leave the events persisted and try the
		// one-way path before the process goes away.
		e.FlushBestEffort()
	}

	if cerr := e.qs.ClearSession(); cerr != nil {
		e.log.Warn("failed to clear session state", "error", cerr)
	}

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return err
}

// Close stops the flush timer and makes a final best-effort delivery
// attempt. Undelivered events stay persisted for the next startup.
func (e *Emitter) Close() error {
	e.stopTimer()
	e.FlushBestEffort()

	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()
	return nil
}

func (e *Emitter) stopTimer() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ticker != nil {
		e.ticker.Stop()
		e.ticker = nil
		close(e.done)
	}
}

// persistLocked mirrors the buffer to durable storage. Caller holds e.mu.
func (e *Emitter) persistLocked() {
	var err error
	if len(e.queue) == 0 {
		err = e.qs.ClearQueue()
	} else {
		err = e.qs.SaveQueue(e.queue)
	}
	if err != nil {
		e.log.Warn("failed to persist event queue", "error", err)
	}
}
