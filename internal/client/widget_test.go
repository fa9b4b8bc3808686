package client

import (
	"context"
	"testing"
	"time"

	"github.com/uxtest/uxtest/internal/event"
)

func newTestWidget(t *testing.T, dir string, sender Sender, clk Clock) *Widget {
	t.Helper()

	w, err := Init(context.Background(), WidgetConfig{
		Config: Config{
			TestID:        "test-1",
			Variant:       "A",
			StateDir:      dir,
			BatchSize:     100,
			FlushInterval: -1,
			Device:        DeviceInfo{UserAgent: "test-agent", ScreenWidth: 1920, ScreenHeight: 1080, Language: "en-US"},
			Logger:        discardLogger(),
			Clock:         clk,
			Sender:        sender,
		},
		Test: &TestConfig{
			ID:   "test-1",
			Name: "Checkout",
			Tasks: []TaskConfig{
				{Title: "Find the product"},
				{Title: "Complete checkout"},
			},
		},
	})
	if err != nil {
		t.Fatalf("failed to init widget: %v", err)
	}
	return w
}

func allSent(s *stubSender) []event.Event {
	var all []event.Event
	for _, batch := range s.sentBatches() {
		all = append(all, batch...)
	}
	return all
}

func eventTypes(events []event.Event) []string {
	types := make([]string, len(events))
	for i, ev := range events {
		types[i] = ev.Type
	}
	return types
}

func TestWidget_CompleteAllTasksSucceeds(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	clk := newFakeClock()
	w := newTestWidget(t, t.TempDir(), sender, clk)

	clk.Advance(5 * time.Second)
	w.CompleteTask(ctx)
	clk.Advance(3 * time.Second)
	w.CompleteTask(ctx)

	sent := allSent(sender)
	want := []string{
		event.TestStarted,
		event.TaskStarted,
		event.TaskCompleted,
		event.TaskStarted,
		event.TaskCompleted,
		event.TestCompleted,
	}
	got := eventTypes(sent)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event types = %v, want %v", got, want)
		}
	}

	opening := sent[0]
	if opening.Payload["userAgent"] != "test-agent" || opening.Payload["screenWidth"] != 1920 {
		t.Errorf("opening payload = %v", opening.Payload)
	}

	firstDone := sent[2]
	if firstDone.Duration == nil || *firstDone.Duration != 5000 {
		t.Errorf("first task duration = %v, want 5000", firstDone.Duration)
	}
	if firstDone.Payload["taskIndex"] != 0 || firstDone.Payload["taskTitle"] != "Find the product" {
		t.Errorf("first task payload = %v", firstDone.Payload)
	}

	terminal := sent[5]
	if terminal.Duration == nil || *terminal.Duration != 8000 {
		t.Errorf("session duration = %v, want 8000", terminal.Duration)
	}

	// A second terminal call after completion is a no-op
	w.Success(ctx, nil)
	w.CompleteTask(ctx)
	if got := len(allSent(sender)); got != len(want) {
		t.Errorf("terminal session still emitted events: %d total", got)
	}
}

func TestWidget_AllTasksSkippedAbandons(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	clk := newFakeClock()
	w := newTestWidget(t, t.TempDir(), sender, clk)

	w.SkipTask(ctx)
	w.SkipTask(ctx)

	sent := allSent(sender)
	if len(sent) == 0 {
		t.Fatal("no events delivered")
	}
	terminal := sent[len(sent)-1]
	if terminal.Type != event.TestAbandoned {
		t.Fatalf("last event = %s, want %s", terminal.Type, event.TestAbandoned)
	}
	if terminal.Payload["reason"] != "all_tasks_skipped" {
		t.Errorf("abandon reason = %v", terminal.Payload["reason"])
	}
	if terminal.Payload["lastTaskIndex"] != 1 {
		t.Errorf("lastTaskIndex = %v, want 1", terminal.Payload["lastTaskIndex"])
	}
}

func TestWidget_ExplicitAbandonRecordsReason(t *testing.T) {
	ctx := context.Background()
	sender := &stubSender{}
	w := newTestWidget(t, t.TempDir(), sender, newFakeClock())

	w.Abandon(ctx, "timeout")

	sent := allSent(sender)
	terminal := sent[len(sent)-1]
	if terminal.Type != event.TestAbandoned || terminal.Payload["reason"] != "timeout" {
		t.Errorf("terminal = %s %v", terminal.Type, terminal.Payload)
	}
}

func TestWidget_ResumeDoesNotReplayOpeningEvents(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	clk := newFakeClock()

	first := newTestWidget(t, dir, &stubSender{}, clk)
	clk.Advance(2 * time.Second)
	first.CompleteTask(ctx)
	if err := first.Close(); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	// Same state dir, mid-test restart: session resumes at task 1 and the
	// undelivered buffer is recovered without new opening events.
	clk.Advance(time.Minute)
	sender := &stubSender{}
	second := newTestWidget(t, dir, sender, clk)

	if second.GetSessionID() != first.GetSessionID() {
		t.Errorf("session id changed: %q vs %q", second.GetSessionID(), first.GetSessionID())
	}
	if idx := second.em.Session().CurrentTaskIndex; idx != 1 {
		t.Errorf("task index = %d, want 1", idx)
	}

	if err := second.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	sent := allSent(sender)
	// test_started, task_started(0), task_completed(0), task_started(1)
	if len(sent) != 4 {
		t.Fatalf("recovered %d events, want 4: %v", len(sent), eventTypes(sent))
	}
	started := 0
	for _, ev := range sent {
		if ev.Type == event.TestStarted {
			started++
		}
	}
	if started != 1 {
		t.Errorf("test_started count = %d, want exactly 1", started)
	}
}
