package client

import (
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// sessionMaxAge bounds how old a persisted session may be and still be
// resumed after a full page navigation.
const sessionMaxAge = time.Hour

// SessionState is the persisted session-continuity record. It survives full
// page navigations so a multi-page task flow keeps a single session.
type SessionState struct {
	SessionID        string `json:"sessionId"`
	TestID           string `json:"testId"`
	Variant          string `json:"variant"`
	StartTime        int64  `json:"startTime"` // epoch ms
	CurrentTaskIndex int    `json:"currentTaskIndex"`
	TaskStartTime    int64  `json:"taskStartTime"` // epoch ms
}

// resumeOrStart returns the persisted session when it matches the requested
// test and is younger than the staleness bound, otherwise a fresh session.
// The second return reports whether the session is new.
func resumeOrStart(qs QueueStore, testID, variant string, clk Clock, log *slog.Logger) (SessionState, bool) {
	now := clk.Now()

	persisted, err := qs.LoadSession()
	if err != nil {
		log.Warn("failed to load persisted session", "error", err)
	}

	if persisted != nil && persisted.TestID == testID {
		age := now.Sub(time.UnixMilli(persisted.StartTime))
		if age >= 0 && age < sessionMaxAge {
			log.Info("resuming session", "sessionId", persisted.SessionID, "taskIndex", persisted.CurrentTaskIndex)
			return *persisted, false
		}
	}

	nowMs := now.UnixMilli()
	return SessionState{
		SessionID:     uuid.NewString(),
		TestID:        testID,
		Variant:       variant,
		StartTime:     nowMs,
		TaskStartTime: nowMs,
	}, true
}
