package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/uxtest/uxtest/internal/event"
)

// QueueStore is the durable client-local storage behind the emitter. The
// persisted queue is always the authoritative superset of events that have
// not been acknowledged by the server; session state lives under its own key
// so queue flushes never disturb session continuity.
type QueueStore interface {
	LoadQueue() ([]event.Event, error)
	SaveQueue(events []event.Event) error
	ClearQueue() error

	LoadSession() (*SessionState, error)
	SaveSession(state SessionState) error
	ClearSession() error
}

const (
	queueFile   = "pending-events.json"
	sessionFile = "session.json"
)

// FileStore persists the queue and session state as JSON files in a state
// directory, written atomically via rename.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state dir: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

func (f *FileStore) LoadQueue() ([]event.Event, error) {
	var events []event.Event
	if err := f.read(queueFile, &events); err != nil {
		return nil, err
	}
	return events, nil
}

func (f *FileStore) SaveQueue(events []event.Event) error {
	return f.write(queueFile, events)
}

func (f *FileStore) ClearQueue() error {
	return f.remove(queueFile)
}

func (f *FileStore) LoadSession() (*SessionState, error) {
	var state SessionState
	if err := f.read(sessionFile, &state); err != nil {
		return nil, err
	}
	if state.SessionID == "" {
		return nil, nil
	}
	return &state, nil
}

func (f *FileStore) SaveSession(state SessionState) error {
	return f.write(sessionFile, state)
}

func (f *FileStore) ClearSession() error {
	return f.remove(sessionFile)
}

func (f *FileStore) read(name string, v any) error {
	data, err := os.ReadFile(filepath.Join(f.dir, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) write(name string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", name, err)
	}

	path := filepath.Join(f.dir, name)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", name, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", name, err)
	}
	return nil
}

func (f *FileStore) remove(name string) error {
	err := os.Remove(filepath.Join(f.dir, name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to remove %s: %w", name, err)
	}
	return nil
}
