// Package calllog stores one record per inference call so a session's
// prompts and model answers can be inspected or replayed.
package calllog

import (
	"context"
	"sync"
	"time"

	ds "github.com/ZanzyTHEbar/dragonscale-intents/pkg/dragonscale"
)

// Store records call logs and lists them back.
type Store interface {
	ds.CallRecorder
	// List returns the logs of a session oldest first. An empty session id
	// lists every session.
	List(ctx context.Context, sessionID string) ([]ds.CallLog, error)
}

var (
	_ Store = (*Memory)(nil)
	_ Store = (*SQLite)(nil)
)

// Memory keeps call logs in process. It is what the CLI uses when no
// database is configured.
type Memory struct {
	mu   sync.RWMutex
	logs []ds.CallLog
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Record appends l, stamping CreatedAt when unset.
func (m *Memory) Record(_ context.Context, l ds.CallLog) error {
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now()
	}
	m.mu.Lock()
	m.logs = append(m.logs, l)
	m.mu.Unlock()
	return nil
}

// List returns a copy of the matching logs.
func (m *Memory) List(_ context.Context, sessionID string) ([]ds.CallLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []ds.CallLog
	for _, l := range m.logs {
		if sessionID == "" || l.SessionID == sessionID {
			out = append(out, l)
		}
	}
	return out, nil
}
