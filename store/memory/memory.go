package memory

import (
	"context"
	"sync"

	"github.com/smallnest/chatmemory/store"
)

// MemoryHistoryStore implements store.HistoryStore in process memory.
// It is durable only for the lifetime of the process.
type MemoryHistoryStore struct {
	mu       sync.RWMutex
	sessions map[string]map[string][]store.Entry // user -> session -> history
}

var _ store.HistoryStore = (*MemoryHistoryStore)(nil)

// NewMemoryHistoryStore creates a new in-memory history store
func NewMemoryHistoryStore() *MemoryHistoryStore {
	return &MemoryHistoryStore{
		sessions: make(map[string]map[string][]store.Entry),
	}
}

// AppendHistory appends entries to the history of key
func (m *MemoryHistoryStore) AppendHistory(_ context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.sessions[key.UserID]
	if !ok {
		user = make(map[string][]store.Entry)
		m.sessions[key.UserID] = user
	}
	user[key.SessionID] = append(user[key.SessionID], entries...)
	return nil
}

// History returns a copy of the stored history for key
func (m *MemoryHistoryStore) History(_ context.Context, key store.Key) ([]store.Entry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	history, ok := m.sessions[key.UserID][key.SessionID]
	if !ok {
		return nil, false, nil
	}
	return store.CloneEntries(history), true, nil
}

// UserHistories returns copies of every session stored for userID
func (m *MemoryHistoryStore) UserHistories(_ context.Context, userID string) (map[string][]store.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string][]store.Entry, len(m.sessions[userID]))
	for sessionID, history := range m.sessions[userID] {
		result[sessionID] = store.CloneEntries(history)
	}
	return result, nil
}

// DeleteHistory removes the history of key
func (m *MemoryHistoryStore) DeleteHistory(_ context.Context, key store.Key) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.sessions[key.UserID]
	if !ok {
		return false, nil
	}
	if _, ok := user[key.SessionID]; !ok {
		return false, nil
	}
	delete(user, key.SessionID)
	if len(user) == 0 {
		delete(m.sessions, key.UserID)
	}
	return true, nil
}

// Close does nothing
func (m *MemoryHistoryStore) Close() error {
	return nil
}
