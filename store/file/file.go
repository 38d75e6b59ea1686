package file

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/smallnest/chatmemory/store"
)

// FileHistoryStore implements store.HistoryStore on the local filesystem.
// Each session is one JSON document at <path>/<user>/<session>.json.
type FileHistoryStore struct {
	path string
	mu   sync.RWMutex
}

var _ store.HistoryStore = (*FileHistoryStore)(nil)

// document is the on-disk shape of one session
type document struct {
	UserID    string        `json:"user_id"`
	SessionID string        `json:"session_id"`
	History   []store.Entry `json:"history"`
}

// NewFileHistoryStore creates a file history store rooted at path, creating the directory if needed
func NewFileHistoryStore(path string) (*FileHistoryStore, error) {
	if err := os.MkdirAll(path, 0755); err != nil {
		return nil, fmt.Errorf("failed to create history directory: %w", err)
	}
	return &FileHistoryStore{path: path}, nil
}

// escapeName turns an opaque identifier into a single safe path element
func escapeName(id string) string {
	name := url.PathEscape(id)
	if name == "" || name == "." || name == ".." {
		name = strings.ReplaceAll(name, ".", "%2E") + "%00"
	}
	return name
}

func (s *FileHistoryStore) userDir(userID string) string {
	return filepath.Join(s.path, escapeName(userID))
}

func (s *FileHistoryStore) sessionFile(key store.Key) string {
	return filepath.Join(s.userDir(key.UserID), escapeName(key.SessionID)+".json")
}

func readDocument(filename string) (*document, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to unmarshal history %s: %w", filename, err)
	}
	return &doc, nil
}

// AppendHistory appends entries to the session document, creating it if absent
func (s *FileHistoryStore) AppendHistory(_ context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filename := s.sessionFile(key)
	doc, err := readDocument(filename)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return store.Unavailable("append", err)
		}
		doc = &document{UserID: key.UserID, SessionID: key.SessionID}
	}
	doc.History = append(doc.History, entries...)

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(filename), 0755); err != nil {
		return store.Unavailable("append", err)
	}

	// Write through a temp file so readers never see a partial document
	tmp := filename + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return store.Unavailable("append", err)
	}
	if err := os.Rename(tmp, filename); err != nil {
		_ = os.Remove(tmp)
		return store.Unavailable("append", err)
	}
	return nil
}

// History returns the stored history for key
func (s *FileHistoryStore) History(_ context.Context, key store.Key) ([]store.Entry, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, err := readDocument(s.sessionFile(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, store.Unavailable("read", err)
	}
	return doc.History, true, nil
}

// UserHistories returns every session document under the user's directory
func (s *FileHistoryStore) UserHistories(_ context.Context, userID string) (map[string][]store.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]store.Entry)

	files, err := os.ReadDir(s.userDir(userID))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return result, nil
		}
		return nil, store.Unavailable("read_by_user", err)
	}

	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".json" {
			continue
		}
		doc, err := readDocument(filepath.Join(s.userDir(userID), f.Name()))
		if err != nil {
			return nil, store.Unavailable("read_by_user", err)
		}
		sessionID := doc.SessionID
		if sessionID == "" {
			sessionID, _ = url.PathUnescape(strings.TrimSuffix(f.Name(), ".json"))
		}
		result[sessionID] = doc.History
	}

	return result, nil
}

// DeleteHistory removes the session document
func (s *FileHistoryStore) DeleteHistory(_ context.Context, key store.Key) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.sessionFile(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, store.Unavailable("delete", err)
	}

	// Drop the user directory once it is empty; failure here is harmless
	_ = os.Remove(s.userDir(key.UserID))
	return true, nil
}

// Close does nothing
func (s *FileHistoryStore) Close() error {
	return nil
}
