package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Role identifies who produced a history entry
type Role string

const (
	// RoleUser marks a turn typed by the end user
	RoleUser Role = "user"
	// RoleBot marks a turn produced by the model
	RoleBot Role = "bot"
)

// Title renders the role the way prompts expect it: "User", "Bot".
// An empty role renders as "Bot".
func (r Role) Title() string {
	s := string(r)
	if s == "" {
		s = string(RoleBot)
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

// Entry is a single dialogue turn. Entries are append-only and never mutated.
type Entry struct {
	Role    Role   `json:"role" bson:"role"`
	Message string `json:"message" bson:"message"`
}

// Format renders the entry as "<Role>: <message>"
func (e Entry) Format() string {
	return e.Role.Title() + ": " + e.Message
}

// Key identifies one conversation thread
type Key struct {
	UserID    string `json:"user_id" bson:"user_id"`
	SessionID string `json:"session_id" bson:"session_id"`
}

// NewKey creates a key for the given user and session
func NewKey(userID, sessionID string) Key {
	return Key{UserID: userID, SessionID: sessionID}
}

func (k Key) String() string {
	return k.UserID + "/" + k.SessionID
}

// ErrUnavailable reports that the persistent tier could not serve a request.
// Every HistoryStore implementation wraps driver failures with it.
var ErrUnavailable = errors.New("history store unavailable")

// Unavailable wraps err so that errors.Is(err, ErrUnavailable) holds
func Unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrUnavailable, op, err)
}

// HistoryStore defines the interface for durable conversation history.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// AppendHistory appends entries to the stored history, creating it if absent.
	// Calling it twice with the same entries stores them twice.
	AppendHistory(ctx context.Context, key Key, entries []Entry) error

	// History returns the stored history for key; ok is false when none exists
	History(ctx context.Context, key Key) (entries []Entry, ok bool, err error)

	// UserHistories returns every stored session of a user keyed by session ID
	UserHistories(ctx context.Context, userID string) (map[string][]Entry, error)

	// DeleteHistory removes the history for key and reports whether one existed
	DeleteHistory(ctx context.Context, key Key) (bool, error)

	// Close releases resources held by the store
	Close() error
}

// CloneEntries returns a copy of entries that shares no backing array
func CloneEntries(entries []Entry) []Entry {
	if entries == nil {
		return nil
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out
}
