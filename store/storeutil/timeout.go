// Package storeutil holds helpers shared by history store backends.
package storeutil

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/smallnest/chatmemory/store"
)

// TimeoutStore bounds every call of the wrapped store. Any failure, a
// deadline included, is reported as store.ErrUnavailable.
type TimeoutStore struct {
	next    store.HistoryStore
	timeout time.Duration
}

var _ store.HistoryStore = (*TimeoutStore)(nil)

// WithTimeout wraps s. A non-positive timeout returns s unchanged.
func WithTimeout(s store.HistoryStore, timeout time.Duration) store.HistoryStore {
	if timeout <= 0 {
		return s
	}
	return &TimeoutStore{next: s, timeout: timeout}
}

func (t *TimeoutStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.wrap("append", t.next.AppendHistory(ctx, key, entries))
}

func (t *TimeoutStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	entries, ok, err := t.next.History(ctx, key)
	if err != nil {
		return nil, false, t.wrap("read", err)
	}
	return entries, ok, nil
}

func (t *TimeoutStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	sessions, err := t.next.UserHistories(ctx, userID)
	if err != nil {
		return nil, t.wrap("read_by_user", err)
	}
	return sessions, nil
}

func (t *TimeoutStore) DeleteHistory(ctx context.Context, key store.Key) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	removed, err := t.next.DeleteHistory(ctx, key)
	if err != nil {
		return false, t.wrap("delete", err)
	}
	return removed, nil
}

func (t *TimeoutStore) Close() error {
	return t.next.Close()
}

func (t *TimeoutStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = fmt.Errorf("no answer within %s: %w", t.timeout, err)
	}
	return store.Unavailable(op, err)
}
