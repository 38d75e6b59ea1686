// Package store defines the persistent tier of session memory.
//
// A HistoryStore keeps the ordered conversation history of every
// (user_id, session_id) pair. It is the durable record behind the
// in-process cache: the memory package reads through it on a cache miss
// and writes through it on every append.
//
// # Implementations
//
// The subpackages provide interchangeable backends:
//   - memory: process memory, for tests and single-process deployments
//   - file: one JSON document per session under a directory
//   - redis: one list per session plus a per-user session index
//   - postgres: one JSONB row per session
//   - sqlite: one row per entry, ordered by insertion
//   - mongo: one document per session, appended with $push
//
// storeutil wraps any of them with a per-call timeout.
//
// # Contract
//
//	type HistoryStore interface {
//	    AppendHistory(ctx context.Context, key Key, entries []Entry) error
//	    History(ctx context.Context, key Key) ([]Entry, bool, error)
//	    UserHistories(ctx context.Context, userID string) (map[string][]Entry, error)
//	    DeleteHistory(ctx context.Context, key Key) (bool, error)
//	    Close() error
//	}
//
// AppendHistory creates the record when it is absent and never reorders or
// interleaves the entries of one call. History reports false for a session
// that was never written or has been deleted. DeleteHistory reports whether
// a record existed.
//
// Failures of the underlying service are wrapped with Unavailable, so
// callers can test for them with errors.Is(err, ErrUnavailable).
//
// # Usage
//
//	s := memory.NewMemoryHistoryStore()
//	key := store.NewKey("u1", "s1")
//
//	err := s.AppendHistory(ctx, key, []store.Entry{
//		{Role: store.RoleUser, Message: "hi"},
//		{Role: store.RoleBot, Message: "hello"},
//	})
//
//	history, ok, err := s.History(ctx, key)
//	for _, e := range history {
//		fmt.Println(e.Format()) // "User: hi", "Bot: hello"
//	}
package store
