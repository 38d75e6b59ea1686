// Package memory provides SessionMemory, the conversation memory used by the
// chat request path.
//
// SessionMemory keeps recent dialogue turns for many (user, session) pairs in
// a TTL-bounded in-process cache and writes every turn through to a durable
// store.HistoryStore, so history survives restarts and is shared by every
// instance reading the same store.
//
// # Semantics
//
//   - Read is read-through: a cache miss loads the session from the store.
//   - Append updates the cache, then the store. On a cache miss the session
//     is loaded first so the cache never holds less than the store.
//   - ReadAll merges cached sessions with the store's copy; cached sessions win.
//   - Delete removes the session from both tiers and reports whether the store
//     had it.
//   - Formatted renders a session as "User: ..." / "Bot: ..." prompt lines.
//
// Idle sessions are evicted lazily before every operation. NewSweeper adds an
// optional background sweep with the same observable result.
//
// Store failures never reach callers. Reads degrade to the cache, appends are
// kept in the cache only, and Delete reports false. Every failure is passed to
// the Observer; the built-in ones count events (Metrics) and log them
// (LogObserver).
//
// # Example Usage
//
//	backing, err := postgres.NewPostgresHistoryStore(ctx, postgres.PostgresOptions{
//		ConnString: dsn,
//	})
//	if err != nil {
//		return err
//	}
//
//	mem := memory.New(storeutil.WithTimeout(backing, 5*time.Second),
//		memory.WithTTL(15*time.Minute),
//		memory.WithLogger(logger),
//	)
//	defer mem.Close()
//
//	mem.AppendExchange(ctx, "u1", "s1", "What is a goroutine?", "A lightweight thread.")
//	lines := mem.Formatted(ctx, "u1", "s1")
//
// # Concurrency
//
// All methods are safe for concurrent use. Calls on the same session are
// serialized in the order they acquire the session's lock, and a delete
// racing an append resolves the same way: whichever runs last wins in both
// tiers. Concurrent cache misses on one session share a single store read.
package memory
