// Package sqlite provides a SQLite-backed history store.
//
// Unlike the document backends, every entry is its own row and history order
// is the AUTOINCREMENT id. The entries of one append are inserted in a single
// transaction, and the store keeps one open connection so that writers queue
// instead of failing with SQLITE_BUSY.
//
// # Usage
//
//	s, err := sqlite.NewSqliteHistoryStore(sqlite.SqliteOptions{
//		Path: "./data/chatmemory.db",
//	})
//	if err != nil {
//		return err
//	}
//	defer s.Close()
//
// ":memory:" works for tests. The table is created on open.
package sqlite
