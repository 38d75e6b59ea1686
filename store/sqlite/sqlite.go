package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
	"github.com/smallnest/chatmemory/store"
)

// SqliteHistoryStore implements store.HistoryStore using SQLite.
// Every entry is one row; insertion order is the autoincrement id.
type SqliteHistoryStore struct {
	db        *sql.DB
	tableName string
}

var _ store.HistoryStore = (*SqliteHistoryStore)(nil)

// SqliteOptions configuration for SQLite connection
type SqliteOptions struct {
	Path      string
	TableName string // Default "chat_history"
}

// NewSqliteHistoryStore creates a new SQLite history store
func NewSqliteHistoryStore(opts SqliteOptions) (*SqliteHistoryStore, error) {
	db, err := sql.Open("sqlite3", opts.Path)
	if err != nil {
		return nil, fmt.Errorf("unable to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	tableName := opts.TableName
	if tableName == "" {
		tableName = "chat_history"
	}

	s := &SqliteHistoryStore{
		db:        db,
		tableName: tableName,
	}

	if err := s.InitSchema(context.Background()); err != nil {
		db.Close()
		return nil, err
	}

	return s, nil
}

// InitSchema creates the necessary table if it doesn't exist
func (s *SqliteHistoryStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			role TEXT NOT NULL,
			message TEXT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_%s_user_session ON %s (user_id, session_id);
	`, s.tableName, s.tableName, s.tableName)

	_, err := s.db.ExecContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *SqliteHistoryStore) Close() error {
	return s.db.Close()
}

// AppendHistory inserts entries in one transaction so a batch is never half visible
func (s *SqliteHistoryStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to begin transaction: %w", err))
	}
	defer tx.Rollback()

	query := fmt.Sprintf(`INSERT INTO %s (user_id, session_id, role, message) VALUES (?, ?, ?, ?)`, s.tableName)
	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to prepare insert: %w", err))
	}
	defer stmt.Close()

	for _, e := range entries {
		if _, err := stmt.ExecContext(ctx, key.UserID, key.SessionID, string(e.Role), e.Message); err != nil {
			return store.Unavailable("append", fmt.Errorf("failed to append history: %w", err))
		}
	}

	if err := tx.Commit(); err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to commit history: %w", err))
	}
	return nil
}

// History retrieves the history of one session in insertion order
func (s *SqliteHistoryStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	query := fmt.Sprintf(`SELECT role, message FROM %s WHERE user_id = ? AND session_id = ? ORDER BY id`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, key.UserID, key.SessionID)
	if err != nil {
		return nil, false, store.Unavailable("read", fmt.Errorf("failed to load history: %w", err))
	}
	defer rows.Close()

	var entries []store.Entry
	for rows.Next() {
		var role, message string
		if err := rows.Scan(&role, &message); err != nil {
			return nil, false, store.Unavailable("read", fmt.Errorf("failed to scan history row: %w", err))
		}
		entries = append(entries, store.Entry{Role: store.Role(role), Message: message})
	}
	if err := rows.Err(); err != nil {
		return nil, false, store.Unavailable("read", fmt.Errorf("error iterating history rows: %w", err))
	}

	if len(entries) == 0 {
		return nil, false, nil
	}
	return entries, true, nil
}

// UserHistories returns every session stored for a user
func (s *SqliteHistoryStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	query := fmt.Sprintf(`SELECT session_id, role, message FROM %s WHERE user_id = ? ORDER BY id`, s.tableName)

	rows, err := s.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to list histories: %w", err))
	}
	defer rows.Close()

	result := make(map[string][]store.Entry)
	for rows.Next() {
		var sessionID, role, message string
		if err := rows.Scan(&sessionID, &role, &message); err != nil {
			return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to scan history row: %w", err))
		}
		result[sessionID] = append(result[sessionID], store.Entry{Role: store.Role(role), Message: message})
	}
	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("error iterating history rows: %w", err))
	}

	return result, nil
}

// DeleteHistory removes every row of one session
func (s *SqliteHistoryStore) DeleteHistory(ctx context.Context, key store.Key) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = ? AND session_id = ?", s.tableName)
	res, err := s.db.ExecContext(ctx, query, key.UserID, key.SessionID)
	if err != nil {
		return false, store.Unavailable("delete", fmt.Errorf("failed to delete history: %w", err))
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, store.Unavailable("delete", fmt.Errorf("failed to read affected rows: %w", err))
	}
	return n > 0, nil
}
