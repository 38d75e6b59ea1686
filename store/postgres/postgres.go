package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/smallnest/chatmemory/store"
)

// DBPool defines the interface for database connection pool
type DBPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresHistoryStore implements store.HistoryStore using PostgreSQL.
// Each session is one row whose history column is a JSONB array.
type PostgresHistoryStore struct {
	pool      DBPool
	tableName string
}

var _ store.HistoryStore = (*PostgresHistoryStore)(nil)

// PostgresOptions configuration for Postgres connection
type PostgresOptions struct {
	ConnString string
	TableName  string // Default "chat_history"
}

// NewPostgresHistoryStore creates a new Postgres history store
func NewPostgresHistoryStore(ctx context.Context, opts PostgresOptions) (*PostgresHistoryStore, error) {
	pool, err := pgxpool.New(ctx, opts.ConnString)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}
	return NewPostgresHistoryStoreWithPool(pool, opts.TableName), nil
}

// NewPostgresHistoryStoreWithPool creates a new Postgres history store with an existing pool
// Useful for testing with mocks
func NewPostgresHistoryStoreWithPool(pool DBPool, tableName string) *PostgresHistoryStore {
	if tableName == "" {
		tableName = "chat_history"
	}
	return &PostgresHistoryStore{
		pool:      pool,
		tableName: tableName,
	}
}

// InitSchema creates the necessary table if it doesn't exist
func (s *PostgresHistoryStore) InitSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			user_id TEXT NOT NULL,
			session_id TEXT NOT NULL,
			history JSONB NOT NULL DEFAULT '[]'::jsonb,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (user_id, session_id)
		);
	`, s.tableName)

	_, err := s.pool.Exec(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the connection pool
func (s *PostgresHistoryStore) Close() error {
	s.pool.Close()
	return nil
}

// AppendHistory concatenates entries onto the stored JSONB array, inserting the row if absent
func (s *PostgresHistoryStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	historyJSON, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal history: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s AS t (user_id, session_id, history, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id, session_id) DO UPDATE SET
			history = t.history || EXCLUDED.history,
			updated_at = EXCLUDED.updated_at`, s.tableName)

	if _, err := s.pool.Exec(ctx, query, key.UserID, key.SessionID, historyJSON); err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to append history: %w", err))
	}
	return nil
}

// History retrieves the history of one session
func (s *PostgresHistoryStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	query := fmt.Sprintf(`SELECT history FROM %s WHERE user_id = $1 AND session_id = $2`, s.tableName)

	var historyJSON []byte
	err := s.pool.QueryRow(ctx, query, key.UserID, key.SessionID).Scan(&historyJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, store.Unavailable("read", fmt.Errorf("failed to load history: %w", err))
	}

	var entries []store.Entry
	if err := json.Unmarshal(historyJSON, &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal history: %w", err)
	}
	return entries, true, nil
}

// UserHistories returns every session stored for a user
func (s *PostgresHistoryStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	query := fmt.Sprintf(`SELECT session_id, history FROM %s WHERE user_id = $1 ORDER BY session_id`, s.tableName)

	rows, err := s.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to list histories: %w", err))
	}
	defer rows.Close()

	result := make(map[string][]store.Entry)
	for rows.Next() {
		var sessionID string
		var historyJSON []byte
		if err := rows.Scan(&sessionID, &historyJSON); err != nil {
			return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to scan history row: %w", err))
		}

		var entries []store.Entry
		if err := json.Unmarshal(historyJSON, &entries); err != nil {
			return nil, fmt.Errorf("failed to unmarshal history: %w", err)
		}
		result[sessionID] = entries
	}

	if err := rows.Err(); err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("error iterating history rows: %w", err))
	}

	return result, nil
}

// DeleteHistory removes the row of one session
func (s *PostgresHistoryStore) DeleteHistory(ctx context.Context, key store.Key) (bool, error) {
	query := fmt.Sprintf("DELETE FROM %s WHERE user_id = $1 AND session_id = $2", s.tableName)
	tag, err := s.pool.Exec(ctx, query, key.UserID, key.SessionID)
	if err != nil {
		return false, store.Unavailable("delete", fmt.Errorf("failed to delete history: %w", err))
	}
	return tag.RowsAffected() > 0, nil
}
