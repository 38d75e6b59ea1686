package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/smallnest/chatmemory/store"
)

// RedisHistoryStore implements store.HistoryStore using Redis.
// Each session is a list of JSON entries; a per-user set indexes session IDs.
type RedisHistoryStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

var _ store.HistoryStore = (*RedisHistoryStore)(nil)

// RedisOptions configuration for Redis connection
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	Prefix   string        // Key prefix, default "chatmemory:"
	TTL      time.Duration // Expiration for stored histories, default 0 (no expiration)
}

// NewRedisHistoryStore creates a new Redis history store
func NewRedisHistoryStore(opts RedisOptions) *RedisHistoryStore {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	return NewHistoryStoreFromClient(client, opts.Prefix, opts.TTL)
}

// NewHistoryStoreFromClient creates a history store on an existing client, cluster or failover client
func NewHistoryStoreFromClient(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisHistoryStore {
	if prefix == "" {
		prefix = "chatmemory:"
	}
	return &RedisHistoryStore{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *RedisHistoryStore) historyKey(key store.Key) string {
	return fmt.Sprintf("%shistory:{%s}:%s", s.prefix, key.UserID, key.SessionID)
}

func (s *RedisHistoryStore) userKey(userID string) string {
	return fmt.Sprintf("%suser:{%s}:sessions", s.prefix, userID)
}

// AppendHistory pushes entries onto the session list and indexes the session under its user
func (s *RedisHistoryStore) AppendHistory(ctx context.Context, key store.Key, entries []store.Entry) error {
	if len(entries) == 0 {
		return nil
	}

	values := make([]any, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("failed to marshal entry: %w", err)
		}
		values = append(values, data)
	}

	historyKey := s.historyKey(key)
	userKey := s.userKey(key.UserID)

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, historyKey, values...)
	pipe.SAdd(ctx, userKey, key.SessionID)
	if s.ttl > 0 {
		pipe.Expire(ctx, historyKey, s.ttl)
		pipe.Expire(ctx, userKey, s.ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return store.Unavailable("append", fmt.Errorf("failed to append history to redis: %w", err))
	}
	return nil
}

// History returns the session list in insertion order
func (s *RedisHistoryStore) History(ctx context.Context, key store.Key) ([]store.Entry, bool, error) {
	raw, err := s.client.LRange(ctx, s.historyKey(key), 0, -1).Result()
	if err != nil {
		return nil, false, store.Unavailable("read", fmt.Errorf("failed to load history from redis: %w", err))
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	entries, err := decodeEntries(raw)
	if err != nil {
		return nil, false, err
	}
	return entries, true, nil
}

// UserHistories loads every indexed session of a user in one pipeline
func (s *RedisHistoryStore) UserHistories(ctx context.Context, userID string) (map[string][]store.Entry, error) {
	sessionIDs, err := s.client.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to list sessions for user %s: %w", userID, err))
	}

	result := make(map[string][]store.Entry, len(sessionIDs))
	if len(sessionIDs) == 0 {
		return result, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.StringSliceCmd, len(sessionIDs))
	for i, sessionID := range sessionIDs {
		cmds[i] = pipe.LRange(ctx, s.historyKey(store.NewKey(userID, sessionID)), 0, -1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, store.Unavailable("read_by_user", fmt.Errorf("failed to fetch histories: %w", err))
	}

	for i, cmd := range cmds {
		raw := cmd.Val()
		// The list may have expired while the index survived
		if len(raw) == 0 {
			continue
		}
		entries, err := decodeEntries(raw)
		if err != nil {
			return nil, err
		}
		result[sessionIDs[i]] = entries
	}

	return result, nil
}

// DeleteHistory removes the session list and its index membership
func (s *RedisHistoryStore) DeleteHistory(ctx context.Context, key store.Key) (bool, error) {
	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.historyKey(key))
	pipe.SRem(ctx, s.userKey(key.UserID), key.SessionID)

	if _, err := pipe.Exec(ctx); err != nil {
		return false, store.Unavailable("delete", fmt.Errorf("failed to delete history: %w", err))
	}
	return del.Val() > 0, nil
}

// Close closes the underlying client
func (s *RedisHistoryStore) Close() error {
	return s.client.Close()
}

func decodeEntries(raw []string) ([]store.Entry, error) {
	entries := make([]store.Entry, 0, len(raw))
	for _, item := range raw {
		var e store.Entry
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, fmt.Errorf("failed to unmarshal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, nil
}
