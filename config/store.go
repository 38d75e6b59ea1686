package config

import (
	"context"
	"fmt"
	"time"

	"github.com/smallnest/chatmemory/store"
	"github.com/smallnest/chatmemory/store/file"
	"github.com/smallnest/chatmemory/store/memory"
	"github.com/smallnest/chatmemory/store/mongo"
	"github.com/smallnest/chatmemory/store/postgres"
	"github.com/smallnest/chatmemory/store/redis"
	"github.com/smallnest/chatmemory/store/sqlite"
	"github.com/smallnest/chatmemory/store/storeutil"
)

// OpenStore connects the configured backend, creating its schema where the
// backend has one. The result is bounded by timeout when it is positive.
func (c StoreConfig) OpenStore(ctx context.Context, timeout time.Duration) (store.HistoryStore, error) {
	s, err := c.open(ctx)
	if err != nil {
		return nil, err
	}
	return storeutil.WithTimeout(s, timeout), nil
}

func (c StoreConfig) open(ctx context.Context) (store.HistoryStore, error) {
	switch c.Backend {
	case "memory":
		return memory.NewMemoryHistoryStore(), nil

	case "file":
		return file.NewFileHistoryStore(c.File.Dir)

	case "redis":
		return redis.NewRedisHistoryStore(redis.RedisOptions{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
			Prefix:   c.Redis.Prefix,
			TTL:      c.Redis.TTL,
		}), nil

	case "postgres":
		s, err := postgres.NewPostgresHistoryStore(ctx, postgres.PostgresOptions{
			ConnString: c.Postgres.DSN,
			TableName:  c.Postgres.Table,
		})
		if err != nil {
			return nil, err
		}
		if err := s.InitSchema(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	case "sqlite":
		return sqlite.NewSqliteHistoryStore(sqlite.SqliteOptions{
			Path:      c.Sqlite.Path,
			TableName: c.Sqlite.Table,
		})

	case "mongo":
		s, err := mongo.NewMongoHistoryStore(ctx, mongo.MongoOptions{
			URI:        c.Mongo.URI,
			Database:   c.Mongo.Database,
			Collection: c.Mongo.Collection,
		})
		if err != nil {
			return nil, err
		}
		if err := s.EnsureIndexes(ctx); err != nil {
			s.Close()
			return nil, err
		}
		return s, nil

	default:
		return nil, fmt.Errorf("unknown store backend %q", c.Backend)
	}
}
