// Package redis provides a Redis-backed history store.
//
// # Layout
//
// Each session is a Redis list of JSON-encoded entries, and each user has a
// set indexing their session IDs:
//
//	<prefix>history:{<user_id>}:<session_id>   LIST of {"role":..,"message":..}
//	<prefix>user:{<user_id>}:sessions          SET of session IDs
//
// Both keys share the {user_id} hash tag so they land in the same slot on a
// Redis Cluster. Appends and deletes run in a MULTI/EXEC pipeline, so the
// entries of one append are never interleaved with another writer's.
//
// # Usage
//
//	s := redis.NewRedisHistoryStore(redis.RedisOptions{
//		Addr:   "localhost:6379",
//		Prefix: "chatmemory:",
//	})
//	defer s.Close()
//
// An existing client can be shared:
//
//	rdb := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.NewHistoryStoreFromClient(rdb, "chatmemory:", 0)
//
// # Expiration
//
// RedisOptions.TTL, when positive, is applied to both keys on every append.
// It is independent of the in-process cache TTL: a session evicted from the
// cache can still be read back from Redis until this TTL expires.
package redis
