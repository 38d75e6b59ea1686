// Package chatmemory is per-session conversation memory for a question
// answering service.
//
// The memory has two tiers. A sharded in-process cache holds the working
// copy of recently used sessions and drops sessions that stay idle longer
// than a TTL. A persistent HistoryStore keeps every session durably. The
// memory.SessionMemory facade composes them: reads go through the cache,
// writes go to both, and a store outage degrades to cache-only operation
// instead of failing the request.
//
// # Packages
//
//   - store: the HistoryStore contract and the Entry, Role and Key types
//   - store/memory, store/file, store/redis, store/postgres, store/sqlite,
//     store/mongo: HistoryStore backends
//   - store/storeutil: per-call timeouts for any backend
//   - cache: the volatile tier, its Reaper and the optional background Sweeper
//   - memory: the SessionMemory facade, key locking and metrics
//   - chat: prompt assembly, completers over go-openai and langchaingo, and
//     the HTTP handler
//   - config: viper-based configuration and backend selection
//   - log: the leveled Logger interface with standard and golog backends
//
// # Quick Start
//
//	backing := memstore.NewMemoryHistoryStore()
//	mem := memory.New(backing, memory.WithTTL(15*time.Minute))
//
//	mem.AppendExchange(ctx, "u1", "s1", "What is Go?", "A programming language.")
//
//	for _, line := range mem.Formatted(ctx, "u1", "s1") {
//		fmt.Println(line)
//	}
//	// User: What is Go?
//	// Bot: A programming language.
//
// # Binaries
//
// cmd/chatmemory serves the chat and history endpoints over HTTP.
// cmd/chatmemctl shows and deletes persisted history and checks that the
// configured store is reachable.
package chatmemory
