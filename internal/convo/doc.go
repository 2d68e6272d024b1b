// Package convo computes bounded conversation contexts with cache-aside
// reads.
//
// # Context Window
//
// A context is what the AI layer receives when a call starts: the lead's
// identity, the most recent N messages and the most recent M summaries.
// The window is bounded regardless of history length, and computation runs
// under a short deadline so webhook responses stay inside the voice
// provider's latency budget.
//
// # Cache Semantics
//
// The Cache interface fronts context computation. Every cache error is
// treated as a miss: a broken or disabled cache degrades the system to
// direct computation, never to failure. Concurrent misses may compute in
// parallel and both write; last-write-wins is acceptable because any
// freshly computed context is valid.
//
// Writers that change what a context would contain (new messages, ended
// sessions) call Invalidate. Reads between the write and the invalidation
// may see a briefly stale context; the TTL bounds how stale.
//
// # Backends
//
//   - Memory: in-process TTL + LRU map, the default.
//   - Noop: stores nothing, used when caching is disabled in config.
//
// Memory also exposes CheckAndMark for webhook event-id deduplication.
package convo
