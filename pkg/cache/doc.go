// Package cache implements the two-tier decision cache: a bounded in-process
// tier with oldest-write eviction, optionally backed by a distributed tier
// reached through a small get/set-with-TTL contract. The distributed tier is
// an optimization, never a source of truth; when it is unreachable the cache
// degrades to tier-1-only operation without surfacing errors to callers.
package cache
