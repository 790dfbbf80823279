package rpc

import (
	"context"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/R3E-Network/testbed-kernel/internal/ids"
)

// Deduper answers whether an inbound (message_id, from) pair has already
// been seen, so duplicate deliveries are dropped without a state change
// (§4.7, §8).
type Deduper interface {
	// SeenBefore records (messageID, from) together with fingerprint if
	// this is the first time the pair is seen. dup reports whether the
	// pair was already present; mismatch reports whether a previously
	// seen pair is now arriving with a different fingerprint, i.e. the
	// same message_id reused for a different payload.
	SeenBefore(ctx context.Context, messageID ids.Identifier, from, fingerprint string) (dup bool, mismatch bool, err error)
}

// MemoryDeduper is an in-process Deduper for single-actor tests and for
// actors that don't share a Redis instance with any peer.
type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]string
}

// NewMemoryDeduper builds an empty in-memory deduper.
func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]string)}
}

func (m *MemoryDeduper) SeenBefore(ctx context.Context, messageID ids.Identifier, from, fingerprint string) (bool, bool, error) {
	key := dedupKey(messageID, from)
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.seen[key]; ok {
		return true, prev != fingerprint, nil
	}
	m.seen[key] = fingerprint
	return false, false, nil
}

// RedisDeduper backs the (message_id, from) filter with Redis so the
// dedup window survives a process restart across every actor sharing one
// instance (§2 of the expanded spec: the teacher's Redis-backed caches,
// grounded on infrastructure/cache).
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedisDeduper wraps an existing *redis.Client. ttl bounds how long a
// (message_id, from) pair is remembered; it should comfortably exceed the
// longest RPC timeout in use.
func NewRedisDeduper(client *redis.Client, ttl time.Duration) *RedisDeduper {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisDeduper{client: client, ttl: ttl, prefix: "rpc:dedup:"}
}

func (r *RedisDeduper) SeenBefore(ctx context.Context, messageID ids.Identifier, from, fingerprint string) (bool, bool, error) {
	key := r.prefix + dedupKey(messageID, from)
	// SetNX returns true when the key was newly set, i.e. this is the
	// first time we've seen the pair.
	ok, err := r.client.SetNX(ctx, key, fingerprint, r.ttl).Result()
	if err != nil {
		return false, false, err
	}
	if ok {
		return false, false, nil
	}
	prev, err := r.client.Get(ctx, key).Result()
	if err != nil {
		return true, false, err
	}
	return true, prev != fingerprint, nil
}

func dedupKey(messageID ids.Identifier, from string) string {
	return messageID.String() + "|" + from
}
