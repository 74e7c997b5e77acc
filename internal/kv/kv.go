// Package kv abstracts the shared key-value store the replicas coordinate
// through: atomic primitives, collections, pub/sub and leased locks.
package kv

import (
	"context"
	"time"
)

// Message is one pub/sub delivery.
type Message struct {
	Channel string
	Payload []byte
}

// Store is the shared-store surface used by every component. All
// collection mutations are atomic on the backing store.
type Store interface {
	// Strings.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Get(ctx context.Context, key string) (string, bool, error)
	Delete(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Incr(ctx context.Context, key string) (int64, error)
	Decr(ctx context.Context, key string) (int64, error)

	// CompareAndDelete removes key only while it still holds expect.
	CompareAndDelete(ctx context.Context, key, expect string) (bool, error)
	// CompareAndSwap replaces key's value and TTL only while it holds old.
	CompareAndSwap(ctx context.Context, key, old, new string, ttl time.Duration) (bool, error)

	// Sets.
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SCard(ctx context.Context, key string) (int64, error)

	// Sorted sets.
	ZAdd(ctx context.Context, key string, score float64, member string) error
	ZRem(ctx context.Context, key string, members ...string) error
	ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error)

	// Hashes.
	HSet(ctx context.Context, key string, fields map[string]string) error
	HGet(ctx context.Context, key, field string) (string, bool, error)
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Keys enumerates keys matching a glob pattern. Janitor use only.
	Keys(ctx context.Context, pattern string) ([]string, error)

	// Pub/sub. Subscribe delivers until ctx is cancelled.
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, patterns ...string) (<-chan Message, error)

	Close() error
}
