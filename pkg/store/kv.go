package store

import (
	"context"
	"errors"
)

// ErrKVClosed is returned by a KV whose connection has been closed.
var ErrKVClosed = errors.New("kv store closed")

// ScoredMember is one sorted-set entry.
type ScoredMember struct {
	Member string
	Score  float64
}

// KV is the subset of key-value primitives the reader stores are built on.
// Each call is atomic on its own; nothing spans calls. Implementations must
// be safe for concurrent use.
type KV interface {
	// HGet returns the value of field in hash key; ok is false when absent.
	HGet(ctx context.Context, key, field string) (value string, ok bool, err error)
	// HSet writes field; created reports whether the field was new.
	HSet(ctx context.Context, key, field, value string) (created bool, err error)
	// HSetNX writes field only if absent; set reports whether it wrote.
	HSetNX(ctx context.Context, key, field, value string) (set bool, err error)
	HExists(ctx context.Context, key, field string) (bool, error)
	HVals(ctx context.Context, key string) ([]string, error)

	// ZAdd upserts member with score; added is false when only the score changed.
	ZAdd(ctx context.Context, key, member string, score float64) (added bool, err error)
	ZRem(ctx context.Context, key, member string) (removed bool, err error)
	// ZRangeAll returns every member ascending by score, ties by member.
	ZRangeAll(ctx context.Context, key string) ([]ScoredMember, error)

	// Del removes key; deleted is false when it did not exist.
	Del(ctx context.Context, key string) (deleted bool, err error)

	Ping(ctx context.Context) error
	Close() error
}
