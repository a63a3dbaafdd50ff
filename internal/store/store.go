// Package store defines the minimal shared state store boundary used by every
// governance and risk component. The interface mirrors what the platform's
// shared Redis offers — atomic numeric increments, capped lists, sets, and
// pub/sub fan-out — and deliberately nothing more. Components never talk to a
// concrete driver; cmd/server constructs the adapter and injects it.
package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when a key does not exist.
var ErrNotFound = errors.New("store: key not found")

// ErrUnavailable indicates the backing store could not be reached. Callers
// that hold a last-known value may degrade reads; writes must surface it.
var ErrUnavailable = errors.New("store: backend unavailable")

// Store is the shared state store contract. All mutation primitives are
// atomic relative to the stored value — IncrByFloat in particular is the
// read-modify-write boundary that serializes concurrent score deltas.
type Store interface {
	// Get returns the string value at key, or ErrNotFound.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a string value. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores a string value only when the key does not exist yet and
	// reports whether it was stored. This is the atomic seed primitive:
	// losing the race never overwrites a value a concurrent writer landed.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// IncrByFloat atomically adds delta to the numeric value at key
	// (creating it at 0 if absent) and returns the new value.
	IncrByFloat(ctx context.Context, key string, delta float64) (float64, error)

	// LPush prepends values to the list at key.
	LPush(ctx context.Context, key string, values ...string) error

	// LTrim keeps only the elements in [start, stop].
	LTrim(ctx context.Context, key string, start, stop int64) error

	// LRange returns the elements in [start, stop].
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)

	// SAdd adds members to the set at key.
	SAdd(ctx context.Context, key string, members ...string) error

	// SRem removes members from the set at key.
	SRem(ctx context.Context, key string, members ...string) error

	// SIsMember reports whether member is in the set at key.
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// SMembers returns all members of the set at key.
	SMembers(ctx context.Context, key string) ([]string, error)

	// Publish sends a message on a named channel.
	Publish(ctx context.Context, channel string, message []byte) error

	// Subscribe registers a handler for messages on a channel and returns
	// an unsubscribe function.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
}
