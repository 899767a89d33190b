// Package remote defines the synchronized key-value store that challenge
// sessions and game history live in. Values are JSON documents addressed by
// slash-separated paths; backends provide eventual-consistency reads plus a
// change-subscription primitive.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrNotFound is returned by Get when no value exists at the path.
var ErrNotFound = errors.New("remote: value not found")

// Store is the narrow capability set both clients use to communicate. There
// is no peer connection; the store is the only shared channel.
type Store interface {
	// Set marshals value as JSON and writes it at path, overwriting any
	// previous value.
	Set(ctx context.Context, path string, value any) error

	// Get performs a single point-in-time read of path into out.
	// Returns ErrNotFound when the path is empty.
	Get(ctx context.Context, path string, out any) error

	// Delete removes the value at path. Deleting an absent path is not an
	// error.
	Delete(ctx context.Context, path string) error

	// List reads the immediate children of path, keyed by child name.
	List(ctx context.Context, path string) (map[string]json.RawMessage, error)

	// Watch subscribes to value changes at exactly path. The current
	// value, if any, is delivered first, then every subsequent change;
	// duplicate deliveries are possible. ctx covers only the subscription
	// setup: the subscription stays attached until Close, never bound to
	// the caller's context.
	Watch(ctx context.Context, path string) (Subscription, error)

	// ServerTime returns the store's authoritative clock reading, used for
	// server-assigned timestamps on score uploads.
	ServerTime(ctx context.Context) (time.Time, error)

	// NewChildKey generates a unique child key for append-style writes.
	NewChildKey() string
}

// Subscription is a cancellable handle on a watched path. Close detaches the
// underlying listener; callers must close every subscription they open so
// handlers do not leak across repeated challenge attempts.
type Subscription interface {
	// Changes yields the raw JSON value after each change. The channel is
	// closed when the subscription is closed or the backend drops it.
	Changes() <-chan json.RawMessage

	// Close detaches the subscription. Safe to call more than once.
	Close() error
}
