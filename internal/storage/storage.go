// Package storage is the engine's best-effort key-value layer.
//
// Values are plain strings (the engine always stores JSON). Large values
// are transparently split into chunks; every logical key is mirrored across
// two backends and reads pick the newer copy by stored timestamp.
package storage

import (
	"context"
	"errors"
)

// ErrCorrupted is returned when a chunked value can not be reassembled or
// a stored document fails validation.
var ErrCorrupted = errors.New("storage: value corrupted")

// Backend is one physical key-value store.
type Backend interface {
	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// Closer is implemented by backends holding external resources.
type Closer interface {
	Close() error
}
