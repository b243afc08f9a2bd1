package storage

import (
	"context"
	"errors"
)

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("storage closed")

// ErrInvalidKey is returned when a key is empty.
var ErrInvalidKey = errors.New("invalid storage key")

// Storage is a durable string key/value store.
//
// Get reports whether the key exists. Remove deletes every listed key as one
// operation from the caller's point of view; missing keys are not an error.
// Implementations must be safe for concurrent use.
type Storage interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Remove(ctx context.Context, keys ...string) error
}

// Watcher is implemented by backends that can report changes made outside
// this process. onChange is invoked after the backend has reloaded its view.
// Watch blocks until ctx is done or the watch fails.
type Watcher interface {
	Watch(ctx context.Context, onChange func()) error
}

func validateKeys(keys ...string) error {
	for _, k := range keys {
		if k == "" {
			return ErrInvalidKey
		}
	}
	return nil
}
