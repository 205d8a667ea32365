// Package store persists the enrollment state. Backends expose a byte-level
// key/value contract; GetJSON and PutJSON layer JSON encoding on top so that
// a missing key and an undecodable value stay distinguishable.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"nimbus/pkg/platform/sentinel"
)

// PersistedKey holds the whole serialized enrollment state.
const PersistedKey = "persisted"

// Store is a durable key/value store.
//
// Get returns an error wrapping sentinel.ErrNotFound when key was never
// written. Put replaces the value atomically: it either commits fully or
// leaves the previous value intact.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// GetJSON loads and decodes key. found is false when the key was never
// written; a value that does not decode yields a corrupt-record PersistError.
func GetJSON[T any](ctx context.Context, s Store, key string) (value T, found bool, err error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return value, false, nil
		}
		return value, false, err
	}
	if err := json.Unmarshal(raw, &value); err != nil {
		return value, false, newPersistError(ErrorCorruptRecord, key, "decode stored value", err)
	}
	return value, true, nil
}

// PutJSON encodes value and stores it under key.
func PutJSON[T any](ctx context.Context, s Store, key string, value T) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return newPersistError(ErrorWriteFailed, key, "encode value", err)
	}
	return s.Put(ctx, key, raw)
}

func notFound(key string) error {
	return fmt.Errorf("key %q: %w", key, sentinel.ErrNotFound)
}
