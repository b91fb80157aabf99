// Package storage is the durable key-value boundary used for session
// metadata and the event log. Values are JSON; semantics are
// last-write-wins with no transactions.
package storage

import (
	"context"
	"encoding/json"
)

// Store is an async mapping from string keys to JSON-serializable values.
// Get omits absent keys from the result rather than failing.
type Store interface {
	Get(ctx context.Context, keys ...string) (map[string]json.RawMessage, error)
	Set(ctx context.Context, values map[string]any) error
	Remove(ctx context.Context, keys ...string) error
	Close() error
}

// String reads a single string value. ok is false when the key is absent
// or holds a non-string value.
func String(ctx context.Context, s Store, key string) (string, bool, error) {
	got, err := s.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	raw, present := got[key]
	if !present {
		return "", false, nil
	}
	var v string
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", false, nil
	}
	return v, true, nil
}

// Int reads a single integer value.
func Int(ctx context.Context, s Store, key string) (int, bool, error) {
	got, err := s.Get(ctx, key)
	if err != nil {
		return 0, false, err
	}
	raw, present := got[key]
	if !present {
		return 0, false, nil
	}
	var v int
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false, nil
	}
	return v, true, nil
}
