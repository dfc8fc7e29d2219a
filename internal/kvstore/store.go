// Package kvstore is the coordinator's local durable state: offline queue
// items, audit entries and the cached health status, each kept as a small
// blob under a stable key. Every implementation replaces a record atomically
// on Put and makes it durable before Put returns.
package kvstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"enrollgate/pkg/platform/sentinel"
)

// Store is a flat key-value keyspace. Get returns sentinel.ErrNotFound for a
// missing key; Delete of a missing key is not an error. List returns entries
// whose key starts with prefix, ordered by key.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	List(ctx context.Context, prefix string) ([]Entry, error)
	Close() error
}

// Entry is one key and its value.
type Entry struct {
	Key   string
	Value []byte
}

// GetJSON loads key and decodes it into out.
func GetJSON(ctx context.Context, s Store, key string, out any) error {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s: %w", key, errors.Join(sentinel.ErrCorrupt, err))
	}
	return nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(ctx context.Context, s Store, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Put(ctx, key, raw)
}

// DecodeEntry decodes a listed entry into out.
func DecodeEntry(e Entry, out any) error {
	if err := json.Unmarshal(e.Value, out); err != nil {
		return fmt.Errorf("decode %s: %w", e.Key, errors.Join(sentinel.ErrCorrupt, err))
	}
	return nil
}
