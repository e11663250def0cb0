// Package kv is the shared key-value store for state that must outlive a single process:
// ingest throttling and cached lookups. Entries carry a TTL and live in Postgres or Redis.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"horse.fit/curate/internal/globaltime"
)

// ErrThrottled is returned by Gate.Allow when the key was used within the interval.
var ErrThrottled = errors.New("throttled")

// Store is implemented by the Postgres and Redis backends. A zero ttl stores without expiry.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// SetIfAbsent claims key atomically; false means a live entry already held it.
	SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// Gate admits at most one call per key per interval across every process sharing the store.
type Gate struct {
	store    Store
	prefix   string
	interval time.Duration
}

func NewGate(store Store, prefix string, interval time.Duration) *Gate {
	return &Gate{
		store:    store,
		prefix:   strings.TrimSuffix(strings.TrimSpace(prefix), ":"),
		interval: interval,
	}
}

// Allow returns nil and opens a new interval, or ErrThrottled when the previous one is still
// running. A non-positive interval disables the gate.
func (g *Gate) Allow(ctx context.Context, key string) error {
	if g == nil || g.store == nil || g.interval <= 0 {
		return nil
	}
	stamp, err := json.Marshal(globaltime.UTC())
	if err != nil {
		return fmt.Errorf("encode gate stamp: %w", err)
	}
	claimed, err := g.store.SetIfAbsent(ctx, g.key(key), stamp, g.interval)
	if err != nil {
		return fmt.Errorf("claim gate %q: %w", key, err)
	}
	if !claimed {
		return ErrThrottled
	}
	return nil
}

// Reset reopens the gate for key, e.g. after the guarded work failed before doing anything.
func (g *Gate) Reset(ctx context.Context, key string) error {
	if g == nil || g.store == nil {
		return nil
	}
	return g.store.Delete(ctx, g.key(key))
}

func (g *Gate) key(key string) string {
	if g.prefix == "" {
		return key
	}
	return g.prefix + ":" + key
}

// GetJSON decodes a cached value into dest and reports whether it was present.
func GetJSON(ctx context.Context, store Store, key string, dest any) (bool, error) {
	raw, ok, err := store.Get(ctx, key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode cached %q: %w", key, err)
	}
	return true, nil
}

func SetJSON(ctx context.Context, store Store, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode cached %q: %w", key, err)
	}
	return store.Set(ctx, key, raw, ttl)
}
