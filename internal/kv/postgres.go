package kv

import (
	"context"
	"time"

	"horse.fit/curate/internal/globaltime"
)

// Entries is the subset of db.Pool the Postgres backend needs.
type Entries interface {
	KVGet(ctx context.Context, key string, now time.Time) ([]byte, bool, error)
	KVSet(ctx context.Context, key string, value []byte, expiresAt *time.Time, now time.Time) error
	KVSetIfAbsent(ctx context.Context, key string, value []byte, expiresAt *time.Time, now time.Time) (bool, error)
	KVDelete(ctx context.Context, key string) error
}

// PostgresStore keeps entries in news.kv_entries.
type PostgresStore struct {
	entries Entries
}

func NewPostgresStore(entries Entries) *PostgresStore {
	return &PostgresStore{entries: entries}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return s.entries.KVGet(ctx, key, globaltime.UTC())
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	now := globaltime.UTC()
	return s.entries.KVSet(ctx, key, value, expiry(now, ttl), now)
}

func (s *PostgresStore) SetIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	now := globaltime.UTC()
	return s.entries.KVSetIfAbsent(ctx, key, value, expiry(now, ttl), now)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	return s.entries.KVDelete(ctx, key)
}

func expiry(now time.Time, ttl time.Duration) *time.Time {
	if ttl <= 0 {
		return nil
	}
	at := now.Add(ttl)
	return &at
}
