package db

import (
	"context"
	"fmt"
	"time"
)

// KVGet returns the live value for key. Expired entries read as missing.
func (p *Pool) KVGet(ctx context.Context, key string, now time.Time) ([]byte, bool, error) {
	const q = `
SELECT value::text
FROM news.kv_entries
WHERE key = $1
  AND (expires_at IS NULL OR expires_at > $2)
`

	var value string
	if err := p.QueryRow(ctx, q, key, now.UTC()).Scan(&value); err != nil {
		if IsNoRows(err) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("read kv entry %q: %w", key, err)
	}
	return []byte(value), true, nil
}

func (p *Pool) KVSet(ctx context.Context, key string, value []byte, expiresAt *time.Time, now time.Time) error {
	const q = `
INSERT INTO news.kv_entries (key, value, expires_at, updated_at)
VALUES ($1, $2::jsonb, $3, $4)
ON CONFLICT (key) DO UPDATE
SET
	value = EXCLUDED.value,
	expires_at = EXCLUDED.expires_at,
	updated_at = EXCLUDED.updated_at
`
	if _, err := p.Exec(ctx, q, key, string(value), nullableTime(expiresAt), now.UTC()); err != nil {
		return fmt.Errorf("write kv entry %q: %w", key, err)
	}
	return nil
}

// KVSetIfAbsent claims key unless a live entry already holds it. The read-modify-write is a
// single upsert, so two callers racing on the same key cannot both win.
func (p *Pool) KVSetIfAbsent(ctx context.Context, key string, value []byte, expiresAt *time.Time, now time.Time) (bool, error) {
	const q = `
INSERT INTO news.kv_entries AS e (key, value, expires_at, updated_at)
VALUES ($1, $2::jsonb, $3, $4)
ON CONFLICT (key) DO UPDATE
SET
	value = EXCLUDED.value,
	expires_at = EXCLUDED.expires_at,
	updated_at = EXCLUDED.updated_at
WHERE e.expires_at IS NOT NULL
  AND e.expires_at <= EXCLUDED.updated_at
RETURNING e.key
`

	var claimed string
	err := p.QueryRow(ctx, q, key, string(value), nullableTime(expiresAt), now.UTC()).Scan(&claimed)
	if err != nil {
		if IsNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("claim kv entry %q: %w", key, err)
	}
	return true, nil
}

func (p *Pool) KVDelete(ctx context.Context, key string) error {
	if _, err := p.Exec(ctx, `DELETE FROM news.kv_entries WHERE key = $1`, key); err != nil {
		return fmt.Errorf("delete kv entry %q: %w", key, err)
	}
	return nil
}

func (p *Pool) PurgeExpiredKV(ctx context.Context, now time.Time) (int64, error) {
	tag, err := p.Exec(ctx, `DELETE FROM news.kv_entries WHERE expires_at IS NOT NULL AND expires_at <= $1`, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("purge expired kv entries: %w", err)
	}
	return tag.RowsAffected(), nil
}
