package db

import (
	"context"
	"fmt"
	"time"
)

// DiscardStaleLinks marks links that stayed new past the triage cutoff as discarded.
func (p *Pool) DiscardStaleLinks(ctx context.Context, cutoff, at time.Time) (int64, error) {
	const q = `
UPDATE news.tenant_article_links
SET
	processing_status = 'discarded',
	status_changed_at = $2,
	updated_at = $2
WHERE processing_status = 'new'
  AND created_at < $1
`
	tag, err := p.Exec(ctx, q, cutoff.UTC(), at.UTC())
	if err != nil {
		return 0, fmt.Errorf("discard stale links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteDiscardedLinks hard-deletes links that have been discarded since before cutoff.
func (p *Pool) DeleteDiscardedLinks(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM news.tenant_article_links
WHERE processing_status = 'discarded'
  AND status_changed_at < $1
`
	tag, err := p.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete discarded links: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteOrphanArticles removes shared articles no tenant links to and nobody has seen since cutoff.
func (p *Pool) DeleteOrphanArticles(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `
DELETE FROM news.shared_articles a
WHERE a.last_seen_at < $1
  AND NOT EXISTS (
	SELECT 1
	FROM news.tenant_article_links l
	WHERE l.article_id = a.article_id
  )
  AND NOT EXISTS (
	SELECT 1
	FROM news.tenant_stories s
	WHERE s.article_id = a.article_id
  )
`
	tag, err := p.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, fmt.Errorf("delete orphan articles: %w", err)
	}
	return tag.RowsAffected(), nil
}
