package db

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// AdmitParams is a canonical article ready for the shared content store.
type AdmitParams struct {
	NormalizedURL   string
	URL             string
	Title           string
	Body            string
	Author          string
	ImageURL        string
	PublishedAt     *time.Time
	WordCount       int
	SourceDomain    string
	ContentChecksum string
	Language        string
	SeenAt          time.Time
}

// Admission reports what the upsert did to the shared article row.
type Admission struct {
	ArticleID      int64
	ArticleUUID    string
	Inserted       bool
	ContentChanged bool
	FirstSeenAt    time.Time
	LastSeenAt     time.Time
}

// AdmitArticle inserts the article or, when the normalized URL already exists, bumps
// last_seen_at and refreshes the content only if the checksum moved. Concurrent callers on the
// same URL serialize on the unique index; the loser takes the update branch.
func (p *Pool) AdmitArticle(ctx context.Context, params AdmitParams) (Admission, error) {
	normalizedURL := strings.TrimSpace(params.NormalizedURL)
	if normalizedURL == "" {
		return Admission{}, fmt.Errorf("normalized url is required")
	}
	seenAt := params.SeenAt.UTC()

	const q = `
WITH previous AS (
	SELECT content_checksum
	FROM news.shared_articles
	WHERE normalized_url = $1
)
INSERT INTO news.shared_articles AS a (
	normalized_url,
	url,
	title,
	body,
	author,
	image_url,
	published_at,
	word_count,
	source_domain,
	content_checksum,
	language,
	first_seen_at,
	last_seen_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, $12, $12)
ON CONFLICT (normalized_url) DO UPDATE
SET
	last_seen_at = GREATEST(a.last_seen_at, EXCLUDED.last_seen_at),
	title = CASE WHEN a.content_checksum <> EXCLUDED.content_checksum THEN EXCLUDED.title ELSE a.title END,
	body = CASE WHEN a.content_checksum <> EXCLUDED.content_checksum THEN EXCLUDED.body ELSE a.body END,
	word_count = CASE WHEN a.content_checksum <> EXCLUDED.content_checksum THEN EXCLUDED.word_count ELSE a.word_count END,
	language = CASE WHEN a.content_checksum <> EXCLUDED.content_checksum THEN EXCLUDED.language ELSE a.language END,
	author = COALESCE(a.author, EXCLUDED.author),
	image_url = COALESCE(a.image_url, EXCLUDED.image_url),
	published_at = COALESCE(a.published_at, EXCLUDED.published_at),
	content_checksum = EXCLUDED.content_checksum,
	updated_at = EXCLUDED.updated_at
RETURNING
	a.article_id,
	a.article_uuid::text,
	(a.xmax = 0) AS inserted,
	COALESCE((SELECT content_checksum FROM previous), a.content_checksum) AS previous_checksum,
	a.first_seen_at,
	a.last_seen_at
`

	var (
		out              Admission
		previousChecksum string
	)
	err := p.QueryRow(
		ctx,
		q,
		normalizedURL,
		strings.TrimSpace(params.URL),
		strings.TrimSpace(params.Title),
		params.Body,
		nullableString(params.Author),
		nullableString(params.ImageURL),
		nullableTime(params.PublishedAt),
		params.WordCount,
		params.SourceDomain,
		params.ContentChecksum,
		params.Language,
		seenAt,
	).Scan(
		&out.ArticleID,
		&out.ArticleUUID,
		&out.Inserted,
		&previousChecksum,
		&out.FirstSeenAt,
		&out.LastSeenAt,
	)
	if err != nil {
		return Admission{}, fmt.Errorf("upsert shared article: %w", err)
	}

	out.ContentChanged = !out.Inserted && previousChecksum != params.ContentChecksum
	return out, nil
}

// ArticleRecord is a shared article as read back by operators and tests.
type ArticleRecord struct {
	ArticleID       int64      `json:"article_id"`
	ArticleUUID     string     `json:"article_uuid"`
	NormalizedURL   string     `json:"normalized_url"`
	URL             string     `json:"url"`
	Title           string     `json:"title"`
	WordCount       int        `json:"word_count"`
	SourceDomain    string     `json:"source_domain"`
	ContentChecksum string     `json:"content_checksum"`
	Language        string     `json:"language,omitempty"`
	PublishedAt     *time.Time `json:"published_at,omitempty"`
	FirstSeenAt     time.Time  `json:"first_seen_at"`
	LastSeenAt      time.Time  `json:"last_seen_at"`
}

func (p *Pool) GetArticleByNormalizedURL(ctx context.Context, normalizedURL string) (ArticleRecord, error) {
	const q = `
SELECT
	article_id,
	article_uuid::text,
	normalized_url,
	url,
	title,
	word_count,
	source_domain,
	content_checksum,
	language,
	published_at,
	first_seen_at,
	last_seen_at
FROM news.shared_articles
WHERE normalized_url = $1
`

	var row ArticleRecord
	err := p.QueryRow(ctx, q, strings.TrimSpace(normalizedURL)).Scan(
		&row.ArticleID,
		&row.ArticleUUID,
		&row.NormalizedURL,
		&row.URL,
		&row.Title,
		&row.WordCount,
		&row.SourceDomain,
		&row.ContentChecksum,
		&row.Language,
		&row.PublishedAt,
		&row.FirstSeenAt,
		&row.LastSeenAt,
	)
	if err != nil {
		return ArticleRecord{}, err
	}
	return row, nil
}

func nullableString(value string) *string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func nullableTime(t *time.Time) *time.Time {
	if t == nil || t.IsZero() {
		return nil
	}
	normalized := t.UTC()
	return &normalized
}
