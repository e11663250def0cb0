package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	LinkStatusNew       = "new"
	LinkStatusProcessed = "processed"
	LinkStatusDiscarded = "discarded"
)

// LinkParams carries one tenant's scores for an admitted article.
type LinkParams struct {
	ArticleID        int64
	TopicID          int64
	SourceID         *int64
	RelevanceScore   int
	QualityScore     int
	KeywordMatches   []string
	ProcessingStatus string
	ImportMetadata   ImportMetadata
	At               time.Time
}

type LinkUpsert struct {
	LinkID           int64
	LinkUUID         string
	ProcessingStatus string
	Inserted         bool
	// Rescored is false when the link had already left "new" and was left untouched.
	Rescored bool
}

// UpsertLink writes at most one link per (article, topic). An existing link is rescored only
// while it is still new; processed and discarded links belong to downstream consumers.
func (p *Pool) UpsertLink(ctx context.Context, params LinkParams) (LinkUpsert, error) {
	if err := params.ImportMetadata.Validate(); err != nil {
		return LinkUpsert{}, err
	}
	status := strings.TrimSpace(params.ProcessingStatus)
	if status == "" {
		status = LinkStatusNew
	}
	matches := params.KeywordMatches
	if matches == nil {
		matches = []string{}
	}
	at := params.At.UTC()

	const upsert = `
INSERT INTO news.tenant_article_links AS l (
	article_id,
	topic_id,
	source_id,
	regional_relevance_score,
	content_quality_score,
	keyword_matches,
	processing_status,
	import_metadata,
	status_changed_at,
	created_at,
	updated_at
)
VALUES ($1, $2, $3, $4, $5, $6::jsonb, $7, $8::jsonb, $9, $9, $9)
ON CONFLICT (article_id, topic_id) DO UPDATE
SET
	regional_relevance_score = EXCLUDED.regional_relevance_score,
	content_quality_score = EXCLUDED.content_quality_score,
	keyword_matches = EXCLUDED.keyword_matches,
	processing_status = EXCLUDED.processing_status,
	status_changed_at = CASE
		WHEN l.processing_status <> EXCLUDED.processing_status THEN EXCLUDED.status_changed_at
		ELSE l.status_changed_at
	END,
	updated_at = EXCLUDED.updated_at
WHERE l.processing_status = 'new'
RETURNING l.link_id, l.link_uuid::text, l.processing_status, (l.xmax = 0) AS inserted
`

	var out LinkUpsert
	err := p.QueryRow(
		ctx,
		upsert,
		params.ArticleID,
		params.TopicID,
		params.SourceID,
		params.RelevanceScore,
		params.QualityScore,
		datatypes.NewJSONSlice(matches),
		status,
		datatypes.NewJSONType(params.ImportMetadata),
		at,
	).Scan(&out.LinkID, &out.LinkUUID, &out.ProcessingStatus, &out.Inserted)
	if err == nil {
		out.Rescored = true
		return out, nil
	}
	if !IsNoRows(err) {
		return LinkUpsert{}, fmt.Errorf("upsert tenant article link: %w", err)
	}

	const existing = `
SELECT link_id, link_uuid::text, processing_status
FROM news.tenant_article_links
WHERE article_id = $1
  AND topic_id = $2
`
	if err := p.QueryRow(ctx, existing, params.ArticleID, params.TopicID).Scan(
		&out.LinkID,
		&out.LinkUUID,
		&out.ProcessingStatus,
	); err != nil {
		return LinkUpsert{}, fmt.Errorf("load settled tenant article link: %w", err)
	}
	return out, nil
}

// LinkRecord is the outbound view of a tenant link for queue consumers.
type LinkRecord struct {
	LinkID           int64                              `json:"link_id"`
	LinkUUID         string                             `json:"link_uuid"`
	ArticleID        int64                              `json:"article_id"`
	ArticleUUID      string                             `json:"article_uuid"`
	TopicID          int64                              `json:"topic_id"`
	SourceID         *int64                             `json:"source_id,omitempty"`
	Title            string                             `json:"title"`
	URL              string                             `json:"url"`
	WordCount        int                                `json:"word_count"`
	RelevanceScore   int                                `json:"regional_relevance_score"`
	QualityScore     int                                `json:"content_quality_score"`
	KeywordMatches   datatypes.JSONSlice[string]        `json:"keyword_matches"`
	ProcessingStatus string                             `json:"processing_status"`
	ImportMetadata   datatypes.JSONType[ImportMetadata] `json:"import_metadata"`
	StatusChangedAt  time.Time                          `json:"status_changed_at"`
	CreatedAt        time.Time                          `json:"created_at"`
}

type LinkListOptions struct {
	TopicID int64
	Status  string
	Limit   int
}

const linkSelect = `
SELECT
	l.link_id,
	l.link_uuid::text,
	l.article_id,
	a.article_uuid::text,
	l.topic_id,
	l.source_id,
	a.title,
	a.url,
	a.word_count,
	l.regional_relevance_score,
	l.content_quality_score,
	l.keyword_matches,
	l.processing_status,
	l.import_metadata,
	l.status_changed_at,
	l.created_at
FROM news.tenant_article_links l
JOIN news.shared_articles a
	ON a.article_id = l.article_id
`

func scanLink(scanner interface{ Scan(dest ...any) error }) (LinkRecord, error) {
	var row LinkRecord
	err := scanner.Scan(
		&row.LinkID,
		&row.LinkUUID,
		&row.ArticleID,
		&row.ArticleUUID,
		&row.TopicID,
		&row.SourceID,
		&row.Title,
		&row.URL,
		&row.WordCount,
		&row.RelevanceScore,
		&row.QualityScore,
		&row.KeywordMatches,
		&row.ProcessingStatus,
		&row.ImportMetadata,
		&row.StatusChangedAt,
		&row.CreatedAt,
	)
	return row, err
}

// ListLinks returns links for one topic and status, oldest first so consumers drain in order.
func (p *Pool) ListLinks(ctx context.Context, opts LinkListOptions) ([]LinkRecord, error) {
	if opts.Limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}
	status := strings.TrimSpace(opts.Status)
	if status == "" {
		status = LinkStatusNew
	}

	q := linkSelect + `
WHERE ($1 = 0 OR l.topic_id = $1)
  AND l.processing_status = $2
ORDER BY l.created_at ASC, l.link_id ASC
LIMIT $3
`

	rows, err := p.Query(ctx, q, opts.TopicID, status, opts.Limit)
	if err != nil {
		return nil, fmt.Errorf("query tenant article links: %w", err)
	}
	defer rows.Close()

	items := make([]LinkRecord, 0, opts.Limit)
	for rows.Next() {
		row, err := scanLink(rows)
		if err != nil {
			return nil, fmt.Errorf("scan tenant article link: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant article links: %w", err)
	}
	return items, nil
}

func (p *Pool) GetLinkByUUID(ctx context.Context, linkUUID string) (LinkRecord, error) {
	row, err := scanLink(p.QueryRow(ctx, linkSelect+"WHERE l.link_uuid = $1::uuid\n", strings.TrimSpace(linkUUID)))
	if err != nil {
		return LinkRecord{}, err
	}
	return row, nil
}

// TransitionLink moves a link out of "new". It reports false without error when another
// consumer already settled the link; the caller decides whether that is a conflict.
func (p *Pool) TransitionLink(ctx context.Context, linkUUID, to string, at time.Time) (bool, error) {
	const q = `
UPDATE news.tenant_article_links
SET
	processing_status = $2,
	status_changed_at = $3,
	updated_at = $3
WHERE link_uuid = $1::uuid
  AND processing_status = 'new'
`
	tag, err := p.Exec(ctx, q, strings.TrimSpace(linkUUID), to, at.UTC())
	if err != nil {
		return false, fmt.Errorf("update tenant article link status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}
