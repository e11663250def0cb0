package db

import (
	"context"
	"fmt"

	"gorm.io/datatypes"
)

// TopicRecord is a tenant configuration row.
type TopicRecord struct {
	TopicID            int64      `json:"topic_id"`
	TopicUUID          string     `json:"topic_uuid"`
	Slug               string     `json:"slug"`
	Name               string     `json:"name"`
	TopicType          string     `json:"topic_type"`
	Rules              TopicRules `json:"rules"`
	FreshnessSensitive bool       `json:"freshness_sensitive"`
	Enabled            bool       `json:"enabled"`
}

const topicSelect = `
SELECT
	t.topic_id,
	t.topic_uuid::text,
	t.slug,
	t.name,
	t.topic_type,
	t.rules,
	t.freshness_sensitive,
	t.enabled
FROM news.topics t
`

func scanTopic(scanner interface{ Scan(dest ...any) error }) (TopicRecord, error) {
	var (
		row   TopicRecord
		rules datatypes.JSONType[TopicRules]
	)
	if err := scanner.Scan(
		&row.TopicID,
		&row.TopicUUID,
		&row.Slug,
		&row.Name,
		&row.TopicType,
		&rules,
		&row.FreshnessSensitive,
		&row.Enabled,
	); err != nil {
		return TopicRecord{}, err
	}
	row.Rules = rules.Data()
	return row, nil
}

func (p *Pool) GetTopic(ctx context.Context, topicID int64) (TopicRecord, error) {
	return scanTopic(p.QueryRow(ctx, topicSelect+"WHERE t.topic_id = $1\n", topicID))
}

// ListEnabledTopics feeds the competing-region lookup.
func (p *Pool) ListEnabledTopics(ctx context.Context) ([]TopicRecord, error) {
	return p.queryTopics(ctx, topicSelect+"WHERE t.enabled\nORDER BY t.topic_id\n")
}

// ListSourceTopics returns the enabled topics a source is attached to.
func (p *Pool) ListSourceTopics(ctx context.Context, sourceID int64) ([]TopicRecord, error) {
	const where = `
JOIN news.topic_sources ts
	ON ts.topic_id = t.topic_id
WHERE ts.source_id = $1
  AND t.enabled
ORDER BY t.topic_id
`
	return p.queryTopics(ctx, topicSelect+where, sourceID)
}

func (p *Pool) queryTopics(ctx context.Context, q string, args ...any) ([]TopicRecord, error) {
	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query topics: %w", err)
	}
	defer rows.Close()

	items := make([]TopicRecord, 0, 8)
	for rows.Next() {
		row, err := scanTopic(rows)
		if err != nil {
			return nil, fmt.Errorf("scan topic row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate topic rows: %w", err)
	}
	return items, nil
}
