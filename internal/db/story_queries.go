package db

import (
	"context"
	"fmt"
	"time"
)

const (
	StoryStatusDraft     = "draft"
	StoryStatusPublished = "published"
	StoryStatusArchived  = "archived"
)

// StoryRecord is a tenant-facing story as seen by the duplicate resolver.
type StoryRecord struct {
	StoryID     int64      `json:"story_id"`
	StoryUUID   string     `json:"story_uuid"`
	TopicID     int64      `json:"topic_id"`
	Title       string     `json:"title"`
	Status      string     `json:"status"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func (s StoryRecord) IsPublished() bool {
	return s.Status == StoryStatusPublished
}

// ListTopicStories returns every non-archived story of one topic.
func (p *Pool) ListTopicStories(ctx context.Context, topicID int64) ([]StoryRecord, error) {
	const q = `
SELECT
	story_id,
	story_uuid::text,
	topic_id,
	title,
	status,
	published_at,
	created_at
FROM news.tenant_stories
WHERE topic_id = $1
  AND status <> 'archived'
ORDER BY story_id
`

	rows, err := p.Query(ctx, q, topicID)
	if err != nil {
		return nil, fmt.Errorf("query tenant stories: %w", err)
	}
	defer rows.Close()

	items := make([]StoryRecord, 0, 64)
	for rows.Next() {
		var row StoryRecord
		if err := rows.Scan(
			&row.StoryID,
			&row.StoryUUID,
			&row.TopicID,
			&row.Title,
			&row.Status,
			&row.PublishedAt,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan tenant story: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tenant stories: %w", err)
	}
	return items, nil
}

// ArchiveStories archives the given stories of one topic and returns how many changed.
// Stories that are already archived are skipped.
func (p *Pool) ArchiveStories(ctx context.Context, topicID int64, storyIDs []int64, at time.Time) (int64, error) {
	if len(storyIDs) == 0 {
		return 0, nil
	}

	const q = `
UPDATE news.tenant_stories
SET
	status = 'archived',
	archived_at = $3,
	updated_at = $3
WHERE topic_id = $1
  AND story_id = ANY($2)
  AND status <> 'archived'
`
	tag, err := p.Exec(ctx, q, topicID, storyIDs, at.UTC())
	if err != nil {
		return 0, fmt.Errorf("archive tenant stories: %w", err)
	}
	return tag.RowsAffected(), nil
}
