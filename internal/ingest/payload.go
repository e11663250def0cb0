package ingest

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"horse.fit/curate/internal/db"
	payloadschema "horse.fit/curate/schema"
)

// RequestFromBatch maps a schema-validated producer payload onto an ingest request.
func RequestFromBatch(batch *payloadschema.RawArticleBatch) (Request, error) {
	if batch == nil {
		return Request{}, fmt.Errorf("batch is nil")
	}

	req := Request{
		SourceID:    batch.SourceID,
		TopicID:     batch.TopicID,
		Kind:        db.ImportKind(strings.TrimSpace(batch.ImportKind)),
		Producer:    strings.TrimSpace(batch.Producer),
		Operator:    strings.TrimSpace(batch.Operator),
		Note:        strings.TrimSpace(batch.Note),
		Reason:      strings.TrimSpace(batch.Reason),
		ScrapeError: strings.TrimSpace(batch.ScrapeError),
		Articles:    make([]RawArticle, 0, len(batch.Articles)),
	}

	if raw := strings.TrimSpace(batch.BatchUUID); raw != "" {
		parsed, err := uuid.Parse(raw)
		if err != nil {
			return Request{}, fmt.Errorf("batch_uuid: %w", err)
		}
		req.BatchUUID = parsed.String()
	}

	for i, article := range batch.Articles {
		publishedAt, err := payloadschema.ParseTimestamp(article.PublishedAt)
		if err != nil {
			return Request{}, fmt.Errorf("articles[%d].published_at: %w", i, err)
		}
		discoveredAt, err := payloadschema.ParseTimestamp(article.DiscoveredAt)
		if err != nil {
			return Request{}, fmt.Errorf("articles[%d].discovered_at: %w", i, err)
		}
		req.Articles = append(req.Articles, RawArticle{
			Title:        article.Title,
			Body:         article.Body,
			SourceURL:    article.SourceURL,
			Author:       deref(article.Author),
			ImageURL:     deref(article.ImageURL),
			PublishedAt:  publishedAt,
			DiscoveredAt: discoveredAt,
		})
	}
	return req, nil
}

func deref(value *string) string {
	if value == nil {
		return ""
	}
	return strings.TrimSpace(*value)
}
