package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const maxBatchErrorLength = 4000

// ErrBatchExists means a batch with the same uuid was already recorded; a producer retry.
var ErrBatchExists = errors.New("ingest batch already recorded")

type BatchStart struct {
	BatchUUID     string
	SourceID      int64
	TopicID       *int64
	ImportKind    ImportKind
	ItemsReceived int
	StartedAt     time.Time
}

type BatchFinish struct {
	BatchID        int64
	Status         string
	ItemsAdmitted  int
	ItemsSeen      int
	ItemsRejected  int
	ItemsFailed    int
	LinksWritten   int
	LinksProcessed int
	Err            error
	FinishedAt     time.Time
}

func (p *Pool) StartIngestBatch(ctx context.Context, start BatchStart) (int64, error) {
	const q = `
INSERT INTO news.ingest_batches (
	batch_uuid,
	source_id,
	topic_id,
	import_kind,
	status,
	items_received,
	started_at
)
VALUES ($1::uuid, $2, $3, $4, 'running', $5, $6)
RETURNING batch_id
`

	var batchID int64
	if err := p.QueryRow(
		ctx,
		q,
		start.BatchUUID,
		start.SourceID,
		start.TopicID,
		string(start.ImportKind),
		start.ItemsReceived,
		start.StartedAt.UTC(),
	).Scan(&batchID); err != nil {
		if IsUniqueViolation(err) {
			return 0, fmt.Errorf("%w: %s", ErrBatchExists, start.BatchUUID)
		}
		return 0, fmt.Errorf("insert ingest batch: %w", err)
	}
	return batchID, nil
}

func (p *Pool) FinishIngestBatch(ctx context.Context, finish BatchFinish) error {
	const q = `
UPDATE news.ingest_batches
SET
	status = $2,
	items_admitted = $3,
	items_seen = $4,
	items_rejected = $5,
	items_failed = $6,
	links_written = $7,
	links_processed = $8,
	error_message = $9,
	finished_at = $10
WHERE batch_id = $1
`

	var msg *string
	if finish.Err != nil {
		trimmed := strings.TrimSpace(finish.Err.Error())
		if len(trimmed) > maxBatchErrorLength {
			trimmed = trimmed[:maxBatchErrorLength]
		}
		msg = &trimmed
	}

	if _, err := p.Exec(
		ctx,
		q,
		finish.BatchID,
		finish.Status,
		finish.ItemsAdmitted,
		finish.ItemsSeen,
		finish.ItemsRejected,
		finish.ItemsFailed,
		finish.LinksWritten,
		finish.LinksProcessed,
		msg,
		finish.FinishedAt.UTC(),
	); err != nil {
		return fmt.Errorf("finish ingest batch %d: %w", finish.BatchID, err)
	}
	return nil
}
