package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	HealthActionDeactivate   = "deactivate"
	HealthActionMethodChange = "method_change"
	HealthActionInvestigate  = "investigate"
)

// ErrSourceChanged means the source no longer matched the state an action was computed from.
var ErrSourceChanged = errors.New("source changed since evaluation")

// SourceRecord is the health-relevant view of news.sources.
type SourceRecord struct {
	SourceID            int64      `json:"source_id"`
	SourceUUID          string     `json:"source_uuid"`
	Name                string     `json:"name"`
	FeedURL             string     `json:"feed_url"`
	ScrapingMethod      string     `json:"scraping_method"`
	AttemptCount        int        `json:"attempt_count"`
	SuccessCount        int        `json:"success_count"`
	SuccessRate         float64    `json:"success_rate"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	IsActive            bool       `json:"is_active"`
	IsCritical          bool       `json:"is_critical"`
	LastScrapedAt       *time.Time `json:"last_scraped_at,omitempty"`
	LastErrorCategory   *string    `json:"last_error_category,omitempty"`
}

const sourceColumns = `
	source_id,
	source_uuid::text,
	name,
	feed_url,
	scraping_method,
	attempt_count,
	success_count,
	success_rate,
	consecutive_failures,
	is_active,
	is_critical,
	last_scraped_at,
	last_error_category
`

func scanSource(scanner interface{ Scan(dest ...any) error }) (SourceRecord, error) {
	var row SourceRecord
	err := scanner.Scan(
		&row.SourceID,
		&row.SourceUUID,
		&row.Name,
		&row.FeedURL,
		&row.ScrapingMethod,
		&row.AttemptCount,
		&row.SuccessCount,
		&row.SuccessRate,
		&row.ConsecutiveFailures,
		&row.IsActive,
		&row.IsCritical,
		&row.LastScrapedAt,
		&row.LastErrorCategory,
	)
	return row, err
}

func (p *Pool) GetSource(ctx context.Context, sourceID int64) (SourceRecord, error) {
	return scanSource(p.QueryRow(ctx, "SELECT"+sourceColumns+"FROM news.sources\nWHERE source_id = $1\n", sourceID))
}

// ListSources returns every source, active or not. Inactive sources still count as
// evidence for how well their method performs.
func (p *Pool) ListSources(ctx context.Context) ([]SourceRecord, error) {
	rows, err := p.Query(ctx, "SELECT"+sourceColumns+"FROM news.sources\nORDER BY source_id\n")
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	items := make([]SourceRecord, 0, 32)
	for rows.Next() {
		row, err := scanSource(rows)
		if err != nil {
			return nil, fmt.Errorf("scan source row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source rows: %w", err)
	}
	return items, nil
}

// ScrapeOutcome is one scrape attempt as reported by a producer or a probe.
type ScrapeOutcome struct {
	SourceID      int64
	Success       bool
	ErrorCategory string
	At            time.Time
}

// RecordScrape folds one attempt into the source counters in a single statement so
// concurrent reports never lose an increment.
func (p *Pool) RecordScrape(ctx context.Context, outcome ScrapeOutcome) (SourceRecord, error) {
	success := 0
	if outcome.Success {
		success = 1
	}
	var category *string
	if !outcome.Success {
		category = nullableString(outcome.ErrorCategory)
	}

	q := `
UPDATE news.sources
SET
	attempt_count = attempt_count + 1,
	success_count = success_count + $2,
	success_rate = ROUND(((success_count + $2) * 100.0 / (attempt_count + 1))::numeric, 2)::double precision,
	consecutive_failures = CASE WHEN $2 = 1 THEN 0 ELSE consecutive_failures + 1 END,
	last_error_category = CASE WHEN $2 = 1 THEN last_error_category ELSE $3 END,
	last_scraped_at = $4,
	updated_at = $4
WHERE source_id = $1
RETURNING` + sourceColumns

	row, err := scanSource(p.QueryRow(ctx, q, outcome.SourceID, success, category, outcome.At.UTC()))
	if err != nil {
		if IsNoRows(err) {
			return SourceRecord{}, err
		}
		return SourceRecord{}, fmt.Errorf("record scrape for source %d: %w", outcome.SourceID, err)
	}
	return row, nil
}

// HealthActionParams describes one automatic mutation and its audit row.
type HealthActionParams struct {
	SourceID     int64
	Action       string
	MethodBefore string
	MethodAfter  string
	ActiveBefore bool
	ActiveAfter  bool
	SuccessRate  float64
	Reason       HealthActionReason
	At           time.Time
}

// ApplyHealthAction mutates the source and writes the audit event in one transaction. The
// update is conditioned on the state the action was computed from; if the source moved in
// between, nothing is written and ErrSourceChanged is returned.
func (p *Pool) ApplyHealthAction(ctx context.Context, params HealthActionParams) error {
	if err := params.Reason.Validate(); err != nil {
		return err
	}
	at := params.At.UTC()

	return p.WithTx(ctx, func(tx Tx) error {
		var (
			tag CommandTag
			err error
		)
		switch params.Action {
		case HealthActionDeactivate:
			const q = `
UPDATE news.sources
SET
	is_active = FALSE,
	deactivated_at = $2,
	updated_at = $2
WHERE source_id = $1
  AND is_active
  AND NOT is_critical
`
			tag, err = tx.Exec(ctx, q, params.SourceID, at)
		case HealthActionMethodChange:
			methodAfter := strings.TrimSpace(params.MethodAfter)
			if methodAfter == "" || methodAfter == params.MethodBefore {
				return fmt.Errorf("method change requires a different target method")
			}
			// Counters restart so the new method is judged on its own attempts.
			const q = `
UPDATE news.sources
SET
	scraping_method = $2,
	attempt_count = 0,
	success_count = 0,
	success_rate = 0,
	consecutive_failures = 0,
	updated_at = $4
WHERE source_id = $1
  AND scraping_method = $3
`
			tag, err = tx.Exec(ctx, q, params.SourceID, methodAfter, params.MethodBefore, at)
		default:
			return fmt.Errorf("unsupported health action %q", params.Action)
		}
		if err != nil {
			return fmt.Errorf("update source %d: %w", params.SourceID, err)
		}
		if tag.RowsAffected() != 1 {
			return ErrSourceChanged
		}

		return insertHealthEvent(ctx, tx, params, at)
	})
}

// RecordHealthEvent writes an audit row for an outcome that does not mutate the source.
func (p *Pool) RecordHealthEvent(ctx context.Context, params HealthActionParams) error {
	if err := params.Reason.Validate(); err != nil {
		return err
	}
	return p.WithTx(ctx, func(tx Tx) error {
		return insertHealthEvent(ctx, tx, params, params.At.UTC())
	})
}

func insertHealthEvent(ctx context.Context, tx Tx, params HealthActionParams, at time.Time) error {
	const q = `
INSERT INTO news.source_health_events (
	source_id,
	action,
	method_before,
	method_after,
	active_before,
	active_after,
	success_rate,
	reason,
	created_at
)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb, $9)
`
	if _, err := tx.Exec(
		ctx,
		q,
		params.SourceID,
		params.Action,
		params.MethodBefore,
		params.MethodAfter,
		params.ActiveBefore,
		params.ActiveAfter,
		params.SuccessRate,
		datatypes.NewJSONType(params.Reason),
		at,
	); err != nil {
		return fmt.Errorf("insert source health event: %w", err)
	}
	return nil
}

// HealthEventRecord is one row of the automatic-action audit log.
type HealthEventRecord struct {
	EventUUID    string                                 `json:"event_uuid"`
	SourceID     int64                                  `json:"source_id"`
	Action       string                                 `json:"action"`
	MethodBefore string                                 `json:"method_before"`
	MethodAfter  string                                 `json:"method_after"`
	ActiveBefore bool                                   `json:"active_before"`
	ActiveAfter  bool                                   `json:"active_after"`
	SuccessRate  float64                                `json:"success_rate"`
	Reason       datatypes.JSONType[HealthActionReason] `json:"reason"`
	CreatedAt    time.Time                              `json:"created_at"`
}

func (p *Pool) ListHealthEvents(ctx context.Context, sourceID int64, limit int) ([]HealthEventRecord, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be > 0")
	}

	const q = `
SELECT
	event_uuid::text,
	source_id,
	action,
	method_before,
	method_after,
	active_before,
	active_after,
	success_rate,
	reason,
	created_at
FROM news.source_health_events
WHERE ($1 = 0 OR source_id = $1)
ORDER BY created_at DESC, event_id DESC
LIMIT $2
`
	rows, err := p.Query(ctx, q, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query source health events: %w", err)
	}
	defer rows.Close()

	items := make([]HealthEventRecord, 0, limit)
	for rows.Next() {
		var row HealthEventRecord
		if err := rows.Scan(
			&row.EventUUID,
			&row.SourceID,
			&row.Action,
			&row.MethodBefore,
			&row.MethodAfter,
			&row.ActiveBefore,
			&row.ActiveAfter,
			&row.SuccessRate,
			&row.Reason,
			&row.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan source health event: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate source health events: %w", err)
	}
	return items, nil
}
