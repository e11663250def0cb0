// Package retention ages out untriaged links, discarded links, orphaned articles and
// expired key-value entries.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/globaltime"
)

type Store interface {
	DiscardStaleLinks(ctx context.Context, cutoff, at time.Time) (int64, error)
	DeleteDiscardedLinks(ctx context.Context, cutoff time.Time) (int64, error)
	DeleteOrphanArticles(ctx context.Context, cutoff time.Time) (int64, error)
	PurgeExpiredKV(ctx context.Context, now time.Time) (int64, error)
}

type Windows struct {
	// Links still new after this long are discarded.
	Triage time.Duration
	// Discarded links and unreferenced articles older than this are deleted.
	Retention time.Duration
}

type Report struct {
	RanAt          time.Time `json:"ran_at"`
	DryRun         bool      `json:"dry_run"`
	TriageCutoff   time.Time `json:"triage_cutoff"`
	RetainCutoff   time.Time `json:"retention_cutoff"`
	LinksDiscarded int64     `json:"links_discarded"`
	LinksDeleted   int64     `json:"links_deleted"`
	ArticlesPurged int64     `json:"articles_deleted"`
	KVPurged       int64     `json:"kv_entries_deleted"`
}

type Service struct {
	store   Store
	windows Windows
	logger  zerolog.Logger
}

func NewService(store Store, windows Windows, logger zerolog.Logger) (*Service, error) {
	if windows.Triage <= 0 {
		return nil, fmt.Errorf("triage window must be > 0")
	}
	if windows.Retention <= 0 {
		return nil, fmt.Errorf("retention window must be > 0")
	}
	return &Service{store: store, windows: windows, logger: logger}, nil
}

// Run executes every step in dependency order: links are discarded before discarded links
// are deleted, and links are deleted before the articles they referenced. A failing step
// stops the run; earlier steps stay committed and the next run picks up the rest.
func (s *Service) Run(ctx context.Context, dryRun bool) (Report, error) {
	now := globaltime.UTC()
	report := Report{
		RanAt:        now,
		DryRun:       dryRun,
		TriageCutoff: now.Add(-s.windows.Triage),
		RetainCutoff: now.Add(-s.windows.Retention),
	}
	if dryRun {
		s.logger.Info().
			Time("triage_cutoff", report.TriageCutoff).
			Time("retention_cutoff", report.RetainCutoff).
			Msg("retention dry run; nothing deleted")
		return report, nil
	}

	var err error
	if report.LinksDiscarded, err = s.store.DiscardStaleLinks(ctx, report.TriageCutoff, now); err != nil {
		return report, err
	}
	if report.LinksDeleted, err = s.store.DeleteDiscardedLinks(ctx, report.RetainCutoff); err != nil {
		return report, err
	}
	if report.ArticlesPurged, err = s.store.DeleteOrphanArticles(ctx, report.RetainCutoff); err != nil {
		return report, err
	}
	if report.KVPurged, err = s.store.PurgeExpiredKV(ctx, now); err != nil {
		return report, err
	}

	s.logger.Info().
		Int64("links_discarded", report.LinksDiscarded).
		Int64("links_deleted", report.LinksDeleted).
		Int64("articles_deleted", report.ArticlesPurged).
		Int64("kv_entries_deleted", report.KVPurged).
		Msg("retention cleanup complete")
	return report, nil
}
