// Package ingest runs one producer batch through admission, the shared content store and
// per-tenant scoring. Articles are processed sequentially and each failure stays with its
// article; the caller always gets a summary back.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"horse.fit/curate/internal/admission"
	"horse.fit/curate/internal/canon"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/globaltime"
	"horse.fit/curate/internal/metrics"
	"horse.fit/curate/internal/scoring"
	"horse.fit/curate/internal/tenants"
)

var (
	ErrUnknownSource = errors.New("unknown source")
	ErrUnknownTopic  = errors.New("unknown topic")
	ErrNoTopics      = errors.New("source is not attached to any enabled topic")
)

const (
	OutcomeAdmitted = "admitted"
	OutcomeSeen     = "seen"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

// Scrape failure categories reported when the producer gave no usable content.
const (
	ScrapeErrorEmpty    = "empty"
	ScrapeErrorRejected = "rejected"
)

// Store is the persistence surface ingestion needs; *db.Pool implements it.
type Store interface {
	GetSource(ctx context.Context, sourceID int64) (db.SourceRecord, error)
	GetTopic(ctx context.Context, topicID int64) (db.TopicRecord, error)
	ListSourceTopics(ctx context.Context, sourceID int64) ([]db.TopicRecord, error)
	AdmitArticle(ctx context.Context, params db.AdmitParams) (db.Admission, error)
	UpsertLink(ctx context.Context, params db.LinkParams) (db.LinkUpsert, error)
	StartIngestBatch(ctx context.Context, start db.BatchStart) (int64, error)
	FinishIngestBatch(ctx context.Context, finish db.BatchFinish) error
	RecordScrape(ctx context.Context, outcome db.ScrapeOutcome) (db.SourceRecord, error)
}

type CompetitorSource interface {
	Competitors(ctx context.Context, tenant scoring.Tenant) ([]scoring.Competitor, error)
}

type LanguageDetector interface {
	Detect(title, body string) string
}

type Options struct {
	Filter    *admission.Filter
	Gate      scoring.Gate
	Languages LanguageDetector
}

type Service struct {
	store       Store
	competitors CompetitorSource
	filter      *admission.Filter
	gate        scoring.Gate
	languages   LanguageDetector
	logger      zerolog.Logger
}

type RawArticle struct {
	Title        string
	Body         string
	SourceURL    string
	Author       string
	ImageURL     string
	PublishedAt  *time.Time
	DiscoveredAt *time.Time
}

// Request is one producer batch for one source. TopicID narrows scoring to a single
// attached topic; zero scores for every enabled topic the source feeds.
type Request struct {
	// BatchUUID is the producer's idempotency key; empty gets a fresh one.
	BatchUUID   string
	SourceID    int64
	TopicID     int64
	Kind        db.ImportKind
	Producer    string
	Operator    string
	Note        string
	Reason      string
	ScrapeError string
	Articles    []RawArticle
}

type LinkResult struct {
	TopicID          int64  `json:"topic_id"`
	LinkUUID         string `json:"link_uuid,omitempty"`
	RelevanceScore   int    `json:"regional_relevance_score"`
	QualityScore     int    `json:"content_quality_score"`
	ProcessingStatus string `json:"processing_status,omitempty"`
	Skipped          string `json:"skipped,omitempty"`
	Error            string `json:"error,omitempty"`
}

type ItemResult struct {
	Index         int          `json:"index"`
	NormalizedURL string       `json:"normalized_url,omitempty"`
	Outcome       string       `json:"outcome"`
	Reason        string       `json:"reason,omitempty"`
	ArticleUUID   string       `json:"article_uuid,omitempty"`
	WordCount     int          `json:"word_count"`
	Links         []LinkResult `json:"links,omitempty"`
	Error         *ItemError   `json:"error,omitempty"`
}

type Result struct {
	BatchUUID      string       `json:"batch_uuid"`
	SourceID       int64        `json:"source_id"`
	Replayed       bool         `json:"replayed,omitempty"`
	Received       int          `json:"received"`
	Admitted       int          `json:"admitted"`
	Seen           int          `json:"seen"`
	Rejected       int          `json:"rejected"`
	Failed         int          `json:"failed"`
	LinksWritten   int          `json:"links_written"`
	LinksProcessed int          `json:"links_processed"`
	LinksFailed    int          `json:"links_failed"`
	Items          []ItemResult `json:"items"`
}

type target struct {
	topic       db.TopicRecord
	tenant      scoring.Tenant
	competitors []scoring.Competitor
}

func NewService(store Store, competitors CompetitorSource, opts Options, logger zerolog.Logger) *Service {
	filter := opts.Filter
	if filter == nil {
		filter = admission.NewFilter(admission.Options{})
	}
	gate := opts.Gate
	if gate == (scoring.Gate{}) {
		gate = scoring.DefaultGate
	}
	return &Service{
		store:       store,
		competitors: competitors,
		filter:      filter,
		gate:        gate,
		languages:   opts.Languages,
		logger:      logger,
	}
}

// IngestBatch returns an error only when the batch as a whole cannot run: unknown source or
// topic, or the ledger is unreachable. Per-article problems are reported in Result.Items.
func (s *Service) IngestBatch(ctx context.Context, req Request) (Result, error) {
	if s == nil || s.store == nil {
		return Result{}, fmt.Errorf("ingest service is not initialized")
	}
	if req.SourceID <= 0 {
		return Result{}, fmt.Errorf("source_id must be > 0")
	}
	kind := req.Kind
	if kind == "" {
		kind = db.ImportKindScrape
	}
	switch kind {
	case db.ImportKindScrape, db.ImportKindManual, db.ImportKindBackfill:
	default:
		return Result{}, fmt.Errorf("unknown import kind %q", kind)
	}
	if kind == db.ImportKindManual && strings.TrimSpace(req.Operator) == "" {
		return Result{}, fmt.Errorf("manual imports require an operator")
	}

	started := globaltime.UTC()
	source, err := s.store.GetSource(ctx, req.SourceID)
	if err != nil {
		if db.IsNoRows(err) {
			return Result{}, fmt.Errorf("%w: %d", ErrUnknownSource, req.SourceID)
		}
		return Result{}, fmt.Errorf("load source %d: %w", req.SourceID, err)
	}

	targets, err := s.resolveTargets(ctx, source, req.TopicID)
	if err != nil {
		return Result{}, err
	}

	batchUUID := strings.TrimSpace(req.BatchUUID)
	if batchUUID == "" {
		batchUUID = uuid.NewString()
	}
	var topicID *int64
	if req.TopicID > 0 {
		topicID = &req.TopicID
	}
	batchID, err := s.store.StartIngestBatch(ctx, db.BatchStart{
		BatchUUID:     batchUUID,
		SourceID:      source.SourceID,
		TopicID:       topicID,
		ImportKind:    kind,
		ItemsReceived: len(req.Articles),
		StartedAt:     started,
	})
	if err != nil {
		if errors.Is(err, db.ErrBatchExists) {
			s.logger.Info().
				Str("batch_uuid", batchUUID).
				Int64("source_id", source.SourceID).
				Msg("ingest batch already recorded; skipping replay")
			return Result{
				BatchUUID: batchUUID,
				SourceID:  source.SourceID,
				Received:  len(req.Articles),
				Replayed:  true,
				Items:     []ItemResult{},
			}, nil
		}
		return Result{}, fmt.Errorf("start ingest batch: %w", err)
	}

	logger := s.logger.With().
		Str("batch_uuid", batchUUID).
		Int64("source_id", source.SourceID).
		Str("import_kind", string(kind)).
		Logger()

	result := Result{
		BatchUUID: batchUUID,
		SourceID:  source.SourceID,
		Received:  len(req.Articles),
		Items:     make([]ItemResult, 0, len(req.Articles)),
	}
	meta := buildMetadata(kind, req, source, batchUUID, started)

	for i, raw := range req.Articles {
		item := s.processArticle(ctx, logger, i, raw, source, targets, meta, started)
		result.add(item)
		metrics.RecordArticle(item.Outcome)
	}

	finishErr := s.store.FinishIngestBatch(ctx, db.BatchFinish{
		BatchID:        batchID,
		Status:         "completed",
		ItemsAdmitted:  result.Admitted,
		ItemsSeen:      result.Seen,
		ItemsRejected:  result.Rejected,
		ItemsFailed:    result.Failed,
		LinksWritten:   result.LinksWritten,
		LinksProcessed: result.LinksProcessed,
		FinishedAt:     globaltime.UTC(),
	})
	if finishErr != nil {
		logger.Warn().Err(finishErr).Msg("failed to close ingest batch ledger row")
	}

	if kind == db.ImportKindScrape {
		s.recordScrape(ctx, logger, source.SourceID, req.ScrapeError, result)
	}

	metrics.ObserveBatch(globaltime.Since(started).Seconds())
	logger.Info().
		Int("received", result.Received).
		Int("admitted", result.Admitted).
		Int("seen", result.Seen).
		Int("rejected", result.Rejected).
		Int("failed", result.Failed).
		Int("links_written", result.LinksWritten).
		Int("links_processed", result.LinksProcessed).
		Msg("ingest batch completed")

	return result, nil
}

func (s *Service) resolveTargets(ctx context.Context, source db.SourceRecord, topicID int64) ([]target, error) {
	var topics []db.TopicRecord
	if topicID > 0 {
		topic, err := s.store.GetTopic(ctx, topicID)
		if err != nil {
			if db.IsNoRows(err) {
				return nil, fmt.Errorf("%w: %d", ErrUnknownTopic, topicID)
			}
			return nil, fmt.Errorf("load topic %d: %w", topicID, err)
		}
		if !topic.Enabled {
			return nil, fmt.Errorf("%w: topic %d is disabled", ErrUnknownTopic, topicID)
		}
		topics = []db.TopicRecord{topic}
	} else {
		listed, err := s.store.ListSourceTopics(ctx, source.SourceID)
		if err != nil {
			return nil, fmt.Errorf("list topics for source %d: %w", source.SourceID, err)
		}
		topics = listed
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("%w: %d", ErrNoTopics, source.SourceID)
	}

	targets := make([]target, 0, len(topics))
	for _, topic := range topics {
		tenant := tenants.FromTopic(topic)
		var competitors []scoring.Competitor
		if s.competitors != nil {
			loaded, err := s.competitors.Competitors(ctx, tenant)
			if err != nil {
				return nil, fmt.Errorf("load competing regions for topic %d: %w", topic.TopicID, err)
			}
			competitors = loaded
		}
		targets = append(targets, target{topic: topic, tenant: tenant, competitors: competitors})
	}
	return targets, nil
}

func (s *Service) processArticle(
	ctx context.Context,
	logger zerolog.Logger,
	index int,
	raw RawArticle,
	source db.SourceRecord,
	targets []target,
	meta db.ImportMetadata,
	now time.Time,
) ItemResult {
	item := ItemResult{Index: index}

	title := strings.TrimSpace(raw.Title)
	normalizedURL := canon.NormalizeURL(raw.SourceURL)
	item.NormalizedURL = normalizedURL
	if err := validateRaw(title, normalizedURL); err != nil {
		item.Outcome = OutcomeFailed
		item.Error = inputError(err)
		logger.Debug().Int("index", index).Err(err).Msg("skipping malformed article")
		return item
	}

	discoveredAt := now
	if raw.DiscoveredAt != nil && !raw.DiscoveredAt.IsZero() {
		discoveredAt = raw.DiscoveredAt.UTC()
	}

	decision := s.filter.Evaluate(admission.Candidate{
		Title:        title,
		Body:         raw.Body,
		PublishedAt:  raw.PublishedAt,
		DiscoveredAt: discoveredAt,
	}, now)
	item.WordCount = decision.WordCount
	if !decision.Admit {
		return s.reject(logger, item, decision.Reason)
	}

	// Freshness is a tenant property, so the article is stored only if some tenant wants it.
	fresh := make([]target, 0, len(targets))
	for _, t := range targets {
		if t.topic.FreshnessSensitive && s.filter.Stale(raw.PublishedAt, discoveredAt, now) {
			continue
		}
		fresh = append(fresh, t)
	}
	if len(fresh) == 0 {
		return s.reject(logger, item, admission.ReasonStale)
	}

	language := ""
	if s.languages != nil {
		language = s.languages.Detect(title, decision.Body)
	}

	admitted, err := s.store.AdmitArticle(ctx, db.AdmitParams{
		NormalizedURL:   normalizedURL,
		URL:             strings.TrimSpace(raw.SourceURL),
		Title:           title,
		Body:            decision.Body,
		Author:          raw.Author,
		ImageURL:        raw.ImageURL,
		PublishedAt:     raw.PublishedAt,
		WordCount:       decision.WordCount,
		SourceDomain:    canon.SourceDomain(raw.SourceURL),
		ContentChecksum: canon.Checksum(title, decision.Body),
		Language:        language,
		SeenAt:          now,
	})
	if err != nil {
		item.Outcome = OutcomeFailed
		item.Error = storageError(err)
		logger.Warn().Err(err).Str("normalized_url", normalizedURL).Msg("failed to admit article")
		return item
	}

	item.ArticleUUID = admitted.ArticleUUID
	item.Outcome = OutcomeSeen
	if admitted.Inserted {
		item.Outcome = OutcomeAdmitted
	}
	logger.Debug().
		Str("normalized_url", normalizedURL).
		Bool("inserted", admitted.Inserted).
		Bool("content_changed", admitted.ContentChanged).
		Msg("article stored")

	article := scoring.Article{
		Title:       title,
		Body:        decision.Body,
		Author:      raw.Author,
		ImageURL:    raw.ImageURL,
		PublishedAt: raw.PublishedAt,
		WordCount:   decision.WordCount,
	}
	quality := scoring.Quality(article)
	sourceID := source.SourceID

	item.Links = make([]LinkResult, 0, len(targets))
	for _, t := range targets {
		link := LinkResult{TopicID: t.topic.TopicID}
		if !containsTarget(fresh, t.topic.TopicID) {
			link.Skipped = string(admission.ReasonStale)
			item.Links = append(item.Links, link)
			continue
		}

		relevance := scoring.AdjustedRelevance(article, t.tenant, t.competitors)
		status := db.LinkStatusNew
		if s.gate.Passes(quality, relevance, decision.WordCount) {
			status = db.LinkStatusProcessed
		}
		link.RelevanceScore = relevance
		link.QualityScore = quality

		upserted, err := s.store.UpsertLink(ctx, db.LinkParams{
			ArticleID:        admitted.ArticleID,
			TopicID:          t.topic.TopicID,
			SourceID:         &sourceID,
			RelevanceScore:   relevance,
			QualityScore:     quality,
			KeywordMatches:   scoring.KeywordMatches(article, t.tenant),
			ProcessingStatus: status,
			ImportMetadata:   meta,
			At:               now,
		})
		if err != nil {
			link.Error = err.Error()
			item.Error = storageError(err)
			logger.Warn().
				Err(err).
				Int64("topic_id", t.topic.TopicID).
				Str("normalized_url", normalizedURL).
				Msg("failed to write tenant link")
			item.Links = append(item.Links, link)
			continue
		}
		link.LinkUUID = upserted.LinkUUID
		link.ProcessingStatus = upserted.ProcessingStatus
		item.Links = append(item.Links, link)
		if upserted.Rescored {
			metrics.RecordLink(upserted.ProcessingStatus)
		}
	}

	return item
}

func (s *Service) reject(logger zerolog.Logger, item ItemResult, reason admission.Reason) ItemResult {
	item.Outcome = OutcomeRejected
	item.Reason = string(reason)
	metrics.RecordRejection(string(reason))
	logger.Debug().
		Int("index", item.Index).
		Str("normalized_url", item.NormalizedURL).
		Str("reason", string(reason)).
		Int("word_count", item.WordCount).
		Msg("article not admitted")
	return item
}

// recordScrape feeds the batch into source health accounting. A scrape succeeded when the
// producer reported no error and at least one article reached the content store.
func (s *Service) recordScrape(ctx context.Context, logger zerolog.Logger, sourceID int64, producerErr string, result Result) {
	outcome := db.ScrapeOutcome{SourceID: sourceID, At: globaltime.UTC()}
	switch {
	case strings.TrimSpace(producerErr) != "":
		outcome.ErrorCategory = strings.TrimSpace(producerErr)
	case result.Admitted+result.Seen > 0:
		outcome.Success = true
	case result.Received == 0:
		outcome.ErrorCategory = ScrapeErrorEmpty
	default:
		outcome.ErrorCategory = ScrapeErrorRejected
	}

	if _, err := s.store.RecordScrape(ctx, outcome); err != nil {
		logger.Warn().Err(err).Msg("failed to record scrape outcome")
	}
}

func (r *Result) add(item ItemResult) {
	switch item.Outcome {
	case OutcomeAdmitted:
		r.Admitted++
	case OutcomeSeen:
		r.Seen++
	case OutcomeRejected:
		r.Rejected++
	default:
		r.Failed++
	}
	for _, link := range item.Links {
		switch {
		case link.Error != "":
			r.LinksFailed++
		case link.LinkUUID != "":
			r.LinksWritten++
			if link.ProcessingStatus == db.LinkStatusProcessed {
				r.LinksProcessed++
			}
		}
	}
	r.Items = append(r.Items, item)
}

func validateRaw(title, normalizedURL string) error {
	if title == "" {
		return fmt.Errorf("title is required")
	}
	if normalizedURL == "" {
		return fmt.Errorf("source_url is required")
	}
	return nil
}

func containsTarget(targets []target, topicID int64) bool {
	for _, t := range targets {
		if t.topic.TopicID == topicID {
			return true
		}
	}
	return false
}

func buildMetadata(kind db.ImportKind, req Request, source db.SourceRecord, batchUUID string, at time.Time) db.ImportMetadata {
	switch kind {
	case db.ImportKindManual:
		return db.ImportMetadata{
			Kind: kind,
			Manual: &db.ManualProvenance{
				Operator:  strings.TrimSpace(req.Operator),
				Note:      strings.TrimSpace(req.Note),
				BatchUUID: batchUUID,
				AddedAt:   at,
			},
		}
	case db.ImportKindBackfill:
		return db.ImportMetadata{
			Kind: kind,
			Backfill: &db.BackfillProvenance{
				BatchUUID: batchUUID,
				Reason:    strings.TrimSpace(req.Reason),
				RanAt:     at,
			},
		}
	default:
		return db.ImportMetadata{
			Kind: db.ImportKindScrape,
			Scrape: &db.ScrapeProvenance{
				SourceID:       source.SourceID,
				ScrapingMethod: source.ScrapingMethod,
				BatchUUID:      batchUUID,
				Producer:       strings.TrimSpace(req.Producer),
				DiscoveredAt:   at,
			},
		}
	}
}
