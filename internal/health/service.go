package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/globaltime"
	"horse.fit/curate/internal/metrics"
	"horse.fit/curate/internal/sourceprobe"
)

const (
	ResultApplied   = "applied"
	ResultDryRun    = "dry_run"
	ResultLogged    = "logged"
	ResultConflict  = "conflict"
	ResultFailed    = "failed"
	ResultUnchanged = "unchanged"
)

// Store is the persistence surface health needs; *db.Pool implements it.
type Store interface {
	ListSources(ctx context.Context) ([]db.SourceRecord, error)
	ApplyHealthAction(ctx context.Context, params db.HealthActionParams) error
	RecordHealthEvent(ctx context.Context, params db.HealthActionParams) error
	RecordScrape(ctx context.Context, outcome db.ScrapeOutcome) (db.SourceRecord, error)
	ListHealthEvents(ctx context.Context, sourceID int64, limit int) ([]db.HealthEventRecord, error)
}

type Prober interface {
	Probe(ctx context.Context, rawURL string) sourceprobe.Result
}

type Service struct {
	store      Store
	prober     Prober
	thresholds Thresholds
	logger     zerolog.Logger
}

func NewService(store Store, prober Prober, thresholds Thresholds, logger zerolog.Logger) *Service {
	return &Service{
		store:      store,
		prober:     prober,
		thresholds: thresholds,
		logger:     logger,
	}
}

type Outcome struct {
	Recommendation
	Result string `json:"result"`
	Error  string `json:"error,omitempty"`
}

type Report struct {
	DryRun      bool      `json:"dry_run"`
	EvaluatedAt time.Time `json:"evaluated_at"`
	Evaluated   int       `json:"evaluated"`
	Deactivated int       `json:"deactivated"`
	Switched    int       `json:"method_changed"`
	Flagged     int       `json:"investigate"`
	Failed      int       `json:"failed"`
	Outcomes    []Outcome `json:"outcomes"`
}

// EvaluateAll judges every active source against the whole source population and applies
// the results unless dryRun is set. A failing action is recorded on its outcome and never
// stops the others.
func (s *Service) EvaluateAll(ctx context.Context, dryRun bool) (Report, error) {
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("list sources: %w", err)
	}

	now := globaltime.UTC()
	report := Report{DryRun: dryRun, EvaluatedAt: now}
	outcomes := make([]Outcome, 0, len(sources))
	for _, source := range sources {
		if !source.IsActive {
			continue
		}
		rec := Evaluate(source, sources, s.thresholds)
		outcomes = append(outcomes, Outcome{Recommendation: rec, Result: ResultUnchanged})
	}

	// Sources are independent; every action runs at once and reports into its own slot.
	group, groupCtx := errgroup.WithContext(ctx)
	for i := range outcomes {
		if outcomes[i].Action == ActionNone {
			continue
		}
		if dryRun {
			outcomes[i].Result = ResultDryRun
			continue
		}
		i := i
		group.Go(func() error {
			outcomes[i] = s.apply(groupCtx, outcomes[i], now)
			return nil
		})
	}
	_ = group.Wait()

	report.Outcomes = outcomes
	report.Evaluated = len(outcomes)
	for _, outcome := range outcomes {
		if outcome.Result == ResultFailed || outcome.Result == ResultConflict {
			report.Failed++
			continue
		}
		switch outcome.Action {
		case ActionDeactivate:
			report.Deactivated++
		case ActionMethodChange:
			report.Switched++
		case ActionInvestigate:
			report.Flagged++
		}
	}

	s.logger.Info().
		Bool("dry_run", dryRun).
		Int("evaluated", report.Evaluated).
		Int("deactivated", report.Deactivated).
		Int("method_changed", report.Switched).
		Int("investigate", report.Flagged).
		Int("failed", report.Failed).
		Msg("source health evaluated")

	return report, nil
}

func (s *Service) apply(ctx context.Context, outcome Outcome, at time.Time) Outcome {
	rec := outcome.Recommendation
	log := s.logger.With().
		Int64("source_id", rec.SourceID).
		Str("source", rec.SourceName).
		Str("action", string(rec.Action)).
		Float64("success_rate", rec.SuccessRate).
		Logger()

	params := db.HealthActionParams{
		SourceID:     rec.SourceID,
		Action:       string(rec.Action),
		MethodBefore: rec.CurrentMethod,
		MethodAfter:  rec.CurrentMethod,
		ActiveBefore: true,
		ActiveAfter:  true,
		SuccessRate:  rec.SuccessRate,
		At:           at,
	}
	if rec.Reason != nil {
		params.Reason = *rec.Reason
	}

	var err error
	switch rec.Action {
	case ActionDeactivate:
		params.ActiveAfter = false
		err = s.store.ApplyHealthAction(ctx, params)
	case ActionMethodChange:
		params.MethodAfter = rec.SuggestedMethod
		err = s.store.ApplyHealthAction(ctx, params)
	case ActionInvestigate:
		// Only the critical override leaves an audit row; plain investigations are log-only.
		if rec.Reason != nil && rec.Reason.Investigation != nil && rec.Reason.Investigation.CriticalOverride {
			err = s.store.RecordHealthEvent(ctx, params)
		}
		if err == nil {
			log.Warn().Str("explanation", rec.Explanation).Msg("source needs investigation")
			metrics.RecordHealthAction(string(rec.Action), ResultLogged)
			outcome.Result = ResultLogged
			return outcome
		}
	}

	switch {
	case err == nil:
		log.Info().
			Str("method_after", params.MethodAfter).
			Str("explanation", rec.Explanation).
			Msg("source health action applied")
		outcome.Result = ResultApplied
	case errors.Is(err, db.ErrSourceChanged):
		log.Warn().Msg("source changed since evaluation; action skipped")
		outcome.Result = ResultConflict
		outcome.Error = err.Error()
	default:
		log.Warn().Err(err).Msg("source health action failed")
		outcome.Result = ResultFailed
		outcome.Error = err.Error()
	}
	metrics.RecordHealthAction(string(rec.Action), outcome.Result)
	return outcome
}

// Events returns the newest audit rows first; sourceID zero lists every source.
func (s *Service) Events(ctx context.Context, sourceID int64, limit int) ([]db.HealthEventRecord, error) {
	events, err := s.store.ListHealthEvents(ctx, sourceID, limit)
	if err != nil {
		return nil, fmt.Errorf("list health events: %w", err)
	}
	return events, nil
}

type ProbeOutcome struct {
	SourceID   int64              `json:"source_id"`
	SourceName string             `json:"source_name"`
	Probe      sourceprobe.Result `json:"probe"`
	Recorded   bool               `json:"recorded"`
	Error      string             `json:"error,omitempty"`
}

type ProbeReport struct {
	Probed   int            `json:"probed"`
	Healthy  int            `json:"healthy"`
	Failing  int            `json:"failing"`
	Outcomes []ProbeOutcome `json:"outcomes"`
}

// ProbeAll checks the feed URL of every active source. With record set, each result is
// also counted as a scrape attempt.
func (s *Service) ProbeAll(ctx context.Context, record bool) (ProbeReport, error) {
	if s.prober == nil {
		return ProbeReport{}, fmt.Errorf("prober is not configured")
	}
	sources, err := s.store.ListSources(ctx)
	if err != nil {
		return ProbeReport{}, fmt.Errorf("list sources: %w", err)
	}

	active := make([]db.SourceRecord, 0, len(sources))
	for _, source := range sources {
		if source.IsActive {
			active = append(active, source)
		}
	}

	outcomes := make([]ProbeOutcome, len(active))
	group, groupCtx := errgroup.WithContext(ctx)
	for i, source := range active {
		i, source := i, source
		group.Go(func() error {
			outcomes[i] = s.probeOne(groupCtx, source, record)
			return nil
		})
	}
	_ = group.Wait()

	report := ProbeReport{Probed: len(outcomes), Outcomes: outcomes}
	for _, outcome := range outcomes {
		if outcome.Probe.OK {
			report.Healthy++
		} else {
			report.Failing++
		}
	}
	s.logger.Info().
		Int("probed", report.Probed).
		Int("healthy", report.Healthy).
		Int("failing", report.Failing).
		Bool("recorded", record).
		Msg("source probe complete")
	return report, nil
}

func (s *Service) probeOne(ctx context.Context, source db.SourceRecord, record bool) ProbeOutcome {
	result := s.prober.Probe(ctx, source.FeedURL)
	outcome := ProbeOutcome{
		SourceID:   source.SourceID,
		SourceName: source.Name,
		Probe:      result,
	}
	if !result.OK {
		metrics.RecordProbeFailure(string(result.Category))
		s.logger.Warn().
			Int64("source_id", source.SourceID).
			Str("url", source.FeedURL).
			Str("category", string(result.Category)).
			Int("status_code", result.StatusCode).
			Msg("source probe failed")
	}
	if !record {
		return outcome
	}

	_, err := s.store.RecordScrape(ctx, db.ScrapeOutcome{
		SourceID:      source.SourceID,
		Success:       result.OK,
		ErrorCategory: string(result.Category),
		At:            result.CheckedAt,
	})
	if err != nil {
		outcome.Error = err.Error()
		s.logger.Warn().Err(err).Int64("source_id", source.SourceID).Msg("record probe attempt failed")
		return outcome
	}
	outcome.Recorded = true
	return outcome
}
