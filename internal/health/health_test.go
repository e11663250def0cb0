package health

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/sourceprobe"
)

func source(id int64, method string, rate float64) db.SourceRecord {
	return db.SourceRecord{
		SourceID:       id,
		Name:           "source",
		FeedURL:        "https://example.com/feed",
		ScrapingMethod: method,
		AttemptCount:   20,
		SuccessCount:   int(rate / 5),
		SuccessRate:    rate,
		IsActive:       true,
	}
}

func TestEvaluateDeactivatesBelowFloor(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 8)
	rec := Evaluate(src, []db.SourceRecord{src}, DefaultThresholds)
	if rec.Action != ActionDeactivate {
		t.Fatalf("expected deactivate, got %s (%s)", rec.Action, rec.Explanation)
	}
	if rec.Reason == nil || rec.Reason.Deactivation == nil || rec.Reason.Deactivation.Threshold != 10 {
		t.Fatalf("expected deactivation reason, got %+v", rec.Reason)
	}
	if err := rec.Reason.Validate(); err != nil {
		t.Fatalf("reason should validate: %v", err)
	}
}

func TestEvaluateCriticalSourceIsOnlyInvestigated(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 4)
	src.IsCritical = true
	rec := Evaluate(src, nil, DefaultThresholds)
	if rec.Action != ActionInvestigate {
		t.Fatalf("expected investigate, got %s", rec.Action)
	}
	if rec.Reason == nil || rec.Reason.Investigation == nil || !rec.Reason.Investigation.CriticalOverride {
		t.Fatalf("expected critical override reason, got %+v", rec.Reason)
	}
}

func TestEvaluateInvestigatesWithoutAlternative(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 35)
	siblings := []db.SourceRecord{
		src,
		source(2, "rss", 40),
		source(3, "rss", 45),
		source(4, "rss", 50),
	}
	rec := Evaluate(src, siblings, DefaultThresholds)
	if rec.Action != ActionInvestigate {
		t.Fatalf("expected investigate, got %s (%s)", rec.Action, rec.Explanation)
	}
	if rec.Reason.Investigation.CriticalOverride {
		t.Fatalf("plain investigation must not carry the critical override")
	}
}

func TestEvaluateSwitchesToBetterMethod(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 20)
	siblings := []db.SourceRecord{
		src,
		source(2, "browser", 60),
		source(3, "browser", 70),
		source(4, "browser", 80),
		source(5, "rss", 90),
	}
	rec := Evaluate(src, siblings, DefaultThresholds)
	if rec.Action != ActionMethodChange {
		t.Fatalf("expected method_change, got %s (%s)", rec.Action, rec.Explanation)
	}
	if rec.SuggestedMethod != "browser" {
		t.Fatalf("expected browser, got %q", rec.SuggestedMethod)
	}
	mc := rec.Reason.MethodChange
	if mc.AlternativeRate != 70 || mc.Delta != 50 || mc.GroupSize != 3 || mc.Opportunistic {
		t.Fatalf("unexpected method change reason: %+v", mc)
	}
	if mc.PreviousAttempts != 20 {
		t.Fatalf("expected previous attempts to be kept, got %d", mc.PreviousAttempts)
	}
}

func TestEvaluateOpportunisticSwitch(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 50)
	siblings := []db.SourceRecord{
		src,
		source(2, "api", 85),
		source(3, "api", 90),
		source(4, "api", 95),
	}
	rec := Evaluate(src, siblings, DefaultThresholds)
	if rec.Action != ActionMethodChange || !rec.Reason.MethodChange.Opportunistic {
		t.Fatalf("expected opportunistic method change, got %s %+v", rec.Action, rec.Reason)
	}

	siblings[1].SuccessRate = 70
	siblings[2].SuccessRate = 75
	siblings[3].SuccessRate = 80
	rec = Evaluate(src, siblings, DefaultThresholds)
	if rec.Action != ActionNone {
		t.Fatalf("a 25 point gap on a healthy source should not switch, got %s", rec.Action)
	}
}

func TestEvaluateIgnoresSmallAndInexperiencedGroups(t *testing.T) {
	t.Parallel()

	src := source(1, "rss", 20)
	rookie := source(4, "browser", 100)
	rookie.AttemptCount = 2
	siblings := []db.SourceRecord{
		src,
		source(2, "browser", 90),
		source(3, "browser", 95),
		rookie,
	}
	rec := Evaluate(src, siblings, DefaultThresholds)
	if rec.Action != ActionInvestigate {
		t.Fatalf("expected investigate when the only better group is too small, got %s", rec.Action)
	}
	if groups := MethodGroups(src.SourceID, siblings, DefaultThresholds); len(groups) != 0 {
		t.Fatalf("expected no valid groups, got %+v", groups)
	}
}

func TestEvaluateSkipsUnjudgeableSources(t *testing.T) {
	t.Parallel()

	fresh := source(1, "rss", 0)
	fresh.AttemptCount = 3
	if rec := Evaluate(fresh, nil, DefaultThresholds); rec.Action != ActionNone {
		t.Fatalf("expected none below min attempts, got %s", rec.Action)
	}

	inactive := source(2, "rss", 0)
	inactive.IsActive = false
	if rec := Evaluate(inactive, nil, DefaultThresholds); rec.Action != ActionNone {
		t.Fatalf("expected none for inactive source, got %s", rec.Action)
	}

	healthy := source(3, "rss", 75)
	if rec := Evaluate(healthy, nil, DefaultThresholds); rec.Action != ActionNone {
		t.Fatalf("expected none for healthy source, got %s", rec.Action)
	}
}

type stubStore struct {
	mu      sync.Mutex
	sources []db.SourceRecord
	applied []db.HealthActionParams
	events  []db.HealthActionParams
	scrapes []db.ScrapeOutcome
	failFor map[int64]error
	listErr error
}

func (s *stubStore) ListSources(context.Context) ([]db.SourceRecord, error) {
	return s.sources, s.listErr
}

func (s *stubStore) ApplyHealthAction(_ context.Context, params db.HealthActionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failFor[params.SourceID]; err != nil {
		return err
	}
	s.applied = append(s.applied, params)
	return nil
}

func (s *stubStore) RecordHealthEvent(_ context.Context, params db.HealthActionParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, params)
	return nil
}

func (s *stubStore) RecordScrape(_ context.Context, outcome db.ScrapeOutcome) (db.SourceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scrapes = append(s.scrapes, outcome)
	return db.SourceRecord{SourceID: outcome.SourceID}, nil
}

func (s *stubStore) ListHealthEvents(_ context.Context, sourceID int64, limit int) ([]db.HealthEventRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]db.HealthEventRecord, 0, len(s.events))
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		event := s.events[i]
		if sourceID != 0 && event.SourceID != sourceID {
			continue
		}
		out = append(out, db.HealthEventRecord{
			SourceID:     event.SourceID,
			Action:       event.Action,
			MethodBefore: event.MethodBefore,
			MethodAfter:  event.MethodAfter,
			SuccessRate:  event.SuccessRate,
		})
	}
	return out, nil
}

func population() []db.SourceRecord {
	critical := source(3, "rss", 5)
	critical.IsCritical = true
	inactive := source(9, "rss", 0)
	inactive.IsActive = false
	return []db.SourceRecord{
		source(1, "rss", 8),
		source(2, "rss", 20),
		critical,
		source(4, "browser", 80),
		source(5, "browser", 85),
		source(6, "browser", 90),
		source(7, "rss", 35),
		inactive,
	}
}

func TestEvaluateAllAppliesActions(t *testing.T) {
	t.Parallel()

	store := &stubStore{sources: population()}
	svc := NewService(store, nil, DefaultThresholds, zerolog.Nop())

	report, err := svc.EvaluateAll(context.Background(), false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Evaluated != 7 {
		t.Fatalf("expected 7 active sources evaluated, got %d", report.Evaluated)
	}
	if report.Deactivated != 1 || report.Switched != 2 || report.Flagged != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report counts: %+v", report)
	}
	if len(store.applied) != 3 {
		t.Fatalf("expected 3 mutations, got %d", len(store.applied))
	}
	if len(store.events) != 1 || store.events[0].SourceID != 3 {
		t.Fatalf("expected one audit row for the critical source, got %+v", store.events)
	}

	for _, params := range store.applied {
		switch params.SourceID {
		case 1:
			if params.Action != db.HealthActionDeactivate || params.ActiveAfter {
				t.Fatalf("source 1 should be deactivated: %+v", params)
			}
		case 2, 7:
			if params.Action != db.HealthActionMethodChange || params.MethodAfter != "browser" {
				t.Fatalf("source %d should switch to browser: %+v", params.SourceID, params)
			}
		default:
			t.Fatalf("unexpected mutation for source %d", params.SourceID)
		}
	}
}

func TestEvaluateAllDryRunWritesNothing(t *testing.T) {
	t.Parallel()

	store := &stubStore{sources: population()}
	svc := NewService(store, nil, DefaultThresholds, zerolog.Nop())

	report, err := svc.EvaluateAll(context.Background(), true)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(store.applied) != 0 || len(store.events) != 0 {
		t.Fatalf("dry run must not write: applied=%d events=%d", len(store.applied), len(store.events))
	}
	for _, outcome := range report.Outcomes {
		if outcome.Action != ActionNone && outcome.Result != ResultDryRun {
			t.Fatalf("expected dry_run result for source %d, got %s", outcome.SourceID, outcome.Result)
		}
	}
}

func TestEvaluateAllIsolatesFailures(t *testing.T) {
	t.Parallel()

	store := &stubStore{
		sources: population(),
		failFor: map[int64]error{
			1: errors.New("connection reset"),
			2: db.ErrSourceChanged,
		},
	}
	svc := NewService(store, nil, DefaultThresholds, zerolog.Nop())

	report, err := svc.EvaluateAll(context.Background(), false)
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.Failed != 2 {
		t.Fatalf("expected 2 failed outcomes, got %d", report.Failed)
	}
	if len(store.applied) != 1 || store.applied[0].SourceID != 7 {
		t.Fatalf("expected source 7 to still be switched, got %+v", store.applied)
	}

	results := map[int64]string{}
	for _, outcome := range report.Outcomes {
		results[outcome.SourceID] = outcome.Result
	}
	if results[1] != ResultFailed || results[2] != ResultConflict {
		t.Fatalf("unexpected results: %+v", results)
	}
}

func TestEvaluateAllListError(t *testing.T) {
	t.Parallel()

	store := &stubStore{listErr: errors.New("db down")}
	svc := NewService(store, nil, DefaultThresholds, zerolog.Nop())
	if _, err := svc.EvaluateAll(context.Background(), false); err == nil {
		t.Fatalf("expected error when sources cannot be listed")
	}
}

type stubProber struct {
	results map[string]sourceprobe.Result
}

func (p stubProber) Probe(_ context.Context, rawURL string) sourceprobe.Result {
	return p.results[rawURL]
}

func TestProbeAllRecordsAttempts(t *testing.T) {
	t.Parallel()

	up := source(1, "rss", 90)
	up.FeedURL = "https://up.example/feed"
	down := source(2, "rss", 90)
	down.FeedURL = "https://down.example/feed"
	off := source(3, "rss", 90)
	off.IsActive = false

	store := &stubStore{sources: []db.SourceRecord{up, down, off}}
	prober := stubProber{results: map[string]sourceprobe.Result{
		up.FeedURL:   {URL: up.FeedURL, OK: true, StatusCode: 200},
		down.FeedURL: {URL: down.FeedURL, Category: sourceprobe.CategoryHTTP5xx, StatusCode: 503},
	}}
	svc := NewService(store, prober, DefaultThresholds, zerolog.Nop())

	report, err := svc.ProbeAll(context.Background(), true)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if report.Probed != 2 || report.Healthy != 1 || report.Failing != 1 {
		t.Fatalf("unexpected probe report: %+v", report)
	}
	if len(store.scrapes) != 2 {
		t.Fatalf("expected 2 recorded attempts, got %d", len(store.scrapes))
	}
	for _, scrape := range store.scrapes {
		if scrape.SourceID == 2 && (scrape.Success || scrape.ErrorCategory != "http_5xx") {
			t.Fatalf("unexpected failure record: %+v", scrape)
		}
	}
}

func TestProbeAllWithoutRecord(t *testing.T) {
	t.Parallel()

	store := &stubStore{sources: []db.SourceRecord{source(1, "rss", 90)}}
	prober := stubProber{results: map[string]sourceprobe.Result{}}
	svc := NewService(store, prober, DefaultThresholds, zerolog.Nop())

	report, err := svc.ProbeAll(context.Background(), false)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if len(store.scrapes) != 0 || report.Outcomes[0].Recorded {
		t.Fatalf("probe without record must not write attempts")
	}
}

func TestEventsListsAuditTrail(t *testing.T) {
	t.Parallel()

	store := &stubStore{sources: population()}
	svc := NewService(store, nil, DefaultThresholds, zerolog.Nop())
	if _, err := svc.EvaluateAll(context.Background(), false); err != nil {
		t.Fatalf("EvaluateAll failed: %v", err)
	}

	events, err := svc.Events(context.Background(), 3, 10)
	if err != nil {
		t.Fatalf("Events failed: %v", err)
	}
	if len(events) != 1 || events[0].Action != string(ActionInvestigate) {
		t.Fatalf("expected one investigate event for source 3, got %+v", events)
	}
	if events, _ := svc.Events(context.Background(), 1, 10); len(events) != 0 {
		t.Fatalf("expected no events for source 1, got %+v", events)
	}
}

func TestEvaluateWaitsForMinAttempts(t *testing.T) {
	t.Parallel()

	fresh := source(1, "rss", 8)
	fresh.AttemptCount = 4

	if rec := Evaluate(fresh, nil, DefaultThresholds); rec.Action != ActionNone {
		t.Fatalf("expected no verdict during warm-up, got %s", rec.Action)
	}

	noWarmUp := DefaultThresholds
	noWarmUp.MinAttempts = 0
	if rec := Evaluate(fresh, nil, noWarmUp); rec.Action != ActionDeactivate {
		t.Fatalf("expected deactivate without a warm-up, got %s (%s)", rec.Action, rec.Explanation)
	}
}

func TestBestAlternativeIgnoresPaddedMethod(t *testing.T) {
	t.Parallel()

	padded := source(1, "rss ", 25)
	siblings := []db.SourceRecord{
		padded,
		source(2, "rss", 80),
		source(3, "rss", 80),
		source(4, "rss", 80),
	}

	if group, ok := BestAlternative(padded, siblings, DefaultThresholds); ok {
		t.Fatalf("expected the source's own method not to count as an alternative, got %+v", group)
	}
	if rec := Evaluate(padded, siblings, DefaultThresholds); rec.Action != ActionInvestigate {
		t.Fatalf("expected investigate without a real alternative, got %s", rec.Action)
	}
}
