package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/admission"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/scoring"
)

type linkKey struct {
	articleID int64
	topicID   int64
}

type fakeStore struct {
	sources     map[int64]db.SourceRecord
	topics      map[int64]db.TopicRecord
	attachments map[int64][]int64

	articles   map[string]*db.SharedArticle
	links      map[linkKey]db.LinkParams
	linkStatus map[linkKey]string
	scrapes    []db.ScrapeOutcome
	batches    []db.BatchFinish
	batchUUIDs map[string]bool

	failAdmitURL string
	nextID       int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		sources: map[int64]db.SourceRecord{
			7: {SourceID: 7, Name: "Harbour Gazette", ScrapingMethod: "rss", IsActive: true},
		},
		topics: map[int64]db.TopicRecord{
			1: {TopicID: 1, Slug: "ferries", TopicType: "keyword", Enabled: true, FreshnessSensitive: true,
				Rules: db.TopicRules{Keywords: []string{"ferry"}}},
			2: {TopicID: 2, Slug: "lighthouses", TopicType: "keyword", Enabled: true, FreshnessSensitive: false,
				Rules: db.TopicRules{Keywords: []string{"lighthouse"}}},
			3: {TopicID: 3, Slug: "no-repairs", TopicType: "keyword", Enabled: true, FreshnessSensitive: true,
				Rules: db.TopicRules{Keywords: []string{"ferry"}, NegativeKeywords: []string{"repairs"}}},
		},
		attachments: map[int64][]int64{7: {1, 2, 3}},
		articles:    map[string]*db.SharedArticle{},
		links:       map[linkKey]db.LinkParams{},
		linkStatus:  map[linkKey]string{},
	}
}

func (f *fakeStore) GetSource(_ context.Context, id int64) (db.SourceRecord, error) {
	src, ok := f.sources[id]
	if !ok {
		return db.SourceRecord{}, db.ErrNoRows
	}
	return src, nil
}

func (f *fakeStore) GetTopic(_ context.Context, id int64) (db.TopicRecord, error) {
	topic, ok := f.topics[id]
	if !ok {
		return db.TopicRecord{}, db.ErrNoRows
	}
	return topic, nil
}

func (f *fakeStore) ListSourceTopics(_ context.Context, sourceID int64) ([]db.TopicRecord, error) {
	out := make([]db.TopicRecord, 0)
	for _, id := range f.attachments[sourceID] {
		if topic := f.topics[id]; topic.Enabled {
			out = append(out, topic)
		}
	}
	return out, nil
}

func (f *fakeStore) AdmitArticle(_ context.Context, p db.AdmitParams) (db.Admission, error) {
	if p.NormalizedURL == f.failAdmitURL {
		return db.Admission{}, errors.New("connection reset")
	}
	if existing, ok := f.articles[p.NormalizedURL]; ok {
		changed := existing.ContentChecksum != p.ContentChecksum
		existing.LastSeenAt = p.SeenAt
		if changed {
			existing.Body = p.Body
			existing.ContentChecksum = p.ContentChecksum
		}
		return db.Admission{
			ArticleID:      existing.ArticleID,
			ArticleUUID:    existing.ArticleUUID,
			ContentChanged: changed,
			FirstSeenAt:    existing.FirstSeenAt,
			LastSeenAt:     existing.LastSeenAt,
		}, nil
	}
	f.nextID++
	row := &db.SharedArticle{
		ArticleID:       f.nextID,
		ArticleUUID:     "article-" + p.NormalizedURL,
		NormalizedURL:   p.NormalizedURL,
		Body:            p.Body,
		ContentChecksum: p.ContentChecksum,
		Language:        p.Language,
		FirstSeenAt:     p.SeenAt,
		LastSeenAt:      p.SeenAt,
	}
	f.articles[p.NormalizedURL] = row
	return db.Admission{
		ArticleID:   row.ArticleID,
		ArticleUUID: row.ArticleUUID,
		Inserted:    true,
		FirstSeenAt: row.FirstSeenAt,
		LastSeenAt:  row.LastSeenAt,
	}, nil
}

func (f *fakeStore) UpsertLink(_ context.Context, p db.LinkParams) (db.LinkUpsert, error) {
	if err := p.ImportMetadata.Validate(); err != nil {
		return db.LinkUpsert{}, err
	}
	key := linkKey{articleID: p.ArticleID, topicID: p.TopicID}
	if status, ok := f.linkStatus[key]; ok && status != db.LinkStatusNew {
		return db.LinkUpsert{LinkUUID: "link", ProcessingStatus: status}, nil
	}
	_, existed := f.links[key]
	f.links[key] = p
	f.linkStatus[key] = p.ProcessingStatus
	return db.LinkUpsert{LinkUUID: "link", ProcessingStatus: p.ProcessingStatus, Inserted: !existed, Rescored: true}, nil
}

func (f *fakeStore) StartIngestBatch(_ context.Context, start db.BatchStart) (int64, error) {
	if f.batchUUIDs == nil {
		f.batchUUIDs = map[string]bool{}
	}
	if f.batchUUIDs[start.BatchUUID] {
		return 0, fmt.Errorf("%w: %s", db.ErrBatchExists, start.BatchUUID)
	}
	f.batchUUIDs[start.BatchUUID] = true
	return int64(len(f.batchUUIDs)), nil
}

func (f *fakeStore) FinishIngestBatch(_ context.Context, finish db.BatchFinish) error {
	f.batches = append(f.batches, finish)
	return nil
}

func (f *fakeStore) RecordScrape(_ context.Context, outcome db.ScrapeOutcome) (db.SourceRecord, error) {
	f.scrapes = append(f.scrapes, outcome)
	return f.sources[outcome.SourceID], nil
}

type fixedLanguage string

func (l fixedLanguage) Detect(string, string) string { return string(l) }

func proseBody(sentences int) string {
	sentence := "The harbour ferry service resumed on Monday after repairs to the northern pier were completed by contractors."
	return strings.TrimSpace(strings.Repeat(sentence+" ", sentences))
}

func freshArticle(url string) RawArticle {
	published := time.Now().UTC().Add(-2 * time.Hour)
	return RawArticle{
		Title:       "Harbour ferry service resumes after pier repairs",
		Body:        proseBody(10),
		SourceURL:   url,
		Author:      "A. Writer",
		PublishedAt: &published,
	}
}

func newTestService(store *fakeStore) *Service {
	return NewService(store, nil, Options{
		Filter:    admission.NewFilter(admission.Options{RecencyWindow: admission.DefaultRecencyWindow}),
		Languages: fixedLanguage("en"),
	}, zerolog.Nop())
}

func TestIngestBatchIdempotentAdmission(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.IngestBatch(ctx, Request{SourceID: 7, Articles: []RawArticle{freshArticle("https://www.harbour.example/news/ferry?utm_source=rss")}})
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	second, err := svc.IngestBatch(ctx, Request{SourceID: 7, Articles: []RawArticle{freshArticle("http://harbour.example/news/ferry/")}})
	if err != nil {
		t.Fatalf("second batch: %v", err)
	}

	if len(store.articles) != 1 {
		t.Fatalf("expected exactly one canonical article, got %d", len(store.articles))
	}
	if first.Admitted != 1 || second.Seen != 1 || second.Admitted != 0 {
		t.Fatalf("unexpected outcomes: first=%+v second=%+v", first, second)
	}
	row := store.articles["harbour.example/news/ferry"]
	if row == nil || row.LastSeenAt.Before(row.FirstSeenAt) {
		t.Fatalf("expected last_seen_at to be maintained: %+v", row)
	}
	if row.Language != "en" {
		t.Fatalf("expected detected language to be stored, got %q", row.Language)
	}
	if len(store.links) != 3 {
		t.Fatalf("expected one link per topic, got %d", len(store.links))
	}
}

func TestIngestBatchProcessedGating(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)

	result, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, Articles: []RawArticle{freshArticle("https://harbour.example/a")}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.LinksWritten != 3 || result.LinksProcessed != 1 {
		t.Fatalf("unexpected link counts: %+v", result)
	}

	statuses := map[int64]string{}
	for key, status := range store.linkStatus {
		statuses[key.topicID] = status
	}
	if statuses[1] != db.LinkStatusProcessed {
		t.Fatalf("expected keyword hit to be processed, got %q", statuses[1])
	}
	if statuses[2] != db.LinkStatusNew {
		t.Fatalf("expected zero relevance to stay new, got %q", statuses[2])
	}
	if statuses[3] != db.LinkStatusNew {
		t.Fatalf("expected negative keyword to stay new, got %q", statuses[3])
	}

	for key, params := range store.links {
		if key.topicID == 3 && params.RelevanceScore != 0 {
			t.Fatalf("expected disqualified relevance 0, got %d", params.RelevanceScore)
		}
		if key.topicID == 1 && (params.QualityScore < 60 || len(params.KeywordMatches) != 1) {
			t.Fatalf("unexpected scored link: %+v", params)
		}
		if params.ImportMetadata.Kind != db.ImportKindScrape || params.ImportMetadata.Scrape.BatchUUID != result.BatchUUID {
			t.Fatalf("expected scrape provenance with batch uuid, got %+v", params.ImportMetadata)
		}
	}
}

func TestIngestBatchIsolatesItemFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.failAdmitURL = "harbour.example/broken"
	svc := newTestService(store)

	missingTitle := freshArticle("https://harbour.example/untitled")
	missingTitle.Title = "  "
	snippet := freshArticle("https://harbour.example/teaser")
	snippet.Body = "Local council discusses the new harbour plans for the coming year and residents respond. Read more at example.com..."

	result, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, Articles: []RawArticle{
		missingTitle,
		freshArticle("https://harbour.example/broken"),
		snippet,
		freshArticle("https://harbour.example/good"),
	}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if result.Failed != 2 || result.Rejected != 1 || result.Admitted != 1 {
		t.Fatalf("unexpected summary: %+v", result)
	}
	if got := result.Items[0].Error; got == nil || got.Category != CategoryInput {
		t.Fatalf("expected input error for missing title, got %+v", got)
	}
	if got := result.Items[1].Error; got == nil || got.Category != CategoryStorage {
		t.Fatalf("expected storage error, got %+v", got)
	}
	if result.Items[2].Reason != string(admission.ReasonTooShort) {
		t.Fatalf("expected short snippet to be rejected as too_short, got %q", result.Items[2].Reason)
	}
	if len(store.batches) != 1 || store.batches[0].ItemsFailed != 2 {
		t.Fatalf("expected ledger row to carry the summary, got %+v", store.batches)
	}
	if len(store.scrapes) != 1 || !store.scrapes[0].Success {
		t.Fatalf("expected a successful scrape to be recorded, got %+v", store.scrapes)
	}
}

func TestIngestBatchFreshnessIsPerTenant(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)

	old := freshArticle("https://harbour.example/old-lighthouse")
	published := time.Now().UTC().Add(-30 * 24 * time.Hour)
	old.PublishedAt = &published

	result, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, Articles: []RawArticle{old}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if result.Admitted != 1 || result.LinksWritten != 1 {
		t.Fatalf("expected stale article stored only for the relaxed topic: %+v", result)
	}
	for key := range store.links {
		if key.topicID != 2 {
			t.Fatalf("unexpected link for freshness-sensitive topic %d", key.topicID)
		}
	}

	onlyFresh, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, TopicID: 1, Articles: []RawArticle{old}})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if onlyFresh.Rejected != 1 || onlyFresh.Items[0].Reason != string(admission.ReasonStale) {
		t.Fatalf("expected stale rejection when every target is freshness-sensitive: %+v", onlyFresh)
	}
}

func TestIngestBatchRecordsScrapeFailures(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)

	if _, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, ScrapeError: "timeout"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.IngestBatch(context.Background(), Request{SourceID: 7}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if _, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, Kind: db.ImportKindBackfill, Reason: "gap"}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	if len(store.scrapes) != 2 {
		t.Fatalf("expected backfills to skip scrape accounting, got %d outcomes", len(store.scrapes))
	}
	if store.scrapes[0].Success || store.scrapes[0].ErrorCategory != "timeout" {
		t.Fatalf("unexpected producer failure outcome: %+v", store.scrapes[0])
	}
	if store.scrapes[1].ErrorCategory != ScrapeErrorEmpty {
		t.Fatalf("expected empty category, got %+v", store.scrapes[1])
	}
}

func TestIngestBatchRejectsBadRequests(t *testing.T) {
	t.Parallel()

	svc := newTestService(newFakeStore())
	ctx := context.Background()

	if _, err := svc.IngestBatch(ctx, Request{SourceID: 99}); !errors.Is(err, ErrUnknownSource) {
		t.Fatalf("expected ErrUnknownSource, got %v", err)
	}
	if _, err := svc.IngestBatch(ctx, Request{SourceID: 7, TopicID: 42}); !errors.Is(err, ErrUnknownTopic) {
		t.Fatalf("expected ErrUnknownTopic, got %v", err)
	}
	if _, err := svc.IngestBatch(ctx, Request{SourceID: 7, Kind: db.ImportKindManual}); err == nil {
		t.Fatalf("expected manual import without operator to fail")
	}
	if _, err := svc.IngestBatch(ctx, Request{SourceID: 7, Kind: "carrier-pigeon"}); err == nil {
		t.Fatalf("expected unknown import kind to fail")
	}
}

type stubCompetitors struct {
	competitors []scoring.Competitor
}

func (s stubCompetitors) Competitors(context.Context, scoring.Tenant) ([]scoring.Competitor, error) {
	return s.competitors, nil
}

func TestIngestBatchAppliesCompetingPenalty(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	store.topics[4] = db.TopicRecord{
		TopicID: 4, Slug: "harbourtown", TopicType: "regional", Enabled: true,
		Rules: db.TopicRules{Keywords: []string{"ferry"}, Region: "Harbourtown"},
	}
	svc := NewService(store, stubCompetitors{competitors: []scoring.Competitor{{Name: "Rivermouth", Landmarks: []string{"Old Bridge"}}}}, Options{}, zerolog.Nop())

	article := freshArticle("https://harbour.example/rivermouth")
	article.Title = "Rivermouth ferry resumes at Old Bridge"

	if _, err := svc.IngestBatch(context.Background(), Request{SourceID: 7, TopicID: 4, Articles: []RawArticle{article}}); err != nil {
		t.Fatalf("ingest: %v", err)
	}
	for key, params := range store.links {
		if key.topicID == 4 && params.RelevanceScore != 0 {
			t.Fatalf("expected competitor-dominated article to score 0, got %d", params.RelevanceScore)
		}
	}
}

func TestIngestBatchReplayedBatchIsIdempotent(t *testing.T) {
	t.Parallel()

	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()
	const key = "5f0d7a6e-2c1b-4e8a-9a43-6b2f1d0c7e11"

	req := Request{BatchUUID: key, SourceID: 7, Articles: []RawArticle{freshArticle("https://harbour.example/news/ferry")}}
	first, err := svc.IngestBatch(ctx, req)
	if err != nil {
		t.Fatalf("first batch: %v", err)
	}
	if first.BatchUUID != key || first.Replayed || first.Admitted != 1 {
		t.Fatalf("unexpected first result: %+v", first)
	}

	second, err := svc.IngestBatch(ctx, req)
	if err != nil {
		t.Fatalf("replayed batch should succeed, got %v", err)
	}
	if !second.Replayed || second.BatchUUID != key || second.Admitted != 0 || second.Seen != 0 {
		t.Fatalf("expected replay summary, got %+v", second)
	}
	if len(store.batches) != 1 {
		t.Fatalf("expected the replay to leave the ledger alone, got %d finished batches", len(store.batches))
	}
	if len(store.scrapes) != 1 {
		t.Fatalf("expected one scrape attempt, got %d", len(store.scrapes))
	}

	other, err := svc.IngestBatch(ctx, Request{SourceID: 7, Articles: []RawArticle{freshArticle("https://harbour.example/news/ferry")}})
	if err != nil || other.Replayed || other.BatchUUID == key {
		t.Fatalf("expected a fresh batch uuid without a key, got %+v (%v)", other, err)
	}
}
