package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/health"
	"horse.fit/curate/internal/ingest"
	"horse.fit/curate/internal/kv"
	"horse.fit/curate/internal/links"
	"horse.fit/curate/internal/stories"
)

const testLinkUUID = "0b7c3a1e-6f0e-4a55-9d36-1d2a8f1c9e10"

type stubIngester struct {
	mu    sync.Mutex
	calls []ingest.Request
	err   error
}

func (s *stubIngester) IngestBatch(_ context.Context, req ingest.Request) (ingest.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, req)
	if s.err != nil {
		return ingest.Result{}, s.err
	}
	return ingest.Result{SourceID: req.SourceID, Received: len(req.Articles), Admitted: len(req.Articles)}, nil
}

type stubLinks struct {
	status map[string]string
}

func (s *stubLinks) List(_ context.Context, topicID int64, status string, limit int) ([]db.LinkRecord, error) {
	return []db.LinkRecord{{LinkUUID: testLinkUUID, TopicID: topicID, ProcessingStatus: db.LinkStatusNew}}, nil
}

func (s *stubLinks) Transition(_ context.Context, linkUUID, to string) (db.LinkRecord, error) {
	current, ok := s.status[linkUUID]
	if !ok {
		return db.LinkRecord{}, links.ErrNotFound
	}
	if current != db.LinkStatusNew && current != to {
		return db.LinkRecord{LinkUUID: linkUUID, ProcessingStatus: current}, links.ErrInvalidTransition
	}
	s.status[linkUUID] = to
	return db.LinkRecord{LinkUUID: linkUUID, ProcessingStatus: to}, nil
}

type stubHealth struct {
	dryRun    bool
	record    bool
	eventsFor int64
}

type stubTenants struct {
	mu    sync.Mutex
	calls int
}

func (s *stubTenants) Invalidate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	return nil
}

type stubArticles struct{}

func (stubArticles) GetArticleByNormalizedURL(_ context.Context, normalizedURL string) (db.ArticleRecord, error) {
	if normalizedURL != "example.com/news/a" {
		return db.ArticleRecord{}, db.ErrNoRows
	}
	return db.ArticleRecord{ArticleID: 1, NormalizedURL: normalizedURL}, nil
}

func (s *stubHealth) EvaluateAll(_ context.Context, dryRun bool) (health.Report, error) {
	s.dryRun = dryRun
	return health.Report{DryRun: dryRun, Evaluated: 3}, nil
}

func (s *stubHealth) Events(_ context.Context, sourceID int64, limit int) ([]db.HealthEventRecord, error) {
	s.eventsFor = sourceID
	return []db.HealthEventRecord{{SourceID: 7, Action: "deactivate"}}, nil
}

func (s *stubHealth) ProbeAll(_ context.Context, record bool) (health.ProbeReport, error) {
	s.record = record
	return health.ProbeReport{Probed: 2, Healthy: 2}, nil
}

type stubStories struct{}

func (stubStories) ResolveTopic(_ context.Context, topicID int64, dryRun bool) (stories.Result, error) {
	return stories.Result{TopicID: topicID, DryRun: dryRun, Archived: 2}, nil
}

type memoryStore struct {
	mu      sync.Mutex
	entries map[string][]byte
}

func (m *memoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, ok := m.entries[key]
	return value, ok, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = value
	return nil
}

func (m *memoryStore) SetIfAbsent(_ context.Context, key string, value []byte, _ time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false, nil
	}
	m.entries[key] = value
	return true, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

type failingPinger struct{ err error }

func (p failingPinger) Ping(context.Context) error { return p.err }

type fixture struct {
	server   *Server
	ingester *stubIngester
	links    *stubLinks
	health   *stubHealth
	tenants  *stubTenants
	store    *memoryStore
}

func newFixture(t *testing.T, tokenHash string) *fixture {
	t.Helper()
	f := &fixture{
		ingester: &stubIngester{},
		links:    &stubLinks{status: map[string]string{testLinkUUID: db.LinkStatusNew}},
		health:   &stubHealth{},
		tenants:  &stubTenants{},
		store:    &memoryStore{entries: map[string][]byte{}},
	}
	f.server = NewServer(Deps{
		Ingest:   f.ingester,
		Links:    f.links,
		Health:   f.health,
		Stories:  stubStories{},
		Articles: stubArticles{},
		Tenants:  f.tenants,
		Throttle: kv.NewGate(f.store, "gate", time.Minute),
		DB:       failingPinger{},
	}, zerolog.Nop(), Options{TokenHash: tokenHash})
	return f
}

func (f *fixture) do(method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeResponse(t *testing.T, rec *httptest.ResponseRecorder) jsendResponse {
	t.Helper()
	var resp jsendResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return resp
}

func batchBody(sourceID int64) string {
	return fmt.Sprintf(`{
		"payload_version":"v1",
		"source_id":%d,
		"articles":[{"title":"Ferry returns","body":"The ferry is back.","source_url":"https://example.com/ferry"}]
	}`, sourceID)
}

func TestIngestAcceptsValidBatch(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/v1/ingest", batchBody(7), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if resp := decodeResponse(t, rec); resp.Status != "success" {
		t.Fatalf("expected success, got %+v", resp)
	}
	if len(f.ingester.calls) != 1 || f.ingester.calls[0].SourceID != 7 {
		t.Fatalf("unexpected ingest calls: %+v", f.ingester.calls)
	}
}

func TestIngestRejectsInvalidPayload(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/v1/ingest", `{"payload_version":"v1","articles":[]}`, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if len(f.ingester.calls) != 0 {
		t.Fatalf("invalid payload must not reach ingestion")
	}
}

func TestIngestThrottlesPerSource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	if rec := f.do(http.MethodPost, "/api/v1/ingest", batchBody(7), nil); rec.Code != http.StatusOK {
		t.Fatalf("first batch: expected 200, got %d", rec.Code)
	}
	rec := f.do(http.MethodPost, "/api/v1/ingest", batchBody(7), nil)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second batch: expected 429, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/ingest", batchBody(8), nil); rec.Code != http.StatusOK {
		t.Fatalf("other source: expected 200, got %d", rec.Code)
	}
}

func TestIngestUnknownSourceReopensThrottle(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	f.ingester.err = fmt.Errorf("%w: 99", ingest.ErrUnknownSource)

	rec := f.do(http.MethodPost, "/api/v1/ingest", batchBody(99), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if _, ok, _ := f.store.Get(context.Background(), "gate:ingest:source:99"); ok {
		t.Fatalf("failed batch should reopen the throttle")
	}
}

func TestMutatingEndpointsRequireToken(t *testing.T) {
	t.Parallel()

	hash, err := bcrypt.GenerateFromPassword([]byte("operator-secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	f := newFixture(t, string(hash))

	if rec := f.do(http.MethodPost, "/api/v1/sources/evaluate", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	wrong := map[string]string{"Authorization": "Bearer nope"}
	if rec := f.do(http.MethodPost, "/api/v1/sources/evaluate", "", wrong); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", rec.Code)
	}
	right := map[string]string{"Authorization": "Bearer operator-secret"}
	if rec := f.do(http.MethodPost, "/api/v1/sources/evaluate?dry_run=true", "", right); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", rec.Code)
	}
	if !f.health.dryRun {
		t.Fatalf("expected dry_run to be forwarded")
	}
	if rec := f.do(http.MethodGet, "/api/v1/links", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("read endpoints stay open, got %d", rec.Code)
	}
}

func TestLinkStatusTransitions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	target := "/api/v1/links/" + testLinkUUID + "/status"

	if rec := f.do(http.MethodPost, target, `{"status":"processed"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodPost, target, `{"status":"processed"}`, nil); rec.Code != http.StatusOK {
		t.Fatalf("repeat should be idempotent, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, target, `{"status":"discarded"}`, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, target, `{"status":"new"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid target, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/links/not-a-uuid/status", `{"status":"processed"}`, nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed uuid, got %d", rec.Code)
	}
	missing := "/api/v1/links/5f0a2c43-0000-4000-8000-000000000000/status"
	if rec := f.do(http.MethodPost, missing, `{"status":"processed"}`, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestListLinksValidatesQuery(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	if rec := f.do(http.MethodGet, "/api/v1/links?status=pending", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/links?limit=5000", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized limit, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/links?topic=3&status=new&limit=10", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestResolveStoriesAndProbe(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/v1/topics/4/stories/resolve", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/topics/abc/stories/resolve", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad topic id, got %d", rec.Code)
	}
	if rec := f.do(http.MethodPost, "/api/v1/sources/probe?record=true", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !f.health.record {
		t.Fatalf("expected record flag to be forwarded")
	}
}

func TestHealthReportsDatabase(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	if rec := f.do(http.MethodGet, "/api/v1/health", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	f.server.deps.DB = failingPinger{err: errors.New("connection refused")}
	rec := f.do(http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
	if resp := decodeResponse(t, rec); resp.Status != "error" {
		t.Fatalf("expected error status, got %+v", resp)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/metrics", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestGetArticleNormalizesURL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/v1/articles?url=https%3A%2F%2Fwww.Example.com%2Fnews%2Fa%2F%3Futm_source%3Dx", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(http.MethodGet, "/api/v1/articles?url=https%3A%2F%2Fexample.com%2Fother", "", nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/articles", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without url, got %d", rec.Code)
	}
}

func TestHealthEventsFilterBySource(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodGet, "/api/v1/sources/7/events?limit=5", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.health.eventsFor != 7 {
		t.Fatalf("expected source filter 7, got %d", f.health.eventsFor)
	}
	if rec := f.do(http.MethodGet, "/api/v1/sources/events", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for all sources, got %d", rec.Code)
	}
	if rec := f.do(http.MethodGet, "/api/v1/sources/x/events", "", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad source id, got %d", rec.Code)
	}
}

func TestRefreshTopicsInvalidatesCache(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "")
	rec := f.do(http.MethodPost, "/api/v1/topics/refresh", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if f.tenants.calls != 1 {
		t.Fatalf("expected one invalidation, got %d", f.tenants.calls)
	}
}
