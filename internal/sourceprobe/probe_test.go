package sourceprobe

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestProbeSuccess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") != userAgent {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte("<rss></rss>"))
	}))
	defer srv.Close()

	got := New(time.Second).Probe(context.Background(), srv.URL+"/feed.xml")
	if !got.OK || got.Category != CategoryNone || got.StatusCode != http.StatusOK {
		t.Fatalf("unexpected result: %+v", got)
	}
	if got.Guidance != "" {
		t.Fatalf("expected no guidance on success, got %q", got.Guidance)
	}
}

func TestProbeHTTPStatusCategories(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/gone":
			w.WriteHeader(http.StatusNotFound)
		case "/broken":
			w.WriteHeader(http.StatusBadGateway)
		case "/moved":
			http.Redirect(w, r, "/feed", http.StatusMovedPermanently)
		default:
			w.WriteHeader(http.StatusOK)
		}
	}))
	defer srv.Close()

	prober := New(time.Second)
	cases := map[string]Category{
		"/gone":   CategoryHTTP4xx,
		"/broken": CategoryHTTP5xx,
		"/moved":  CategoryNone,
	}
	for path, want := range cases {
		got := prober.Probe(context.Background(), srv.URL+path)
		if got.Category != want {
			t.Fatalf("probe %s: category %q, want %q (%+v)", path, got.Category, want, got)
		}
		if want != CategoryNone && got.Guidance == "" {
			t.Fatalf("probe %s: expected guidance", path)
		}
	}
}

func TestProbeTimeout(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	got := New(50*time.Millisecond).Probe(context.Background(), srv.URL)
	if got.Category != CategoryTimeout {
		t.Fatalf("expected timeout, got %+v", got)
	}
}

func TestProbeTLSFailure(t *testing.T) {
	t.Parallel()

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	// The default client does not trust the test certificate.
	if got := New(time.Second).Probe(context.Background(), srv.URL); got.Category != CategoryTLS {
		t.Fatalf("expected tls failure, got %+v", got)
	}
	if got := NewWithClient(srv.Client(), time.Second).Probe(context.Background(), srv.URL); !got.OK {
		t.Fatalf("expected trusted client to succeed, got %+v", got)
	}
}

func TestProbeConnectionRefused(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	_ = listener.Close()

	if got := New(time.Second).Probe(context.Background(), "http://"+addr); got.Category != CategoryConnection {
		t.Fatalf("expected connection failure, got %+v", got)
	}
}

func TestProbeInvalidURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "ftp://example.com/feed", "http://", "::not a url"} {
		if got := New(time.Second).Probe(context.Background(), raw); got.Category != CategoryInvalidURL {
			t.Fatalf("Probe(%q) = %+v, want invalid_url", raw, got)
		}
	}
}

func TestClassifyError(t *testing.T) {
	t.Parallel()

	dns := &net.DNSError{Err: "no such host", Name: "gone.example", IsNotFound: true}
	if got := ClassifyError(fmt.Errorf("dial: %w", dns)); got != CategoryDNS {
		t.Fatalf("expected dns, got %q", got)
	}
	if got := ClassifyError(fmt.Errorf("wrapped: %w", context.DeadlineExceeded)); got != CategoryTimeout {
		t.Fatalf("expected timeout, got %q", got)
	}
	if got := ClassifyError(errors.New("read: connection reset by peer")); got != CategoryConnection {
		t.Fatalf("expected connection, got %q", got)
	}
	if got := ClassifyError(nil); got != CategoryNone {
		t.Fatalf("expected none for nil, got %q", got)
	}
}
