// Package sourceprobe checks whether a source URL answers and classifies failures into the
// stable categories source health accounting and operators work with.
package sourceprobe

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"horse.fit/curate/internal/globaltime"
)

type Category string

const (
	CategoryNone       Category = ""
	CategoryInvalidURL Category = "invalid_url"
	CategoryTimeout    Category = "timeout"
	CategoryDNS        Category = "dns"
	CategoryTLS        Category = "tls"
	CategoryConnection Category = "connection"
	CategoryHTTP4xx    Category = "http_4xx"
	CategoryHTTP5xx    Category = "http_5xx"
)

const (
	DefaultTimeout = 15 * time.Second
	userAgent      = "curate-probe/1.0"
	maxDrainBytes  = 64 << 10
)

var guidance = map[Category]string{
	CategoryInvalidURL: "The feed URL does not parse as an http(s) URL; fix the source configuration.",
	CategoryTimeout:    "The server did not answer in time; it may be overloaded or blocking automated clients.",
	CategoryDNS:        "The host name does not resolve; the domain may have moved or expired.",
	CategoryTLS:        "The TLS handshake failed; the certificate may be expired, self-signed or for another host.",
	CategoryConnection: "The connection was refused or reset; the server may be down or firewalled.",
	CategoryHTTP4xx:    "The server rejected the request; the path may have moved or access now needs authentication.",
	CategoryHTTP5xx:    "The server failed while answering; retry later before changing the scraping method.",
}

// Guidance is the operator-facing explanation for a category. Success has none.
func Guidance(c Category) string {
	return guidance[c]
}

type Result struct {
	URL        string        `json:"url"`
	OK         bool          `json:"ok"`
	Category   Category      `json:"category,omitempty"`
	StatusCode int           `json:"status_code,omitempty"`
	Duration   time.Duration `json:"duration_ns"`
	Error      string        `json:"error,omitempty"`
	Guidance   string        `json:"guidance,omitempty"`
	CheckedAt  time.Time     `json:"checked_at"`
}

type Prober struct {
	client  *http.Client
	timeout time.Duration
}

// New builds a prober whose every request is bounded by timeout.
func New(timeout time.Duration) *Prober {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
	}
}

// NewWithClient lets tests inject a client trusting an httptest TLS server.
func NewWithClient(client *http.Client, timeout time.Duration) *Prober {
	p := New(timeout)
	if client != nil {
		p.client = client
		if p.client.Timeout == 0 {
			p.client.Timeout = p.timeout
		}
	}
	return p
}

// Probe issues one GET and never returns an error: failures are part of the Result.
func (p *Prober) Probe(ctx context.Context, rawURL string) Result {
	started := globaltime.UTC()
	result := Result{URL: strings.TrimSpace(rawURL), CheckedAt: started}

	target, err := parseTarget(result.URL)
	if err != nil {
		return finish(result, CategoryInvalidURL, err, started)
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return finish(result, CategoryInvalidURL, err, started)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := p.client.Do(req)
	if err != nil {
		return finish(result, ClassifyError(err), err, started)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxDrainBytes))

	result.StatusCode = resp.StatusCode
	if category := ClassifyStatus(resp.StatusCode); category != CategoryNone {
		return finish(result, category, fmt.Errorf("unexpected status %d", resp.StatusCode), started)
	}
	return finish(result, CategoryNone, nil, started)
}

func finish(result Result, category Category, err error, started time.Time) Result {
	result.Duration = globaltime.Since(started)
	result.Category = category
	result.OK = category == CategoryNone
	result.Guidance = Guidance(category)
	if err != nil {
		result.Error = err.Error()
	}
	return result
}

func parseTarget(raw string) (*url.URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("url is empty")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, fmt.Errorf("unsupported scheme %q", parsed.Scheme)
	}
	if parsed.Hostname() == "" {
		return nil, fmt.Errorf("url has no host")
	}
	return parsed, nil
}

// ClassifyStatus maps non-success HTTP statuses; 2xx and 3xx are CategoryNone.
func ClassifyStatus(status int) Category {
	switch {
	case status >= 500:
		return CategoryHTTP5xx
	case status >= 400:
		return CategoryHTTP4xx
	default:
		return CategoryNone
	}
}

// ClassifyError maps a transport error. DNS is checked before timeout because resolver
// timeouts are reported as DNS errors too and point at a different fix.
func ClassifyError(err error) Category {
	if err == nil {
		return CategoryNone
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return CategoryDNS
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return CategoryTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryTimeout
	}

	if isTLSError(err) {
		return CategoryTLS
	}

	var urlErr *url.Error
	if errors.As(err, &urlErr) && strings.Contains(urlErr.Error(), "unsupported protocol scheme") {
		return CategoryInvalidURL
	}
	return CategoryConnection
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		headerErr   tls.RecordHeaderError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
		alertErr    tls.AlertError
	)
	switch {
	case errors.As(err, &verifyErr):
		return true
	case errors.As(err, &headerErr), errors.As(err, &alertErr):
		return true
	case errors.As(err, &unknownAuth), errors.As(err, &hostnameErr), errors.As(err, &invalidCert):
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "tls:")
}
