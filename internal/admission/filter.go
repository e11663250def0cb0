// Package admission decides whether an extracted article is a full article worth storing,
// rejecting teasers, cut-off excerpts and stale items before they reach the content store.
package admission

import (
	"html"
	"regexp"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"

	"horse.fit/curate/internal/canon"
)

const (
	DefaultMinWords      = 100
	DefaultRecencyWindow = 7 * 24 * time.Hour
	minSentencePeriods   = 3
)

// Reason explains a rejection. The empty reason means the article was admitted.
type Reason string

const (
	ReasonNone             Reason = ""
	ReasonEmptyBody        Reason = "empty_body"
	ReasonTooShort         Reason = "too_short"
	ReasonSnippetIndicator Reason = "snippet_indicator"
	ReasonTruncated        Reason = "truncated"
	ReasonTooFewSentences  Reason = "too_few_sentences"
	ReasonStale            Reason = "stale"
)

var snippetIndicators = []string{
	"read more",
	"continue reading",
	"click here",
	"subscribe",
	"newsletter",
	"read the full article",
	"full story",
}

var postAppearedFirst = regexp.MustCompile(`the post\b[\s\S]*\bappeared first`)

var stripPolicy = bluemonday.StrictPolicy()

type Options struct {
	MinWords int
	// Zero disables the recency gate.
	RecencyWindow time.Duration
}

type Filter struct {
	minWords      int
	recencyWindow time.Duration
}

type Candidate struct {
	Title        string
	Body         string
	PublishedAt  *time.Time
	DiscoveredAt time.Time
	// Tenants that do not care about freshness skip the recency gate.
	RequireFresh bool
}

type Decision struct {
	Admit     bool
	Reason    Reason
	Body      string
	WordCount int
}

func NewFilter(opts Options) *Filter {
	minWords := opts.MinWords
	if minWords <= 0 {
		minWords = DefaultMinWords
	}
	recency := opts.RecencyWindow
	if recency < 0 {
		recency = 0
	}
	return &Filter{
		minWords:      minWords,
		recencyWindow: recency,
	}
}

// Evaluate applies the rules in order: substance, snippet phrasing, truncation, recency.
// The returned Body is the cleaned text that should be stored.
func (f *Filter) Evaluate(c Candidate, now time.Time) Decision {
	body := CleanBody(c.Body)
	words := canon.WordCount(body)
	decision := Decision{Body: body, WordCount: words}

	switch {
	case words == 0:
		decision.Reason = ReasonEmptyBody
	case words < f.minWords:
		decision.Reason = ReasonTooShort
	case LooksLikeSnippet(body):
		decision.Reason = ReasonSnippetIndicator
	case endsWithEllipsis(body):
		decision.Reason = ReasonTruncated
	case strings.Count(body, ".") < minSentencePeriods:
		decision.Reason = ReasonTooFewSentences
	case c.RequireFresh && f.Stale(c.PublishedAt, c.DiscoveredAt, now):
		decision.Reason = ReasonStale
	default:
		decision.Admit = true
	}
	return decision
}

// Stale reports whether the article falls outside the recency window. It is exposed so a
// caller admitting one article for several tenants can apply freshness per tenant.
func (f *Filter) Stale(publishedAt *time.Time, discoveredAt, now time.Time) bool {
	if f.recencyWindow <= 0 {
		return false
	}
	// Future publish dates are producer clock skew; fall back to discovery time.
	reference := discoveredAt
	if publishedAt != nil && !publishedAt.IsZero() && !publishedAt.After(now) {
		reference = *publishedAt
	}
	if reference.IsZero() || reference.After(now) {
		return false
	}
	return now.Sub(reference) > f.recencyWindow
}

// LooksLikeSnippet reports whether the text contains teaser phrasing. The scorer reuses it
// as a quality penalty for articles that slipped past admission.
func LooksLikeSnippet(text string) bool {
	lower := strings.ToLower(text)
	for _, indicator := range snippetIndicators {
		if strings.Contains(lower, indicator) {
			return true
		}
	}
	return postAppearedFirst.MatchString(lower)
}

func endsWithEllipsis(text string) bool {
	trimmed := strings.TrimRight(text, " \t\r\n\"'”’)]")
	return strings.HasSuffix(trimmed, "...") || strings.HasSuffix(trimmed, "…")
}

// CleanBody removes stray markup left by producers and collapses whitespace within lines.
func CleanBody(raw string) string {
	if strings.TrimSpace(raw) == "" {
		return ""
	}
	text := raw
	if strings.ContainsAny(text, "<>") {
		text = stripPolicy.Sanitize(text)
	}
	text = html.UnescapeString(text)

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if collapsed := strings.Join(strings.Fields(line), " "); collapsed != "" {
			kept = append(kept, collapsed)
		}
	}
	return strings.Join(kept, "\n")
}
