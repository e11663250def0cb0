// Package scoring holds the one implementation of article quality and per-tenant relevance.
// Every ingestion path calls it; it has no side effects and no storage dependencies.
package scoring

import (
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"horse.fit/curate/internal/admission"
)

type TopicType string

const (
	TopicTypeRegional TopicType = "regional"
	TopicTypeKeyword  TopicType = "keyword"
)

const (
	minScore = 0
	maxScore = 100

	keywordTitleWeight    = 20
	keywordBodyWeight     = 10
	regionTitleWeight     = 30
	regionBodyWeight      = 15
	landmarkWeight        = 25
	postcodeWeight        = 20
	organizationWeight    = 15
	snippetQualityPenalty = 30
)

// Article is the scorer's view of an admitted article.
type Article struct {
	Title       string
	Body        string
	Author      string
	ImageURL    string
	PublishedAt *time.Time
	WordCount   int
}

// Tenant is the scoring contract of a topic configuration.
type Tenant struct {
	Slug             string
	TopicType        TopicType
	Keywords         []string
	NegativeKeywords []string
	Region           string
	Landmarks        []string
	Postcodes        []string
	Organizations    []string
	CompetingRegions []string
}

// Competitor is another region whose coverage competes with the tenant's own.
type Competitor struct {
	Name      string
	Landmarks []string
}

func (t Tenant) IsRegional() bool {
	return t.TopicType == TopicTypeRegional
}

// Quality is tenant-independent and monotonically non-decreasing in word count.
func Quality(a Article) int {
	score := wordCountTier(a.WordCount)
	if strings.TrimSpace(a.Author) != "" {
		score += 15
	}
	if a.PublishedAt != nil && !a.PublishedAt.IsZero() {
		score += 15
	}
	switch titleLen := len([]rune(strings.TrimSpace(a.Title))); {
	case titleLen >= 20:
		score += 15
	case titleLen >= 10:
		score += 10
	}
	if strings.TrimSpace(a.ImageURL) != "" {
		score += 5
	}
	if admission.LooksLikeSnippet(a.Body) {
		score -= snippetQualityPenalty
	}
	return clamp(score)
}

func wordCountTier(words int) int {
	switch {
	case words >= 500:
		return 50
	case words >= 300:
		return 40
	case words >= 150:
		return 30
	case words >= 100:
		return 25
	case words >= 50:
		return 20
	case words >= 25:
		return 15
	default:
		return 10
	}
}

// Relevance scores one article for one tenant. Any negative keyword hit returns 0 before
// any positive signal is counted.
func Relevance(a Article, t Tenant) int {
	title := strings.ToLower(a.Title)
	body := strings.ToLower(a.Body)

	for _, negative := range t.NegativeKeywords {
		if containsTerm(title, negative) || containsTerm(body, negative) {
			return 0
		}
	}

	score := 0
	for _, keyword := range t.Keywords {
		if containsTerm(title, keyword) {
			score += keywordTitleWeight
		}
		if containsTerm(body, keyword) {
			score += keywordBodyWeight
		}
	}

	if t.IsRegional() {
		score += regionalSignal(title, body, t)
	}

	return clamp(score)
}

func regionalSignal(title, body string, t Tenant) int {
	score := regionSignal(title, body, t.Region, t.Landmarks)
	for _, postcode := range t.Postcodes {
		if containsTerm(title, postcode) || containsTerm(body, postcode) {
			score += postcodeWeight
		}
	}
	for _, org := range t.Organizations {
		if containsTerm(title, org) || containsTerm(body, org) {
			score += organizationWeight
		}
	}
	return score
}

// regionSignal is the shared strength measure for a region name and its landmarks. The
// competing-region penalty compares the tenant's and competitors' values of it.
func regionSignal(title, body, region string, landmarks []string) int {
	score := 0
	if strings.TrimSpace(region) != "" {
		if containsTerm(title, region) {
			score += regionTitleWeight
		}
		if containsTerm(body, region) {
			score += regionBodyWeight
		}
	}
	for _, landmark := range landmarks {
		if containsTerm(title, landmark) || containsTerm(body, landmark) {
			score += landmarkWeight
		}
	}
	return score
}

// CompetingPenalty returns how much relevance to subtract because the article is more about
// another region than the tenant's own. The penalty is the gap between the strongest
// competitor's region signal and the tenant's own region signal; zero when the tenant leads.
func CompetingPenalty(a Article, t Tenant, competitors []Competitor) int {
	if !t.IsRegional() {
		return 0
	}
	title := strings.ToLower(a.Title)
	body := strings.ToLower(a.Body)

	own := regionSignal(title, body, t.Region, t.Landmarks)
	strongest := 0
	for _, c := range competitors {
		if strings.EqualFold(strings.TrimSpace(c.Name), strings.TrimSpace(t.Region)) {
			continue
		}
		if s := regionSignal(title, body, c.Name, c.Landmarks); s > strongest {
			strongest = s
		}
	}
	if strongest <= own {
		return 0
	}
	return strongest - own
}

// AdjustedRelevance is Relevance minus the competing-region penalty, clamped.
func AdjustedRelevance(a Article, t Tenant, competitors []Competitor) int {
	base := Relevance(a, t)
	if base == 0 {
		return 0
	}
	return clamp(base - CompetingPenalty(a, t, competitors))
}

// KeywordMatches lists the tenant keywords found in title or body, in configuration order.
func KeywordMatches(a Article, t Tenant) []string {
	title := strings.ToLower(a.Title)
	body := strings.ToLower(a.Body)

	matches := make([]string, 0, len(t.Keywords))
	seen := make(map[string]struct{}, len(t.Keywords))
	for _, keyword := range t.Keywords {
		normalized := strings.ToLower(strings.TrimSpace(keyword))
		if normalized == "" {
			continue
		}
		if _, dup := seen[normalized]; dup {
			continue
		}
		if containsTerm(title, keyword) || containsTerm(body, keyword) {
			seen[normalized] = struct{}{}
			matches = append(matches, strings.TrimSpace(keyword))
		}
	}
	return matches
}

// Competitors merges the tenant's configured competing region names with other regional
// tenants. Duplicates by name collapse, keeping the landmarks of the richer entry.
func Competitors(t Tenant, others []Tenant) []Competitor {
	byName := make(map[string]int)
	out := make([]Competitor, 0, len(t.CompetingRegions)+len(others))

	add := func(name string, landmarks []string) {
		key := strings.ToLower(strings.TrimSpace(name))
		if key == "" || key == strings.ToLower(strings.TrimSpace(t.Region)) {
			return
		}
		if idx, ok := byName[key]; ok {
			if len(landmarks) > len(out[idx].Landmarks) {
				out[idx].Landmarks = landmarks
			}
			return
		}
		byName[key] = len(out)
		out = append(out, Competitor{Name: strings.TrimSpace(name), Landmarks: landmarks})
	}

	for _, name := range t.CompetingRegions {
		add(name, nil)
	}
	for _, other := range others {
		if other.Slug == t.Slug || !other.IsRegional() {
			continue
		}
		add(other.Region, other.Landmarks)
	}
	return out
}

type Gate struct {
	MinQuality   int
	MinRelevance int
	MinWords     int
}

var DefaultGate = Gate{MinQuality: 60, MinRelevance: 5, MinWords: 150}

// Passes reports whether a link may move straight to processed.
func (g Gate) Passes(quality, relevance, words int) bool {
	return quality >= g.MinQuality && relevance >= g.MinRelevance && words >= g.MinWords
}

func clamp(score int) int {
	if score < minScore {
		return minScore
	}
	if score > maxScore {
		return maxScore
	}
	return score
}

// containsTerm matches a term case-insensitively on word boundaries: the characters either
// side of a hit must not be letters or digits. text must already be lower-cased.
func containsTerm(text, term string) bool {
	normalized := strings.ToLower(strings.TrimSpace(term))
	if normalized == "" || text == "" {
		return false
	}

	offset := 0
	for {
		idx := strings.Index(text[offset:], normalized)
		if idx < 0 {
			return false
		}
		start := offset + idx
		end := start + len(normalized)
		if boundaryBefore(text, start) && boundaryAfter(text, end) {
			return true
		}
		_, size := utf8.DecodeRuneInString(text[start:])
		offset = start + size
	}
}

func boundaryBefore(text string, pos int) bool {
	if pos == 0 {
		return true
	}
	r, _ := utf8.DecodeLastRuneInString(text[:pos])
	return !isWordRune(r)
}

func boundaryAfter(text string, pos int) bool {
	if pos >= len(text) {
		return true
	}
	r, _ := utf8.DecodeRuneInString(text[pos:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}
