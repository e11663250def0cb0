package db

import (
	"fmt"
	"strings"
	"time"
)

// ImportKind tags which producer created a link.
type ImportKind string

const (
	ImportKindScrape   ImportKind = "scrape"
	ImportKindManual   ImportKind = "manual"
	ImportKindBackfill ImportKind = "backfill"
)

type ScrapeProvenance struct {
	SourceID       int64     `json:"source_id"`
	ScrapingMethod string    `json:"scraping_method"`
	BatchUUID      string    `json:"batch_uuid"`
	Producer       string    `json:"producer,omitempty"`
	DiscoveredAt   time.Time `json:"discovered_at"`
}

type ManualProvenance struct {
	Operator  string    `json:"operator"`
	Note      string    `json:"note,omitempty"`
	BatchUUID string    `json:"batch_uuid"`
	AddedAt   time.Time `json:"added_at"`
}

type BackfillProvenance struct {
	BatchUUID string    `json:"batch_uuid"`
	Reason    string    `json:"reason,omitempty"`
	RanAt     time.Time `json:"ran_at"`
}

// ImportMetadata is the provenance stored on news.tenant_article_links.import_metadata.
// Exactly one payload is set and it matches Kind.
type ImportMetadata struct {
	Kind     ImportKind          `json:"kind"`
	Scrape   *ScrapeProvenance   `json:"scrape,omitempty"`
	Manual   *ManualProvenance   `json:"manual,omitempty"`
	Backfill *BackfillProvenance `json:"backfill,omitempty"`
}

func (m ImportMetadata) Validate() error {
	set := 0
	for _, present := range []bool{m.Scrape != nil, m.Manual != nil, m.Backfill != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("import metadata must carry exactly one payload, got %d", set)
	}

	switch m.Kind {
	case ImportKindScrape:
		if m.Scrape == nil {
			return fmt.Errorf("import metadata kind %q requires scrape payload", m.Kind)
		}
	case ImportKindManual:
		if m.Manual == nil {
			return fmt.Errorf("import metadata kind %q requires manual payload", m.Kind)
		}
		if strings.TrimSpace(m.Manual.Operator) == "" {
			return fmt.Errorf("manual import requires operator")
		}
	case ImportKindBackfill:
		if m.Backfill == nil {
			return fmt.Errorf("import metadata kind %q requires backfill payload", m.Kind)
		}
	default:
		return fmt.Errorf("unknown import kind %q", m.Kind)
	}
	return nil
}

// HealthReasonKind tags the numeric justification of an automatic source action.
type HealthReasonKind string

const (
	HealthReasonDeactivation  HealthReasonKind = "deactivation"
	HealthReasonMethodChange  HealthReasonKind = "method_change"
	HealthReasonInvestigation HealthReasonKind = "investigation"
)

type DeactivationReason struct {
	SuccessRate         float64 `json:"success_rate"`
	Threshold           float64 `json:"threshold"`
	AttemptCount        int     `json:"attempt_count"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
}

type MethodChangeReason struct {
	FromMethod      string  `json:"from_method"`
	ToMethod        string  `json:"to_method"`
	SuccessRate     float64 `json:"success_rate"`
	AlternativeRate float64 `json:"alternative_rate"`
	Delta           float64 `json:"delta"`
	GroupSize       int     `json:"group_size"`
	Opportunistic   bool    `json:"opportunistic"`
	// Counters the source carried before they were reset for the new method.
	PreviousAttempts  int `json:"previous_attempts"`
	PreviousSuccesses int `json:"previous_successes"`
}

type InvestigationReason struct {
	SuccessRate float64 `json:"success_rate"`
	LowerBound  float64 `json:"lower_bound"`
	UpperBound  float64 `json:"upper_bound"`
	// Set when a critical source would otherwise have been deactivated.
	CriticalOverride bool `json:"critical_override,omitempty"`
}

// HealthActionReason is stored on news.source_health_events.reason.
type HealthActionReason struct {
	Kind          HealthReasonKind     `json:"kind"`
	Deactivation  *DeactivationReason  `json:"deactivation,omitempty"`
	MethodChange  *MethodChangeReason  `json:"method_change,omitempty"`
	Investigation *InvestigationReason `json:"investigation,omitempty"`
}

func (r HealthActionReason) Validate() error {
	set := 0
	for _, present := range []bool{r.Deactivation != nil, r.MethodChange != nil, r.Investigation != nil} {
		if present {
			set++
		}
	}
	if set != 1 {
		return fmt.Errorf("health reason must carry exactly one payload, got %d", set)
	}

	switch r.Kind {
	case HealthReasonDeactivation:
		if r.Deactivation == nil {
			return fmt.Errorf("health reason kind %q requires deactivation payload", r.Kind)
		}
	case HealthReasonMethodChange:
		if r.MethodChange == nil {
			return fmt.Errorf("health reason kind %q requires method_change payload", r.Kind)
		}
	case HealthReasonInvestigation:
		if r.Investigation == nil {
			return fmt.Errorf("health reason kind %q requires investigation payload", r.Kind)
		}
	default:
		return fmt.Errorf("unknown health reason kind %q", r.Kind)
	}
	return nil
}

// TopicRules is the scoring configuration stored on news.topics.rules.
type TopicRules struct {
	Keywords         []string `json:"keywords"`
	NegativeKeywords []string `json:"negative_keywords"`
	Region           string   `json:"region,omitempty"`
	Landmarks        []string `json:"landmarks,omitempty"`
	Postcodes        []string `json:"postcodes,omitempty"`
	Organizations    []string `json:"organizations,omitempty"`
	CompetingRegions []string `json:"competing_regions,omitempty"`
}
