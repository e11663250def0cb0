// Package health decides, per source, whether to leave it alone, flag it for an operator,
// switch it to a better scraping method or deactivate it. Evaluate is pure; Service applies
// the results with an audit trail.
package health

import (
	"fmt"
	"sort"
	"strings"

	"horse.fit/curate/internal/db"
)

type Action string

const (
	ActionNone         Action = "none"
	ActionDeactivate   Action = db.HealthActionDeactivate
	ActionMethodChange Action = db.HealthActionMethodChange
	ActionInvestigate  Action = db.HealthActionInvestigate
)

type Thresholds struct {
	DeactivateBelow    float64
	MethodChangeBelow  float64
	InvestigateBelow   float64
	MethodChangeDelta  float64
	OpportunisticDelta float64
	// A method group needs this many members before its average is trusted.
	MinGroupSize int
	// Sources with fewer attempts are neither judged nor counted in group averages.
	MinAttempts int
}

var DefaultThresholds = Thresholds{
	DeactivateBelow:    10,
	MethodChangeBelow:  30,
	InvestigateBelow:   40,
	MethodChangeDelta:  20,
	OpportunisticDelta: 30,
	MinGroupSize:       3,
	MinAttempts:        5,
}

// MethodStats is the average success rate of one scraping method across sibling sources.
type MethodStats struct {
	Method      string  `json:"method"`
	AverageRate float64 `json:"average_rate"`
	Size        int     `json:"size"`
}

type Recommendation struct {
	SourceID        int64                  `json:"source_id"`
	SourceName      string                 `json:"source_name"`
	Action          Action                 `json:"action"`
	CurrentMethod   string                 `json:"current_method"`
	SuggestedMethod string                 `json:"suggested_method,omitempty"`
	SuccessRate     float64                `json:"success_rate"`
	Alternative     *MethodStats           `json:"alternative,omitempty"`
	Reason          *db.HealthActionReason `json:"reason,omitempty"`
	Explanation     string                 `json:"explanation"`
}

// Evaluate applies the state machine to one source. siblings may include the source itself;
// it is excluded from the method comparison.
func Evaluate(source db.SourceRecord, siblings []db.SourceRecord, th Thresholds) Recommendation {
	rec := Recommendation{
		SourceID:      source.SourceID,
		SourceName:    source.Name,
		Action:        ActionNone,
		CurrentMethod: source.ScrapingMethod,
		SuccessRate:   source.SuccessRate,
	}

	if !source.IsActive {
		rec.Explanation = "source is inactive"
		return rec
	}
	// Counters restart after a method change, so a fresh method gets a warm-up before any verdict.
	if source.AttemptCount < th.MinAttempts {
		rec.Explanation = fmt.Sprintf("only %d of %d attempts needed for a verdict", source.AttemptCount, th.MinAttempts)
		return rec
	}

	rate := source.SuccessRate
	if rate < th.DeactivateBelow {
		if source.IsCritical {
			rec.Action = ActionInvestigate
			rec.Reason = &db.HealthActionReason{
				Kind: db.HealthReasonInvestigation,
				Investigation: &db.InvestigationReason{
					SuccessRate:      rate,
					LowerBound:       0,
					UpperBound:       th.DeactivateBelow,
					CriticalOverride: true,
				},
			}
			rec.Explanation = fmt.Sprintf("success rate %.1f%% is below %.0f%% but the source is critical", rate, th.DeactivateBelow)
			return rec
		}
		rec.Action = ActionDeactivate
		rec.Reason = &db.HealthActionReason{
			Kind: db.HealthReasonDeactivation,
			Deactivation: &db.DeactivationReason{
				SuccessRate:         rate,
				Threshold:           th.DeactivateBelow,
				AttemptCount:        source.AttemptCount,
				ConsecutiveFailures: source.ConsecutiveFailures,
			},
		}
		rec.Explanation = fmt.Sprintf("success rate %.1f%% is below %.0f%%", rate, th.DeactivateBelow)
		return rec
	}

	if best, ok := BestAlternative(source, siblings, th); ok {
		delta := best.AverageRate - rate
		lowRate := rate < th.MethodChangeBelow && delta >= th.MethodChangeDelta
		opportunistic := !lowRate && delta >= th.OpportunisticDelta
		if lowRate || opportunistic {
			alt := best
			rec.Action = ActionMethodChange
			rec.SuggestedMethod = best.Method
			rec.Alternative = &alt
			rec.Reason = &db.HealthActionReason{
				Kind: db.HealthReasonMethodChange,
				MethodChange: &db.MethodChangeReason{
					FromMethod:        source.ScrapingMethod,
					ToMethod:          best.Method,
					SuccessRate:       rate,
					AlternativeRate:   best.AverageRate,
					Delta:             delta,
					GroupSize:         best.Size,
					Opportunistic:     opportunistic,
					PreviousAttempts:  source.AttemptCount,
					PreviousSuccesses: source.SuccessCount,
				},
			}
			rec.Explanation = fmt.Sprintf(
				"method %q averages %.1f%% over %d sources, %.1f points above %.1f%%",
				best.Method, best.AverageRate, best.Size, delta, rate,
			)
			return rec
		}
	}

	if rate < th.InvestigateBelow {
		rec.Action = ActionInvestigate
		rec.Reason = &db.HealthActionReason{
			Kind: db.HealthReasonInvestigation,
			Investigation: &db.InvestigationReason{
				SuccessRate: rate,
				LowerBound:  th.DeactivateBelow,
				UpperBound:  th.InvestigateBelow,
			},
		}
		rec.Explanation = fmt.Sprintf("success rate %.1f%% is below %.0f%% with no better method available", rate, th.InvestigateBelow)
		return rec
	}

	rec.Explanation = fmt.Sprintf("success rate %.1f%% is healthy", rate)
	return rec
}

// MethodGroups averages success rate per method over the siblings, leaving out the evaluated
// source and any sibling without enough attempts. Groups below MinGroupSize are dropped.
func MethodGroups(excludeID int64, siblings []db.SourceRecord, th Thresholds) []MethodStats {
	sums := map[string]float64{}
	counts := map[string]int{}
	for _, sibling := range siblings {
		if sibling.SourceID == excludeID || sibling.AttemptCount < th.MinAttempts {
			continue
		}
		method := strings.TrimSpace(sibling.ScrapingMethod)
		if method == "" {
			continue
		}
		sums[method] += sibling.SuccessRate
		counts[method]++
	}

	minSize := th.MinGroupSize
	if minSize < 1 {
		minSize = 1
	}
	groups := make([]MethodStats, 0, len(counts))
	for method, n := range counts {
		if n < minSize {
			continue
		}
		groups = append(groups, MethodStats{Method: method, AverageRate: sums[method] / float64(n), Size: n})
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].AverageRate != groups[j].AverageRate {
			return groups[i].AverageRate > groups[j].AverageRate
		}
		if groups[i].Size != groups[j].Size {
			return groups[i].Size > groups[j].Size
		}
		return groups[i].Method < groups[j].Method
	})
	return groups
}

// BestAlternative is the strongest valid method group other than the source's own.
func BestAlternative(source db.SourceRecord, siblings []db.SourceRecord, th Thresholds) (MethodStats, bool) {
	current := strings.TrimSpace(source.ScrapingMethod)
	for _, group := range MethodGroups(source.SourceID, siblings, th) {
		if group.Method != current {
			return group, true
		}
	}
	return MethodStats{}, false
}
