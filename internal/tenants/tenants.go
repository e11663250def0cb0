// Package tenants turns topic rows into the scorer's tenant contract and answers the
// competing-region lookup: every other enabled regional topic.
package tenants

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/kv"
	"horse.fit/curate/internal/scoring"
)

const regionalCacheKey = "tenants:regional"

// FromTopic maps a topic row onto the scoring contract. Unknown topic types score as keyword
// topics so a misconfigured row never gains regional signal.
func FromTopic(topic db.TopicRecord) scoring.Tenant {
	topicType := scoring.TopicTypeKeyword
	if strings.EqualFold(strings.TrimSpace(topic.TopicType), string(scoring.TopicTypeRegional)) {
		topicType = scoring.TopicTypeRegional
	}
	rules := topic.Rules
	return scoring.Tenant{
		Slug:             topic.Slug,
		TopicType:        topicType,
		Keywords:         cleanTerms(rules.Keywords),
		NegativeKeywords: cleanTerms(rules.NegativeKeywords),
		Region:           strings.TrimSpace(rules.Region),
		Landmarks:        cleanTerms(rules.Landmarks),
		Postcodes:        cleanTerms(rules.Postcodes),
		Organizations:    cleanTerms(rules.Organizations),
		CompetingRegions: cleanTerms(rules.CompetingRegions),
	}
}

func cleanTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, term := range terms {
		if trimmed := strings.TrimSpace(term); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

type TopicLister interface {
	ListEnabledTopics(ctx context.Context) ([]db.TopicRecord, error)
}

// Directory serves competing regions from the shared KV store, falling back to the topics
// table when the cache is cold or unavailable.
type Directory struct {
	topics TopicLister
	cache  kv.Store
	ttl    time.Duration
	logger zerolog.Logger
}

func NewDirectory(topics TopicLister, cache kv.Store, ttl time.Duration, logger zerolog.Logger) *Directory {
	return &Directory{
		topics: topics,
		cache:  cache,
		ttl:    ttl,
		logger: logger,
	}
}

// Competitors returns the tenant's competing regions merged with every other enabled
// regional topic. Keyword tenants never compete.
func (d *Directory) Competitors(ctx context.Context, tenant scoring.Tenant) ([]scoring.Competitor, error) {
	if !tenant.IsRegional() {
		return nil, nil
	}
	regional, err := d.regionalTenants(ctx)
	if err != nil {
		return nil, err
	}
	return scoring.Competitors(tenant, regional), nil
}

// Invalidate drops the cached regional set after an operator edits topics.
func (d *Directory) Invalidate(ctx context.Context) error {
	if d.cache == nil {
		return nil
	}
	return d.cache.Delete(ctx, regionalCacheKey)
}

func (d *Directory) regionalTenants(ctx context.Context) ([]scoring.Tenant, error) {
	if d.cache != nil {
		var cached []scoring.Tenant
		ok, err := kv.GetJSON(ctx, d.cache, regionalCacheKey, &cached)
		if err != nil {
			d.logger.Warn().Err(err).Msg("competitor cache read failed; loading topics")
		} else if ok {
			return cached, nil
		}
	}

	topics, err := d.topics.ListEnabledTopics(ctx)
	if err != nil {
		return nil, fmt.Errorf("list enabled topics: %w", err)
	}
	regional := make([]scoring.Tenant, 0, len(topics))
	for _, topic := range topics {
		if tenant := FromTopic(topic); tenant.IsRegional() {
			regional = append(regional, tenant)
		}
	}

	if d.cache != nil {
		if err := kv.SetJSON(ctx, d.cache, regionalCacheKey, regional, d.ttl); err != nil {
			d.logger.Warn().Err(err).Msg("competitor cache write failed")
		}
	}
	return regional, nil
}
