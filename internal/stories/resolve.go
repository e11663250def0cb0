// Package stories reconciles tenant-facing stories that ended up with the same headline.
package stories

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/canon"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/globaltime"
)

type Store interface {
	ListTopicStories(ctx context.Context, topicID int64) ([]db.StoryRecord, error)
	ArchiveStories(ctx context.Context, topicID int64, storyIDs []int64, at time.Time) (int64, error)
}

// Group is one set of stories sharing a normalized title.
type Group struct {
	Title   string           `json:"normalized_title"`
	Keep    db.StoryRecord   `json:"keep"`
	Archive []db.StoryRecord `json:"archive"`
}

// Resolve groups stories by normalized title and picks one survivor per group: published
// beats unpublished, then the newest creation time, then the highest id. Singletons and
// untitled stories are left out of the result.
func Resolve(stories []db.StoryRecord) []Group {
	byTitle := make(map[string][]db.StoryRecord)
	order := make([]string, 0)
	for _, story := range stories {
		if story.Status == db.StoryStatusArchived {
			continue
		}
		key := canon.NormalizeTitle(story.Title)
		if key == "" {
			continue
		}
		if _, ok := byTitle[key]; !ok {
			order = append(order, key)
		}
		byTitle[key] = append(byTitle[key], story)
	}

	groups := make([]Group, 0)
	for _, key := range order {
		members := byTitle[key]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(i, j int) bool {
			return preferred(members[i], members[j])
		})
		groups = append(groups, Group{
			Title:   key,
			Keep:    members[0],
			Archive: append([]db.StoryRecord(nil), members[1:]...),
		})
	}
	return groups
}

func preferred(a, b db.StoryRecord) bool {
	if a.IsPublished() != b.IsPublished() {
		return a.IsPublished()
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.StoryID > b.StoryID
}

type Result struct {
	TopicID  int64   `json:"topic_id"`
	DryRun   bool    `json:"dry_run"`
	Stories  int     `json:"stories"`
	Groups   []Group `json:"groups"`
	Archived int64   `json:"archived"`
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// ResolveTopic archives every duplicate story of one topic. Archiving is conditional on
// the story not being archived already, so concurrent runs do not double count.
func (s *Service) ResolveTopic(ctx context.Context, topicID int64, dryRun bool) (Result, error) {
	items, err := s.store.ListTopicStories(ctx, topicID)
	if err != nil {
		return Result{}, fmt.Errorf("list stories for topic %d: %w", topicID, err)
	}

	groups := Resolve(items)
	result := Result{TopicID: topicID, DryRun: dryRun, Stories: len(items), Groups: groups}
	if len(groups) == 0 || dryRun {
		return result, nil
	}

	ids := make([]int64, 0, len(items))
	for _, group := range groups {
		for _, story := range group.Archive {
			ids = append(ids, story.StoryID)
		}
	}
	archived, err := s.store.ArchiveStories(ctx, topicID, ids, globaltime.UTC())
	if err != nil {
		return result, fmt.Errorf("archive duplicate stories for topic %d: %w", topicID, err)
	}
	result.Archived = archived

	s.logger.Info().
		Int64("topic_id", topicID).
		Int("groups", len(groups)).
		Int64("archived", archived).
		Msg("duplicate stories resolved")
	return result, nil
}
