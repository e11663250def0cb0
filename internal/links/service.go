// Package links is the processing-status API queue consumers use to settle tenant links.
package links

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/globaltime"
	"horse.fit/curate/internal/metrics"
)

var (
	ErrInvalidTransition = errors.New("invalid processing status transition")
	ErrNotFound          = errors.New("link not found")
)

const (
	maxListLimit     = 500
	defaultListLimit = 100
)

type Store interface {
	GetLinkByUUID(ctx context.Context, linkUUID string) (db.LinkRecord, error)
	TransitionLink(ctx context.Context, linkUUID, to string, at time.Time) (bool, error)
	ListLinks(ctx context.Context, opts db.LinkListOptions) ([]db.LinkRecord, error)
}

type Service struct {
	store  Store
	logger zerolog.Logger
}

func NewService(store Store, logger zerolog.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// CanTransition holds the whole state machine: new may become processed or discarded, and
// both are terminal.
func CanTransition(from, to string) bool {
	if from != db.LinkStatusNew {
		return false
	}
	return to == db.LinkStatusProcessed || to == db.LinkStatusDiscarded
}

// Transition settles a link. Repeating a transition that already happened is a no-op, so a
// consumer retrying after a timeout gets the same answer; any other move out of a terminal
// status is ErrInvalidTransition.
func (s *Service) Transition(ctx context.Context, linkUUID, to string) (db.LinkRecord, error) {
	linkUUID = strings.TrimSpace(linkUUID)
	to = strings.ToLower(strings.TrimSpace(to))
	if !CanTransition(db.LinkStatusNew, to) {
		metrics.RecordTransition(to, "invalid")
		return db.LinkRecord{}, fmt.Errorf("%w: target %q", ErrInvalidTransition, to)
	}

	moved, err := s.store.TransitionLink(ctx, linkUUID, to, globaltime.UTC())
	if err != nil {
		return db.LinkRecord{}, err
	}

	current, err := s.store.GetLinkByUUID(ctx, linkUUID)
	if err != nil {
		if db.IsNoRows(err) {
			return db.LinkRecord{}, fmt.Errorf("%w: %s", ErrNotFound, linkUUID)
		}
		return db.LinkRecord{}, fmt.Errorf("load link %s: %w", linkUUID, err)
	}

	if moved {
		metrics.RecordTransition(to, "applied")
		s.logger.Info().
			Str("link_uuid", linkUUID).
			Int64("topic_id", current.TopicID).
			Str("to", to).
			Msg("link status changed")
		return current, nil
	}
	if current.ProcessingStatus == to {
		metrics.RecordTransition(to, "repeated")
		return current, nil
	}

	metrics.RecordTransition(to, "conflict")
	return current, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.ProcessingStatus, to)
}

// List returns links for queue consumers; limit is clamped to [1, 500].
func (s *Service) List(ctx context.Context, topicID int64, status string, limit int) ([]db.LinkRecord, error) {
	status = strings.ToLower(strings.TrimSpace(status))
	switch status {
	case "":
		status = db.LinkStatusNew
	case db.LinkStatusNew, db.LinkStatusProcessed, db.LinkStatusDiscarded:
	default:
		return nil, fmt.Errorf("unknown processing status %q", status)
	}
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	return s.store.ListLinks(ctx, db.LinkListOptions{TopicID: topicID, Status: status, Limit: limit})
}
