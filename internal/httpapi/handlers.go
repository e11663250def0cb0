package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"horse.fit/curate/internal/canon"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/globaltime"
	"horse.fit/curate/internal/ingest"
	"horse.fit/curate/internal/kv"
	"horse.fit/curate/internal/links"
	payloadschema "horse.fit/curate/schema"
)

const healthPingTimeout = 3 * time.Second

type statusRequest struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	payload := map[string]any{
		"service": "curate",
		"time":    globaltime.UTC(),
	}
	if s.deps.DB != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthPingTimeout)
		defer cancel()
		if err := s.deps.DB.Ping(ctx); err != nil {
			s.logger.Error().Err(err).Msg("database ping failed")
			return errorWithStatus(c, http.StatusServiceUnavailable, "Database unavailable")
		}
		payload["database"] = "ok"
	}
	return success(c, payload)
}

func (s *Server) handleIngest(c echo.Context) error {
	if s.deps.Ingest == nil {
		return internalError(c, "Ingestion is not configured")
	}

	raw, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return failValidation(c, map[string]string{"body": "could not be read"})
	}
	batch, err := payloadschema.ValidateRawArticleBatch(json.RawMessage(raw))
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	req, err := ingest.RequestFromBatch(batch)
	if err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}

	ctx := c.Request().Context()
	throttleKey := ""
	if s.deps.Throttle != nil && (req.Kind == "" || req.Kind == db.ImportKindScrape) {
		throttleKey = fmt.Sprintf("ingest:source:%d", req.SourceID)
		switch err := s.deps.Throttle.Allow(ctx, throttleKey); {
		case errors.Is(err, kv.ErrThrottled):
			return fail(c, http.StatusTooManyRequests, "Ingestion for this source is throttled; retry later", map[string]any{
				"source_id": req.SourceID,
			})
		case err != nil:
			// An unreachable gate store must not stop ingestion.
			s.logger.Warn().Err(err).Int64("source_id", req.SourceID).Msg("ingest throttle unavailable")
			throttleKey = ""
		}
	}

	result, err := s.deps.Ingest.IngestBatch(ctx, req)
	if err != nil {
		if throttleKey != "" {
			if resetErr := s.deps.Throttle.Reset(ctx, throttleKey); resetErr != nil {
				s.logger.Warn().Err(resetErr).Str("key", throttleKey).Msg("failed to reopen ingest throttle")
			}
		}
		switch {
		case errors.Is(err, ingest.ErrUnknownSource), errors.Is(err, ingest.ErrUnknownTopic):
			return failNotFound(c, err.Error())
		case errors.Is(err, ingest.ErrNoTopics):
			return fail(c, http.StatusUnprocessableEntity, err.Error(), nil)
		}
		s.logger.Error().Err(err).Int64("source_id", req.SourceID).Msg("ingest batch failed")
		return internalError(c, "Failed to ingest batch")
	}
	return success(c, result)
}

func (s *Server) handleListLinks(c echo.Context) error {
	if s.deps.Links == nil {
		return internalError(c, "Link queue is not configured")
	}

	topicID, err := parseID(c.QueryParam("topic"), true)
	if err != nil {
		return failValidation(c, map[string]string{"topic": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 100, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	status := strings.ToLower(strings.TrimSpace(c.QueryParam("status")))
	switch status {
	case "", db.LinkStatusNew, db.LinkStatusProcessed, db.LinkStatusDiscarded:
	default:
		return failValidation(c, map[string]string{"status": "must be new, processed or discarded"})
	}

	items, err := s.deps.Links.List(c.Request().Context(), topicID, status, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("topic_id", topicID).Msg("list links failed")
		return internalError(c, "Failed to load links")
	}
	return success(c, map[string]any{
		"items": items,
		"count": len(items),
		"limit": limit,
	})
}

func (s *Server) handleLinkStatus(c echo.Context) error {
	if s.deps.Links == nil {
		return internalError(c, "Link queue is not configured")
	}

	linkUUID := strings.TrimSpace(c.Param("link_uuid"))
	if _, err := uuid.Parse(linkUUID); err != nil {
		return failValidation(c, map[string]string{"link_uuid": "must be a UUID"})
	}

	var req statusRequest
	if err := decodeJSONBody(c, &req); err != nil {
		return failValidation(c, map[string]string{"body": err.Error()})
	}
	to := strings.ToLower(strings.TrimSpace(req.Status))
	if !links.CanTransition(db.LinkStatusNew, to) {
		return failValidation(c, map[string]string{"status": "must be processed or discarded"})
	}

	link, err := s.deps.Links.Transition(c.Request().Context(), linkUUID, to)
	if err != nil {
		switch {
		case errors.Is(err, links.ErrNotFound):
			return failNotFound(c, "Link not found")
		case errors.Is(err, links.ErrInvalidTransition):
			return fail(c, http.StatusConflict, "Link was already settled", map[string]any{
				"link_uuid":         linkUUID,
				"processing_status": link.ProcessingStatus,
			})
		}
		s.logger.Error().Err(err).Str("link_uuid", linkUUID).Msg("link transition failed")
		return internalError(c, "Failed to update link")
	}
	return success(c, link)
}

func (s *Server) handleEvaluateSources(c echo.Context) error {
	if s.deps.Health == nil {
		return internalError(c, "Source health is not configured")
	}
	dryRun, err := parseBool(c.QueryParam("dry_run"))
	if err != nil {
		return failValidation(c, map[string]string{"dry_run": err.Error()})
	}

	report, err := s.deps.Health.EvaluateAll(c.Request().Context(), dryRun)
	if err != nil {
		s.logger.Error().Err(err).Msg("source evaluation failed")
		return internalError(c, "Failed to evaluate sources")
	}
	return success(c, report)
}

func (s *Server) handleProbeSources(c echo.Context) error {
	if s.deps.Health == nil {
		return internalError(c, "Source health is not configured")
	}
	record, err := parseBool(c.QueryParam("record"))
	if err != nil {
		return failValidation(c, map[string]string{"record": err.Error()})
	}

	report, err := s.deps.Health.ProbeAll(c.Request().Context(), record)
	if err != nil {
		s.logger.Error().Err(err).Msg("source probe failed")
		return internalError(c, "Failed to probe sources")
	}
	return success(c, report)
}

func (s *Server) handleHealthEvents(c echo.Context) error {
	if s.deps.Health == nil {
		return internalError(c, "Source health is not configured")
	}
	sourceID, err := parseID(c.Param("source_id"), true)
	if err != nil {
		return failValidation(c, map[string]string{"source_id": err.Error()})
	}
	limit, err := parsePositiveInt(c.QueryParam("limit"), 50, 1, 500)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	events, err := s.deps.Health.Events(c.Request().Context(), sourceID, limit)
	if err != nil {
		s.logger.Error().Err(err).Int64("source_id", sourceID).Msg("list health events failed")
		return internalError(c, "Failed to load health events")
	}
	return success(c, map[string]any{
		"items": events,
		"count": len(events),
		"limit": limit,
	})
}

func (s *Server) handleRefreshTopics(c echo.Context) error {
	if s.deps.Tenants == nil {
		return internalError(c, "Tenant cache is not configured")
	}
	if err := s.deps.Tenants.Invalidate(c.Request().Context()); err != nil {
		s.logger.Error().Err(err).Msg("tenant cache invalidation failed")
		return internalError(c, "Failed to refresh topics")
	}
	s.logger.Info().Msg("tenant cache invalidated")
	return success(c, map[string]any{"refreshed": true})
}

// handleGetArticle looks an article up by any spelling of its URL.
func (s *Server) handleGetArticle(c echo.Context) error {
	if s.deps.Articles == nil {
		return internalError(c, "Article store is not configured")
	}
	normalized := canon.NormalizeURL(c.QueryParam("url"))
	if normalized == "" {
		return failValidation(c, map[string]string{"url": "is required"})
	}

	article, err := s.deps.Articles.GetArticleByNormalizedURL(c.Request().Context(), normalized)
	if err != nil {
		if db.IsNoRows(err) {
			return failNotFound(c, "Article not found")
		}
		s.logger.Error().Err(err).Str("normalized_url", normalized).Msg("article lookup failed")
		return internalError(c, "Failed to load article")
	}
	return success(c, article)
}

func (s *Server) handleResolveStories(c echo.Context) error {
	if s.deps.Stories == nil {
		return internalError(c, "Story resolver is not configured")
	}
	topicID, err := parseID(c.Param("topic_id"), false)
	if err != nil {
		return failValidation(c, map[string]string{"topic_id": err.Error()})
	}
	dryRun, err := parseBool(c.QueryParam("dry_run"))
	if err != nil {
		return failValidation(c, map[string]string{"dry_run": err.Error()})
	}

	result, err := s.deps.Stories.ResolveTopic(c.Request().Context(), topicID, dryRun)
	if err != nil {
		s.logger.Error().Err(err).Int64("topic_id", topicID).Msg("story resolution failed")
		return internalError(c, "Failed to resolve duplicate stories")
	}
	return success(c, result)
}

func decodeJSONBody(c echo.Context, dest any) error {
	decoder := json.NewDecoder(c.Request().Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dest); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("body is empty")
		}
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if decoder.More() {
		return fmt.Errorf("body contains trailing content")
	}
	return nil
}

func parsePositiveInt(raw string, defaultValue, minValue, maxValue int) (int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return defaultValue, nil
	}
	value, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("must be an integer")
	}
	if value < minValue || value > maxValue {
		return 0, fmt.Errorf("must be between %d and %d", minValue, maxValue)
	}
	return value, nil
}

func parseID(raw string, optional bool) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		if optional {
			return 0, nil
		}
		return 0, fmt.Errorf("is required")
	}
	value, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || value <= 0 {
		return 0, fmt.Errorf("must be a positive integer")
	}
	return value, nil
}

func parseBool(raw string) (bool, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return false, nil
	}
	value, err := strconv.ParseBool(trimmed)
	if err != nil {
		return false, fmt.Errorf("must be true or false")
	}
	return value, nil
}
