package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/health"
	"horse.fit/curate/internal/ingest"
	"horse.fit/curate/internal/stories"
)

type Ingester interface {
	IngestBatch(ctx context.Context, req ingest.Request) (ingest.Result, error)
}

type LinkQueue interface {
	List(ctx context.Context, topicID int64, status string, limit int) ([]db.LinkRecord, error)
	Transition(ctx context.Context, linkUUID, to string) (db.LinkRecord, error)
}

type HealthRunner interface {
	EvaluateAll(ctx context.Context, dryRun bool) (health.Report, error)
	ProbeAll(ctx context.Context, record bool) (health.ProbeReport, error)
	Events(ctx context.Context, sourceID int64, limit int) ([]db.HealthEventRecord, error)
}

// ArticleLookup reads the shared content store; *db.Pool implements it.
type ArticleLookup interface {
	GetArticleByNormalizedURL(ctx context.Context, normalizedURL string) (db.ArticleRecord, error)
}

// TenantCache drops cached tenant configuration after topics are edited.
type TenantCache interface {
	Invalidate(ctx context.Context) error
}

type StoryResolver interface {
	ResolveTopic(ctx context.Context, topicID int64, dryRun bool) (stories.Result, error)
}

// Throttle is the shared per-key gate; *kv.Gate implements it.
type Throttle interface {
	Allow(ctx context.Context, key string) error
	Reset(ctx context.Context, key string) error
}

type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	Ingest   Ingester
	Links    LinkQueue
	Health   HealthRunner
	Stories  StoryResolver
	Articles ArticleLookup
	Tenants  TenantCache
	Throttle Throttle
	DB       Pinger
}

type Options struct {
	Host            string
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	BodyLimit       string
	// Bcrypt hash of the operator token; empty disables authentication.
	TokenHash string
}

type Server struct {
	deps      Deps
	logger    zerolog.Logger
	opts      Options
	tokenHash string
}

func NewServer(deps Deps, logger zerolog.Logger, opts Options) *Server {
	host := strings.TrimSpace(opts.Host)
	if host == "" {
		host = "0.0.0.0"
	}
	port := opts.Port
	if port <= 0 {
		port = 8090
	}
	readTimeout := opts.ReadTimeout
	if readTimeout <= 0 {
		readTimeout = 10 * time.Second
	}
	writeTimeout := opts.WriteTimeout
	if writeTimeout <= 0 {
		writeTimeout = 2 * time.Minute
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	bodyLimit := strings.TrimSpace(opts.BodyLimit)
	if bodyLimit == "" {
		bodyLimit = "8M"
	}

	return &Server{
		deps:      deps,
		logger:    logger,
		tokenHash: strings.TrimSpace(opts.TokenHash),
		opts: Options{
			Host:            host,
			Port:            port,
			ReadTimeout:     readTimeout,
			WriteTimeout:    writeTimeout,
			ShutdownTimeout: shutdownTimeout,
			BodyLimit:       bodyLimit,
		},
	}
}

// Handler builds the routed echo instance. Start serves it; tests drive it directly.
func (s *Server) Handler() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = s.httpErrorHandler

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.BodyLimit(s.opts.BodyLimit))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:    true,
		LogURI:       true,
		LogMethod:    true,
		LogLatency:   true,
		LogRemoteIP:  true,
		LogRequestID: true,
		LogError:     true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			if v.Error != nil {
				s.logger.Error().
					Err(v.Error).
					Str("method", v.Method).
					Str("uri", v.URI).
					Int("status", v.Status).
					Dur("latency", v.Latency).
					Str("remote_ip", v.RemoteIP).
					Str("request_id", v.RequestID).
					Msg("http request failed")
				return nil
			}

			s.logger.Info().
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Str("request_id", v.RequestID).
				Msg("http request")
			return nil
		},
	}))

	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	api.GET("/health", s.handleHealth)
	api.GET("/links", s.handleListLinks)
	api.GET("/articles", s.handleGetArticle)
	api.GET("/sources/events", s.handleHealthEvents)
	api.GET("/sources/:source_id/events", s.handleHealthEvents)

	requireToken := s.requireToken()
	api.POST("/ingest", s.handleIngest, requireToken)
	api.POST("/links/:link_uuid/status", s.handleLinkStatus, requireToken)
	api.POST("/sources/evaluate", s.handleEvaluateSources, requireToken)
	api.POST("/sources/probe", s.handleProbeSources, requireToken)
	api.POST("/topics/:topic_id/stories/resolve", s.handleResolveStories, requireToken)
	api.POST("/topics/refresh", s.handleRefreshTopics, requireToken)

	return e
}

func (s *Server) Start(ctx context.Context) error {
	if s == nil || s.deps.Ingest == nil {
		return fmt.Errorf("server is not initialized")
	}

	e := s.Handler()
	addr := fmt.Sprintf("%s:%d", s.opts.Host, s.opts.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      e,
		ReadTimeout:  s.opts.ReadTimeout,
		WriteTimeout: s.opts.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
		defer cancel()
		if shutdownErr := e.Shutdown(shutdownCtx); shutdownErr != nil {
			s.logger.Error().Err(shutdownErr).Msg("server shutdown failed")
		}
	}()

	s.logger.Info().
		Str("addr", addr).
		Bool("auth", s.tokenHash != "").
		Msg("curate api server started")

	if err := e.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("start server: %w", err)
	}
	s.logger.Info().Msg("curate api server stopped")
	return nil
}

func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	status := http.StatusInternalServerError
	message := "Internal server error"
	var he *echo.HTTPError
	if errors.As(err, &he) {
		status = he.Code
		switch v := he.Message.(type) {
		case string:
			if strings.TrimSpace(v) != "" {
				message = v
			}
		default:
			if text := strings.TrimSpace(http.StatusText(status)); text != "" {
				message = text
			}
		}
	} else if err != nil {
		message = err.Error()
	}

	if status >= 500 {
		_ = internalError(c, "Internal server error")
		return
	}
	_ = fail(c, status, message, nil)
}
