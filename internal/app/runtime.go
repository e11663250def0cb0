package app

import (
	"context"
	"fmt"
	"os"

	"github.com/rs/zerolog"

	"horse.fit/curate/internal/admission"
	"horse.fit/curate/internal/cli"
	"horse.fit/curate/internal/config"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/health"
	"horse.fit/curate/internal/ingest"
	"horse.fit/curate/internal/kv"
	"horse.fit/curate/internal/langdetect"
	"horse.fit/curate/internal/links"
	"horse.fit/curate/internal/logging"
	"horse.fit/curate/internal/retention"
	"horse.fit/curate/internal/scoring"
	"horse.fit/curate/internal/sourceprobe"
	"horse.fit/curate/internal/stories"
	"horse.fit/curate/internal/tenants"
)

const ingestGatePrefix = "gate"

// loadConfig applies the --env file, then reads and validates configuration and builds the
// logger. A non-zero exit code means the command should stop.
func loadConfig(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, int) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Nop(), 1
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Nop(), 1
	}
	return cfg, logger, 0
}

// runtime holds the services every command builds from one pool and one KV store.
type runtime struct {
	pool      *db.Pool
	kvStore   kv.Store
	gate      *kv.Gate
	ingest    *ingest.Service
	links     *links.Service
	health    *health.Service
	stories   *stories.Service
	retention *retention.Service
	tenants   *tenants.Directory
	closeKV   func() error
}

func newRuntime(cfg *config.Config, pool *db.Pool, logger zerolog.Logger) (*runtime, error) {
	rt := &runtime{pool: pool, closeKV: func() error { return nil }}

	switch cfg.NormalizedKVBackend() {
	case config.KVBackendRedis:
		store, err := kv.NewRedisStoreWithURL(cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		rt.kvStore = store
		rt.closeKV = store.Close
	default:
		rt.kvStore = kv.NewPostgresStore(pool)
	}

	directory := tenants.NewDirectory(pool, rt.kvStore, cfg.CompetitorCacheTTL, logger)
	rt.tenants = directory
	filter := admission.NewFilter(admission.Options{
		MinWords:      cfg.AdmissionMinWords,
		RecencyWindow: cfg.RecencyWindow(),
	})
	rt.ingest = ingest.NewService(pool, directory, ingest.Options{
		Filter: filter,
		Gate: scoring.Gate{
			MinQuality:   cfg.ProcessedMinQuality,
			MinRelevance: cfg.ProcessedMinRelevance,
			MinWords:     cfg.ProcessedMinWords,
		},
		Languages: langdetect.New(),
	}, logger)
	rt.gate = kv.NewGate(rt.kvStore, ingestGatePrefix, cfg.IngestMinInterval)
	rt.links = links.NewService(pool, logger)

	thresholds := health.DefaultThresholds
	thresholds.MinGroupSize = cfg.HealthMinGroupSize
	thresholds.MinAttempts = cfg.HealthMinAttempts
	rt.health = health.NewService(pool, sourceprobe.New(cfg.ProbeTimeout), thresholds, logger)

	rt.stories = stories.NewService(pool, logger)

	cleanup, err := retention.NewService(pool, retention.Windows{
		Triage:    cfg.TriageWindow(),
		Retention: cfg.RetentionWindow(),
	}, logger)
	if err != nil {
		return nil, err
	}
	rt.retention = cleanup
	return rt, nil
}

func (r *runtime) Close() {
	if r == nil {
		return
	}
	_ = r.closeKV()
}

// connect opens the pool and builds the runtime, reporting failures the way every command does.
func connect(ctx context.Context, cfg *config.Config, logger zerolog.Logger, command string) (*runtime, func(), int) {
	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Str("command", command).Msg("database connection failed")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return nil, func() {}, 1
	}

	rt, err := newRuntime(cfg, pool, logger)
	if err != nil {
		_ = pool.Close()
		logger.Error().Err(err).Str("command", command).Msg("runtime setup failed")
		fmt.Fprintf(os.Stderr, "Failed to initialize: %v\n", err)
		return nil, func() {}, 1
	}

	return rt, func() {
		rt.Close()
		_ = pool.Close()
	}, 0
}
