package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curate/internal/cli"
	"horse.fit/curate/internal/config"
	"horse.fit/curate/internal/db"
	"horse.fit/curate/internal/kv"
)

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Second, "Database ping timeout")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("health check failed")
		fmt.Fprintf(os.Stderr, "Health check failed: %v\n", err)
		return 1
	}
	defer pool.Close()

	if cfg.NormalizedKVBackend() == config.KVBackendRedis {
		store, err := kv.NewRedisStoreWithURL(cfg.RedisURL)
		if err == nil {
			err = store.Ping(ctx)
			_ = store.Close()
		}
		if err != nil {
			logger.Error().Err(err).Msg("redis health check failed")
			fmt.Fprintf(os.Stderr, "Health check failed: redis: %v\n", err)
			return 1
		}
	}

	logger.Info().
		Dur("timeout", *timeout).
		Str("kv_backend", cfg.NormalizedKVBackend()).
		Msg("health check passed")
	fmt.Printf("ok: database ping successful kv_backend=%s\n", cfg.NormalizedKVBackend())
	return 0
}
