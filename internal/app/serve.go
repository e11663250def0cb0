package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"horse.fit/curate/internal/cli"
	"horse.fit/curate/internal/httpapi"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "0.0.0.0", "Host interface to bind")
	port := fs.Int("port", 8090, "HTTP port")
	readTimeout := fs.Duration("read-timeout", 10*time.Second, "HTTP read timeout")
	writeTimeout := fs.Duration("write-timeout", 2*time.Minute, "HTTP write timeout")
	shutdownTimeout := fs.Duration("shutdown-timeout", 10*time.Second, "Graceful shutdown timeout")
	bodyLimit := fs.String("body-limit", "8M", "Maximum request body size")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *port <= 0 || *port > 65535 {
		fmt.Fprintln(os.Stderr, "--port must be between 1 and 65535")
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	dbCtx, dbCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer dbCancel()

	rt, closeRuntime, code := connect(dbCtx, cfg, logger, "serve")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		cancel()
	}()

	if strings.TrimSpace(cfg.APITokenHash) == "" {
		logger.Warn().Msg("API_TOKEN_HASH is empty; mutating endpoints are unauthenticated")
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Ingest:   rt.ingest,
		Links:    rt.links,
		Health:   rt.health,
		Stories:  rt.stories,
		Articles: rt.pool,
		Tenants:  rt.tenants,
		Throttle: rt.gate,
		DB:       rt.pool,
	}, logger, httpapi.Options{
		Host:            *host,
		Port:            *port,
		ReadTimeout:     *readTimeout,
		WriteTimeout:    *writeTimeout,
		ShutdownTimeout: *shutdownTimeout,
		BodyLimit:       *bodyLimit,
		TokenHash:       cfg.APITokenHash,
	})

	if err := srv.Start(ctx); err != nil {
		logger.Error().Err(err).Str("host", *host).Int("port", *port).Msg("server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}

	return 0
}
