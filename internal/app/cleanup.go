package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"horse.fit/curate/internal/cli"
)

func runCleanup(args []string) int {
	fs := flag.NewFlagSet("cleanup", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Report cutoffs without changing rows")

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

	rt, closeRuntime, code := connect(ctx, cfg, logger, "cleanup")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	report, err := rt.retention.Run(ctx, *dryRun)
	if err != nil {
		logger.Error().Err(err).Msg("cleanup failed")
		fmt.Fprintf(os.Stderr, "Cleanup failed: %v\n", err)
		return 1
	}

	fmt.Printf(
		"cleanup dry_run=%t triage_cutoff=%s retention_cutoff=%s links_discarded=%d links_deleted=%d articles_deleted=%d kv_deleted=%d\n",
		report.DryRun,
		report.TriageCutoff.Format(time.RFC3339),
		report.RetainCutoff.Format(time.RFC3339),
		report.LinksDiscarded,
		report.LinksDeleted,
		report.ArticlesPurged,
		report.KVPurged,
	)
	return 0
}
