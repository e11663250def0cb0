package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"horse.fit/curate/internal/cli"
	"horse.fit/curate/internal/health"
)

func runEvaluate(args []string) int {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	dryRun := fs.Bool("dry-run", false, "Report recommendations without applying them")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	outputFormat, err := parseOutputFormat(*format, outputFormatTable)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, closeRuntime, code := connect(ctx, cfg, logger, "evaluate")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	report, err := rt.health.EvaluateAll(ctx, *dryRun)
	if err != nil {
		logger.Error().Err(err).Msg("source evaluation failed")
		fmt.Fprintf(os.Stderr, "Evaluate failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
	} else {
		fmt.Printf(
			"evaluate dry_run=%t evaluated=%d deactivated=%d method_changed=%d investigate=%d failed=%d\n",
			report.DryRun,
			report.Evaluated,
			report.Deactivated,
			report.Switched,
			report.Flagged,
			report.Failed,
		)
		rows := make([][]string, 0, len(report.Outcomes))
		for _, outcome := range report.Outcomes {
			if outcome.Action == health.ActionNone {
				continue
			}
			rows = append(rows, []string{
				strconv.FormatInt(outcome.SourceID, 10),
				outcome.SourceName,
				string(outcome.Action),
				formatRate(outcome.SuccessRate),
				orDash(outcome.SuggestedMethod),
				outcome.Result,
				orDash(outcome.Explanation),
			})
		}
		if len(rows) > 0 {
			if err := writeTable([]string{"SOURCE", "NAME", "ACTION", "RATE", "SUGGESTED", "RESULT", "EXPLANATION"}, rows); err != nil {
				fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
				return 1
			}
		}
	}

	if report.Failed > 0 {
		return 1
	}
	return 0
}
