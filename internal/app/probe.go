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
)

func runProbe(args []string) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 5*time.Minute, "Command timeout")
	record := fs.Bool("record", false, "Count each probe as a scrape attempt on the source")
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

	rt, closeRuntime, code := connect(ctx, cfg, logger, "probe")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	report, err := rt.health.ProbeAll(ctx, *record)
	if err != nil {
		logger.Error().Err(err).Msg("source probe failed")
		fmt.Fprintf(os.Stderr, "Probe failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(report); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf("probe probed=%d healthy=%d failing=%d recorded=%t\n", report.Probed, report.Healthy, report.Failing, *record)
	rows := make([][]string, 0, len(report.Outcomes))
	for _, outcome := range report.Outcomes {
		if outcome.Probe.OK {
			continue
		}
		rows = append(rows, []string{
			strconv.FormatInt(outcome.SourceID, 10),
			outcome.SourceName,
			string(outcome.Probe.Category),
			strconv.Itoa(outcome.Probe.StatusCode),
			orDash(outcome.Probe.Guidance),
		})
	}
	if len(rows) > 0 {
		if err := writeTable([]string{"SOURCE", "NAME", "CATEGORY", "STATUS", "GUIDANCE"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}
	return 0
}
