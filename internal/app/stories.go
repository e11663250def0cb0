package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/curate/internal/cli"
)

func runResolveStories(args []string) int {
	fs := flag.NewFlagSet("resolve-stories", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", time.Minute, "Command timeout")
	topicID := fs.Int64("topic", 0, "Topic ID whose stories are resolved")
	dryRun := fs.Bool("dry-run", false, "Report duplicate groups without archiving")
	format := fs.String("format", outputFormatTable, "Output format: table or json")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	if *topicID <= 0 {
		fmt.Fprintln(os.Stderr, "--topic must be a positive topic id")
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

	rt, closeRuntime, code := connect(ctx, cfg, logger, "resolve-stories")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	result, err := rt.stories.ResolveTopic(ctx, *topicID, *dryRun)
	if err != nil {
		logger.Error().Err(err).Int64("topic_id", *topicID).Msg("story resolution failed")
		fmt.Fprintf(os.Stderr, "Resolve stories failed: %v\n", err)
		return 1
	}

	if outputFormat == outputFormatJSON {
		if err := printJSON(result); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to encode JSON output: %v\n", err)
			return 1
		}
		return 0
	}

	fmt.Printf(
		"resolve-stories topic_id=%d dry_run=%t stories=%d groups=%d archived=%d\n",
		result.TopicID,
		result.DryRun,
		result.Stories,
		len(result.Groups),
		result.Archived,
	)
	rows := make([][]string, 0, len(result.Groups))
	for _, group := range result.Groups {
		archived := make([]string, 0, len(group.Archive))
		for _, story := range group.Archive {
			archived = append(archived, strconv.FormatInt(story.StoryID, 10))
		}
		rows = append(rows, []string{
			strconv.FormatInt(group.Keep.StoryID, 10),
			strings.Join(archived, ","),
			group.Title,
		})
	}
	if len(rows) > 0 {
		if err := writeTable([]string{"KEEP", "ARCHIVE", "TITLE"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}
	return 0
}
