package app

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"horse.fit/curate/internal/cli"
	"horse.fit/curate/internal/ingest"
	payloadschema "horse.fit/curate/schema"
)

func runIngest(args []string) int {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	payload := fs.String("payload", "", "Raw article batch JSON")
	payloadFile := fs.String("payload-file", "", "Path to raw article batch JSON file, - for stdin (overrides --payload)")
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

	payloadJSON, err := loadJSONInput(*payload, *payloadFile, os.Stdin)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}
	batch, err := payloadschema.ValidateRawArticleBatch(payloadJSON)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}
	req, err := ingest.RequestFromBatch(batch)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid payload: %v\n", err)
		return 2
	}
	if strings.TrimSpace(req.Producer) == "" {
		req.Producer = "cli"
	}

	cfg, logger, code := loadConfig(envLoader)
	if code != 0 {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	rt, closeRuntime, code := connect(ctx, cfg, logger, "ingest")
	if code != 0 {
		return code
	}
	defer closeRuntime()

	result, err := rt.ingest.IngestBatch(ctx, req)
	if err != nil {
		logger.Error().Err(err).Int64("source_id", req.SourceID).Msg("ingest failed")
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
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
		"ingest batch=%s source_id=%d replayed=%t received=%d admitted=%d seen=%d rejected=%d failed=%d links=%d processed=%d link_failures=%d\n",
		result.BatchUUID,
		result.SourceID,
		result.Replayed,
		result.Received,
		result.Admitted,
		result.Seen,
		result.Rejected,
		result.Failed,
		result.LinksWritten,
		result.LinksProcessed,
		result.LinksFailed,
	)
	rows := make([][]string, 0, len(result.Items))
	for _, item := range result.Items {
		if item.Outcome == ingest.OutcomeAdmitted || item.Outcome == ingest.OutcomeSeen {
			continue
		}
		detail := item.Reason
		if item.Error != nil {
			detail = item.Error.Error()
		}
		rows = append(rows, []string{strconv.Itoa(item.Index), item.Outcome, orDash(detail), orDash(item.NormalizedURL)})
	}
	if len(rows) > 0 {
		if err := writeTable([]string{"INDEX", "OUTCOME", "DETAIL", "URL"}, rows); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to render table: %v\n", err)
			return 1
		}
	}
	return 0
}

// loadJSONInput prefers the file (or stdin for "-") over the inline value.
func loadJSONInput(inlineValue, filePath string, stdin io.Reader) (json.RawMessage, error) {
	if path := strings.TrimSpace(filePath); path != "" {
		var (
			payload []byte
			err     error
		)
		if path == "-" {
			payload, err = io.ReadAll(stdin)
		} else {
			payload, err = os.ReadFile(path)
		}
		if err != nil {
			return nil, fmt.Errorf("read payload file %q: %w", path, err)
		}
		trimmed := strings.TrimSpace(string(payload))
		if trimmed == "" {
			return nil, fmt.Errorf("payload file %q is empty", path)
		}
		return json.RawMessage(trimmed), nil
	}

	trimmed := strings.TrimSpace(inlineValue)
	if trimmed == "" {
		return nil, fmt.Errorf("--payload or --payload-file is required")
	}
	return json.RawMessage(trimmed), nil
}
