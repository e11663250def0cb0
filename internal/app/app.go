package app

import (
	"fmt"
	"os"
	"strings"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "validate":
		return runValidate(args[1:])
	case "ingest":
		return runIngest(args[1:])
	case "evaluate":
		return runEvaluate(args[1:])
	case "probe":
		return runProbe(args[1:])
	case "resolve-stories":
		return runResolveStories(args[1:])
	case "cleanup":
		return runCleanup(args[1:])
	case "serve":
		return runServe(args[1:])
	case "hash-token":
		return runHashToken(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "curate CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  curate <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health           Verify database connectivity")
	fmt.Fprintln(os.Stderr, "  validate         Validate raw article batch JSON files against the v1 schema")
	fmt.Fprintln(os.Stderr, "  ingest           Admit and score one raw article batch")
	fmt.Fprintln(os.Stderr, "  evaluate         Evaluate source health and apply automatic actions")
	fmt.Fprintln(os.Stderr, "  probe            Check every active source URL and classify failures")
	fmt.Fprintln(os.Stderr, "  resolve-stories  Archive duplicate tenant stories of one topic")
	fmt.Fprintln(os.Stderr, "  cleanup          Discard stale links and delete expired rows")
	fmt.Fprintln(os.Stderr, "  serve            Start Echo API server")
	fmt.Fprintln(os.Stderr, "  hash-token       Hash an operator token for API_TOKEN_HASH")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"curate <command> -h\" for command-specific flags.")
}
