package app

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestRunExitCodes(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		args []string
		want int
	}{
		{name: "no args", args: nil, want: 2},
		{name: "help", args: []string{"help"}, want: 0},
		{name: "unknown", args: []string{"frobnicate"}, want: 2},
		{name: "command help", args: []string{"evaluate", "-h"}, want: 0},
		{name: "bad flag", args: []string{"cleanup", "--nope"}, want: 2},
		{name: "resolve without topic", args: []string{"resolve-stories"}, want: 2},
		{name: "serve bad port", args: []string{"serve", "--port", "70000"}, want: 2},
		{name: "probe bad format", args: []string{"probe", "--format", "xml"}, want: 2},
		{name: "ingest without payload", args: []string{"ingest"}, want: 2},
		{name: "ingest invalid payload", args: []string{"ingest", "--payload", `{"payload_version":"v2"}`}, want: 2},
		{name: "hash-token without input", args: []string{"hash-token"}, want: 2},
		{name: "hash-token conflicting flags", args: []string{"hash-token", "--token", "x", "--generate"}, want: 2},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := Run(tc.args); got != tc.want {
				t.Fatalf("Run(%v) = %d, want %d", tc.args, got, tc.want)
			}
		})
	}
}

func TestLoadJSONInput(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	path := filepath.Join(root, "batch.json")
	mustWriteFile(t, path, "  "+validBatch+"\n")

	raw, err := loadJSONInput(`{"ignored":true}`, path, nil)
	if err != nil {
		t.Fatalf("loadJSONInput failed: %v", err)
	}
	if !strings.HasPrefix(string(raw), "{") || strings.Contains(string(raw), "ignored") {
		t.Fatalf("expected file contents to win, got %s", raw)
	}

	raw, err = loadJSONInput("", "-", strings.NewReader(validBatch))
	if err != nil {
		t.Fatalf("loadJSONInput stdin failed: %v", err)
	}
	if string(raw) != strings.TrimSpace(validBatch) {
		t.Fatalf("unexpected stdin payload: %s", raw)
	}

	if _, err := loadJSONInput(" ", "", nil); err == nil {
		t.Fatalf("expected error for empty input")
	}
	empty := filepath.Join(root, "empty.json")
	mustWriteFile(t, empty, "\n")
	if _, err := loadJSONInput("", empty, nil); err == nil {
		t.Fatalf("expected error for empty file")
	}
}

func TestParseOutputFormat(t *testing.T) {
	t.Parallel()

	if got, err := parseOutputFormat(" JSON ", outputFormatTable); err != nil || got != outputFormatJSON {
		t.Fatalf("expected json, got %q (%v)", got, err)
	}
	if got, err := parseOutputFormat("", outputFormatTable); err != nil || got != outputFormatTable {
		t.Fatalf("expected default table, got %q (%v)", got, err)
	}
	if _, err := parseOutputFormat("yaml", outputFormatTable); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}
