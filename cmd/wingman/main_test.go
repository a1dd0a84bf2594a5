package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "wingman.yaml")
	body = strings.ReplaceAll(body, "$DIR", dir)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestBeginningOfMonth(t *testing.T) {
	got := beginningOfMonth()
	now := time.Now().UTC()
	if got.Day() != 1 || got.Month() != now.Month() || got.Hour() != 0 {
		t.Fatalf("beginningOfMonth = %v", got)
	}
}

func TestFormatCostTable(t *testing.T) {
	if got := formatCostTable(nil); got != "No cost data found.\n" {
		t.Fatalf("empty table = %q", got)
	}

	out := formatCostTable([]models.CostReport{
		{Provider: models.ProviderGemini, Model: "gemini-2.5-flash", RequestCount: 3, TotalTokens: 1500, CachedTokens: 200, EstimatedCost: 0.25},
		{Model: "gpt-4o-mini", RequestCount: 1, TotalTokens: 100, EstimatedCost: 0.5},
	})
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 6 {
		t.Fatalf("expected 6 lines, got %d:\n%s", len(lines), out)
	}
	if !strings.Contains(lines[2], "gemini-2.5-flash") || !strings.Contains(lines[2], "$   0.2500") {
		t.Errorf("row = %q", lines[2])
	}
	if !strings.HasPrefix(lines[3], "(none)") {
		t.Errorf("missing provider placeholder: %q", lines[3])
	}
	if !strings.HasSuffix(lines[5], "TOTAL: $   0.7500") {
		t.Errorf("total = %q", lines[5])
	}
	for _, l := range lines {
		if len(l) != 80 {
			t.Errorf("line width %d: %q", len(l), l)
		}
	}
}

func TestModelsCommand(t *testing.T) {
	path := writeConfig(t, `
models:
  version: "7"
  updated: "2025-06-01"
  defaults:
    temperature: 0.5
    max_output_tokens: 800
  chains:
    wingman:
      - model: gemini-2.5-flash
      - model: gpt-4o-mini
        temperature: 0.2
`)
	out, err := run(t, "models", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"models version 7 (updated 2025-06-01)", "wingman", "gemini", "openai", "0.2", "800"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestPromptShowInline(t *testing.T) {
	path := writeConfig(t, `
prompt:
  source: inline
  version: v9
  inline:
    chat: "you are a quiet regular"
`)
	out, err := run(t, "prompt", "show", "chat", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "# chat (version v9, source inline)") || !strings.Contains(out, "you are a quiet regular") {
		t.Fatalf("unexpected output:\n%s", out)
	}
}

func TestPromptShowRejectsExtraArgs(t *testing.T) {
	if _, err := run(t, "prompt", "show", "a", "b"); err == nil {
		t.Fatal("expected error for two prompt names")
	}
}

func TestCacheCommandsWithMemoryStore(t *testing.T) {
	path := writeConfig(t, "cache:\n  store: memory\n")
	out, err := run(t, "cache", "stats", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, `"memory"`) {
		t.Fatalf("unexpected output: %s", out)
	}
}

func TestCacheCommandsWithSQLiteStore(t *testing.T) {
	path := writeConfig(t, "cache:\n  store: sqlite\n  path: $DIR/handles.db\n")

	out, err := run(t, "cache", "stats", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Entries: 0") {
		t.Errorf("stats output: %s", out)
	}

	out, err = run(t, "cache", "prune", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Removed 0 expired handles.") {
		t.Errorf("prune output: %s", out)
	}

	out, err = run(t, "cache", "clear", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "All cache handles cleared.") {
		t.Errorf("clear output: %s", out)
	}
}

func TestStatsAndCostOnEmptyDatabase(t *testing.T) {
	path := writeConfig(t, "database:\n  driver: sqlite\n  dsn: $DIR/wingman.db\n")

	out, err := run(t, "stats", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No usage data found.") {
		t.Errorf("stats output: %s", out)
	}

	out, err = run(t, "cost", "-c", path, "--since", "2025-01-01")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "No cost data found.") {
		t.Errorf("cost output: %s", out)
	}

	if _, err := run(t, "cost", "-c", path, "--since", "01/02/2025"); err == nil {
		t.Error("expected error for malformed --since")
	}
}

func TestBudgetStatus(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: $DIR/wingman.db\n")
	out, err := run(t, "budget", "status", "--user", "u1", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "Budget enforcement is disabled.") {
		t.Errorf("disabled output: %s", out)
	}

	path = writeConfig(t, `
database:
  dsn: $DIR/wingman.db
budget:
  enabled: true
  policies:
    - user_id: "*"
      max_tokens: 5000
      period: daily
`)
	out, err = run(t, "budget", "status", "--user", "u1", "-c", path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(out, "5000") || !strings.Contains(out, "daily") {
		t.Errorf("status output: %s", out)
	}

	if _, err := run(t, "budget", "status", "-c", path); err == nil {
		t.Error("expected error without --user")
	}
}

func TestServeRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, `
providers:
  - name: gemini
    type: gemini
`)
	_, err := run(t, "serve", "-c", path)
	if err == nil || !strings.Contains(err.Error(), "invalid config") {
		t.Fatalf("err = %v", err)
	}
}

func TestAuditCommands(t *testing.T) {
	path := writeConfig(t, "database:\n  dsn: $DIR/wingman.db\naudit:\n  enabled: true\n  retention_days: 7\n")

	for _, tc := range []struct {
		args []string
		want string
	}{
		{[]string{"audit", "search", "--failed"}, "No audit entries found."},
		{[]string{"audit", "stats"}, "No audit stats found."},
		{[]string{"audit", "cleanup"}, "Deleted 0 audit entries."},
		{[]string{"audit", "show", "--request-id", "nope"}, "No entry found for that request ID."},
	} {
		out, err := run(t, append(tc.args, "-c", path)...)
		if err != nil {
			t.Fatalf("%v: %v", tc.args, err)
		}
		if !strings.Contains(out, tc.want) {
			t.Errorf("%v output: %s", tc.args, out)
		}
	}

	if _, err := run(t, "audit", "show", "-c", path); err == nil {
		t.Error("expected error without --request-id")
	}
}

func TestFormatAuditEntry(t *testing.T) {
	out := formatAuditEntry(models.AuditEntry{
		RequestID: "req-1",
		Kind:      models.AuditWingman,
		UserID:    "owner-1",
		Error:     "all models failed",
		Attempts: []models.Attempt{
			{Model: "gemini-2.5-flash", Number: 1, Outcome: models.OutcomeRetryable, StatusCode: 503},
		},
		CreatedAt: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	})
	for _, want := range []string{"Request ID:    req-1", "Model:         (none) ((none))", "Error:         all models failed", "#1 retryable 503", "2025-06-01T12:00:00Z"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q:\n%s", want, out)
		}
	}

	rows := formatAuditEntries([]models.AuditEntry{{RequestID: "req-2", Kind: models.AuditChat, Model: "gpt-4o-mini", Fallback: true}})
	if !strings.Contains(rows, "fallback") || !strings.Contains(rows, "gpt-4o-mini") {
		t.Errorf("rows:\n%s", rows)
	}
}
