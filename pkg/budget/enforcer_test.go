package budget

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
	"github.com/krishamaze/arin-bot-v2/pkg/tracker"
)

func setup(t *testing.T) (tracker.Tracker, context.Context) {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "budget_test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	ctx := context.Background()
	tr, err := tracker.New(ctx, db, "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	return tr, ctx
}

func record(t *testing.T, tr tracker.Tracker, userID, model string, tokens int) {
	t.Helper()
	err := tr.Record(context.Background(), models.UsageRecord{
		UserID: userID, Provider: models.ProviderGemini, Model: model,
		TotalTokens: tokens, CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestCheckUnderBudget(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-flash", 150)

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	if err := e.Check(ctx, "user1", "gemini-2.5-flash"); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheckExceeded(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-flash", 1100)

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	err := e.Check(ctx, "user1", "gemini-2.5-flash")
	if !errors.Is(err, ErrBudgetExceeded) {
		t.Fatalf("expected ErrBudgetExceeded, got %v", err)
	}

	// Other users are unaffected.
	if err := e.Check(ctx, "user2", "gemini-2.5-flash"); err != nil {
		t.Errorf("expected no error for user2, got %v", err)
	}
}

func TestModelScopedPolicy(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-pro", 600)

	e := New([]models.BudgetPolicy{
		{UserID: "*", Model: "gemini-2.5-pro", MaxTokens: 500, Period: models.BudgetMonthly},
	}, tr)

	if err := e.Check(ctx, "user1", "gemini-2.5-pro"); !errors.Is(err, ErrBudgetExceeded) {
		t.Errorf("expected pro to be over budget, got %v", err)
	}
	if err := e.Check(ctx, "user1", "gemini-2.5-flash"); err != nil {
		t.Errorf("policy for pro should not block flash: %v", err)
	}
}

func TestNoPolicies(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-flash", 1_000_000)

	if err := New(nil, tr).Check(ctx, "user1", "gemini-2.5-flash"); err != nil {
		t.Errorf("expected no error without policies, got %v", err)
	}
}

func TestStatus(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-flash", 150)

	e := New([]models.BudgetPolicy{
		{UserID: "*", MaxTokens: 1000, Period: models.BudgetDaily},
	}, tr)

	statuses, err := e.Status(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status, got %d", len(statuses))
	}
	if statuses[0].Used != 150 {
		t.Errorf("expected 150 used, got %d", statuses[0].Used)
	}
	if statuses[0].Remaining != 850 {
		t.Errorf("expected 850 remaining, got %d", statuses[0].Remaining)
	}
}

func TestSpecificUserPolicy(t *testing.T) {
	tr, ctx := setup(t)

	e := New([]models.BudgetPolicy{
		{UserID: "user1", MaxTokens: 500, Period: models.BudgetDaily},
		{UserID: "*", MaxTokens: 10000, Period: models.BudgetDaily},
	}, tr)

	// user2 should only match wildcard
	statuses, err := e.Status(ctx, "user2")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 1 {
		t.Fatalf("expected 1 status for user2, got %d", len(statuses))
	}

	// user1 should match both
	statuses, err = e.Status(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(statuses) != 2 {
		t.Fatalf("expected 2 statuses for user1, got %d", len(statuses))
	}
}

func TestExceededErrorCarriesReset(t *testing.T) {
	tr, ctx := setup(t)
	record(t, tr, "user1", "gemini-2.5-flash", 700)

	e := New([]models.BudgetPolicy{
		{UserID: "user1", Model: "gemini-2.5-flash", MaxTokens: 500, Period: models.BudgetDaily},
	}, tr)
	now := time.Now().UTC()
	e.now = func() time.Time { return now }

	err := e.Check(ctx, "user1", "gemini-2.5-flash")
	var exceeded *ExceededError
	if !errors.As(err, &exceeded) {
		t.Fatalf("expected *ExceededError, got %v", err)
	}
	if exceeded.Used != 700 {
		t.Errorf("used = %d", exceeded.Used)
	}
	wantReset := time.Date(now.Year(), now.Month(), now.Day()+1, 0, 0, 0, 0, time.UTC)
	if !exceeded.ResetAt.Equal(wantReset) {
		t.Errorf("reset = %v, want %v", exceeded.ResetAt, wantReset)
	}
	if got := exceeded.RetryAfter(wantReset.Add(time.Minute)); got != 0 {
		t.Errorf("retry after past reset = %v", got)
	}
	if err.Error() != "budget exceeded: 700 of 500 daily gemini-2.5-flash tokens used" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestWindow(t *testing.T) {
	now := time.Date(2025, 12, 31, 18, 30, 0, 0, time.UTC)

	start, reset := window(models.BudgetDaily, now)
	if !start.Equal(time.Date(2025, 12, 31, 0, 0, 0, 0, time.UTC)) || !reset.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("daily window = %v .. %v", start, reset)
	}

	start, reset = window(models.BudgetMonthly, now)
	if !start.Equal(time.Date(2025, 12, 1, 0, 0, 0, 0, time.UTC)) || !reset.Equal(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("monthly window = %v .. %v", start, reset)
	}
}
