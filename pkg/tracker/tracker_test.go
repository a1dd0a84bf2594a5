package tracker

import (
	"context"
	"database/sql"
	"math"
	"path/filepath"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/krishamaze/arin-bot-v2/pkg/models"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func newTestTracker(t *testing.T) *SQLTracker {
	t.Helper()
	tr, err := New(context.Background(), openTestDB(t), "sqlite")
	if err != nil {
		t.Fatal(err)
	}
	return tr
}

func TestRecordAndQuery(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rec := models.UsageRecord{
		UserID:           "user1",
		ConversationID:   "conv1",
		Provider:         models.ProviderGemini,
		Model:            "gemini-2.5-flash",
		PromptTokens:     100,
		CompletionTokens: 50,
		TotalTokens:      150,
		CachedTokens:     80,
		LatencyMs:        420,
		CreatedAt:        now,
	}
	if err := tr.Record(ctx, rec); err != nil {
		t.Fatal(err)
	}

	records, err := tr.QueryByUser(ctx, "user1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}
	got := records[0]
	if got.TotalTokens != 150 || got.CachedTokens != 80 {
		t.Errorf("unexpected tokens: %+v", got)
	}
	if got.Provider != models.ProviderGemini || got.ConversationID != "conv1" {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestTotalByUser(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := range 3 {
		_ = tr.Record(ctx, models.UsageRecord{
			UserID: "user1", Provider: models.ProviderGemini, Model: "gemini-2.5-flash",
			PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150,
			CreatedAt: now.Add(time.Duration(i) * time.Second),
		})
	}
	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "user1", Provider: models.ProviderGemini, Model: "gemini-2.5-flash",
		TotalTokens: 999, CreatedAt: now.Add(-48 * time.Hour),
	})

	total, err := tr.TotalByUser(ctx, "user1", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total != 450 {
		t.Errorf("expected 450, got %d", total)
	}
}

func TestTotalByUserAndModel(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{UserID: "u", Provider: models.ProviderGemini, Model: "gemini-2.5-flash", TotalTokens: 100, CreatedAt: now})
	_ = tr.Record(ctx, models.UsageRecord{UserID: "u", Provider: models.ProviderGemini, Model: "gemini-2.5-pro", TotalTokens: 40, CreatedAt: now})

	total, err := tr.TotalByUserAndModel(ctx, "u", "gemini-2.5-pro", now.Add(-time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if total != 40 {
		t.Errorf("expected 40, got %d", total)
	}
}

func TestSummary(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "user1", Provider: models.ProviderGemini, Model: "gemini-2.5-flash",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, LatencyMs: 100,
		CreatedAt: now,
	})
	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "user1", Provider: models.ProviderGemini, Model: "gemini-2.5-flash",
		PromptTokens: 100, CompletionTokens: 50, TotalTokens: 150, LatencyMs: 300, Fallback: true,
		CreatedAt: now,
	})
	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "user2", Provider: models.ProviderOpenAI, Model: "gpt-4o-mini",
		PromptTokens: 200, CompletionTokens: 100, TotalTokens: 300,
		CreatedAt: now,
	})

	summaries, err := tr.Summary(ctx, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}

	// Filter by user
	summaries, err = tr.Summary(ctx, "user1")
	if err != nil {
		t.Fatal(err)
	}
	if len(summaries) != 1 {
		t.Fatalf("expected 1 summary, got %d", len(summaries))
	}
	s := summaries[0]
	if s.RequestCount != 2 || s.FallbackCount != 1 || s.TotalTokens != 300 || s.AvgLatencyMs != 200 {
		t.Errorf("unexpected summary: %+v", s)
	}
}

func TestCostReport(t *testing.T) {
	tr := newTestTracker(t)
	ctx := context.Background()
	now := time.Now().UTC()

	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "u", Provider: models.ProviderGemini, Model: "gemini-2.5-flash",
		PromptTokens: 2000, CompletionTokens: 1000, TotalTokens: 3000, CachedTokens: 1000,
		CreatedAt: now,
	})
	_ = tr.Record(ctx, models.UsageRecord{
		UserID: "u", Provider: models.ProviderOpenAI, Model: "gpt-4o-mini",
		PromptTokens: 1000, TotalTokens: 1000,
		CreatedAt: now,
	})

	reports, err := tr.CostReport(ctx, now.Add(-time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(reports))
	}

	ApplyPricing(reports, []models.ModelPricing{
		{Model: "gemini-2.5-flash", PromptCost: 1, CompletionCost: 2, CachedDiscount: 0.25},
	})

	// 1k uncached at 1 + 1k cached at 0.25 + 1k completion at 2
	if r := reports[0]; r.Model != "gemini-2.5-flash" || math.Abs(r.EstimatedCost-3.25) > 1e-9 {
		t.Errorf("unexpected gemini row: %+v", r)
	}
	if r := reports[1]; r.EstimatedCost != 0 {
		t.Errorf("unpriced model should cost 0, got %+v", r)
	}
}

func TestMigrationIdempotent(t *testing.T) {
	db := openTestDB(t)

	// Create tracker twice; the second must not fail.
	if _, err := New(context.Background(), db, "sqlite"); err != nil {
		t.Fatal(err)
	}
	if _, err := New(context.Background(), db, "sqlite"); err != nil {
		t.Fatal("second New() failed:", err)
	}
}
