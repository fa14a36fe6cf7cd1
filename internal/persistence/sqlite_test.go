package persistence

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/quantexec/splitflow/internal/split"
)

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSQLiteRepository_ExecutionAuditLog(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

	records := []ExecutionRecord{
		{
			LegID:        "leg-1",
			Security:     "600519.XSHG",
			Side:         "BUY",
			Delta:        decimal.NewFromInt(45000),
			Target:       decimal.NewFromInt(180000),
			Seq:          0,
			Outcome:      "executed",
			Status:       "OK",
			FilledQty:    4500,
			AvgFillPrice: decimal.NewFromInt(10),
			FilledValue:  decimal.NewFromInt(45000),
			ExecutedAt:   base,
		},
		{
			LegID:      "leg-2",
			Security:   "600519.XSHG",
			Side:       "BUY",
			Delta:      decimal.NewFromInt(45000),
			Target:     decimal.NewFromInt(180000),
			Seq:        1,
			Attempts:   1,
			Outcome:    "rescheduled",
			Status:     "REJECTED",
			ErrMsg:     "market closed",
			ExecutedAt: base.Add(4 * time.Minute),
		},
		{
			LegID:      "leg-3",
			Security:   "000001.XSHE",
			Side:       "SELL",
			Delta:      decimal.NewFromInt(-30000),
			Target:     decimal.NewFromInt(40000),
			Outcome:    "executed",
			Status:     "OK",
			FilledQty:  -1500,
			ExecutedAt: base.Add(8 * time.Minute),
		},
	}
	for _, rec := range records {
		if err := repo.SaveExecution(ctx, rec); err != nil {
			t.Fatalf("SaveExecution() error = %v", err)
		}
	}

	all, err := repo.GetExecutions(ctx, base.Add(-time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("GetExecutions() error = %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("records = %d, want 3", len(all))
	}
	// Descending by execution time.
	if all[0].LegID != "leg-3" {
		t.Errorf("latest record = %s, want leg-3", all[0].LegID)
	}

	bySecurity, err := repo.GetExecutionsBySecurity(ctx, "600519.XSHG", 10)
	if err != nil {
		t.Fatalf("GetExecutionsBySecurity() error = %v", err)
	}
	if len(bySecurity) != 2 {
		t.Fatalf("records = %d, want 2", len(bySecurity))
	}
	failed := bySecurity[0]
	if failed.Outcome != "rescheduled" || failed.ErrMsg != "market closed" || failed.Attempts != 1 {
		t.Errorf("failed record round-trip mismatch: %+v", failed)
	}
	if !bySecurity[1].Delta.Equal(decimal.NewFromInt(45000)) {
		t.Errorf("delta = %s, want 45000", bySecurity[1].Delta)
	}
}

func TestSQLiteRepository_PendingLegSnapshot(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2026, 8, 3, 9, 30, 0, 0, time.UTC)

	legs := []split.Leg{
		{
			ID:       "leg-b",
			Security: "600519.XSHG",
			Delta:    decimal.NewFromInt(45000),
			Target:   decimal.NewFromInt(180000),
			ExecAt:   base.Add(8 * time.Minute),
			Seq:      2,
		},
		{
			ID:       "leg-a",
			Security: "600519.XSHG",
			Delta:    decimal.NewFromInt(45000),
			Target:   decimal.NewFromInt(180000),
			ExecAt:   base.Add(4 * time.Minute),
			Seq:      1,
			Attempts: 1,
		},
		{
			ID:       "leg-c",
			Security: "000001.XSHE",
			Delta:    decimal.NewFromInt(-50000),
			Target:   decimal.Zero,
			SellAll:  true,
			ExecAt:   base.Add(12 * time.Minute),
			Seq:      3,
		},
	}
	if err := repo.SavePendingLegs(ctx, legs); err != nil {
		t.Fatalf("SavePendingLegs() error = %v", err)
	}

	got, err := repo.GetPendingLegs(ctx)
	if err != nil {
		t.Fatalf("GetPendingLegs() error = %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("legs = %d, want 3", len(got))
	}
	// Ordered by exec time.
	if got[0].ID != "leg-a" || got[1].ID != "leg-b" || got[2].ID != "leg-c" {
		t.Errorf("order = %s, %s, %s", got[0].ID, got[1].ID, got[2].ID)
	}
	if got[0].Attempts != 1 {
		t.Errorf("attempts = %d, want 1", got[0].Attempts)
	}
	if !got[2].SellAll {
		t.Error("sell-all flag lost in round trip")
	}
	if !got[2].Delta.Equal(decimal.NewFromInt(-50000)) {
		t.Errorf("delta = %s, want -50000", got[2].Delta)
	}
	if !got[0].ExecAt.Equal(legs[1].ExecAt) {
		t.Errorf("exec_at = %v, want %v", got[0].ExecAt, legs[1].ExecAt)
	}
}

func TestSQLiteRepository_SnapshotReplacesPrevious(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	first := []split.Leg{
		{ID: "old-1", Security: "X", Delta: decimal.NewFromInt(1), Target: decimal.NewFromInt(1), ExecAt: time.Now()},
		{ID: "old-2", Security: "X", Delta: decimal.NewFromInt(2), Target: decimal.NewFromInt(2), ExecAt: time.Now()},
	}
	if err := repo.SavePendingLegs(ctx, first); err != nil {
		t.Fatal(err)
	}

	second := []split.Leg{
		{ID: "new-1", Security: "Y", Delta: decimal.NewFromInt(3), Target: decimal.NewFromInt(3), ExecAt: time.Now()},
	}
	if err := repo.SavePendingLegs(ctx, second); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetPendingLegs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].ID != "new-1" {
		t.Errorf("snapshot = %+v, want only new-1", got)
	}

	// An empty snapshot clears the table.
	if err := repo.SavePendingLegs(ctx, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.GetPendingLegs(ctx)
	if len(got) != 0 {
		t.Errorf("legs after empty snapshot = %d, want 0", len(got))
	}
}

func TestSQLiteRepository_SchedulerState(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	// No state yet.
	state, err := repo.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state != nil {
		t.Fatalf("state = %+v, want nil", state)
	}

	now := time.Date(2026, 8, 3, 14, 55, 0, 0, time.UTC)
	want := SchedulerState{
		LastUpdated:      now,
		LastTickAt:       now.Add(-2 * time.Minute),
		TotalExecuted:    12,
		TotalRescheduled: 3,
		TotalDropped:     1,
		TotalCanceled:    2,
	}
	if err := repo.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	// Upsert keeps a single row.
	want.TotalExecuted = 13
	if err := repo.SaveState(ctx, want); err != nil {
		t.Fatalf("SaveState() error = %v", err)
	}

	state, err = repo.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if state == nil {
		t.Fatal("state = nil after save")
	}
	if state.TotalExecuted != 13 || state.TotalRescheduled != 3 || state.TotalDropped != 1 || state.TotalCanceled != 2 {
		t.Errorf("state = %+v", state)
	}
	if !state.LastTickAt.Equal(want.LastTickAt) {
		t.Errorf("last tick = %v, want %v", state.LastTickAt, want.LastTickAt)
	}
}

func TestSQLiteRepository_CorruptDecimalFailsLoad(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	legs := []split.Leg{
		{ID: "leg-1", Security: "600519.XSHG", Delta: decimal.NewFromInt(45000), Target: decimal.NewFromInt(180000), ExecAt: time.Now()},
	}
	if err := repo.SavePendingLegs(ctx, legs); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.db.ExecContext(ctx, `UPDATE pending_legs SET delta = 'garbage'`); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetPendingLegs(ctx); err == nil {
		t.Error("GetPendingLegs() error = nil for corrupted delta, want parse failure")
	}

	rec := ExecutionRecord{
		LegID:      "leg-1",
		Security:   "600519.XSHG",
		Side:       "BUY",
		Delta:      decimal.NewFromInt(45000),
		Target:     decimal.NewFromInt(180000),
		Outcome:    "executed",
		ExecutedAt: time.Now(),
	}
	if err := repo.SaveExecution(ctx, rec); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.db.ExecContext(ctx, `UPDATE executions SET target = 'garbage'`); err != nil {
		t.Fatal(err)
	}
	if _, err := repo.GetExecutionsBySecurity(ctx, "600519.XSHG", 10); err == nil {
		t.Error("GetExecutionsBySecurity() error = nil for corrupted target, want parse failure")
	}
}

func TestSQLiteRepository_MigrateIdempotent(t *testing.T) {
	repo := newTestRepo(t)
	if err := repo.Migrate(context.Background()); err != nil {
		t.Errorf("second Migrate() error = %v", err)
	}
}
