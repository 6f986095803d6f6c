package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"tickerpipe/internal/domain"
)

func newTestHistory(t *testing.T) *SQLiteRunHistory {
	t.Helper()
	h, err := NewSQLiteRunHistory(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRunHistory: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestRunHistoryRoundTrip(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	started := time.Date(2026, 8, 29, 6, 0, 0, 0, time.UTC)
	meta := &domain.RunMetadata{
		RunDate:           "2026-08-29",
		Status:            domain.RunStatusPartialSuccess,
		ErrorMessage:      "",
		StartedAt:         started,
		FinishedAt:        started.Add(90 * time.Second),
		RuntimeSeconds:    90,
		SymbolsProcessed:  100,
		SymbolsSuccessful: 97,
		SymbolsFailed:     3,
		InsufficientData:  2,
		RowsWritten:       2910,
		RateLimitHits:     6,
		WorkerHistory:     []int{8, 4, 2},
		TotalSleepSecs:    42.5,
	}

	if err := h.RecordRun(ctx, meta); err != nil {
		t.Fatalf("RecordRun: %v", err)
	}

	runs, err := h.RecentRuns(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("RecentRuns returned %d rows, want 1", len(runs))
	}

	got := runs[0]
	if got.RunDate != "2026-08-29" {
		t.Errorf("RunDate = %q", got.RunDate)
	}
	if got.Status != domain.RunStatusPartialSuccess {
		t.Errorf("Status = %q", got.Status)
	}
	if got.SymbolsSuccessful != 97 || got.SymbolsFailed != 3 {
		t.Errorf("counts = %d/%d, want 97/3", got.SymbolsSuccessful, got.SymbolsFailed)
	}
	if got.InsufficientData != 2 {
		t.Errorf("InsufficientData = %d, want 2", got.InsufficientData)
	}
	if len(got.WorkerHistory) != 3 || got.WorkerHistory[0] != 8 || got.WorkerHistory[2] != 2 {
		t.Errorf("WorkerHistory = %v, want [8 4 2]", got.WorkerHistory)
	}
	if got.TotalSleepSecs != 42.5 {
		t.Errorf("TotalSleepSecs = %v, want 42.5", got.TotalSleepSecs)
	}
	if !got.StartedAt.Equal(started) {
		t.Errorf("StartedAt = %v, want %v", got.StartedAt, started)
	}
}

func TestRecentRunsNewestFirstAndLimit(t *testing.T) {
	h := newTestHistory(t)
	ctx := context.Background()

	for _, d := range []string{"2026-08-27", "2026-08-28", "2026-08-29"} {
		meta := &domain.RunMetadata{
			RunDate:   d,
			Status:    domain.RunStatusSuccess,
			StartedAt: time.Now().UTC(),
		}
		if err := h.RecordRun(ctx, meta); err != nil {
			t.Fatalf("RecordRun(%s): %v", d, err)
		}
	}

	runs, err := h.RecentRuns(ctx, 2)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("RecentRuns returned %d rows, want 2", len(runs))
	}
	if runs[0].RunDate != "2026-08-29" || runs[1].RunDate != "2026-08-28" {
		t.Errorf("order = [%s %s], want newest first", runs[0].RunDate, runs[1].RunDate)
	}
}
