package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/feature"
	"tickerpipe/internal/fetch"
	"tickerpipe/internal/source"
	"tickerpipe/internal/store"
	"tickerpipe/internal/util"
)

// scriptedSource serves a fixed series per symbol and a scripted error for
// symbols it does not know.
type scriptedSource struct {
	series map[string][]domain.Bar
	err    error
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) DailySeries(_ context.Context, symbol string, _ int) ([]domain.Bar, error) {
	if bars, ok := s.series[symbol]; ok {
		return bars, nil
	}
	return nil, s.err
}

func dailySeries(n int) []domain.Bar {
	bars := make([]domain.Bar, 0, n)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	price := 100.0
	for i := 0; i < n; i++ {
		if i%2 == 0 {
			price += 2.0
		} else {
			price -= 1.0
		}
		bars = append(bars, domain.Bar{
			Date: start.AddDate(0, 0, i),
			Open: price, High: price + 1, Low: price - 1, Close: price,
			Volume: 1000,
		})
	}
	return bars
}

type testEnv struct {
	backend *store.LocalBackend
	ps      *store.ParquetStore
	history *store.SQLiteRunHistory
	counter *fetch.Counter
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dir := t.TempDir()
	backend := store.NewLocalBackend(dir)

	history, err := store.NewSQLiteRunHistory(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("opening run history: %v", err)
	}
	t.Cleanup(func() { history.Close() })

	return &testEnv{
		backend: backend,
		ps:      store.NewParquetStore(backend),
		history: history,
		counter: &fetch.Counter{},
	}
}

func (e *testEnv) pipeline(t *testing.T, src source.PriceSource, opts Options) *Pipeline {
	t.Helper()
	policy := util.BackoffPolicy{Strategy: util.BackoffFixed, Base: time.Millisecond, Max: time.Millisecond}
	fetcher := fetch.New([]source.PriceSource{src}, policy, 1, time.Millisecond, e.counter)
	engine := feature.NewEngine(500)
	return New(e.ps, e.backend, e.history, fetcher, engine, e.counter, opts)
}

func baseOptions() Options {
	return Options{
		RunDate:        "2026-08-29",
		LookbackDays:   30,
		OutputTailDays: 30,
		BatchSize:      10,
		InitialWorkers: 2,
	}
}

func TestPipelineEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	src := &scriptedSource{
		series: map[string][]domain.Bar{"AAPL": dailySeries(600)},
		err:    errors.New("upstream exploded"),
	}
	p := env.pipeline(t, src, baseOptions())

	meta, err := p.Run(context.Background(), []string{"AAPL", "FAIL"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if meta.Status != domain.RunStatusPartialSuccess {
		t.Errorf("Status = %q, want partial_success", meta.Status)
	}
	if meta.SymbolsProcessed != 2 || meta.SymbolsSuccessful != 1 || meta.SymbolsFailed != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/1/1",
			meta.SymbolsProcessed, meta.SymbolsSuccessful, meta.SymbolsFailed)
	}
	if meta.SymbolsSuccessful+meta.SymbolsFailed != meta.SymbolsProcessed {
		t.Error("success + failed != processed")
	}

	// Raw partition carries the 30-day tail.
	ctx := context.Background()
	raw, err := env.ps.ReadDaily(ctx, store.DatasetRaw, "2026-08-29", "AAPL")
	if err != nil {
		t.Fatalf("ReadDaily: %v", err)
	}
	if len(raw) != 30 {
		t.Errorf("raw partition holds %d bars, want 30", len(raw))
	}
	if meta.RowsWritten != 30 {
		t.Errorf("RowsWritten = %d, want 30", meta.RowsWritten)
	}

	// The archive holds the full history.
	archive := env.ps.ReadArchive(ctx, "AAPL")
	if len(archive) != 600 {
		t.Errorf("archive holds %d bars, want 600", len(archive))
	}

	// Features: 600 rows minus the 199-row warm-up.
	features, err := env.ps.ReadFeatures(ctx, "2026-08-29", "AAPL")
	if err != nil {
		t.Fatalf("ReadFeatures: %v", err)
	}
	if len(features) != 401 {
		t.Errorf("features hold %d rows, want 401", len(features))
	}
	if meta.RowsDroppedNaN != 199 {
		t.Errorf("RowsDroppedNaN = %d, want 199", meta.RowsDroppedNaN)
	}

	// Metadata and error detail artifacts land in the log partition.
	if _, err := env.backend.Read("logs/fetch/dt=2026-08-29/metadata.json"); err != nil {
		t.Errorf("metadata.json not written: %v", err)
	}
	data, err := env.backend.Read("logs/fetch/dt=2026-08-29/errors.json")
	if err != nil {
		t.Fatalf("errors.json not written: %v", err)
	}
	var errsOut []domain.SymbolError
	if err := json.Unmarshal(data, &errsOut); err != nil {
		t.Fatalf("parsing errors.json: %v", err)
	}
	if len(errsOut) != 1 || errsOut[0].Symbol != "FAIL" {
		t.Errorf("errors.json = %+v, want one FAIL entry", errsOut)
	}

	// And the run lands in the history database.
	runs, err := env.history.RecentRuns(ctx, 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].RunDate != "2026-08-29" {
		t.Errorf("run history = %+v, want one 2026-08-29 row", runs)
	}
}

func TestPipelineInsufficientHistoryIsNotFailure(t *testing.T) {
	env := newTestEnv(t)
	src := &scriptedSource{
		series: map[string][]domain.Bar{"NEWIPO": dailySeries(120)},
	}
	p := env.pipeline(t, src, baseOptions())

	meta, err := p.Run(context.Background(), []string{"NEWIPO"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if meta.Status != domain.RunStatusSuccess {
		t.Errorf("Status = %q, want success", meta.Status)
	}
	if meta.SymbolsFailed != 0 {
		t.Errorf("SymbolsFailed = %d, want 0", meta.SymbolsFailed)
	}
	if meta.InsufficientData != 1 {
		t.Errorf("InsufficientData = %d, want 1", meta.InsufficientData)
	}

	// Raw data still persisted; features skipped.
	if !env.ps.Exists(store.DatasetRaw, "2026-08-29") {
		t.Error("raw partition missing for insufficient-history symbol")
	}
	if _, err := env.ps.ReadFeatures(context.Background(), "2026-08-29", "NEWIPO"); err == nil {
		t.Error("features written despite insufficient history")
	}
}

func TestPipelineDryRunWritesNothing(t *testing.T) {
	env := newTestEnv(t)
	src := &scriptedSource{
		series: map[string][]domain.Bar{"AAPL": dailySeries(600)},
	}
	opts := baseOptions()
	opts.DryRun = true
	p := env.pipeline(t, src, opts)

	meta, err := p.Run(context.Background(), []string{"AAPL"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	// The metadata value is still produced.
	if meta.Status != domain.RunStatusSuccess {
		t.Errorf("Status = %q, want success", meta.Status)
	}
	if !meta.DryRun {
		t.Error("metadata does not flag the dry run")
	}

	if env.ps.Exists(store.DatasetRaw, "2026-08-29") {
		t.Error("dry run wrote a raw partition")
	}
	if got := env.ps.ReadArchive(context.Background(), "AAPL"); len(got) != 0 {
		t.Error("dry run wrote to the archive")
	}
	if _, err := env.backend.Read("logs/fetch/dt=2026-08-29/metadata.json"); err == nil {
		t.Error("dry run persisted metadata.json")
	}
	runs, err := env.history.RecentRuns(context.Background(), 5)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Errorf("dry run inserted %d history rows", len(runs))
	}
}

func TestPipelineSkipsExistingPartition(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// A populated raw partition for the run date means the run happened.
	if err := env.ps.WriteDaily(ctx, store.DatasetRaw, "2026-08-29", "AAPL", dailySeries(5)); err != nil {
		t.Fatal(err)
	}

	src := &scriptedSource{series: map[string][]domain.Bar{"AAPL": dailySeries(600)}}
	p := env.pipeline(t, src, baseOptions())

	meta, err := p.Run(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.Status != domain.RunStatusSkipped {
		t.Errorf("Status = %q, want skipped", meta.Status)
	}
	if meta.SymbolsProcessed != 0 {
		t.Errorf("skipped run processed %d symbols", meta.SymbolsProcessed)
	}
	// Skipped metadata is still sealed like any terminal state.
	if meta.FinishedAt.IsZero() {
		t.Error("skipped run metadata has no finish timestamp")
	}
	if meta.FinishedAt.Before(meta.StartedAt) {
		t.Error("skipped run finished before it started")
	}

	// A skipped run leaves no metadata artifact and no history row.
	if _, err := env.backend.Read("logs/fetch/dt=2026-08-29/metadata.json"); err == nil {
		t.Error("skipped run persisted metadata.json")
	}
	runs, _ := env.history.RecentRuns(ctx, 5)
	if len(runs) != 0 {
		t.Errorf("skipped run inserted %d history rows", len(runs))
	}
}

func TestPipelineForceOverridesSkip(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.ps.WriteDaily(ctx, store.DatasetRaw, "2026-08-29", "AAPL", dailySeries(5)); err != nil {
		t.Fatal(err)
	}

	src := &scriptedSource{series: map[string][]domain.Bar{"AAPL": dailySeries(600)}}
	opts := baseOptions()
	opts.Force = true
	p := env.pipeline(t, src, opts)

	meta, err := p.Run(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.Status != domain.RunStatusSuccess {
		t.Errorf("Status = %q, want success", meta.Status)
	}
	if meta.SymbolsProcessed != 1 {
		t.Errorf("forced run processed %d symbols, want 1", meta.SymbolsProcessed)
	}
}

func TestPipelineEmptyUniverseFails(t *testing.T) {
	env := newTestEnv(t)
	src := &scriptedSource{err: errors.New("unused")}
	p := env.pipeline(t, src, baseOptions())

	meta, err := p.Run(context.Background(), nil)
	if err == nil {
		t.Fatal("Run accepted an empty universe")
	}
	if meta.Status != domain.RunStatusFailed {
		t.Errorf("Status = %q, want failed", meta.Status)
	}

	// The failure is still recorded for operators.
	if _, rerr := env.backend.Read("logs/fetch/dt=2026-08-29/metadata.json"); rerr != nil {
		t.Errorf("failed run did not persist metadata.json: %v", rerr)
	}
}

func TestPipelineAllFailuresIsFailedRun(t *testing.T) {
	env := newTestEnv(t)
	src := &scriptedSource{err: errors.New("upstream down")}
	p := env.pipeline(t, src, baseOptions())

	meta, err := p.Run(context.Background(), []string{"A", "B"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if meta.Status != domain.RunStatusFailed {
		t.Errorf("Status = %q, want failed", meta.Status)
	}
	if meta.SymbolsFailed != 2 {
		t.Errorf("SymbolsFailed = %d, want 2", meta.SymbolsFailed)
	}
}

func TestPipelinePrunesOldPartitions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	// Fix the store clock to the run date.
	env.ps.Now = func() time.Time { return time.Date(2026, 8, 29, 0, 0, 0, 0, time.UTC) }

	if err := env.ps.WriteDaily(ctx, store.DatasetRaw, "2026-07-01", "AAPL", dailySeries(5)); err != nil {
		t.Fatal(err)
	}

	src := &scriptedSource{series: map[string][]domain.Bar{"AAPL": dailySeries(600)}}
	opts := baseOptions()
	opts.CleanupEnabled = true
	opts.RetentionDays = 3
	p := env.pipeline(t, src, opts)

	meta, err := p.Run(ctx, []string{"AAPL"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if env.ps.Exists(store.DatasetRaw, "2026-07-01") {
		t.Error("stale partition survived cleanup")
	}
	if len(meta.PartitionsPruned) != 1 || meta.PartitionsPruned[0] != "2026-07-01" {
		t.Errorf("PartitionsPruned = %v, want [2026-07-01]", meta.PartitionsPruned)
	}
}
