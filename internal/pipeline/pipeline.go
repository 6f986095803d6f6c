// Package pipeline orchestrates one daily acquisition run: adaptive
// concurrent fetching, historical merging, feature computation, partitioned
// persistence, and run-metadata recording.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/feature"
	"tickerpipe/internal/fetch"
	"tickerpipe/internal/merge"
	"tickerpipe/internal/store"
)

// Options is the explicit per-run configuration, constructed once at the
// orchestration boundary and passed down. Components never consult ambient
// state.
type Options struct {
	RunDate             string // YYYY-MM-DD; empty means today (UTC)
	LookbackDays        int
	OutputTailDays      int
	BatchSize           int
	InitialWorkers      int // 0 = min(8, GOMAXPROCS)
	Cooldown            time.Duration
	AdaptiveReduceEvery int
	RetentionDays       int
	CleanupEnabled      bool
	BackoffStrategy     string // echoed into run metadata
	Force               bool
	DryRun              bool
}

// Pipeline wires the acquisition-and-feature stages together.
type Pipeline struct {
	store   store.PartitionStore
	backend store.Backend
	history store.RunHistory
	fetcher *fetch.Fetcher
	merger  *merge.Merger
	engine  *feature.Engine
	counter *fetch.Counter
	opts    Options
	log     *slog.Logger
}

// New assembles a Pipeline. history may be nil when no run-history database
// is configured.
func New(ps store.PartitionStore, backend store.Backend, history store.RunHistory, fetcher *fetch.Fetcher, engine *feature.Engine, counter *fetch.Counter, opts Options) *Pipeline {
	if opts.RunDate == "" {
		opts.RunDate = time.Now().UTC().Format("2006-01-02")
	}
	if opts.LookbackDays <= 0 {
		opts.LookbackDays = 30
	}
	if opts.OutputTailDays <= 0 {
		opts.OutputTailDays = 30
	}

	return &Pipeline{
		store:   ps,
		backend: backend,
		history: history,
		fetcher: fetcher,
		merger:  merge.NewMerger(ps),
		engine:  engine,
		counter: counter,
		opts:    opts,
		log:     slog.Default().With("component", "pipeline"),
	}
}

// Run executes one full pipeline pass over the symbols and always returns
// run metadata. Per-symbol errors never escalate to a run-level failure;
// only scaffolding failures (no symbols to process) abort the run, and the
// partially-built metadata is still persisted with a failed status.
func (p *Pipeline) Run(ctx context.Context, symbols []string) (*domain.RunMetadata, error) {
	recorder := NewRecorder(p.opts.RunDate, p.opts, p.backend, p.history)

	if len(symbols) == 0 {
		err := errors.New("no symbols to process")
		return recorder.Finalize(ctx, domain.RunStatusFailed, err.Error()), err
	}

	if p.opts.CleanupEnabled {
		p.prune(recorder)
	}

	// Idempotency within a day: an already-populated raw partition means
	// this run happened. Force overrides.
	if !p.opts.Force && p.store.Exists(store.DatasetRaw, p.opts.RunDate) {
		p.log.Info("partition already exists, skipping", "runDate", p.opts.RunDate)
		meta := recorder.Seal(domain.RunStatusSkipped, "partition already exists")
		return &meta, nil
	}

	runner := NewRunner(p.opts.InitialWorkers, p.opts.BatchSize, p.opts.Cooldown, p.opts.AdaptiveReduceEvery, p.counter)
	result := runner.Run(ctx, symbols, func(ctx context.Context, symbol string) domain.FetchOutcome {
		return p.processSymbol(ctx, symbol, recorder)
	})

	for _, o := range result.Outcomes {
		recorder.RecordOutcome(o)
	}
	recorder.SetAdaptive(result.WorkerHistory, result.TotalSleep)
	recorder.SetRateLimitHits(int(p.counter.Load()))

	snapshot := recorder.Snapshot()
	status := domain.RunStatusSuccess
	switch {
	case snapshot.SymbolsFailed == 0:
	case snapshot.SymbolsSuccessful > 0:
		status = domain.RunStatusPartialSuccess
	default:
		status = domain.RunStatusFailed
	}

	meta := recorder.Finalize(ctx, status, "")
	p.log.Info("run complete",
		"status", meta.Status,
		"processed", meta.SymbolsProcessed,
		"successful", meta.SymbolsSuccessful,
		"failed", meta.SymbolsFailed,
		"rateLimitHits", meta.RateLimitHits,
		"runtime", FormatDuration(time.Duration(meta.RuntimeSeconds*float64(time.Second))),
	)
	return meta, nil
}

// processSymbol is one unit of work: fetch, merge with the archive, persist
// the archive and the daily tail, compute features, persist the feature
// partition. Any error yields a failure outcome for this symbol only.
func (p *Pipeline) processSymbol(ctx context.Context, symbol string, recorder *Recorder) domain.FetchOutcome {
	res, err := p.fetcher.Fetch(ctx, symbol, p.opts.LookbackDays)
	if err != nil {
		return domain.FetchOutcome{Symbol: symbol, RateLimited: res.RateLimited, Err: err}
	}

	merged := p.merger.Merge(ctx, symbol, res.Series)

	if !p.opts.DryRun {
		if err := p.store.WriteArchive(ctx, symbol, merged); err != nil {
			return domain.FetchOutcome{
				Symbol: symbol, Source: res.Source, RateLimited: res.RateLimited,
				Err: fmt.Errorf("writing archive: %w", err),
			}
		}
	}

	// The dated raw partition carries only the recent tail; the archive
	// holds the full history.
	tail := merged
	if len(tail) > p.opts.OutputTailDays {
		tail = tail[len(tail)-p.opts.OutputTailDays:]
	}
	if !p.opts.DryRun {
		if err := p.store.WriteDaily(ctx, store.DatasetRaw, p.opts.RunDate, symbol, tail); err != nil {
			return domain.FetchOutcome{
				Symbol: symbol, Source: res.Source, RateLimited: res.RateLimited,
				Err: fmt.Errorf("writing raw partition: %w", err),
			}
		}
	}

	rows, dropped, err := p.engine.Compute(merged)
	switch {
	case errors.Is(err, feature.ErrInsufficientData):
		recorder.RecordInsufficient(symbol)
		p.log.Info("insufficient history for features", "symbol", symbol, "rows", len(merged))
	case err != nil:
		return domain.FetchOutcome{
			Symbol: symbol, Source: res.Source, RateLimited: res.RateLimited,
			Err: fmt.Errorf("computing features: %w", err),
		}
	default:
		recorder.AddDroppedRows(dropped)
		if !p.opts.DryRun {
			if err := p.store.WriteFeatures(ctx, p.opts.RunDate, symbol, rows); err != nil {
				return domain.FetchOutcome{
					Symbol: symbol, Source: res.Source, RateLimited: res.RateLimited,
					Err: fmt.Errorf("writing features: %w", err),
				}
			}
		}
	}

	return domain.FetchOutcome{
		Symbol:      symbol,
		Success:     true,
		Rows:        len(tail),
		Source:      res.Source,
		RateLimited: res.RateLimited,
	}
}

// prune applies the retention policy to the raw and fetch-log datasets.
// Cleanup failures are logged and never abort the run.
func (p *Pipeline) prune(recorder *Recorder) {
	deleted, err := p.store.Prune(store.DatasetRaw, p.opts.RetentionDays, p.opts.DryRun)
	if err != nil {
		p.log.Error("pruning raw partitions failed", "err", err)
	}
	recorder.SetPruned(deleted)

	if _, err := p.store.Prune(store.DatasetFetchLogs, p.opts.RetentionDays, p.opts.DryRun); err != nil {
		p.log.Error("pruning fetch logs failed", "err", err)
	}
}
