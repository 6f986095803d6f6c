package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/fetch"
)

// WorkFunc is one per-symbol unit of work (fetch + merge + feature + save).
// It must return an outcome for its symbol; panics are recovered by the
// runner and converted into failure outcomes.
type WorkFunc func(ctx context.Context, symbol string) domain.FetchOutcome

// RunnerResult aggregates a full runner pass.
type RunnerResult struct {
	Outcomes      []domain.FetchOutcome
	WorkerHistory []int // worker-pool sizes, initial value plus one entry per reduction
	TotalSleep    time.Duration
}

// Runner drives a bounded worker pool over sequential batches of symbols,
// shrinking the pool when the batch's rate-limit signals cross the reduction
// threshold. Upstream throttling scales with concurrent symbol pressure, so
// halving converges toward a sustainable rate without per-run tuning.
type Runner struct {
	initialWorkers int
	batchSize      int
	cooldown       time.Duration
	reduceEvery    int
	counter        *fetch.Counter
	log            *slog.Logger
}

// NewRunner creates a Runner. initialWorkers <= 0 selects the default of
// min(8, GOMAXPROCS); batchSize <= 0 defaults to 10; reduceEvery <= 0
// defaults to 3.
func NewRunner(initialWorkers, batchSize int, cooldown time.Duration, reduceEvery int, counter *fetch.Counter) *Runner {
	if initialWorkers <= 0 {
		initialWorkers = min(8, runtime.GOMAXPROCS(0))
	}
	if batchSize <= 0 {
		batchSize = 10
	}
	if reduceEvery <= 0 {
		reduceEvery = 3
	}
	return &Runner{
		initialWorkers: initialWorkers,
		batchSize:      batchSize,
		cooldown:       cooldown,
		reduceEvery:    reduceEvery,
		counter:        counter,
		log:            slog.Default().With("component", "runner"),
	}
}

// Run processes every symbol and returns exactly one outcome per symbol.
// Batches are strictly sequential: a batch runs to completion before its
// rate-limit delta is folded into the worker-count decision and the next
// batch starts.
func (r *Runner) Run(ctx context.Context, symbols []string, work WorkFunc) RunnerResult {
	result := RunnerResult{
		Outcomes:      make([]domain.FetchOutcome, 0, len(symbols)),
		WorkerHistory: []int{r.initialWorkers},
	}

	workers := r.initialWorkers
	totalBatches := (len(symbols) + r.batchSize - 1) / r.batchSize
	progress := newProgressLogger(r.log, len(symbols))

	for i := 0; i < len(symbols); i += r.batchSize {
		batch := symbols[i:min(i+r.batchSize, len(symbols))]
		batchIdx := i/r.batchSize + 1

		hitsBefore := r.counter.Load()
		outcomes := r.runBatch(ctx, batch, workers, work)
		result.Outcomes = append(result.Outcomes, outcomes...)

		batchHits := int(r.counter.Load() - hitsBefore)
		if batchHits >= r.reduceEvery && workers > 1 {
			workers = max(1, workers/2)
			result.WorkerHistory = append(result.WorkerHistory, workers)
			r.log.Warn("reducing workers due to rate limits",
				"batch", fmt.Sprintf("%d/%d", batchIdx, totalBatches),
				"hits", batchHits,
				"workers", workers,
			)
		}

		progress.update(len(result.Outcomes), batchIdx, totalBatches)

		// Cooldown between batches, skipped after the last one.
		if i+r.batchSize < len(symbols) && r.cooldown > 0 {
			select {
			case <-ctx.Done():
			case <-time.After(r.cooldown):
				result.TotalSleep += r.cooldown
			}
		}
	}

	return result
}

// runBatch dispatches the batch across up to `workers` goroutines and blocks
// until every symbol has an outcome.
func (r *Runner) runBatch(ctx context.Context, batch []string, workers int, work WorkFunc) []domain.FetchOutcome {
	symbolCh := make(chan string, len(batch))
	for _, sym := range batch {
		symbolCh <- sym
	}
	close(symbolCh)

	outcomeCh := make(chan domain.FetchOutcome, len(batch))
	var wg sync.WaitGroup
	for w := 0; w < min(workers, len(batch)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for sym := range symbolCh {
				outcomeCh <- r.safeWork(ctx, sym, work)
			}
		}()
	}
	wg.Wait()
	close(outcomeCh)

	outcomes := make([]domain.FetchOutcome, 0, len(batch))
	for o := range outcomeCh {
		outcomes = append(outcomes, o)
	}
	return outcomes
}

// safeWork invokes the unit of work, converting a panic into a failure
// outcome so a misbehaving symbol can never take down the batch.
func (r *Runner) safeWork(ctx context.Context, symbol string, work WorkFunc) (out domain.FetchOutcome) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("worker panic", "symbol", symbol, "panic", p)
			out = domain.FetchOutcome{
				Symbol: symbol,
				Err:    fmt.Errorf("panic processing %s: %v", symbol, p),
			}
		}
	}()

	out = work(ctx, symbol)
	out.Symbol = symbol
	return out
}
