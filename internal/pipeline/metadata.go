package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/store"
)

// Recorder accumulates per-run statistics and persists the metadata and
// error-detail artifacts at run end. Recorder persistence is best-effort:
// a failure to write metadata is logged but never aborts the run the
// metadata describes.
type Recorder struct {
	mu   sync.Mutex
	meta domain.RunMetadata

	backend store.Backend
	history store.RunHistory
	log     *slog.Logger
}

// NewRecorder creates a Recorder for the given run date with the
// configuration echo pre-filled. backend and history may be nil, in which
// case the corresponding persistence step is skipped.
func NewRecorder(runDate string, opts Options, backend store.Backend, history store.RunHistory) *Recorder {
	return &Recorder{
		meta: domain.RunMetadata{
			RunDate:         runDate,
			Status:          domain.RunStatusFailed,
			StartedAt:       time.Now().UTC(),
			BatchSize:       opts.BatchSize,
			InitialWorkers:  opts.InitialWorkers,
			CooldownSecs:    opts.Cooldown.Seconds(),
			RetentionDays:   opts.RetentionDays,
			BackoffStrategy: opts.BackoffStrategy,
			DryRun:          opts.DryRun,
		},
		backend: backend,
		history: history,
		log:     slog.Default().With("component", "recorder"),
	}
}

// RecordOutcome folds one per-symbol outcome into the counters.
func (r *Recorder) RecordOutcome(o domain.FetchOutcome) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.meta.SymbolsProcessed++
	if o.Success {
		r.meta.SymbolsSuccessful++
		r.meta.RowsWritten += o.Rows
	} else {
		r.meta.SymbolsFailed++
		msg := "unknown error"
		if o.Err != nil {
			msg = o.Err.Error()
		}
		r.meta.Errors = append(r.meta.Errors, domain.SymbolError{
			Symbol:    o.Symbol,
			Error:     msg,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// RecordInsufficient marks one symbol as lacking the history needed for
// feature computation. This is not a failure.
func (r *Recorder) RecordInsufficient(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.InsufficientData++
}

// AddDroppedRows accumulates warm-up rows dropped during feature
// computation.
func (r *Recorder) AddDroppedRows(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.RowsDroppedNaN += n
}

// SetAdaptive records the runner's worker-count history and accumulated
// inter-batch sleep.
func (r *Recorder) SetAdaptive(history []int, totalSleep time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.WorkerHistory = history
	r.meta.TotalSleepSecs = totalSleep.Seconds()
}

// SetRateLimitHits records the run's total throttle-signal count.
func (r *Recorder) SetRateLimitHits(n int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.RateLimitHits = n
}

// SetPruned records the partitions removed by the retention pass.
func (r *Recorder) SetPruned(keys []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.PartitionsPruned = keys
}

// Snapshot returns a copy of the metadata as accumulated so far.
func (r *Recorder) Snapshot() domain.RunMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.meta
}

// Seal stamps the terminal status and finish timestamps and returns the
// immutable metadata without persisting anything. Skipped runs use it
// directly: their artifacts already exist and must not be clobbered.
func (r *Recorder) Seal(status domain.RunStatus, errMsg string) domain.RunMetadata {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.Status = status
	r.meta.ErrorMessage = errMsg
	r.meta.FinishedAt = time.Now().UTC()
	r.meta.RuntimeSeconds = r.meta.FinishedAt.Sub(r.meta.StartedAt).Seconds()
	return r.meta
}

// Finalize seals the metadata and persists the artifacts (unless the run is
// a dry run). It is called on success and on caught scaffolding failure
// alike.
func (r *Recorder) Finalize(ctx context.Context, status domain.RunStatus, errMsg string) *domain.RunMetadata {
	meta := r.Seal(status, errMsg)

	if meta.DryRun {
		r.log.Info("dry run, skipping metadata persistence", "runDate", meta.RunDate, "status", meta.Status)
		return &meta
	}

	r.persist(ctx, &meta)
	return &meta
}

// persist writes metadata.json (and errors.json when failures occurred) into
// the run's log partition and inserts the run-history row.
func (r *Recorder) persist(ctx context.Context, meta *domain.RunMetadata) {
	if r.backend != nil {
		dir := string(store.DatasetFetchLogs) + "/dt=" + meta.RunDate

		if data, err := json.MarshalIndent(meta, "", "  "); err != nil {
			r.log.Error("encoding metadata failed", "err", err)
		} else if err := r.backend.Write(dir+"/metadata.json", data); err != nil {
			r.log.Error("writing metadata failed", "err", err)
		}

		if len(meta.Errors) > 0 {
			if data, err := json.MarshalIndent(meta.Errors, "", "  "); err != nil {
				r.log.Error("encoding error detail failed", "err", err)
			} else if err := r.backend.Write(dir+"/errors.json", data); err != nil {
				r.log.Error("writing error detail failed", "err", err)
			}
		}
	}

	if r.history != nil {
		if err := r.history.RecordRun(ctx, meta); err != nil {
			r.log.Error("recording run history failed", "err", err)
		}
	}
}
