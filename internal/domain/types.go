// Package domain defines the core record types shared across the pipeline:
// daily bars, per-symbol fetch outcomes, computed feature rows, and the
// per-run metadata aggregate.
package domain

import (
	"time"
)

// Bar is one daily OHLCV record for a single symbol. Date carries calendar
// resolution only; series are unique and ascending by Date.
type Bar struct {
	Date   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume int64
}

// DateKey returns the calendar-date key used for deduplication and
// partitioning.
func (b Bar) DateKey() string {
	return b.Date.Format("2006-01-02")
}

// FeatureRow augments a Bar with rolling indicator columns. A FeatureRow is
// only emitted once every indicator window ending at its date is full, so no
// column is ever NaN in emitted rows.
type FeatureRow struct {
	Bar

	SMA50         float64
	SMA200        float64
	EMA26         float64
	MACD          float64
	MACDSignal    float64
	MACDHistogram float64
	RSI14         float64
	BBMiddle      float64
	BBUpper       float64
	BBLower       float64
}

// FetchOutcome is the per-symbol result of one unit of pipeline work. Exactly
// one outcome exists per submitted symbol, success or failure.
type FetchOutcome struct {
	Symbol      string
	Success     bool
	Rows        int
	Source      string // name of the PriceSource that produced the data, if any
	RateLimited bool   // at least one throttle signal was observed
	Err         error
}

// RunStatus is the terminal state of a pipeline run.
type RunStatus string

const (
	RunStatusSuccess        RunStatus = "success"
	RunStatusPartialSuccess RunStatus = "partial_success"
	RunStatusSkipped        RunStatus = "skipped"
	RunStatusFailed         RunStatus = "failed"
)

// SymbolError is one entry of the per-run error-detail artifact.
type SymbolError struct {
	Symbol    string `json:"symbol"`
	Error     string `json:"error"`
	Timestamp string `json:"timestamp"`
}

// RunMetadata is the per-run aggregate persisted at run end. It is created at
// run start, mutated through the RunMetadataRecorder while the run is in
// flight, and immutable once finalized.
type RunMetadata struct {
	RunDate        string    `json:"run_date"`
	Status         RunStatus `json:"status"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	RuntimeSeconds float64   `json:"runtime_seconds"`

	SymbolsProcessed  int `json:"symbols_processed"`
	SymbolsSuccessful int `json:"symbols_successful"`
	SymbolsFailed     int `json:"symbols_failed"`
	InsufficientData  int `json:"symbols_insufficient_data"`
	RowsWritten       int `json:"rows_written"`
	RowsDroppedNaN    int `json:"rows_dropped_due_to_nans"`
	RateLimitHits     int `json:"rate_limit_hits"`

	// WorkerHistory is the sequence of worker-pool sizes over the run,
	// starting with the initial value and appending one entry per adaptive
	// reduction.
	WorkerHistory    []int    `json:"worker_history"`
	TotalSleepSecs   float64  `json:"total_sleep_seconds"`
	PartitionsPruned []string `json:"partitions_pruned,omitempty"`

	// Configuration echo.
	BatchSize       int     `json:"batch_size"`
	InitialWorkers  int     `json:"initial_workers"`
	CooldownSecs    float64 `json:"cooldown_seconds"`
	RetentionDays   int     `json:"retention_days"`
	BackoffStrategy string  `json:"backoff_strategy"`
	DryRun          bool    `json:"dry_run"`

	Errors []SymbolError `json:"-"`
}
