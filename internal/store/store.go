// Package store persists pipeline data: dated raw partitions, per-symbol
// year-partitioned archives, computed feature partitions, and the sqlite run
// history. All tabular data is stored as Parquet through a pluggable blob
// Backend.
package store

import (
	"context"

	"tickerpipe/internal/domain"
)

// Dataset names the logical partition trees managed by the store.
type Dataset string

const (
	DatasetRaw       Dataset = "raw"
	DatasetProcessed Dataset = "processed"
	DatasetTickers   Dataset = "tickers"
	DatasetFetchLogs Dataset = "logs/fetch"
)

// PartitionStore reads and writes dated and symbol-keyed blobs of OHLCV
// records and enumerates and prunes partitions by retention age.
type PartitionStore interface {
	// Exists reports whether the dated partition holds at least one blob.
	Exists(dataset Dataset, dateKey string) bool

	// ListPartitions returns the sorted date keys present in the dataset.
	ListPartitions(dataset Dataset) ([]string, error)

	// ReadArchive returns the full multi-year archived series for a
	// symbol, ascending by date. An absent or corrupt archive yields an
	// empty series, never an error.
	ReadArchive(ctx context.Context, symbol string) []domain.Bar

	// WriteArchive persists the series as the symbol's archive, split by
	// year. Each year blob is written atomically.
	WriteArchive(ctx context.Context, symbol string, series []domain.Bar) error

	// WriteDaily writes one symbol's series into a dated partition.
	WriteDaily(ctx context.Context, dataset Dataset, dateKey, symbol string, series []domain.Bar) error

	// ReadDaily reads one symbol's series back from a dated partition.
	ReadDaily(ctx context.Context, dataset Dataset, dateKey, symbol string) ([]domain.Bar, error)

	// WriteFeatures writes one symbol's feature rows into a dated
	// processed partition.
	WriteFeatures(ctx context.Context, dateKey, symbol string, rows []domain.FeatureRow) error

	// ReadFeatures reads one symbol's feature rows back.
	ReadFeatures(ctx context.Context, dateKey, symbol string) ([]domain.FeatureRow, error)

	// Prune deletes partitions older than retentionDays and returns the
	// deleted date keys. A partition dated exactly retentionDays ago is
	// retained. With dryRun it reports the keys without deleting.
	Prune(dataset Dataset, retentionDays int, dryRun bool) ([]string, error)
}

// RunHistory records finalized run metadata for later inspection.
type RunHistory interface {
	// RecordRun inserts one finalized run row.
	RecordRun(ctx context.Context, meta *domain.RunMetadata) error

	// RecentRuns returns up to limit runs, newest first.
	RecentRuns(ctx context.Context, limit int) ([]domain.RunMetadata, error)
}
