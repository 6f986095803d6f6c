// Package source defines the PriceSource capability and its upstream
// implementations. The fetcher tries sources in configured order; which one
// produced the data is part of every fetch outcome.
package source

import (
	"context"
	"errors"

	"tickerpipe/internal/domain"
)

// Sentinel errors classifying upstream outcomes. Anything else returned by a
// source is treated as transient and retried.
var (
	// ErrNoData means the symbol is unknown to the source or the payload
	// was permanently empty. Hard failure: no further retries this run.
	ErrNoData = errors.New("no data for symbol")

	// ErrRateLimited means the upstream signalled throttling. The caller
	// backs off before the next attempt and feeds the shared counter.
	ErrRateLimited = errors.New("upstream rate limited")
)

// PriceSource retrieves daily OHLCV rows for one symbol. Implementations make
// exactly one upstream call per DailySeries invocation and classify failures
// with the sentinel errors above.
type PriceSource interface {
	// Name identifies the source in outcomes and logs.
	Name() string

	// DailySeries returns up to lookbackDays daily bars for the symbol,
	// ascending by date.
	DailySeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.Bar, error)
}
