// Package fetch implements the rate-limit-aware fetcher: one symbol per
// call, ordered source fallback, bounded retries with a configurable backoff
// policy, and a shared throttle counter feeding the adaptive concurrency
// layer.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/source"
	"tickerpipe/internal/util"
)

// Result is the successful output of one Fetch call.
type Result struct {
	Series      []domain.Bar
	Source      string // which PriceSource produced the data
	RateLimited bool   // a throttle signal was observed along the way
}

// Fetcher retrieves one symbol's daily series, trying each source in order
// and retrying on transient failures.
type Fetcher struct {
	sources       []source.PriceSource
	backoff       util.BackoffPolicy
	retryAttempts int
	retryDelay    time.Duration
	counter       *Counter
	log           *slog.Logger
}

// New creates a Fetcher over the given ordered sources. counter is shared
// with the concurrency runner.
func New(sources []source.PriceSource, backoff util.BackoffPolicy, retryAttempts int, retryDelay time.Duration, counter *Counter) *Fetcher {
	if retryAttempts < 1 {
		retryAttempts = 1
	}
	return &Fetcher{
		sources:       sources,
		backoff:       backoff,
		retryAttempts: retryAttempts,
		retryDelay:    retryDelay,
		counter:       counter,
		log:           slog.Default().With("component", "fetcher"),
	}
}

// Fetch retrieves up to lookbackDays of daily bars for the symbol.
//
// Outcome classes per attempt:
//   - success: the first source that returns rows wins.
//   - hard failure (ErrNoData from every source): returned immediately, no
//     further retries this run.
//   - rate-limited: the shared counter is incremented and the backoff policy
//     decides the cooldown before the next attempt.
//   - transient (anything else): retried after the fixed retry delay.
func (f *Fetcher) Fetch(ctx context.Context, symbol string, lookbackDays int) (Result, error) {
	if len(f.sources) == 0 {
		return Result{}, errors.New("no price sources configured")
	}

	rateLimited := false
	var lastErr error

	for attempt := 1; attempt <= f.retryAttempts; attempt++ {
		noData := 0
		sawRateLimit := false

		for _, src := range f.sources {
			series, err := src.DailySeries(ctx, symbol, lookbackDays)
			if err == nil {
				return Result{Series: series, Source: src.Name(), RateLimited: rateLimited}, nil
			}

			lastErr = err
			switch {
			case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
				return Result{RateLimited: rateLimited}, err
			case errors.Is(err, source.ErrRateLimited):
				f.counter.Inc()
				sawRateLimit = true
				rateLimited = true
				f.log.Warn("rate limited", "symbol", symbol, "source", src.Name(), "attempt", attempt)
			case errors.Is(err, source.ErrNoData):
				noData++
				f.log.Debug("no data", "symbol", symbol, "source", src.Name())
			default:
				f.log.Warn("transient fetch failure", "symbol", symbol, "source", src.Name(), "attempt", attempt, "err", err)
			}
		}

		// Every source says the symbol has no data: hard failure, do not
		// burn more attempts on it this run.
		if noData == len(f.sources) {
			return Result{RateLimited: rateLimited}, fmt.Errorf("all sources: %w", lastErr)
		}

		if attempt == f.retryAttempts {
			break
		}

		if sawRateLimit {
			slept, err := f.backoff.Sleep(ctx, attempt)
			if err != nil {
				return Result{RateLimited: rateLimited}, err
			}
			f.log.Info("rate limit cooldown", "symbol", symbol, "slept", slept, "attempt", attempt)
		} else {
			select {
			case <-ctx.Done():
				return Result{RateLimited: rateLimited}, ctx.Err()
			case <-time.After(f.retryDelay):
			}
		}
	}

	return Result{RateLimited: rateLimited}, fmt.Errorf("fetch %s: attempts exhausted: %w", symbol, lastErr)
}
