// Package feature computes rolling technical indicators over a merged daily
// series. Indicators run over the full multi-year history, not just the
// day's fetch, so long windows such as the 200-day SMA are correct from the
// first emitted row.
package feature

import (
	"errors"
	"log/slog"
	"math"
	"sort"

	"tickerpipe/internal/domain"
)

// ErrInsufficientData marks a series that cannot support feature
// computation: empty, shorter than the configured minimum, or carrying
// non-finite OHLCV fields. It is a soft failure; the symbol is recorded as
// insufficient, not as an error.
var ErrInsufficientData = errors.New("insufficient data for feature computation")

// Indicator windows.
const (
	smaShortWindow = 50
	smaLongWindow  = 200
	emaSpan        = 26
	macdFastSpan   = 12
	macdSlowSpan   = 26
	macdSignalSpan = 9
	rsiWindow      = 14
	bbWindow       = 20
	bbWidth        = 2.0
)

// Engine computes FeatureRows from merged series.
type Engine struct {
	// MinRows is the minimum series length accepted for computation.
	// Series below it are ErrInsufficientData.
	MinRows int

	log *slog.Logger
}

// NewEngine creates an Engine requiring at least minRows input rows. Values
// below the longest warm-up window still compute but would emit nothing.
func NewEngine(minRows int) *Engine {
	if minRows < 1 {
		minRows = 1
	}
	return &Engine{
		MinRows: minRows,
		log:     slog.Default().With("component", "features"),
	}
}

// logger tolerates zero-value Engines, which carry no logger.
func (e *Engine) logger() *slog.Logger {
	if e.log == nil {
		return slog.Default().With("component", "features")
	}
	return e.log
}

// Compute returns the feature rows for the series plus the count of rows
// dropped because an indicator window ending there was not yet full. Every
// returned row has finite values in all indicator columns.
func (e *Engine) Compute(series []domain.Bar) ([]domain.FeatureRow, int, error) {
	bars := sanitize(series)
	if len(bars) == 0 || len(bars) < e.MinRows {
		return nil, 0, ErrInsufficientData
	}

	n := len(bars)
	closes := make([]float64, n)
	for i, b := range bars {
		closes[i] = b.Close
	}

	sma50 := rollingMean(closes, smaShortWindow)
	sma200 := rollingMean(closes, smaLongWindow)
	ema26 := ema(closes, emaSpan)

	ema12 := ema(closes, macdFastSpan)
	macd := make([]float64, n)
	for i := range macd {
		macd[i] = ema12[i] - ema26[i]
	}
	macdSignal := ema(macd, macdSignalSpan)
	macdHist := make([]float64, n)
	for i := range macdHist {
		macdHist[i] = macd[i] - macdSignal[i]
	}

	rsi := rsi14(closes)

	bbMiddle := rollingMean(closes, bbWindow)
	bbStd := rollingStd(closes, bbWindow)
	bbUpper := make([]float64, n)
	bbLower := make([]float64, n)
	for i := range bbMiddle {
		bbUpper[i] = bbMiddle[i] + bbWidth*bbStd[i]
		bbLower[i] = bbMiddle[i] - bbWidth*bbStd[i]
	}

	rows := make([]domain.FeatureRow, 0, n)
	dropped := 0
	for i, b := range bars {
		row := domain.FeatureRow{
			Bar:           b,
			SMA50:         sma50[i],
			SMA200:        sma200[i],
			EMA26:         ema26[i],
			MACD:          macd[i],
			MACDSignal:    macdSignal[i],
			MACDHistogram: macdHist[i],
			RSI14:         rsi[i],
			BBMiddle:      bbMiddle[i],
			BBUpper:       bbUpper[i],
			BBLower:       bbLower[i],
		}
		if hasNaN(row) {
			dropped++
			continue
		}
		rows = append(rows, row)
	}

	e.logger().Debug("computed features", "input", n, "emitted", len(rows), "dropped", dropped)
	return rows, dropped, nil
}

// sanitize sorts the series ascending and removes rows with non-finite
// OHLCV fields, mirroring the precondition check on raw input.
func sanitize(series []domain.Bar) []domain.Bar {
	bars := make([]domain.Bar, 0, len(series))
	for _, b := range series {
		if !isFinite(b.Open) || !isFinite(b.High) || !isFinite(b.Low) || !isFinite(b.Close) {
			continue
		}
		bars = append(bars, b)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func hasNaN(row domain.FeatureRow) bool {
	for _, v := range []float64{
		row.SMA50, row.SMA200, row.EMA26,
		row.MACD, row.MACDSignal, row.MACDHistogram,
		row.RSI14, row.BBMiddle, row.BBUpper, row.BBLower,
	} {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// Rolling primitives. NaN marks rows whose trailing window is not yet full.
// ---------------------------------------------------------------------------

// rollingMean computes the simple moving average over the trailing window.
func rollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	var sum float64
	for i, v := range values {
		sum += v
		if i >= window {
			sum -= values[i-window]
		}
		if i >= window-1 {
			out[i] = sum / float64(window)
		} else {
			out[i] = math.NaN()
		}
	}
	return out
}

// rollingStd computes the trailing sample standard deviation (ddof=1).
func rollingStd(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range values {
		if i < window-1 {
			out[i] = math.NaN()
			continue
		}
		start := i - window + 1
		var mean float64
		for _, v := range values[start : i+1] {
			mean += v
		}
		mean /= float64(window)

		var sq float64
		for _, v := range values[start : i+1] {
			d := v - mean
			sq += d * d
		}
		out[i] = math.Sqrt(sq / float64(window-1))
	}
	return out
}

// ema computes the exponential moving average with alpha = 2/(span+1),
// seeded at the first value. NaN inputs propagate.
func ema(values []float64, span int) []float64 {
	out := make([]float64, len(values))
	if len(values) == 0 {
		return out
	}

	alpha := 2.0 / (float64(span) + 1.0)
	out[0] = values[0]
	for i := 1; i < len(values); i++ {
		out[i] = alpha*values[i] + (1-alpha)*out[i-1]
	}
	return out
}

// rsi14 computes the RSI over a simple 14-day rolling window of gains and
// losses. Where the average loss is zero the value is undefined and marked
// NaN so the row is dropped rather than dividing by zero.
func rsi14(closes []float64) []float64 {
	n := len(closes)
	gains := make([]float64, n)
	losses := make([]float64, n)
	gains[0] = math.NaN()
	losses[0] = math.NaN()
	for i := 1; i < n; i++ {
		delta := closes[i] - closes[i-1]
		if delta > 0 {
			gains[i] = delta
		} else {
			losses[i] = -delta
		}
	}

	out := make([]float64, n)
	for i := range out {
		// The window covers rsiWindow deltas; the first delta exists at
		// index 1, so the earliest defined row is rsiWindow.
		if i < rsiWindow {
			out[i] = math.NaN()
			continue
		}
		var avgGain, avgLoss float64
		for j := i - rsiWindow + 1; j <= i; j++ {
			avgGain += gains[j]
			avgLoss += losses[j]
		}
		avgGain /= float64(rsiWindow)
		avgLoss /= float64(rsiWindow)

		if avgLoss == 0 {
			out[i] = math.NaN()
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out
}
