package feature

import (
	"errors"
	"math"
	"testing"
	"time"

	"tickerpipe/internal/domain"
)

// zigzagSeries produces n daily bars with a gentle uptrend and a down day
// every other bar, so every RSI window sees both gains and losses.
func zigzagSeries(n int) []domain.Bar {
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
			Date:   start.AddDate(0, 0, i),
			Open:   price - 0.5,
			High:   price + 1,
			Low:    price - 1,
			Close:  price,
			Volume: 10000,
		})
	}
	return bars
}

func TestComputeWarmUpDrop(t *testing.T) {
	e := NewEngine(500)

	rows, dropped, err := e.Compute(zigzagSeries(600))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}

	// The 200-day SMA is the longest warm-up: the first defined row is
	// index 199, so exactly 199 rows drop.
	if dropped != 199 {
		t.Errorf("dropped = %d, want 199", dropped)
	}
	if len(rows) != 401 {
		t.Errorf("emitted %d rows, want 401", len(rows))
	}
}

func TestComputeAllValuesFinite(t *testing.T) {
	e := NewEngine(500)

	rows, _, err := e.Compute(zigzagSeries(600))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for i, r := range rows {
		for name, v := range map[string]float64{
			"SMA50": r.SMA50, "SMA200": r.SMA200, "EMA26": r.EMA26,
			"MACD": r.MACD, "MACDSignal": r.MACDSignal, "MACDHistogram": r.MACDHistogram,
			"RSI14": r.RSI14, "BBMiddle": r.BBMiddle, "BBUpper": r.BBUpper, "BBLower": r.BBLower,
		} {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				t.Fatalf("row %d: %s is not finite (%v)", i, name, v)
			}
		}
		if r.BBLower > r.BBMiddle || r.BBMiddle > r.BBUpper {
			t.Errorf("row %d: band ordering violated: %v / %v / %v", i, r.BBLower, r.BBMiddle, r.BBUpper)
		}
		if r.RSI14 < 0 || r.RSI14 > 100 {
			t.Errorf("row %d: RSI14 = %v out of [0,100]", i, r.RSI14)
		}
	}
}

func TestComputeChronologicalOutput(t *testing.T) {
	e := NewEngine(1)

	// Feed the series reversed; output must still be ascending.
	series := zigzagSeries(250)
	for i, j := 0, len(series)-1; i < j; i, j = i+1, j-1 {
		series[i], series[j] = series[j], series[i]
	}

	rows, _, err := e.Compute(series)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(rows) == 0 {
		t.Fatal("no rows emitted")
	}
	for i := 1; i < len(rows); i++ {
		if !rows[i-1].Date.Before(rows[i].Date) {
			t.Fatalf("rows not ascending at %d", i)
		}
	}
}

func TestComputeWithStructLiteralEngine(t *testing.T) {
	// An Engine built without NewEngine carries no logger and must still
	// compute; callers configure it both ways.
	e := &Engine{MinRows: 1}

	rows, dropped, err := e.Compute(zigzagSeries(300))
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(rows) == 0 {
		t.Error("no rows emitted")
	}
	if len(rows)+dropped != 300 {
		t.Errorf("rows+dropped = %d, want 300", len(rows)+dropped)
	}
}

func TestComputeInsufficientData(t *testing.T) {
	e := NewEngine(500)

	if _, _, err := e.Compute(zigzagSeries(499)); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("499 rows: err = %v, want ErrInsufficientData", err)
	}
	if _, _, err := e.Compute(nil); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("empty series: err = %v, want ErrInsufficientData", err)
	}
}

func TestComputeDropsNonFiniteInput(t *testing.T) {
	e := NewEngine(1)

	series := zigzagSeries(250)
	series[10].Close = math.NaN()
	series[20].High = math.Inf(1)

	rows, _, err := e.Compute(series)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	for _, r := range rows {
		if math.IsNaN(r.Close) || math.IsInf(r.High, 0) {
			t.Fatal("non-finite input row leaked into the output")
		}
	}
}

func TestComputeMonotonicSeriesDropsUndefinedRSI(t *testing.T) {
	e := NewEngine(1)

	// Strictly rising closes: every RSI window has zero average loss, so
	// RSI is undefined everywhere and no row survives.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	series := make([]domain.Bar, 300)
	for i := range series {
		p := 100.0 + float64(i)
		series[i] = domain.Bar{Date: start.AddDate(0, 0, i), Open: p, High: p, Low: p, Close: p, Volume: 1}
	}

	rows, dropped, err := e.Compute(series)
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("emitted %d rows with undefined RSI, want 0", len(rows))
	}
	if dropped != 300 {
		t.Errorf("dropped = %d, want 300", dropped)
	}
}

func TestRollingMeanWindow(t *testing.T) {
	values := []float64{1, 2, 3, 4, 5}
	out := rollingMean(values, 3)

	if !math.IsNaN(out[0]) || !math.IsNaN(out[1]) {
		t.Error("warm-up rows should be NaN")
	}
	want := []float64{2, 3, 4}
	for i, w := range want {
		if math.Abs(out[i+2]-w) > 1e-12 {
			t.Errorf("rollingMean[%d] = %v, want %v", i+2, out[i+2], w)
		}
	}
}

func TestRollingStdSample(t *testing.T) {
	// Sample std of {2, 4, 6} is 2 (ddof=1).
	out := rollingStd([]float64{2, 4, 6}, 3)
	if math.Abs(out[2]-2.0) > 1e-12 {
		t.Errorf("rollingStd = %v, want 2", out[2])
	}
}

func TestEMASeededAtFirstValue(t *testing.T) {
	values := []float64{10, 20, 30}
	out := ema(values, 3) // alpha = 0.5

	if out[0] != 10 {
		t.Errorf("ema[0] = %v, want seed 10", out[0])
	}
	if math.Abs(out[1]-15) > 1e-12 {
		t.Errorf("ema[1] = %v, want 15", out[1])
	}
	if math.Abs(out[2]-22.5) > 1e-12 {
		t.Errorf("ema[2] = %v, want 22.5", out[2])
	}
}
