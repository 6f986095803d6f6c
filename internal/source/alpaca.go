package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tickerpipe/internal/domain"
)

// Compile-time interface check.
var _ PriceSource = (*AlpacaSource)(nil)

// AlpacaSource fetches daily bars from the Alpaca market-data API. It is the
// primary source.
type AlpacaSource struct {
	client *marketdata.Client
}

// NewAlpacaSource creates an AlpacaSource with the given credentials. An
// empty dataURL uses the SDK default endpoint.
func NewAlpacaSource(apiKey, apiSecret, dataURL string) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}

	return &AlpacaSource{client: marketdata.NewClient(opts)}
}

// Name returns the source identifier.
func (s *AlpacaSource) Name() string { return "alpaca" }

// DailySeries fetches daily bars covering the lookback window. Weekends and
// holidays mean the calendar window is padded so the trading-day count is
// still met.
func (s *AlpacaSource) DailySeries(_ context.Context, symbol string, lookbackDays int) ([]domain.Bar, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(lookbackDays + lookbackDays/2 + 5))

	alpacaBars, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      "iex",
	})
	if err != nil {
		return nil, classifyAlpacaErr(symbol, err)
	}
	if len(alpacaBars) == 0 {
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	bars := make([]domain.Bar, 0, len(alpacaBars))
	for _, ab := range alpacaBars {
		bars = append(bars, domain.Bar{
			Date:   ab.Timestamp.UTC().Truncate(24 * time.Hour),
			Open:   ab.Open,
			High:   ab.High,
			Low:    ab.Low,
			Close:  ab.Close,
			Volume: int64(ab.Volume),
		})
	}
	if len(bars) > lookbackDays {
		bars = bars[len(bars)-lookbackDays:]
	}
	return bars, nil
}

// classifyAlpacaErr maps SDK errors onto the sentinel taxonomy.
func classifyAlpacaErr(symbol string, err error) error {
	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%s: %w", symbol, ErrRateLimited)
		case http.StatusNotFound, http.StatusUnprocessableEntity:
			return fmt.Errorf("%s: %w", symbol, ErrNoData)
		}
	}
	return fmt.Errorf("alpaca %s: %w", symbol, err)
}
