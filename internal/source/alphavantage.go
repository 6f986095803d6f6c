package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/util"
)

// Compile-time interface check.
var _ PriceSource = (*AlphaVantageSource)(nil)

// AlphaVantageSource fetches daily bars from the Alpha Vantage HTTP API. It
// serves as the fallback when the primary source fails. Alpha Vantage signals
// throttling in-band via a "Note" field in an otherwise 200 response, so the
// payload is inspected as well as the status code.
type AlphaVantageSource struct {
	apiKey  string
	baseURL string
	client  *http.Client
	limiter *util.RateLimiter
}

// NewAlphaVantageSource creates an AlphaVantageSource. The limiter paces
// requests to the account's per-minute quota.
func NewAlphaVantageSource(apiKey, baseURL string, ratePerMin int) *AlphaVantageSource {
	if baseURL == "" {
		baseURL = "https://www.alphavantage.co/query"
	}
	return &AlphaVantageSource{
		apiKey:  apiKey,
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
		limiter: util.NewRateLimiter(ratePerMin),
	}
}

// Name returns the source identifier.
func (s *AlphaVantageSource) Name() string { return "alpha_vantage" }

// avPayload is the subset of the TIME_SERIES_DAILY response we care about.
type avPayload struct {
	ErrorMessage string                       `json:"Error Message"`
	Note         string                       `json:"Note"`
	Information  string                       `json:"Information"`
	TimeSeries   map[string]map[string]string `json:"Time Series (Daily)"`
}

// DailySeries fetches the daily time series and returns the last
// lookbackDays rows, ascending by date.
func (s *AlphaVantageSource) DailySeries(ctx context.Context, symbol string, lookbackDays int) ([]domain.Bar, error) {
	if s.apiKey == "" {
		return nil, fmt.Errorf("alpha_vantage %s: api key not configured: %w", symbol, ErrNoData)
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	outputSize := "compact"
	if lookbackDays > 100 {
		outputSize = "full"
	}
	params := url.Values{
		"function":   {"TIME_SERIES_DAILY"},
		"symbol":     {symbol},
		"apikey":     {s.apiKey},
		"outputsize": {outputSize},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("alpha_vantage %s: %w", symbol, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("alpha_vantage %s: unexpected status %d", symbol, resp.StatusCode)
	}

	var payload avPayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("alpha_vantage %s: decoding response: %w", symbol, err)
	}

	switch {
	case payload.Note != "" || payload.Information != "":
		// In-band throttle sentinel.
		return nil, fmt.Errorf("%s: %w", symbol, ErrRateLimited)
	case payload.ErrorMessage != "":
		return nil, fmt.Errorf("%s: %s: %w", symbol, payload.ErrorMessage, ErrNoData)
	case len(payload.TimeSeries) == 0:
		return nil, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	bars := make([]domain.Bar, 0, len(payload.TimeSeries))
	for dateStr, values := range payload.TimeSeries {
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			continue
		}
		bar, err := parseAVBar(date, values)
		if err != nil {
			return nil, fmt.Errorf("alpha_vantage %s %s: %w", symbol, dateStr, err)
		}
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	if len(bars) > lookbackDays {
		bars = bars[len(bars)-lookbackDays:]
	}
	return bars, nil
}

func parseAVBar(date time.Time, values map[string]string) (domain.Bar, error) {
	open, err := strconv.ParseFloat(values["1. open"], 64)
	if err != nil {
		return domain.Bar{}, err
	}
	high, err := strconv.ParseFloat(values["2. high"], 64)
	if err != nil {
		return domain.Bar{}, err
	}
	low, err := strconv.ParseFloat(values["3. low"], 64)
	if err != nil {
		return domain.Bar{}, err
	}
	closing, err := strconv.ParseFloat(values["4. close"], 64)
	if err != nil {
		return domain.Bar{}, err
	}
	volume, err := strconv.ParseInt(values["5. volume"], 10, 64)
	if err != nil {
		return domain.Bar{}, err
	}

	return domain.Bar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  closing,
		Volume: volume,
	}, nil
}
