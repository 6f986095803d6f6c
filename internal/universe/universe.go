// Package universe resolves the set of symbols a pipeline run operates on.
package universe

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"tickerpipe/internal/store"
)

// Load returns the symbol list from the most recent tickers partition
// (tickers/dt=<date>/tickers.csv). The newest dated partition wins; within
// the file, the "symbol" column is read, deduplicated, and sorted.
func Load(backend store.Backend) ([]string, error) {
	parts, err := backend.List(string(store.DatasetTickers))
	if err != nil {
		return nil, fmt.Errorf("listing ticker partitions: %w", err)
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("no ticker partitions under %s", store.DatasetTickers)
	}

	// List is sorted, and dt=YYYY-MM-DD keys order lexically by date.
	latest := parts[len(parts)-1]
	key := string(store.DatasetTickers) + "/" + latest + "/tickers.csv"
	data, err := backend.Read(key)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", key, err)
	}

	symbols, err := parseCSV(data)
	if err != nil {
		return nil, fmt.Errorf("parsing %s: %w", key, err)
	}

	slog.Default().Info("loaded ticker universe", "partition", latest, "symbols", len(symbols))
	return symbols, nil
}

func parseCSV(data []byte) ([]string, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("empty ticker file")
	}

	col := -1
	for i, name := range records[0] {
		if strings.EqualFold(strings.TrimSpace(name), "symbol") {
			col = i
			break
		}
	}
	if col < 0 {
		return nil, fmt.Errorf("no symbol column in header %v", records[0])
	}

	seen := make(map[string]bool, len(records))
	symbols := make([]string, 0, len(records))
	for _, rec := range records[1:] {
		if col >= len(rec) {
			continue
		}
		sym := strings.ToUpper(strings.TrimSpace(rec[col]))
		if sym == "" || seen[sym] {
			continue
		}
		seen[sym] = true
		symbols = append(symbols, sym)
	}
	sort.Strings(symbols)
	return symbols, nil
}
