// Package merge reconciles a symbol's freshly fetched series with its
// multi-year archive.
package merge

import (
	"context"
	"log/slog"
	"sort"

	"tickerpipe/internal/domain"
	"tickerpipe/internal/store"
)

// Merger combines archived and newly fetched series per symbol.
type Merger struct {
	store store.PartitionStore
	log   *slog.Logger
}

// NewMerger creates a Merger backed by the given partition store.
func NewMerger(s store.PartitionStore) *Merger {
	return &Merger{
		store: s,
		log:   slog.Default().With("component", "merger"),
	}
}

// Merge loads the symbol's archive and combines it with newSeries. The result
// is ascending by date and unique per calendar date, with newSeries winning
// over the archive on overlapping dates (upstream sends same-day corrections
// and backfills). An absent archive simply means this is the symbol's first
// fetch.
//
// The merged length never exceeds len(archive)+len(newSeries), with equality
// only when there is no date overlap.
func (m *Merger) Merge(ctx context.Context, symbol string, newSeries []domain.Bar) []domain.Bar {
	archive := m.store.ReadArchive(ctx, symbol)
	merged := Series(archive, newSeries)

	m.log.Debug("merged series",
		"symbol", symbol,
		"archive", len(archive),
		"new", len(newSeries),
		"merged", len(merged),
	)
	return merged
}

// Series merges two bar series by calendar date, keeping the last occurrence
// on duplicates (entries of b win over a). The result is sorted ascending.
func Series(a, b []domain.Bar) []domain.Bar {
	seen := make(map[string]domain.Bar, len(a)+len(b))
	for _, bar := range a {
		seen[bar.DateKey()] = bar
	}
	for _, bar := range b {
		seen[bar.DateKey()] = bar
	}

	merged := make([]domain.Bar, 0, len(seen))
	for _, bar := range seen {
		merged = append(merged, bar)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Date.Before(merged[j].Date)
	})
	return merged
}
