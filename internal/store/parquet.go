package store

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"tickerpipe/internal/domain"
)

// Compile-time interface check.
var _ PartitionStore = (*ParquetStore)(nil)

// ParquetStore implements PartitionStore with Parquet blobs over a Backend.
type ParquetStore struct {
	backend Backend
	log     *slog.Logger

	// Now is the clock used for retention cutoffs; overridable in tests.
	Now func() time.Time
}

// NewParquetStore creates a ParquetStore over the given backend.
func NewParquetStore(backend Backend) *ParquetStore {
	return &ParquetStore{
		backend: backend,
		log:     slog.Default().With("component", "store"),
		Now:     time.Now,
	}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for daily OHLCV data.
type BarRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`
}

// FeatureRecord is the Parquet schema for computed indicator rows.
type FeatureRecord struct {
	Symbol    string  `parquet:"symbol"`
	Timestamp int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    int64   `parquet:"volume"`

	SMA50         float64 `parquet:"sma_50"`
	SMA200        float64 `parquet:"sma_200"`
	EMA26         float64 `parquet:"ema_26"`
	MACD          float64 `parquet:"macd"`
	MACDSignal    float64 `parquet:"macd_signal"`
	MACDHistogram float64 `parquet:"macd_histogram"`
	RSI14         float64 `parquet:"rsi_14"`
	BBMiddle      float64 `parquet:"bb_middle"`
	BBUpper       float64 `parquet:"bb_upper"`
	BBLower       float64 `parquet:"bb_lower"`
}

// ---------------------------------------------------------------------------
// Partition enumeration
// ---------------------------------------------------------------------------

// Exists reports whether the dated partition holds at least one blob. A
// directory that was created but never populated does not count as complete.
func (s *ParquetStore) Exists(dataset Dataset, dateKey string) bool {
	names, err := s.backend.List(partitionKey(dataset, dateKey))
	return err == nil && len(names) > 0
}

// ListPartitions returns the sorted date keys present in the dataset.
func (s *ParquetStore) ListPartitions(dataset Dataset) ([]string, error) {
	names, err := s.backend.List(string(dataset))
	if err != nil {
		return nil, err
	}

	var keys []string
	for _, name := range names {
		if date, ok := strings.CutPrefix(name, "dt="); ok {
			keys = append(keys, date)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Prune deletes dt= partitions whose date is older than retentionDays and
// returns the deleted date keys. The partition dated exactly retentionDays
// ago is retained. With dryRun the keys are reported but nothing is deleted.
func (s *ParquetStore) Prune(dataset Dataset, retentionDays int, dryRun bool) ([]string, error) {
	keys, err := s.ListPartitions(dataset)
	if err != nil {
		return nil, err
	}

	today := s.Now().UTC().Truncate(24 * time.Hour)
	cutoff := today.AddDate(0, 0, -retentionDays)

	var deleted []string
	for _, key := range keys {
		date, err := time.Parse("2006-01-02", key)
		if err != nil {
			s.log.Warn("skipping unparseable partition", "dataset", dataset, "key", key)
			continue
		}
		if !date.Before(cutoff) {
			continue
		}

		if dryRun {
			s.log.Info("would delete partition", "dataset", dataset, "date", key)
		} else {
			if err := s.backend.Delete(partitionKey(dataset, key)); err != nil {
				return deleted, fmt.Errorf("deleting partition %s/%s: %w", dataset, key, err)
			}
			s.log.Info("deleted partition", "dataset", dataset, "date", key)
		}
		deleted = append(deleted, key)
	}
	return deleted, nil
}

// ---------------------------------------------------------------------------
// Archive series (historical/ticker=<SYMBOL>/year=<YYYY>/data.parquet)
// ---------------------------------------------------------------------------

// ReadArchive returns the full archived series for a symbol, ascending by
// date. Absent or corrupt year blobs are treated as empty: corruption is
// logged for operator attention but fresh data availability wins over
// historical continuity.
func (s *ParquetStore) ReadArchive(_ context.Context, symbol string) []domain.Bar {
	dir := archiveKey(symbol)
	years, err := s.backend.List(dir)
	if err != nil {
		s.log.Warn("listing archive failed, treating as empty", "symbol", symbol, "err", err)
		return nil
	}

	var bars []domain.Bar
	for _, name := range years {
		if !strings.HasPrefix(name, "year=") {
			continue
		}
		key := dir + "/" + name + "/data.parquet"
		data, err := s.backend.Read(key)
		if err != nil {
			continue
		}
		records, err := unmarshalParquet[BarRecord](data)
		if err != nil {
			s.log.Warn("corrupt archive blob, treating as empty", "symbol", symbol, "key", key, "err", err)
			continue
		}
		for _, r := range records {
			bars = append(bars, r.toBar())
		}
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	return bars
}

// WriteArchive persists the series as the symbol's archive, one atomically
// written blob per calendar year.
func (s *ParquetStore) WriteArchive(_ context.Context, symbol string, series []domain.Bar) error {
	groups := make(map[int][]BarRecord)
	for _, b := range series {
		y := b.Date.Year()
		groups[y] = append(groups[y], toBarRecord(symbol, b))
	}

	for year, records := range groups {
		key := archiveKey(symbol) + "/year=" + strconv.Itoa(year) + "/data.parquet"
		data, err := marshalParquet(records)
		if err != nil {
			return fmt.Errorf("encoding archive for %s/%d: %w", symbol, year, err)
		}
		if err := s.backend.Write(key, data); err != nil {
			return fmt.Errorf("writing archive for %s/%d: %w", symbol, year, err)
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Dated partitions
// ---------------------------------------------------------------------------

// WriteDaily writes one symbol's series into a dated partition.
func (s *ParquetStore) WriteDaily(_ context.Context, dataset Dataset, dateKey, symbol string, series []domain.Bar) error {
	records := make([]BarRecord, 0, len(series))
	for _, b := range series {
		records = append(records, toBarRecord(symbol, b))
	}

	data, err := marshalParquet(records)
	if err != nil {
		return fmt.Errorf("encoding %s for %s/%s: %w", dataset, symbol, dateKey, err)
	}
	return s.backend.Write(symbolKey(dataset, dateKey, symbol), data)
}

// ReadDaily reads one symbol's series back from a dated partition.
func (s *ParquetStore) ReadDaily(_ context.Context, dataset Dataset, dateKey, symbol string) ([]domain.Bar, error) {
	data, err := s.backend.Read(symbolKey(dataset, dateKey, symbol))
	if err != nil {
		return nil, err
	}
	records, err := unmarshalParquet[BarRecord](data)
	if err != nil {
		return nil, err
	}

	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, r.toBar())
	}
	return bars, nil
}

// WriteFeatures writes one symbol's feature rows into a dated processed
// partition.
func (s *ParquetStore) WriteFeatures(_ context.Context, dateKey, symbol string, rows []domain.FeatureRow) error {
	records := make([]FeatureRecord, 0, len(rows))
	for _, r := range rows {
		records = append(records, toFeatureRecord(symbol, r))
	}

	data, err := marshalParquet(records)
	if err != nil {
		return fmt.Errorf("encoding features for %s/%s: %w", symbol, dateKey, err)
	}
	return s.backend.Write(symbolKey(DatasetProcessed, dateKey, symbol), data)
}

// ReadFeatures reads one symbol's feature rows back.
func (s *ParquetStore) ReadFeatures(_ context.Context, dateKey, symbol string) ([]domain.FeatureRow, error) {
	data, err := s.backend.Read(symbolKey(DatasetProcessed, dateKey, symbol))
	if err != nil {
		return nil, err
	}
	records, err := unmarshalParquet[FeatureRecord](data)
	if err != nil {
		return nil, err
	}

	rows := make([]domain.FeatureRow, 0, len(records))
	for _, r := range records {
		rows = append(rows, r.toFeatureRow())
	}
	return rows, nil
}

// ---------------------------------------------------------------------------
// Key helpers
// ---------------------------------------------------------------------------

// partitionKey returns the backend key for a dated partition directory.
// Layout: <dataset>/dt=<YYYY-MM-DD>
func partitionKey(dataset Dataset, dateKey string) string {
	return string(dataset) + "/dt=" + dateKey
}

// symbolKey returns the backend key for one symbol's blob in a partition.
func symbolKey(dataset Dataset, dateKey, symbol string) string {
	return partitionKey(dataset, dateKey) + "/" + strings.ToUpper(symbol) + ".parquet"
}

// archiveKey returns the backend key for a symbol's archive directory.
// Layout: historical/ticker=<SYMBOL>
func archiveKey(symbol string) string {
	return "historical/ticker=" + strings.ToUpper(symbol)
}

// ---------------------------------------------------------------------------
// Record conversion and Parquet helpers
// ---------------------------------------------------------------------------

func toBarRecord(symbol string, b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:    strings.ToUpper(symbol),
		Timestamp: b.Date.UnixMilli(),
		Open:      b.Open,
		High:      b.High,
		Low:       b.Low,
		Close:     b.Close,
		Volume:    b.Volume,
	}
}

func (r BarRecord) toBar() domain.Bar {
	return domain.Bar{
		Date:   time.UnixMilli(r.Timestamp).UTC(),
		Open:   r.Open,
		High:   r.High,
		Low:    r.Low,
		Close:  r.Close,
		Volume: r.Volume,
	}
}

func toFeatureRecord(symbol string, row domain.FeatureRow) FeatureRecord {
	return FeatureRecord{
		Symbol:        strings.ToUpper(symbol),
		Timestamp:     row.Date.UnixMilli(),
		Open:          row.Open,
		High:          row.High,
		Low:           row.Low,
		Close:         row.Close,
		Volume:        row.Volume,
		SMA50:         row.SMA50,
		SMA200:        row.SMA200,
		EMA26:         row.EMA26,
		MACD:          row.MACD,
		MACDSignal:    row.MACDSignal,
		MACDHistogram: row.MACDHistogram,
		RSI14:         row.RSI14,
		BBMiddle:      row.BBMiddle,
		BBUpper:       row.BBUpper,
		BBLower:       row.BBLower,
	}
}

func (r FeatureRecord) toFeatureRow() domain.FeatureRow {
	return domain.FeatureRow{
		Bar: domain.Bar{
			Date:   time.UnixMilli(r.Timestamp).UTC(),
			Open:   r.Open,
			High:   r.High,
			Low:    r.Low,
			Close:  r.Close,
			Volume: r.Volume,
		},
		SMA50:         r.SMA50,
		SMA200:        r.SMA200,
		EMA26:         r.EMA26,
		MACD:          r.MACD,
		MACDSignal:    r.MACDSignal,
		MACDHistogram: r.MACDHistogram,
		RSI14:         r.RSI14,
		BBMiddle:      r.BBMiddle,
		BBUpper:       r.BBUpper,
		BBLower:       r.BBLower,
	}
}

func marshalParquet[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	if err := parquet.Write(&buf, records); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func unmarshalParquet[T any](data []byte) ([]T, error) {
	return parquet.Read[T](bytes.NewReader(data), int64(len(data)))
}
