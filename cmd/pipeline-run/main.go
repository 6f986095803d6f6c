package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"tickerpipe/internal/config"
	"tickerpipe/internal/domain"
	"tickerpipe/internal/feature"
	"tickerpipe/internal/fetch"
	"tickerpipe/internal/pipeline"
	"tickerpipe/internal/source"
	"tickerpipe/internal/store"
	"tickerpipe/internal/universe"
	"tickerpipe/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/tickerpipe.yaml", "path to config file")
	force := flag.Bool("force", false, "re-run even if today's partition already exists")
	dryRun := flag.Bool("dry-run", false, "run the full pipeline without writing anything")
	testMode := flag.Bool("test", false, "run against a small fixed symbol set")
	batchSize := flag.Int("batch-size", 0, "override batch size")
	cooldown := flag.Float64("cooldown", 0, "override batch cooldown seconds")
	parallel := flag.Int("parallel", 0, "override initial worker count")
	runDate := flag.String("date", "", "run date (YYYY-MM-DD, default today)")
	flag.Parse()

	if p := os.Getenv("TICKERPIPE_CONFIG"); p != "" && *cfgPath == "config/tickerpipe.yaml" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *batchSize > 0 {
		cfg.Pipeline.BatchSize = *batchSize
	}
	if *cooldown > 0 {
		cfg.Pipeline.BaseCooldownSecs = *cooldown
	}
	if *parallel > 0 {
		cfg.Pipeline.ParallelWorkers = *parallel
	}

	// Dual logger: stdout + dated log file.
	if err := os.MkdirAll(cfg.Storage.LogDir, 0o755); err != nil {
		log.Fatalf("failed to create log dir: %v", err)
	}
	logFileName := filepath.Join(cfg.Storage.LogDir, fmt.Sprintf("pipeline-run-%s.log", time.Now().Format("2006-01-02")))
	logFile, err := os.Create(logFileName)
	if err != nil {
		log.Fatalf("failed to create log file: %v", err)
	}
	defer logFile.Close()

	w := io.MultiWriter(os.Stdout, logFile)
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: util.ParseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	backend := store.NewLocalBackend(cfg.Storage.DataDir)
	pstore := store.NewParquetStore(backend)

	var history store.RunHistory
	if cfg.Storage.RunsDBPath != "" {
		h, err := store.NewSQLiteRunHistory(cfg.Storage.RunsDBPath)
		if err != nil {
			log.Fatalf("failed to open run history db: %v", err)
		}
		defer h.Close()
		history = h
	}

	var sources []source.PriceSource
	if cfg.Alpaca.APIKey != "" {
		sources = append(sources, source.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL))
	}
	if cfg.AlphaVantage.APIKey != "" {
		sources = append(sources, source.NewAlphaVantageSource(cfg.AlphaVantage.APIKey, cfg.AlphaVantage.BaseURL, cfg.AlphaVantage.RateLimitPerMin))
	}
	if len(sources) == 0 {
		log.Fatal("no price sources configured: set Alpaca or Alpha Vantage credentials")
	}

	counter := &fetch.Counter{}
	backoff := util.BackoffPolicy{
		Strategy: util.ParseBackoffStrategy(cfg.Pipeline.BackoffStrategy),
		Base:     time.Duration(cfg.Pipeline.BaseCooldownSecs * float64(time.Second)),
		Max:      time.Duration(cfg.Pipeline.MaxCooldownSecs * float64(time.Second)),
	}
	fetcher := fetch.New(sources, backoff,
		cfg.Pipeline.APIRetryAttempts,
		time.Duration(cfg.Pipeline.APIRetryDelaySecs*float64(time.Second)),
		counter,
	)
	engine := feature.NewEngine(cfg.Pipeline.MinFeatureRows)

	opts := pipeline.Options{
		RunDate:             *runDate,
		LookbackDays:        cfg.Pipeline.LookbackDays,
		OutputTailDays:      cfg.Pipeline.OutputTailDays,
		BatchSize:           cfg.Pipeline.BatchSize,
		InitialWorkers:      cfg.Pipeline.ParallelWorkers,
		Cooldown:            time.Duration(cfg.Pipeline.BaseCooldownSecs * float64(time.Second)),
		AdaptiveReduceEvery: cfg.Pipeline.AdaptiveReduceEvery,
		RetentionDays:       cfg.Pipeline.RetentionDays,
		CleanupEnabled:      cfg.Pipeline.CleanupEnabled,
		BackoffStrategy:     string(backoff.Strategy),
		Force:               *force,
		DryRun:              *dryRun,
	}
	p := pipeline.New(pstore, backend, history, fetcher, engine, counter, opts)

	var symbols []string
	if *testMode {
		symbols = []string{"AAPL", "MSFT", "GOOGL", "AMZN", "NVDA"}
		slog.Info("test mode", "symbols", symbols)
	} else {
		symbols, err = universe.Load(backend)
		if err != nil {
			log.Fatalf("failed to load ticker universe: %v", err)
		}
	}

	slog.Info("starting pipeline run",
		"logFile", logFileName,
		"symbols", len(symbols),
		"force", *force,
		"dryRun", *dryRun,
	)

	meta, err := p.Run(ctx, symbols)
	if err != nil {
		log.Fatalf("pipeline error: %v", err)
	}

	printSummary(meta)
	if meta.Status == domain.RunStatusFailed {
		os.Exit(1)
	}
}

func printSummary(meta *domain.RunMetadata) {
	fmt.Printf("\n=== Run %s: %s ===\n", meta.RunDate, meta.Status)
	fmt.Printf("  processed:    %d (ok %d / failed %d)\n", meta.SymbolsProcessed, meta.SymbolsSuccessful, meta.SymbolsFailed)
	fmt.Printf("  rows written: %d\n", meta.RowsWritten)
	fmt.Printf("  rate limits:  %d hits, %s backing off\n", meta.RateLimitHits, pipeline.FormatDuration(time.Duration(meta.TotalSleepSecs*float64(time.Second))))
	fmt.Printf("  runtime:      %s\n", pipeline.FormatDuration(time.Duration(meta.RuntimeSeconds*float64(time.Second))))
	if len(meta.PartitionsPruned) > 0 {
		fmt.Printf("  pruned:       %d partitions\n", len(meta.PartitionsPruned))
	}
}
