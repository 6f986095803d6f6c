package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"text/tabwriter"

	"tickerpipe/internal/config"
	"tickerpipe/internal/domain"
	"tickerpipe/internal/store"
	"tickerpipe/internal/util"
)

func main() {
	cfgPath := flag.String("config", "config/tickerpipe.yaml", "path to config file")
	limit := flag.Int("n", 10, "number of recent runs to show")
	showErrors := flag.Bool("errors", false, "print the latest run's per-symbol errors")
	flag.Parse()

	if p := os.Getenv("TICKERPIPE_CONFIG"); p != "" && *cfgPath == "config/tickerpipe.yaml" {
		*cfgPath = p
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	util.SetDefault(util.NewLogger(cfg.Logging.Level))

	if cfg.Storage.RunsDBPath == "" {
		log.Fatal("no run history database configured")
	}

	history, err := store.NewSQLiteRunHistory(cfg.Storage.RunsDBPath)
	if err != nil {
		log.Fatalf("failed to open run history db: %v", err)
	}
	defer history.Close()

	runs, err := history.RecentRuns(context.Background(), *limit)
	if err != nil {
		log.Fatalf("failed to read run history: %v", err)
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATE\tSTATUS\tOK\tFAILED\tROWS\tRATE LIMITS\tWORKERS\tRUNTIME")
	for _, r := range runs {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%v\t%.1fs\n",
			r.RunDate, r.Status, r.SymbolsSuccessful, r.SymbolsFailed,
			r.RowsWritten, r.RateLimitHits, r.WorkerHistory, r.RuntimeSeconds)
	}
	w.Flush()

	if *showErrors {
		printErrors(cfg, runs[0].RunDate)
	}
}

// printErrors reads the error-detail artifact written next to the run's
// metadata.
func printErrors(cfg *config.Config, runDate string) {
	backend := store.NewLocalBackend(cfg.Storage.DataDir)
	key := string(store.DatasetFetchLogs) + "/dt=" + runDate + "/errors.json"

	data, err := backend.Read(key)
	if err != nil {
		fmt.Printf("\nno error detail for %s\n", runDate)
		return
	}

	var errs []domain.SymbolError
	if err := json.Unmarshal(data, &errs); err != nil {
		log.Fatalf("failed to parse %s: %v", key, err)
	}

	fmt.Printf("\n%d failed symbols on %s:\n", len(errs), runDate)
	for _, e := range errs {
		fmt.Printf("  %-8s %s  (%s)\n", e.Symbol, e.Error, e.Timestamp)
	}
}
