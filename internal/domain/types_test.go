package domain

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestBarDateKey(t *testing.T) {
	bar := Bar{Date: time.Date(2026, 8, 29, 15, 4, 5, 0, time.UTC)}
	if got := bar.DateKey(); got != "2026-08-29" {
		t.Errorf("DateKey = %q, want 2026-08-29", got)
	}
}

func TestRunMetadataJSONShape(t *testing.T) {
	meta := RunMetadata{
		RunDate:       "2026-08-29",
		Status:        RunStatusPartialSuccess,
		WorkerHistory: []int{8, 4},
		Errors: []SymbolError{
			{Symbol: "FAIL", Error: "boom", Timestamp: "2026-08-29T06:00:00Z"},
		},
	}

	data, err := json.Marshal(meta)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	s := string(data)

	if !strings.Contains(s, `"status":"partial_success"`) {
		t.Errorf("status not serialized: %s", s)
	}
	if !strings.Contains(s, `"worker_history":[8,4]`) {
		t.Errorf("worker_history not serialized: %s", s)
	}
	// Error detail lives in its own artifact, never inlined in metadata.
	if strings.Contains(s, "boom") {
		t.Errorf("per-symbol errors leaked into metadata JSON: %s", s)
	}
}

func TestFetchOutcomeZeroValueIsFailure(t *testing.T) {
	var o FetchOutcome
	if o.Success {
		t.Error("zero-value outcome must not count as success")
	}
}
