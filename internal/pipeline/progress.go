package pipeline

import (
	"fmt"
	"log/slog"
	"time"
)

// progressLogger emits one structured progress line per batch with a
// completion percentage and a naive ETA extrapolated from elapsed time.
type progressLogger struct {
	log     *slog.Logger
	total   int
	started time.Time
}

func newProgressLogger(log *slog.Logger, total int) *progressLogger {
	return &progressLogger{log: log, total: total, started: time.Now()}
}

func (p *progressLogger) update(done, batch, totalBatches int) {
	if p.total == 0 {
		return
	}

	elapsed := time.Since(p.started)
	line := fmt.Sprintf("%d/%d (%.1f%%)", done, p.total, float64(done)/float64(p.total)*100)
	if done > 0 && done < p.total {
		eta := time.Duration(float64(elapsed) / float64(done) * float64(p.total-done))
		line += " ETA: " + FormatDuration(eta)
	}

	p.log.Info("batch done",
		"batch", fmt.Sprintf("%d/%d", batch, totalBatches),
		"progress", line,
		"elapsed", elapsed.Round(time.Second),
	)
}

// FormatDuration renders a duration the way operators read it: seconds under
// a minute, minutes under an hour, hours otherwise.
func FormatDuration(d time.Duration) string {
	s := d.Seconds()
	switch {
	case s < 60:
		return fmt.Sprintf("%.1fs", s)
	case s < 3600:
		return fmt.Sprintf("%.1fm", s/60)
	default:
		return fmt.Sprintf("%.1fh", s/3600)
	}
}
