package fetch

import "sync/atomic"

// Counter is the shared rate-limit-hit counter. The fetcher increments it
// from worker goroutines; the concurrency runner reads it at batch boundaries
// to drive the adaptive worker-count decision. It is an explicit value passed
// in rather than package-level state.
type Counter struct {
	n atomic.Int64
}

// Inc records one rate-limit hit.
func (c *Counter) Inc() {
	c.n.Add(1)
}

// Load returns the total number of hits observed so far.
func (c *Counter) Load() int64 {
	return c.n.Load()
}
