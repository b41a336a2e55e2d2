// Package metrics aggregates pipeline counters for one assistant run.
package metrics

import (
	"sync"
	"time"
)

// Stats holds counters for the current run.
type Stats struct {
	StartTime        time.Time
	Utterances       int
	Resolved         int
	Clarifications   int
	Unrecognized     int
	ConfirmsArmed    int
	ConfirmsApproved int
	ConfirmsRefused  int
	ConfirmsExpired  int
	Dispatched       int
	DispatchFailed   int
	BargeIns         int
	TotalLatency     time.Duration
}

// Collector accumulates Stats. All methods are safe for concurrent use.
type Collector struct {
	mu    sync.RWMutex
	stats Stats
}

// NewCollector starts a collector with the clock at now.
func NewCollector() *Collector {
	return &Collector{stats: Stats{StartTime: time.Now()}}
}

// Utterance records one processed utterance and its end-to-end latency.
func (c *Collector) Utterance(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Utterances++
	c.stats.TotalLatency += latency
}

// Resolution records the outcome kind of one resolver call.
func (c *Collector) Resolution(kind string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch kind {
	case "resolved":
		c.stats.Resolved++
	case "clarification":
		c.stats.Clarifications++
	default:
		c.stats.Unrecognized++
	}
}

// ConfirmArmed records a destructive command entering the confirmation gate.
func (c *Collector) ConfirmArmed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.ConfirmsArmed++
}

// ConfirmOutcome records how a pending confirmation ended.
func (c *Collector) ConfirmOutcome(outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch outcome {
	case "approved":
		c.stats.ConfirmsApproved++
	case "refused":
		c.stats.ConfirmsRefused++
	case "expired":
		c.stats.ConfirmsExpired++
	}
}

// Dispatch records one executor dispatch and whether it failed.
func (c *Collector) Dispatch(failed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Dispatched++
	if failed {
		c.stats.DispatchFailed++
	}
}

// BargeIn records one session interruption.
func (c *Collector) BargeIn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.BargeIns++
}

// Snapshot returns a copy of the current stats.
func (c *Collector) Snapshot() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// AvgLatency is the mean end-to-end latency per utterance.
func (s Stats) AvgLatency() time.Duration {
	if s.Utterances == 0 {
		return 0
	}
	return s.TotalLatency / time.Duration(s.Utterances)
}
