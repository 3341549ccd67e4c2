// Package metrics provides in-memory runtime statistics collection.
package metrics

import (
	"math"
	"sort"
	"sync"
	"time"
)

// OperationMetrics holds aggregated metrics for a single operation type.
type OperationMetrics struct {
	Count     int64
	Failures  int64
	TotalTime time.Duration
	MinTime   time.Duration
	MaxTime   time.Duration

	// Item metrics (messages fetched, chunks streamed)
	TotalItems int64
	MinItems   int64
	MaxItems   int64
}

// OperationSnapshot provides computed stats from raw metrics.
type OperationSnapshot struct {
	Count       int64
	Failures    int64
	TotalTimeMs int64
	AvgTimeMs   float64
	MinTimeMs   int64
	MaxTimeMs   int64

	// Item stats (nil if not applicable)
	TotalItems *int64
	AvgItems   *float64
	MinItems   *int64
	MaxItems   *int64
}

// Snapshot represents the session statistics at a point in time.
type Snapshot struct {
	UptimeSeconds float64
	Connect       *OperationSnapshot
	Reload        *OperationSnapshot
	Send          *OperationSnapshot
	Stream        *OperationSnapshot
	FirstChunk    *OperationSnapshot
	Describe      *OperationSnapshot
	Counters      map[string]int64
}

// Operation names for the collector.
const (
	OpConnect    = "connect"
	OpReload     = "reload"
	OpSend       = "send"
	OpStream     = "stream"
	OpFirstChunk = "stream_first_chunk"
	OpDescribe   = "describe"
)

// Counter names.
const (
	CounterDuplicate   = "duplicates_dropped"
	CounterSuperseded  = "provisional_superseded"
	CounterRepaint     = "reload_repaints"
	CounterReloadBusy  = "reloads_coalesced"
	CounterStaleTopic  = "stale_topic_messages"
	CounterStreamAbort = "streams_timed_out"
	CounterReconnect   = "reconnects"
)

// Collector aggregates in-memory runtime statistics.
// All methods are thread-safe.
type Collector struct {
	mu        sync.RWMutex
	startTime time.Time
	ops       map[string]*OperationMetrics
	counters  map[string]int64
}

// NewCollector creates a new metrics collector.
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		ops:       make(map[string]*OperationMetrics),
		counters:  make(map[string]int64),
	}
}

// getOrCreate returns existing metrics or creates new ones for an operation.
// Caller must hold write lock.
func (c *Collector) getOrCreate(op string) *OperationMetrics {
	m, ok := c.ops[op]
	if !ok {
		m = &OperationMetrics{
			MinTime:  time.Duration(math.MaxInt64),
			MinItems: math.MaxInt64,
		}
		c.ops[op] = m
	}
	return m
}

func (m *OperationMetrics) observe(duration time.Duration) {
	m.Count++
	m.TotalTime += duration

	if duration < m.MinTime {
		m.MinTime = duration
	}
	if duration > m.MaxTime {
		m.MaxTime = duration
	}
}

// RecordTiming records timing for an operation. A nil collector is a no-op.
func (c *Collector) RecordTiming(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	c.getOrCreate(op).observe(duration)
}

// RecordFailure records a failed attempt of an operation.
func (c *Collector) RecordFailure(op string, duration time.Duration) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.Failures++
}

// RecordItems records timing and an item count (messages, chunks) for an operation.
func (c *Collector) RecordItems(op string, duration time.Duration, items int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	m := c.getOrCreate(op)
	m.observe(duration)
	m.TotalItems += items

	if items < m.MinItems {
		m.MinItems = items
	}
	if items > m.MaxItems {
		m.MaxItems = items
	}
}

// Increment bumps a named counter.
func (c *Collector) Increment(name string) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.counters[name]++
}

// snapshotOp creates a snapshot for an operation, returning nil if no data.
func snapshotOp(m *OperationMetrics, includeItems bool) *OperationSnapshot {
	if m == nil || m.Count == 0 {
		return nil
	}

	snap := &OperationSnapshot{
		Count:       m.Count,
		Failures:    m.Failures,
		TotalTimeMs: m.TotalTime.Milliseconds(),
		AvgTimeMs:   float64(m.TotalTime.Milliseconds()) / float64(m.Count),
		MinTimeMs:   m.MinTime.Milliseconds(),
		MaxTimeMs:   m.MaxTime.Milliseconds(),
	}

	if includeItems && m.TotalItems > 0 {
		total := m.TotalItems
		avg := float64(m.TotalItems) / float64(m.Count)
		minItems := m.MinItems
		maxItems := m.MaxItems

		// Reset sentinel value for display
		if minItems == math.MaxInt64 {
			minItems = 0
		}

		snap.TotalItems = &total
		snap.AvgItems = &avg
		snap.MinItems = &minItems
		snap.MaxItems = &maxItems
	}

	return snap
}

// Snapshot returns a point-in-time snapshot of all metrics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counters := make(map[string]int64, len(c.counters))
	for k, v := range c.counters {
		counters[k] = v
	}

	return Snapshot{
		UptimeSeconds: time.Since(c.startTime).Seconds(),
		Connect:       snapshotOp(c.ops[OpConnect], false),
		Reload:        snapshotOp(c.ops[OpReload], true),
		Send:          snapshotOp(c.ops[OpSend], false),
		Stream:        snapshotOp(c.ops[OpStream], true),
		FirstChunk:    snapshotOp(c.ops[OpFirstChunk], false),
		Describe:      snapshotOp(c.ops[OpDescribe], false),
		Counters:      counters,
	}
}

// CounterNames returns the names of all non-zero counters, sorted.
func (s Snapshot) CounterNames() []string {
	names := make([]string, 0, len(s.Counters))
	for k := range s.Counters {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
