package analytics

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// Defaults applied by [NewCollector] for zero-valued options.
const (
	DefaultMaxBufferSize  = 10000
	DefaultToolWindowSize = 2048
)

// toolAccumulator holds lifetime-exact counters plus the bounded duration
// window for one tool (or one tool within one session).
type toolAccumulator struct {
	count        int64
	errorCount   int64
	totalMs      float64
	lastCalledAt time.Time
	window       *durationWindow
}

func (a *toolAccumulator) record(e ToolCallEvent) {
	a.count++
	if !e.Success {
		a.errorCount++
	}
	a.totalMs += e.DurationMs
	a.lastCalledAt = time.UnixMilli(e.Timestamp)
	a.window.Record(e.DurationMs)
}

func (a *toolAccumulator) stats() ToolStats {
	s := ToolStats{
		Count:        a.count,
		ErrorCount:   a.errorCount,
		P50Ms:        a.window.Percentile(50),
		P95Ms:        a.window.Percentile(95),
		P99Ms:        a.window.Percentile(99),
		LastCalledAt: a.lastCalledAt,
	}
	if a.count > 0 {
		s.ErrorRate = float64(a.errorCount) / float64(a.count)
		s.AvgMs = a.totalMs / float64(a.count)
	}
	return s
}

// sessionAccumulator tracks one session's totals and its per-tool breakdown.
type sessionAccumulator struct {
	toolAccumulator
	tools map[string]*toolAccumulator
}

// CollectorConfig tunes a [Collector]. Zero values select defaults.
type CollectorConfig struct {
	// Exporter receives flushed batches. Required.
	Exporter Exporter

	// FlushInterval is the period of the background flush timer. Zero
	// disables the timer; flushes then happen only via [Collector.Flush]
	// and [Collector.Destroy].
	FlushInterval time.Duration

	// MaxBufferSize bounds the ring of recent events kept for inspection.
	MaxBufferSize int

	// ToolWindowSize bounds each accumulator's percentile window.
	ToolWindowSize int

	// OnFlushError is invoked when a timer-driven flush fails. Default logs.
	OnFlushError func(error)
}

// flushFlight is one in-progress flush that concurrent callers latch onto.
type flushFlight struct {
	done chan struct{}
	err  error
}

// Collector accumulates [ToolCallEvent] records and periodically hands
// batches to the exporter. All methods are safe for concurrent use; at most
// one exporter invocation is in flight at any time.
type Collector struct {
	exporter     Exporter
	windowSize   int
	maxBuffer    int
	onFlushError func(error)

	mu          sync.Mutex
	startTime   time.Time
	totalCalls  int64
	totalErrors int64
	recent      []ToolCallEvent
	pending     []ToolCallEvent
	tools       map[string]*toolAccumulator
	sessions    map[string]*sessionAccumulator
	flight      *flushFlight

	stopTimer func()
	stopOnce  sync.Once
}

// NewCollector creates a running Collector. When cfg.FlushInterval is
// positive a background timer flushes periodically until [Collector.Destroy].
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.MaxBufferSize <= 0 {
		cfg.MaxBufferSize = DefaultMaxBufferSize
	}
	if cfg.ToolWindowSize < 1 {
		cfg.ToolWindowSize = DefaultToolWindowSize
	}
	if cfg.OnFlushError == nil {
		cfg.OnFlushError = func(err error) {
			slog.Warn("analytics flush failed; batch re-queued", "error", err)
		}
	}

	c := &Collector{
		exporter:     cfg.Exporter,
		windowSize:   cfg.ToolWindowSize,
		maxBuffer:    cfg.MaxBufferSize,
		onFlushError: cfg.OnFlushError,
		startTime:    time.Now(),
		tools:        make(map[string]*toolAccumulator),
		sessions:     make(map[string]*sessionAccumulator),
	}

	if cfg.FlushInterval > 0 {
		stop := make(chan struct{})
		c.stopTimer = func() { close(stop) }
		go c.flushLoop(cfg.FlushInterval, stop)
	}
	return c
}

func (c *Collector) flushLoop(interval time.Duration, stop <-chan struct{}) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := c.Flush(context.Background()); err != nil {
				c.onFlushError(err)
			}
		}
	}
}

// Record folds one event into the accumulators, the recent-events ring, and
// the pending export queue.
func (c *Collector) Record(e ToolCallEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.totalCalls++
	if !e.Success {
		c.totalErrors++
	}

	acc := c.tools[e.ToolName]
	if acc == nil {
		acc = &toolAccumulator{window: newDurationWindow(c.windowSize)}
		c.tools[e.ToolName] = acc
	}
	acc.record(e)

	if e.SessionID != "" {
		sess := c.sessions[e.SessionID]
		if sess == nil {
			sess = &sessionAccumulator{
				toolAccumulator: toolAccumulator{window: newDurationWindow(c.windowSize)},
				tools:           make(map[string]*toolAccumulator),
			}
			c.sessions[e.SessionID] = sess
		}
		sess.record(e)

		sessTool := sess.tools[e.ToolName]
		if sessTool == nil {
			sessTool = &toolAccumulator{window: newDurationWindow(c.windowSize)}
			sess.tools[e.ToolName] = sessTool
		}
		sessTool.record(e)
	}

	c.recent = append(c.recent, e)
	if len(c.recent) > c.maxBuffer {
		c.recent = c.recent[len(c.recent)-c.maxBuffer:]
	}
	c.pending = append(c.pending, e)
}

// Snapshot returns a consistent copy of all accumulated statistics.
func (c *Collector) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := Snapshot{
		TotalCalls:  c.totalCalls,
		TotalErrors: c.totalErrors,
		UptimeMs:    time.Since(c.startTime).Milliseconds(),
		Tools:       make(map[string]ToolStats, len(c.tools)),
		Sessions:    make(map[string]SessionStats, len(c.sessions)),
	}
	if c.totalCalls > 0 {
		snap.ErrorRate = float64(c.totalErrors) / float64(c.totalCalls)
	}

	for name, acc := range c.tools {
		snap.Tools[name] = acc.stats()
	}
	for id, sess := range c.sessions {
		stats := SessionStats{
			ToolStats: sess.stats(),
			Tools:     make(map[string]ToolStats, len(sess.tools)),
		}
		for name, acc := range sess.tools {
			stats.Tools[name] = acc.stats()
		}
		snap.Sessions[id] = stats
	}
	return snap
}

// ToolStats returns the derived statistics for one tool.
func (c *Collector) ToolStats(name string) (ToolStats, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	acc, ok := c.tools[name]
	if !ok {
		return ToolStats{}, false
	}
	return acc.stats(), true
}

// TopSessions returns up to k sessions ordered by call count descending,
// ties broken by most recent activity.
func (c *Collector) TopSessions(k int) []SessionRank {
	c.mu.Lock()
	ranks := make([]SessionRank, 0, len(c.sessions))
	for id, sess := range c.sessions {
		ranks = append(ranks, SessionRank{
			SessionID: id,
			Count:     sess.count,
			LastAt:    sess.lastCalledAt,
		})
	}
	c.mu.Unlock()

	slices.SortFunc(ranks, func(a, b SessionRank) int {
		if a.Count != b.Count {
			if a.Count > b.Count {
				return -1
			}
			return 1
		}
		return b.LastAt.Compare(a.LastAt)
	})
	if k >= 0 && len(ranks) > k {
		ranks = ranks[:k]
	}
	return ranks
}

// RecentEvents returns a copy of the recent-events ring, oldest first.
func (c *Collector) RecentEvents() []ToolCallEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.recent)
}

// Flush drains the pending queue through the exporter. If a flush is already
// in progress the call waits for it and returns its result instead of
// starting another; the exporter is never invoked concurrently. On exporter
// failure the unsent batch is re-queued ahead of newer events and the error
// is returned.
func (c *Collector) Flush(ctx context.Context) error {
	c.mu.Lock()
	if f := c.flight; f != nil {
		c.mu.Unlock()
		select {
		case <-f.done:
			return f.err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f := &flushFlight{done: make(chan struct{})}
	c.flight = f
	c.mu.Unlock()

	err := c.drain(ctx)

	c.mu.Lock()
	c.flight = nil
	c.mu.Unlock()

	f.err = err
	close(f.done)
	return err
}

// drain repeatedly swaps out the pending queue and exports it until empty.
func (c *Collector) drain(ctx context.Context) error {
	for {
		c.mu.Lock()
		batch := c.pending
		c.pending = nil
		c.mu.Unlock()

		if len(batch) == 0 {
			return nil
		}
		if err := c.exporter.Export(ctx, batch); err != nil {
			c.mu.Lock()
			c.pending = append(batch, c.pending...)
			c.mu.Unlock()
			return err
		}
	}
}

// Reset clears every accumulator, the ring, the pending queue, and the
// totals, and restarts the uptime clock.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.startTime = time.Now()
	c.totalCalls = 0
	c.totalErrors = 0
	c.recent = nil
	c.pending = nil
	c.tools = make(map[string]*toolAccumulator)
	c.sessions = make(map[string]*sessionAccumulator)
}

// Destroy stops the flush timer and performs a final flush. The collector
// must not be used after Destroy returns.
func (c *Collector) Destroy(ctx context.Context) error {
	c.stopOnce.Do(func() {
		if c.stopTimer != nil {
			c.stopTimer()
		}
	})
	return c.Flush(ctx)
}
