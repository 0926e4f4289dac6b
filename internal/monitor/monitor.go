// Package monitor is the read-only observer of the swarms: it samples
// metrics, keeps a bounded history, derives trends, anomalies and
// predictions, raises de-duplicated alerts and builds reports. It never
// mutates swarm state.
package monitor

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"runtime/debug"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

type Monitor struct {
	cfg      config.MonitorConfig
	source   MetricsSource
	events   *events.Emitter
	exporter *Exporter
	out      io.Writer

	active atomic.Bool

	mu         sync.Mutex
	cancel     context.CancelFunc
	loops      *sync.WaitGroup
	collectors map[string]*Collector
	history    []PerformanceSnapshot
	latest     map[string]SwarmMetrics
	alerts     []Alert
	// overLimit is set while the critical alert count exceeds the limit, so
	// the threshold event fires once per crossing.
	overLimit bool
}

// New returns an inactive monitor. A nil source falls back to RandomSource.
func New(cfg config.MonitorConfig, source MetricsSource) *Monitor {
	if source == nil {
		source = RandomSource{}
	}
	return &Monitor{
		cfg:        cfg,
		source:     source,
		events:     events.NewEmitter("monitor"),
		out:        os.Stdout,
		collectors: newCollectors(),
		latest:     make(map[string]SwarmMetrics),
	}
}

func newCollectors() map[string]*Collector {
	out := make(map[string]*Collector, len(collectorNames))
	for _, name := range collectorNames {
		out[name] = &Collector{
			Name:       name,
			Current:    make(map[string]any),
			History:    []map[string]float64{},
			Aggregates: make(map[string]float64),
		}
	}
	return out
}

// Events returns the emitter for metricsCollected, alert and
// criticalAlertThreshold.
func (m *Monitor) Events() *events.Emitter {
	return m.events
}

// SetExporter attaches a Prometheus exporter updated after every collection.
func (m *Monitor) SetExporter(e *Exporter) {
	m.exporter = e
}

// SetOutput sets where the dashboard is rendered.
func (m *Monitor) SetOutput(w io.Writer) {
	m.out = w
}

func (m *Monitor) IsActive() bool {
	return m.active.Load()
}

// Initialize resets the collectors and starts the dashboard and alert loops.
// Calling it while active is a no-op.
func (m *Monitor) Initialize(ctx context.Context) error {
	if !m.active.CompareAndSwap(false, true) {
		return nil
	}
	ctx, cancel := context.WithCancel(ctx)
	loops := &sync.WaitGroup{}
	m.mu.Lock()
	m.collectors = newCollectors()
	m.mu.Unlock()

	m.every(ctx, loops, "dashboard", m.cfg.DashboardInterval, m.renderDashboard)
	m.every(ctx, loops, "alerts", m.cfg.AlertInterval, m.CheckAlerts)
	m.mu.Lock()
	if m.cancel != nil {
		// left over from a run stopped before its loops were published
		m.cancel()
	}
	m.cancel = cancel
	m.loops = loops
	m.mu.Unlock()

	slog.Info("monitor initialized", "collectors", len(collectorNames))
	return nil
}

// Shutdown stops both loops.
func (m *Monitor) Shutdown() {
	m.active.Store(false)
	m.mu.Lock()
	cancel, loops := m.cancel, m.loops
	m.cancel, m.loops = nil, nil
	m.mu.Unlock()
	if cancel != nil {
		cancel()
		loops.Wait()
	}
}

func (m *Monitor) every(ctx context.Context, wg *sync.WaitGroup, name string, d time.Duration, fn func()) {
	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(d)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if !m.active.Load() {
					continue
				}
				func() {
					defer func() {
						if r := recover(); r != nil {
							slog.Error("monitor loop panicked", "loop", name, "panic", r, "stack", string(debug.Stack()))
						}
					}()
					fn()
				}()
			}
		}
	}()
}

// CollectMetrics samples every swarm in fleet, analyses the result against
// the recent history and appends it to the ring.
func (m *Monitor) CollectMetrics(fleet *swarm.Fleet, global GlobalMetrics) PerformanceSnapshot {
	now := time.Now()
	var records []SwarmMetrics
	if fleet != nil {
		for _, s := range fleet.List() {
			snap := s.Snapshot()
			records = append(records, m.swarmMetrics(snap, s.Utilization()))
		}
	}

	ps := PerformanceSnapshot{
		Timestamp:  now,
		Swarms:     make(map[string]SwarmMetrics, len(records)),
		Global:     global,
		Aggregates: aggregate(records),
	}
	for _, r := range records {
		ps.Swarms[r.SwarmID] = r
	}

	m.mu.Lock()
	aggs, stamps := m.windowLocked(ps)
	ps.Analysis.Trends = computeTrends(aggs)
	ps.Analysis.Anomalies = detectAnomalies(records, m.cfg.Thresholds)
	ps.Analysis.Predictions = predict(stamps, ps.Aggregates, ps.Analysis.Trends)
	ps.Analysis.Recommendations = recommendations(ps.Analysis.Anomalies, ps.Analysis.Predictions)

	m.history = append(m.history, ps)
	if over := len(m.history) - m.cfg.HistorySize; over > 0 {
		m.history = slices.Delete(m.history, 0, over)
	}
	m.latest = maps.Clone(ps.Swarms)
	m.updateCollectorsLocked(ps)
	alerts := len(m.alerts)
	m.mu.Unlock()

	if m.exporter != nil {
		m.exporter.Observe(ps, alerts)
	}
	m.events.Emit(events.MetricsCollected, ps.Aggregates)
	return ps
}

func (m *Monitor) swarmMetrics(snap swarm.Snapshot, utilization float64) SwarmMetrics {
	stats := AgentStats{Total: len(snap.Agents), ByStatus: make(map[swarm.AgentStatus]int)}
	perf := 0.0
	for _, a := range snap.Agents {
		stats.ByStatus[a.Status]++
		perf += a.Performance
	}
	if stats.Total > 0 {
		stats.AveragePerformance = perf / float64(stats.Total)
	}

	sample := m.source.Sample(snap)
	return SwarmMetrics{
		SwarmID:        snap.ID,
		Status:         snap.Status,
		Efficiency:     snap.Metrics.Efficiency,
		TasksAssigned:  snap.Metrics.TasksAssigned,
		TasksCompleted: snap.Metrics.TasksCompleted,
		Backlog:        snap.Metrics.Backlog(),
		Health:         snap.Metrics.Health,
		Utilization:    utilization,
		Agents:         stats,
		Throughput:     sample.Throughput,
		ResponseTime:   sample.ResponseTime,
		ErrorRate:      sample.ErrorRate,
		Resources:      sample.Resources,
	}
}

func aggregate(records []SwarmMetrics) Aggregates {
	a := Aggregates{Swarms: len(records)}
	if len(records) == 0 {
		return a
	}
	n := float64(len(records))
	for _, r := range records {
		a.AverageEfficiency += r.Efficiency
		a.TotalThroughput += r.Throughput
		a.OverallHealth += r.Health
		a.ErrorRate += r.ErrorRate
		a.ResourceUsage += (r.Resources.CPU + r.Resources.Memory) / 2
		a.Backlog += r.Backlog
	}
	a.AverageEfficiency /= n
	a.OverallHealth /= n
	a.ErrorRate /= n
	a.ResourceUsage /= n
	return a
}

// windowLocked returns the aggregates and timestamps of the last
// TrendWindow snapshots, ps included, oldest first.
func (m *Monitor) windowLocked(ps PerformanceSnapshot) ([]Aggregates, []time.Time) {
	prev := m.history
	if keep := m.cfg.TrendWindow - 1; len(prev) > keep {
		prev = prev[len(prev)-max(keep, 0):]
	}
	aggs := make([]Aggregates, 0, len(prev)+1)
	stamps := make([]time.Time, 0, len(prev)+1)
	for _, h := range prev {
		aggs = append(aggs, h.Aggregates)
		stamps = append(stamps, h.Timestamp)
	}
	return append(aggs, ps.Aggregates), append(stamps, ps.Timestamp)
}

func (m *Monitor) updateCollectorsLocked(ps PerformanceSnapshot) {
	perf := m.collectors[CollectorSwarmPerformance]
	agents := m.collectors[CollectorAgentMetrics]
	tasks := m.collectors[CollectorTaskAnalytics]
	res := m.collectors[CollectorResourceUsage]
	comm := m.collectors[CollectorCommunicationStats]
	errs := m.collectors[CollectorErrorTracking]

	for _, c := range m.collectors {
		c.Current = make(map[string]any)
	}
	for id, r := range ps.Swarms {
		perf.Current[id] = r
		agents.Current[id] = r.Agents
		tasks.Current[id] = map[string]int{"assigned": r.TasksAssigned, "completed": r.TasksCompleted, "backlog": r.Backlog}
		res.Current[id] = r.Resources
		errs.Current[id] = r.ErrorRate
	}
	comm.Current["messages_exchanged"] = ps.Global.MessagesExchanged
	comm.Current["swarm_syncs"] = ps.Global.SwarmSyncs
	errs.Current["errors_recovered"] = ps.Global.ErrorsRecovered

	perf.Aggregates = map[string]float64{
		"average_efficiency": ps.Aggregates.AverageEfficiency,
		"total_throughput":   ps.Aggregates.TotalThroughput,
		"overall_health":     ps.Aggregates.OverallHealth,
	}
	tasks.Aggregates = map[string]float64{
		"backlog":   float64(ps.Aggregates.Backlog),
		"completed": float64(ps.Global.TasksCompleted),
	}
	res.Aggregates = map[string]float64{"usage": ps.Aggregates.ResourceUsage}
	comm.Aggregates = map[string]float64{
		"messages_exchanged": float64(ps.Global.MessagesExchanged),
		"swarm_syncs":        float64(ps.Global.SwarmSyncs),
	}
	errs.Aggregates = map[string]float64{
		"error_rate":       ps.Aggregates.ErrorRate,
		"errors_recovered": float64(ps.Global.ErrorsRecovered),
		"anomalies":        float64(len(ps.Analysis.Anomalies)),
	}
	agents.Aggregates = map[string]float64{"agents": float64(ps.Global.TotalAgents)}

	for _, c := range m.collectors {
		c.History = append(c.History, maps.Clone(c.Aggregates))
		if over := len(c.History) - m.cfg.HistorySize; over > 0 {
			c.History = slices.Delete(c.History, 0, over)
		}
	}
}

// Collector returns a copy of the named collector.
func (m *Monitor) Collector(name string) (Collector, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collectors[name]
	if !ok {
		return Collector{}, false
	}
	return Collector{
		Name:       c.Name,
		Current:    maps.Clone(c.Current),
		History:    slices.Clone(c.History),
		Aggregates: maps.Clone(c.Aggregates),
	}, true
}

// History returns the ring, oldest first.
func (m *Monitor) History() []PerformanceSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// Latest returns the most recent snapshot, if any.
func (m *Monitor) Latest() (PerformanceSnapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.history) == 0 {
		return PerformanceSnapshot{}, false
	}
	return m.history[len(m.history)-1], true
}

func (m *Monitor) renderDashboard() {
	ps, ok := m.Latest()
	if !ok {
		return
	}
	alerts := m.Alerts()
	slog.Debug("dashboard",
		"swarms", ps.Aggregates.Swarms,
		"efficiency", fmt.Sprintf("%.1f", ps.Aggregates.AverageEfficiency),
		"health", fmt.Sprintf("%.1f", ps.Aggregates.OverallHealth),
		"alerts", len(alerts))
	if m.cfg.RenderDashboard && m.out != nil {
		fmt.Fprintln(m.out, RenderDashboard(ps, alerts))
	}
}
