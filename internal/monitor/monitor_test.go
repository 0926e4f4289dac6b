package monitor

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

var steady = FixedSource{
	Throughput:   1,
	ResponseTime: 100,
	ErrorRate:    1,
	Resources:    Resources{CPU: 40, Memory: 60, Network: 20},
}

func testConfig() config.MonitorConfig {
	cfg := config.Defaults().Monitor
	cfg.DashboardInterval = time.Hour
	cfg.AlertInterval = time.Hour
	return cfg
}

func fleetWith(effs map[string]float64) *swarm.Fleet {
	fleet := swarm.NewFleet()
	for _, id := range []string{"infra", "dev", "analytics", "ops", "qa"} {
		eff, ok := effs[id]
		if !ok {
			continue
		}
		s := swarm.New(id, swarm.Mission{Name: id, Roles: []swarm.Role{{Name: "productManager"}, {Name: "engineer"}}})
		s.SetStatus(swarm.StatusActive)
		s.SetEfficiency(eff)
		fleet.Add(s)
	}
	return fleet
}

func TestCriticalEfficiencyAnomalyAndSingleAlert(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 40, "dev": 100})

	ps := m.CollectMetrics(fleet, GlobalMetrics{})

	var found bool
	for _, a := range ps.Analysis.Anomalies {
		if a.Type == AnomalyCriticalEfficiency && a.SwarmID == "infra" {
			found = true
		}
		assert.NotEqual(t, "dev", a.SwarmID)
	}
	assert.True(t, found, "critical-efficiency anomaly for infra")

	m.CheckAlerts()
	m.CheckAlerts()

	alerts := m.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, "infra", alerts[0].SwarmID)
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.Equal(t, AlertLowEfficiency, alerts[0].Type)
}

func TestWarningAlertEscalates(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 60})

	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()
	require.Len(t, m.Alerts(), 1)
	assert.Equal(t, SeverityWarning, m.Alerts()[0].Severity)

	s, _ := fleet.Get("infra")
	s.SetEfficiency(20)
	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()

	alerts := m.Alerts()
	require.Len(t, alerts, 1, "refreshed, not duplicated")
	assert.Equal(t, SeverityCritical, alerts[0].Severity)
	assert.InDelta(t, 20.0, alerts[0].Value, 1e-9)
}

func TestAlertsPrunedAfterRetention(t *testing.T) {
	cfg := testConfig()
	cfg.AlertRetention = 20 * time.Millisecond
	m := New(cfg, steady)
	fleet := fleetWith(map[string]float64{"infra": 30})

	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()
	require.Len(t, m.Alerts(), 1)

	s, _ := fleet.Get("infra")
	s.SetEfficiency(90)
	m.CollectMetrics(fleet, GlobalMetrics{})
	time.Sleep(40 * time.Millisecond)
	m.CheckAlerts()
	assert.Empty(t, m.Alerts())
}

func TestCriticalAlertThresholdFiresOncePerCrossing(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 10, "dev": 10, "analytics": 10, "ops": 10})

	var mu sync.Mutex
	var fired int
	m.Events().Subscribe(func(e events.Event) {
		if e.Type == events.CriticalAlertThreshold {
			mu.Lock()
			fired++
			mu.Unlock()
		}
	})

	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()
	m.CheckAlerts()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fired)
	assert.Len(t, m.CriticalAlerts(), 4)
}

func TestThreeCriticalAlertsStayBelowThreshold(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 10, "dev": 10, "analytics": 10})

	fired := false
	m.Events().Subscribe(func(e events.Event) {
		if e.Type == events.CriticalAlertThreshold {
			fired = true
		}
	})
	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()
	assert.False(t, fired)
}

func TestCollectMetricsTwiceGivesEqualAggregates(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 80, "dev": 60})
	global := GlobalMetrics{TotalAgents: 4, TasksCompleted: 3}

	first := m.CollectMetrics(fleet, global)
	perf1, _ := m.Collector(CollectorSwarmPerformance)
	second := m.CollectMetrics(fleet, global)
	perf2, _ := m.Collector(CollectorSwarmPerformance)

	assert.Equal(t, first.Aggregates, second.Aggregates)
	assert.Equal(t, perf1.Aggregates, perf2.Aggregates)
	assert.InDelta(t, 70.0, second.Aggregates.AverageEfficiency, 1e-9)
	assert.InDelta(t, 2.0, second.Aggregates.TotalThroughput, 1e-9)
}

func TestHistoryRingIsBoundedAndOrdered(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 80})

	for range 105 {
		m.CollectMetrics(fleet, GlobalMetrics{})
	}
	h := m.History()
	require.Len(t, h, 100)
	for i := 1; i < len(h); i++ {
		assert.False(t, h[i].Timestamp.Before(h[i-1].Timestamp))
	}
	c, _ := m.Collector(CollectorErrorTracking)
	assert.Len(t, c.History, 100)
}

func TestSixCollectors(t *testing.T) {
	m := New(testConfig(), steady)
	for _, name := range []string{
		"swarm-performance", "agent-metrics", "task-analytics",
		"resource-usage", "communication-stats", "error-tracking",
	} {
		_, ok := m.Collector(name)
		assert.True(t, ok, name)
	}
}

func TestTrends(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 10})
	s, _ := fleet.Get("infra")

	ps := m.CollectMetrics(fleet, GlobalMetrics{})
	assert.Equal(t, StatusInsufficientData, ps.Analysis.Trends.Status)
	assert.False(t, ps.Analysis.Predictions.Degradation.AtRisk)

	for _, eff := range []float64{20, 30, 40} {
		s.SetEfficiency(eff)
		ps = m.CollectMetrics(fleet, GlobalMetrics{})
	}
	tr := ps.Analysis.Trends
	assert.Equal(t, 4, tr.Samples)
	assert.Equal(t, TrendIncreasing, tr.Efficiency.Direction)
	assert.InDelta(t, 10.0, tr.Efficiency.Slope, 1e-9)
	assert.Equal(t, TrendStable, tr.ErrorRate.Direction)

	for _, eff := range []float64{30, 10, 0, 0} {
		s.SetEfficiency(eff)
		ps = m.CollectMetrics(fleet, GlobalMetrics{})
	}
	assert.Equal(t, TrendDecreasing, ps.Analysis.Trends.Efficiency.Direction)
	assert.True(t, ps.Analysis.Predictions.Degradation.AtRisk)
	assert.Contains(t, ps.Analysis.Predictions.Degradation.Factors, "efficiency declining")
}

func TestTrendWindowCapsSamples(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 50})
	var ps PerformanceSnapshot
	for range 15 {
		ps = m.CollectMetrics(fleet, GlobalMetrics{})
	}
	assert.Equal(t, 10, ps.Analysis.Trends.Samples)
}

func TestSlope(t *testing.T) {
	assert.InDelta(t, 0.0, slope(nil), 1e-9)
	assert.InDelta(t, 0.0, slope([]float64{5}), 1e-9)
	assert.InDelta(t, 2.0, slope([]float64{1, 3, 5, 7}), 1e-9)
	assert.InDelta(t, -0.5, slope([]float64{2, 1.5, 1}), 1e-9)
	assert.Equal(t, TrendStable, trendOf([]float64{1, 1.05, 1.1}).Direction)
}

func TestDetectAnomalies(t *testing.T) {
	th := config.Defaults().Monitor.Thresholds
	got := detectAnomalies([]SwarmMetrics{
		{SwarmID: "a", Efficiency: 90, Backlog: 21, Utilization: 96, ErrorRate: 11},
		{SwarmID: "b", Efficiency: 50, Backlog: 20, Utilization: 95, ErrorRate: 10},
	}, th)

	types := map[string]bool{}
	for _, a := range got {
		assert.Equal(t, "a", a.SwarmID)
		types[a.Type] = true
	}
	assert.Equal(t, map[string]bool{
		AnomalyCriticalBacklog: true,
		AnomalyHighUtilization: true,
		AnomalyHighErrorRate:   true,
	}, types)
}

func TestPredictions(t *testing.T) {
	now := time.Now()
	stamps := []time.Time{now, now.Add(time.Second), now.Add(2 * time.Second)}
	trends := Trends{Status: "ok", ResourceUsage: Trend{Slope: 10, Direction: TrendIncreasing}}

	p := predict(stamps, Aggregates{Backlog: 10, TotalThroughput: 2, ResourceUsage: 70}, trends)
	assert.Equal(t, 5*time.Second, p.Backlog.ClearTime)
	assert.Equal(t, "rising", p.Exhaustion.Status)
	assert.Equal(t, 3*time.Second, p.Exhaustion.ETA)

	p = predict(stamps[:1], Aggregates{Backlog: 4}, Trends{Status: StatusInsufficientData})
	assert.Equal(t, StatusInsufficientData, p.Backlog.Status)
	assert.Equal(t, StatusInsufficientData, p.Exhaustion.Status)
	assert.NotNil(t, p.Degradation.Factors)
}

func TestEmptyFleet(t *testing.T) {
	m := New(testConfig(), steady)
	ps := m.CollectMetrics(nil, GlobalMetrics{})
	assert.Equal(t, Aggregates{}, ps.Aggregates)
	assert.Empty(t, ps.Analysis.Anomalies)

	m.CheckAlerts()
	r := m.GenerateFinalReport(nil, GlobalMetrics{}, coordinator.Insights{})
	assert.Empty(t, r.Swarms)
	assert.Empty(t, r.Recommendations)

	snap := m.SaveEmergencySnapshot(nil, GlobalMetrics{})
	assert.NotEmpty(t, snap.ID)
	assert.Len(t, snap.History, 1)
}

func TestGenerateFinalReport(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 30, "dev": 60})
	m.CollectMetrics(fleet, GlobalMetrics{})
	m.CheckAlerts()

	global := GlobalMetrics{
		StartedAt:         time.Now().Add(-time.Minute),
		TotalAgents:       4,
		TasksCompleted:    7,
		MessagesExchanged: 2,
		ErrorsRecovered:   1,
		SwarmSyncs:        1,
	}
	insights := coordinator.Insights{Recommendations: []string{"rebalance agents from dev toward infra"}}

	r := m.GenerateFinalReport(fleet, global, insights)
	assert.Equal(t, 2, r.Summary.Swarms)
	assert.Equal(t, 7, r.Summary.TasksCompleted)
	assert.Equal(t, 1, r.Summary.ErrorsRecovered)
	assert.GreaterOrEqual(t, r.Summary.Duration, time.Minute)
	require.Len(t, r.Swarms, 2)
	assert.Equal(t, "infra", r.Swarms[0].SwarmID)
	assert.Len(t, r.Alerts, 2)

	require.Len(t, r.Recommendations, 3)
	assert.Contains(t, r.Recommendations[0], "average efficiency 45.0%")
	assert.Contains(t, r.Recommendations[1], "1 critical alerts")
	assert.Equal(t, "rebalance agents from dev toward infra", r.Recommendations[2])
}

func TestSaveEmergencySnapshotKeepsLastTen(t *testing.T) {
	m := New(testConfig(), steady)
	fleet := fleetWith(map[string]float64{"infra": 30})
	for range 12 {
		m.CollectMetrics(fleet, GlobalMetrics{})
	}
	m.CheckAlerts()

	snap := m.SaveEmergencySnapshot(fleet, GlobalMetrics{ErrorsRecovered: 2})
	assert.Len(t, snap.History, 10)
	assert.Len(t, snap.Swarms, 1)
	assert.Len(t, snap.Alerts, 1)
	assert.Equal(t, 2, snap.Global.ErrorsRecovered)

	h := m.History()
	assert.Equal(t, h[len(h)-1].Timestamp, snap.History[9].Timestamp)
}

func TestInitializeRunsAlertLoop(t *testing.T) {
	cfg := testConfig()
	cfg.AlertInterval = 10 * time.Millisecond
	cfg.DashboardInterval = 10 * time.Millisecond
	cfg.RenderDashboard = true
	m := New(cfg, steady)

	var out safeBuffer
	m.SetOutput(&out)
	require.NoError(t, m.Initialize(context.Background()))
	require.NoError(t, m.Initialize(context.Background()))
	assert.True(t, m.IsActive())

	m.CollectMetrics(fleetWith(map[string]float64{"infra": 30}), GlobalMetrics{})
	assert.Eventually(t, func() bool { return len(m.Alerts()) == 1 }, time.Second, 5*time.Millisecond)
	assert.Eventually(t, func() bool { return strings.Contains(out.String(), "infra") }, time.Second, 5*time.Millisecond)

	m.Shutdown()
	assert.False(t, m.IsActive())
}

func TestShutdownConcurrentWithInitialize(t *testing.T) {
	for range 20 {
		m := New(testConfig(), steady)

		done := make(chan struct{})
		go func() {
			defer close(done)
			assert.NoError(t, m.Initialize(context.Background()))
		}()
		m.Shutdown()
		<-done

		m.Shutdown()
		assert.False(t, m.IsActive())
	}
}

func TestExporterObservesCollection(t *testing.T) {
	m := New(testConfig(), steady)
	exp := NewExporter()
	m.SetExporter(exp)

	m.CollectMetrics(fleetWith(map[string]float64{"infra": 42}), GlobalMetrics{})

	assert.InDelta(t, 42.0, testutil.ToFloat64(exp.efficiency.WithLabelValues("infra")), 1e-9)
	assert.InDelta(t, 100.0, testutil.ToFloat64(exp.health.WithLabelValues("infra")), 1e-9)
	assert.InDelta(t, 1.0, testutil.ToFloat64(exp.collections), 1e-9)
	assert.NotNil(t, exp.Handler())
}

func TestRenderDashboard(t *testing.T) {
	m := New(testConfig(), steady)
	ps := m.CollectMetrics(fleetWith(map[string]float64{"infra": 30, "dev": 90}), GlobalMetrics{})
	m.CheckAlerts()

	out := RenderDashboard(ps, m.Alerts())
	assert.Contains(t, out, "infra")
	assert.Contains(t, out, "dev")
	assert.Contains(t, out, "low-efficiency")
	assert.Contains(t, out, "insufficient-data")
}

type safeBuffer struct {
	mu sync.Mutex
	b  strings.Builder
}

func (s *safeBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *safeBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}
