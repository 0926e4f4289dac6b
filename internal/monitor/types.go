package monitor

import (
	"time"

	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// Severity of an alert or anomaly.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Collector names.
const (
	CollectorSwarmPerformance   = "swarm-performance"
	CollectorAgentMetrics       = "agent-metrics"
	CollectorTaskAnalytics      = "task-analytics"
	CollectorResourceUsage      = "resource-usage"
	CollectorCommunicationStats = "communication-stats"
	CollectorErrorTracking      = "error-tracking"
)

var collectorNames = []string{
	CollectorSwarmPerformance,
	CollectorAgentMetrics,
	CollectorTaskAnalytics,
	CollectorResourceUsage,
	CollectorCommunicationStats,
	CollectorErrorTracking,
}

// Collector holds the latest values of one metric family, a bounded history
// of its aggregates and the aggregates of the most recent collection.
type Collector struct {
	Name       string               `json:"name"`
	Current    map[string]any       `json:"current"`
	History    []map[string]float64 `json:"history"`
	Aggregates map[string]float64   `json:"aggregates"`
}

// GlobalMetrics are the run-wide counters kept by the scenario driver.
type GlobalMetrics struct {
	StartedAt         time.Time `json:"started_at"`
	TotalAgents       int       `json:"total_agents"`
	TasksCompleted    int       `json:"tasks_completed"`
	MessagesExchanged int       `json:"messages_exchanged"`
	ErrorsRecovered   int       `json:"errors_recovered"`
	SwarmSyncs        int       `json:"swarm_syncs"`
}

type AgentStats struct {
	Total              int                       `json:"total"`
	ByStatus           map[swarm.AgentStatus]int `json:"by_status"`
	AveragePerformance float64                   `json:"average_performance"`
}

// Resources are usage percentages of one swarm.
type Resources struct {
	CPU     float64 `json:"cpu"`
	Memory  float64 `json:"memory"`
	Network float64 `json:"network"`
}

// SwarmMetrics is the per-swarm record of one collection.
type SwarmMetrics struct {
	SwarmID        string       `json:"swarm_id"`
	Status         swarm.Status `json:"status"`
	Efficiency     float64      `json:"efficiency"`
	TasksAssigned  int          `json:"tasks_assigned"`
	TasksCompleted int          `json:"tasks_completed"`
	Backlog        int          `json:"backlog"`
	Health         float64      `json:"health"`
	Utilization    float64      `json:"utilization"`
	Agents         AgentStats   `json:"agents"`
	Throughput     float64      `json:"throughput"`
	ResponseTime   float64      `json:"response_time_ms"`
	ErrorRate      float64      `json:"error_rate"`
	Resources      Resources    `json:"resources"`
}

type Trend struct {
	Slope     float64 `json:"slope"`
	Direction string  `json:"direction"`
}

// Trend directions.
const (
	TrendIncreasing = "increasing"
	TrendDecreasing = "decreasing"
	TrendStable     = "stable"
)

// StatusInsufficientData marks an analysis that needs more snapshots.
const StatusInsufficientData = "insufficient-data"

type Trends struct {
	Status        string `json:"status"`
	Samples       int    `json:"samples"`
	Efficiency    Trend  `json:"efficiency"`
	Throughput    Trend  `json:"throughput"`
	ErrorRate     Trend  `json:"error_rate"`
	ResourceUsage Trend  `json:"resource_usage"`
}

type Anomaly struct {
	Type      string   `json:"type"`
	SwarmID   string   `json:"swarm_id"`
	Severity  Severity `json:"severity"`
	Value     float64  `json:"value"`
	Threshold float64  `json:"threshold"`
}

// Anomaly types.
const (
	AnomalyCriticalEfficiency = "critical-efficiency"
	AnomalyCriticalBacklog    = "critical-backlog"
	AnomalyHighUtilization    = "high-utilization"
	AnomalyHighErrorRate      = "high-error-rate"
)

type BacklogPrediction struct {
	Status    string        `json:"status"`
	Backlog   int           `json:"backlog"`
	ClearTime time.Duration `json:"clear_time"`
}

type ExhaustionPrediction struct {
	Status  string        `json:"status"`
	Current float64       `json:"current"`
	ETA     time.Duration `json:"eta"`
}

type DegradationRisk struct {
	AtRisk          bool     `json:"at_risk"`
	Factors         []string `json:"factors"`
	EstimatedImpact float64  `json:"estimated_impact"`
}

type Predictions struct {
	Backlog     BacklogPrediction    `json:"backlog"`
	Exhaustion  ExhaustionPrediction `json:"exhaustion"`
	Degradation DegradationRisk      `json:"degradation"`
}

type Analysis struct {
	Trends          Trends      `json:"trends"`
	Anomalies       []Anomaly   `json:"anomalies"`
	Predictions     Predictions `json:"predictions"`
	Recommendations []string    `json:"recommendations"`
}

// Aggregates roll up one collection across swarms.
type Aggregates struct {
	Swarms            int     `json:"swarms"`
	AverageEfficiency float64 `json:"average_efficiency"`
	TotalThroughput   float64 `json:"total_throughput"`
	OverallHealth     float64 `json:"overall_health"`
	ErrorRate         float64 `json:"error_rate"`
	ResourceUsage     float64 `json:"resource_usage"`
	Backlog           int     `json:"backlog"`
}

// PerformanceSnapshot is one entry of the history ring.
type PerformanceSnapshot struct {
	Timestamp  time.Time               `json:"timestamp"`
	Swarms     map[string]SwarmMetrics `json:"swarms"`
	Global     GlobalMetrics           `json:"global"`
	Aggregates Aggregates              `json:"aggregates"`
	Analysis   Analysis                `json:"analysis"`
}

type Alert struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Severity  Severity  `json:"severity"`
	SwarmID   string    `json:"swarm_id"`
	Value     float64   `json:"value"`
	Threshold float64   `json:"threshold"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertLowEfficiency is raised for swarms under the efficiency warning
// threshold.
const AlertLowEfficiency = "low-efficiency"
