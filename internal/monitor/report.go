package monitor

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// emergencyHistory is how many recent snapshots an emergency snapshot keeps.
const emergencyHistory = 10

type Summary struct {
	Duration          time.Duration `json:"duration"`
	Swarms            int           `json:"swarms"`
	TotalAgents       int           `json:"total_agents"`
	TasksCompleted    int           `json:"tasks_completed"`
	MessagesExchanged int           `json:"messages_exchanged"`
	ErrorsRecovered   int           `json:"errors_recovered"`
	SwarmSyncs        int           `json:"swarm_syncs"`
}

// SwarmRow is one line of the per-swarm performance table.
type SwarmRow struct {
	SwarmID        string       `json:"swarm_id"`
	Mission        string       `json:"mission"`
	Status         swarm.Status `json:"status"`
	Agents         int          `json:"agents"`
	TasksAssigned  int          `json:"tasks_assigned"`
	TasksCompleted int          `json:"tasks_completed"`
	Efficiency     float64      `json:"efficiency"`
	Health         float64      `json:"health"`
}

type Report struct {
	GeneratedAt     time.Time            `json:"generated_at"`
	Summary         Summary              `json:"summary"`
	Swarms          []SwarmRow           `json:"swarms"`
	Insights        coordinator.Insights `json:"insights"`
	Alerts          []Alert              `json:"alerts"`
	Recommendations []string             `json:"recommendations"`
}

// GenerateFinalReport summarises the run. Missing data yields zero values.
func (m *Monitor) GenerateFinalReport(fleet *swarm.Fleet, global GlobalMetrics, insights coordinator.Insights) Report {
	now := time.Now()
	r := Report{
		GeneratedAt: now,
		Summary: Summary{
			TotalAgents:       global.TotalAgents,
			TasksCompleted:    global.TasksCompleted,
			MessagesExchanged: global.MessagesExchanged,
			ErrorsRecovered:   global.ErrorsRecovered,
			SwarmSyncs:        global.SwarmSyncs,
		},
		Swarms:          []SwarmRow{},
		Insights:        insights,
		Alerts:          m.Alerts(),
		Recommendations: []string{},
	}
	if !global.StartedAt.IsZero() {
		r.Summary.Duration = now.Sub(global.StartedAt)
	}

	total := 0.0
	if fleet != nil {
		for _, snap := range fleet.Snapshots() {
			r.Swarms = append(r.Swarms, SwarmRow{
				SwarmID:        snap.ID,
				Mission:        snap.Mission.Name,
				Status:         snap.Status,
				Agents:         len(snap.Agents),
				TasksAssigned:  snap.Metrics.TasksAssigned,
				TasksCompleted: snap.Metrics.TasksCompleted,
				Efficiency:     snap.Metrics.Efficiency,
				Health:         snap.Metrics.Health,
			})
			total += snap.Metrics.Efficiency
		}
	}
	r.Summary.Swarms = len(r.Swarms)

	if len(r.Swarms) > 0 {
		if avg := total / float64(len(r.Swarms)); avg < m.cfg.Thresholds.EfficiencyWarning {
			r.Recommendations = append(r.Recommendations,
				fmt.Sprintf("average efficiency %.1f%% is below %.0f%%, review task distribution", avg, m.cfg.Thresholds.EfficiencyWarning))
		}
	}
	if n := len(m.CriticalAlerts()); n > 0 {
		r.Recommendations = append(r.Recommendations, fmt.Sprintf("%d critical alerts need attention", n))
	}
	r.Recommendations = append(r.Recommendations, insights.Recommendations...)
	return r
}

// EmergencySnapshot is the monitor's view at an emergency, for the caller to
// persist.
type EmergencySnapshot struct {
	ID        string                `json:"id"`
	Timestamp time.Time             `json:"timestamp"`
	Swarms    []swarm.Snapshot      `json:"swarms"`
	Global    GlobalMetrics         `json:"global"`
	History   []PerformanceSnapshot `json:"history"`
	Alerts    []Alert               `json:"alerts"`
}

func (m *Monitor) SaveEmergencySnapshot(fleet *swarm.Fleet, global GlobalMetrics) EmergencySnapshot {
	snap := EmergencySnapshot{
		ID:        uuid.New().String(),
		Timestamp: time.Now(),
		Swarms:    []swarm.Snapshot{},
		Global:    global,
		Alerts:    m.Alerts(),
	}
	if fleet != nil {
		snap.Swarms = fleet.Snapshots()
	}
	history := m.History()
	if len(history) > emergencyHistory {
		history = history[len(history)-emergencyHistory:]
	}
	snap.History = history
	return snap
}
