package monitor

import (
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/swarmlab/internal/events"
)

// CheckAlerts raises or refreshes an efficiency alert for every swarm below
// the warning threshold in the latest collection, prunes alerts past
// retention and emits criticalAlertThreshold when the number of active
// critical alerts first exceeds the limit.
//
// An alert of the same type for the same swarm raised within the dedup
// window is refreshed in place instead of duplicated.
func (m *Monitor) CheckAlerts() {
	now := time.Now()
	th := m.cfg.Thresholds

	var raised []Alert
	var crossed []Alert

	m.mu.Lock()
	ids := make([]string, 0, len(m.latest))
	for id := range m.latest {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	for _, id := range ids {
		rec := m.latest[id]
		if rec.Efficiency >= th.EfficiencyWarning {
			continue
		}
		sev, limit := SeverityWarning, th.EfficiencyWarning
		if rec.Efficiency < th.EfficiencyCritical {
			sev, limit = SeverityCritical, th.EfficiencyCritical
		}

		if i := m.recentAlertLocked(AlertLowEfficiency, id, now); i >= 0 {
			m.alerts[i].Value = rec.Efficiency
			m.alerts[i].Severity = sev
			m.alerts[i].Threshold = limit
			continue
		}
		a := Alert{
			ID:        uuid.New().String(),
			Type:      AlertLowEfficiency,
			Severity:  sev,
			SwarmID:   id,
			Value:     rec.Efficiency,
			Threshold: limit,
			Timestamp: now,
		}
		m.alerts = append(m.alerts, a)
		raised = append(raised, a)
	}

	m.alerts = slices.DeleteFunc(m.alerts, func(a Alert) bool {
		return now.Sub(a.Timestamp) > m.cfg.AlertRetention
	})

	critical := m.criticalLocked()
	if len(critical) > m.cfg.CriticalAlertLimit {
		if !m.overLimit {
			m.overLimit = true
			crossed = critical
		}
	} else {
		m.overLimit = false
	}
	m.mu.Unlock()

	for _, a := range raised {
		slog.Warn("alert raised", "type", a.Type, "swarm", a.SwarmID, "severity", a.Severity, "value", a.Value)
		m.events.Emit(events.Alert, a)
	}
	if crossed != nil {
		slog.Error("critical alert threshold exceeded", "critical", len(crossed), "limit", m.cfg.CriticalAlertLimit)
		m.events.Emit(events.CriticalAlertThreshold, crossed)
	}
}

// recentAlertLocked returns the index of an alert of typ for swarmID created
// within the dedup window, or -1.
func (m *Monitor) recentAlertLocked(typ, swarmID string, now time.Time) int {
	for i := len(m.alerts) - 1; i >= 0; i-- {
		a := m.alerts[i]
		if a.Type == typ && a.SwarmID == swarmID && now.Sub(a.Timestamp) < m.cfg.AlertDedup {
			return i
		}
	}
	return -1
}

func (m *Monitor) criticalLocked() []Alert {
	var out []Alert
	for _, a := range m.alerts {
		if a.Severity == SeverityCritical {
			out = append(out, a)
		}
	}
	return out
}

// Alerts returns the active alerts, oldest first.
func (m *Monitor) Alerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.alerts)
}

// CriticalAlerts returns the active critical alerts.
func (m *Monitor) CriticalAlerts() []Alert {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.criticalLocked()
}
