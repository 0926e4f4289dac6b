package monitor

import (
	"fmt"
	"slices"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205")).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("86")).
			Padding(0, 1)

	cellStyle = lipgloss.NewStyle().Padding(0, 1)

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	severityStyle = map[Severity]lipgloss.Style{
		SeverityWarning:  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		SeverityCritical: lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true),
	}
)

// RenderDashboard draws ps and the active alerts as a terminal table.
func RenderDashboard(ps PerformanceSnapshot, alerts []Alert) string {
	ids := make([]string, 0, len(ps.Swarms))
	for id := range ps.Swarms {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	rows := make([][]string, 0, len(ids))
	for _, id := range ids {
		r := ps.Swarms[id]
		rows = append(rows, []string{
			id,
			string(r.Status),
			fmt.Sprintf("%d/%d", r.Agents.ByStatus["working"], r.Agents.Total),
			fmt.Sprintf("%d/%d", r.TasksCompleted, r.TasksAssigned),
			fmt.Sprintf("%.1f%%", r.Efficiency),
			fmt.Sprintf("%.0f", r.Health),
			fmt.Sprintf("%.2f", r.Throughput),
			fmt.Sprintf("%.1f%%", r.ErrorRate),
		})
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(labelStyle).
		Headers("SWARM", "STATUS", "WORKING", "DONE", "EFFICIENCY", "HEALTH", "TPUT", "ERRORS").
		Rows(rows...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})

	var b strings.Builder
	b.WriteString(titleStyle.Render("swarm dashboard " + ps.Timestamp.Format("15:04:05")))
	b.WriteString("\n")
	b.WriteString(t.Render())
	b.WriteString("\n")
	b.WriteString(labelStyle.Render(fmt.Sprintf(
		"avg efficiency %.1f%%  health %.1f  backlog %d  trend %s",
		ps.Aggregates.AverageEfficiency,
		ps.Aggregates.OverallHealth,
		ps.Aggregates.Backlog,
		trendLabel(ps.Analysis.Trends),
	)))

	for _, a := range alerts {
		b.WriteString("\n")
		b.WriteString(severityStyle[a.Severity].Render(fmt.Sprintf(
			"[%s] %s %s %.1f (threshold %.0f)", a.Severity, a.SwarmID, a.Type, a.Value, a.Threshold)))
	}
	return b.String()
}

func trendLabel(t Trends) string {
	if t.Status == StatusInsufficientData {
		return t.Status
	}
	return t.Efficiency.Direction
}
