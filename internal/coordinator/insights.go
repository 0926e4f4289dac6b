package coordinator

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// Bottleneck kinds.
const (
	BottleneckBacklog     = "task-backlog"
	BottleneckUtilization = "high-utilization"
)

const (
	backlogPerAgent    = 2
	utilizationCeiling = 90.0
	varianceSpread     = 30.0
	topAgents          = 3
)

type AgentPerformance struct {
	AgentID        string  `json:"agent_id"`
	Role           string  `json:"role"`
	Performance    float64 `json:"performance"`
	TasksCompleted int     `json:"tasks_completed"`
}

type Bottleneck struct {
	Type      string  `json:"type"`
	Value     float64 `json:"value"`
	Threshold float64 `json:"threshold"`
}

type SwarmInsight struct {
	SwarmID        string             `json:"swarm_id"`
	Efficiency     float64            `json:"efficiency"`
	TasksCompleted int                `json:"tasks_completed"`
	TopAgents      []AgentPerformance `json:"top_agents"`
	Bottlenecks    []Bottleneck       `json:"bottlenecks"`
}

// Pattern is a finding that spans several swarms.
type Pattern struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Swarms      []string `json:"swarms"`
}

// Insights is the result of one global aggregation pass.
type Insights struct {
	Timestamp       time.Time      `json:"timestamp"`
	Swarms          []SwarmInsight `json:"swarms"`
	Patterns        []Pattern      `json:"patterns"`
	Recommendations []string       `json:"recommendations"`
}

// CollectGlobalInsights aggregates every swarm in fleet (the registered
// swarms when fleet is nil). An empty fleet yields empty insights. The result
// is also written to the global-insights segment.
func (c *Coordinator) CollectGlobalInsights(fleet *swarm.Fleet) Insights {
	if fleet == nil {
		fleet = c.swarms
	}
	in := Insights{
		Timestamp:       time.Now(),
		Swarms:          []SwarmInsight{},
		Patterns:        []Pattern{},
		Recommendations: []string{},
	}

	for _, s := range fleet.List() {
		in.Swarms = append(in.Swarms, analyzeSwarm(s))
	}
	in.Patterns = findPatterns(in.Swarms)
	for _, p := range in.Patterns {
		in.Recommendations = append(in.Recommendations, recommend(p))
	}

	c.mu.Lock()
	c.memory[SegGlobalInsights].write("latest", in.Recommendations, in.Timestamp)
	c.mu.Unlock()
	return in
}

func analyzeSwarm(s *swarm.Swarm) SwarmInsight {
	snap := s.Snapshot()
	si := SwarmInsight{
		SwarmID:        snap.ID,
		Efficiency:     snap.Metrics.Efficiency,
		TasksCompleted: snap.Metrics.TasksCompleted,
		TopAgents:      []AgentPerformance{},
		Bottlenecks:    []Bottleneck{},
	}

	agents := slices.Clone(snap.Agents)
	slices.SortStableFunc(agents, func(a, b swarm.Agent) int {
		return cmp.Compare(b.Performance, a.Performance)
	})
	for _, a := range agents[:min(topAgents, len(agents))] {
		si.TopAgents = append(si.TopAgents, AgentPerformance{
			AgentID:        a.ID,
			Role:           a.Role,
			Performance:    a.Performance,
			TasksCompleted: a.TasksCompleted,
		})
	}

	limit := backlogPerAgent * len(snap.Agents)
	if backlog := snap.Metrics.Backlog(); backlog > limit {
		si.Bottlenecks = append(si.Bottlenecks, Bottleneck{
			Type:      BottleneckBacklog,
			Value:     float64(backlog),
			Threshold: float64(limit),
		})
	}
	if u := s.Utilization(); u > utilizationCeiling {
		si.Bottlenecks = append(si.Bottlenecks, Bottleneck{
			Type:      BottleneckUtilization,
			Value:     u,
			Threshold: utilizationCeiling,
		})
	}
	return si
}

func findPatterns(swarms []SwarmInsight) []Pattern {
	out := []Pattern{}
	if len(swarms) == 0 {
		return out
	}

	lo, hi := swarms[0], swarms[0]
	for _, s := range swarms[1:] {
		if s.Efficiency < lo.Efficiency {
			lo = s
		}
		if s.Efficiency > hi.Efficiency {
			hi = s
		}
	}
	if spread := hi.Efficiency - lo.Efficiency; spread > varianceSpread {
		out = append(out, Pattern{
			Type:        "efficiency-variance",
			Description: fmt.Sprintf("efficiency spread of %.1f points between %s and %s", spread, hi.SwarmID, lo.SwarmID),
			Swarms:      []string{hi.SwarmID, lo.SwarmID},
		})
	}

	shared := make(map[string][]string)
	for _, s := range swarms {
		for _, b := range s.Bottlenecks {
			shared[b.Type] = append(shared[b.Type], s.SwarmID)
		}
	}
	for _, kind := range []string{BottleneckBacklog, BottleneckUtilization} {
		ids := shared[kind]
		if len(ids)*2 > len(swarms) {
			out = append(out, Pattern{
				Type:        "common-bottleneck",
				Description: fmt.Sprintf("%s affects %d of %d swarms", kind, len(ids), len(swarms)),
				Swarms:      ids,
			})
		}
	}
	return out
}

func recommend(p Pattern) string {
	switch p.Type {
	case "efficiency-variance":
		return fmt.Sprintf("rebalance agents from %s toward %s", p.Swarms[0], p.Swarms[len(p.Swarms)-1])
	case "common-bottleneck":
		return "scale out the shared bottleneck across " + strings.Join(p.Swarms, ", ")
	}
	return p.Description
}
