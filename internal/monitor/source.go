package monitor

import (
	"math/rand/v2"

	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// Sample is the telemetry the monitor cannot derive from swarm state.
type Sample struct {
	Throughput   float64 // tasks/s
	ResponseTime float64 // ms
	ErrorRate    float64 // percent
	Resources    Resources
}

// MetricsSource supplies telemetry for a swarm. Swap RandomSource for a real
// source without touching the analysis.
type MetricsSource interface {
	Sample(s swarm.Snapshot) Sample
}

// RandomSource fabricates plausible gauges.
type RandomSource struct{}

func (RandomSource) Sample(s swarm.Snapshot) Sample {
	working := 0
	for _, a := range s.Agents {
		if a.Status == swarm.AgentWorking {
			working++
		}
	}
	return Sample{
		Throughput:   float64(s.Metrics.TasksCompleted) * (0.05 + rand.Float64()*0.1),
		ResponseTime: 50 + rand.Float64()*200 + float64(working)*20,
		ErrorRate:    rand.Float64() * 5,
		Resources: Resources{
			CPU:     20 + rand.Float64()*60,
			Memory:  30 + rand.Float64()*60,
			Network: 10 + rand.Float64()*50,
		},
	}
}

// FixedSource returns the same sample for every swarm.
type FixedSource Sample

func (f FixedSource) Sample(swarm.Snapshot) Sample {
	return Sample(f)
}
