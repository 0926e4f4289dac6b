package coordinator

import (
	"log/slog"
	"slices"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// Rebalancing bands relative to the cross-swarm average efficiency.
const (
	lowBand  = 0.7
	highBand = 1.3
)

// Terms of a rebalancing assistance request.
const (
	rebalanceAmount   = 1.0
	rebalanceDuration = 10 * time.Second
)

// Collaboration score weights and the bar a partner has to clear.
const (
	weightCapabilities = 0.5
	weightEfficiency   = 0.3
	weightIdle         = 0.2
	collaborationBar   = 0.7
)

// redistributeTo is how many healthy swarms pick up an unresponsive swarm's
// high-priority work.
const redistributeTo = 2

// checkHeartbeats marks swarms whose last heartbeat is older than the
// configured timeout as unresponsive and copies their high-priority tasks to
// the healthiest active swarms. A swarm is redistributed once per outage.
func (c *Coordinator) checkHeartbeats() {
	now := time.Now()
	for _, s := range c.swarms.List() {
		if s.Status() == swarm.StatusUnresponsive {
			continue
		}
		last := s.LastHeartbeat()
		if now.Sub(last) <= c.cfg.HeartbeatTimeout {
			continue
		}
		s.SetStatus(swarm.StatusUnresponsive)
		slog.Warn("swarm unresponsive", "swarm", s.ID, "last_heartbeat", last)
		c.events.Emit(events.SwarmUnresponsive, map[string]any{"swarm": s.ID, "last_heartbeat": last})
		c.redistribute(s, last)
	}
}

func (c *Coordinator) redistribute(from *swarm.Swarm, lastSeen time.Time) {
	tasks := from.TasksByPriority(swarm.PriorityHigh)
	if len(tasks) == 0 {
		return
	}

	targets := make([]*swarm.Swarm, 0)
	for _, s := range c.swarms.List() {
		if s.ID != from.ID && isSwarmActive(s) {
			targets = append(targets, s)
		}
	}
	if len(targets) == 0 {
		slog.Warn("no swarm available for redistribution", "swarm", from.ID, "tasks", len(tasks))
		return
	}
	slices.SortStableFunc(targets, func(a, b *swarm.Swarm) int {
		return compareDesc(a.Efficiency(), b.Efficiency())
	})
	if len(targets) > redistributeTo {
		targets = targets[:redistributeTo]
	}

	shares := make([][]swarm.Task, len(targets))
	for i, t := range tasks {
		shares[i%len(targets)] = append(shares[i%len(targets)], t)
	}
	for i, target := range targets {
		if len(shares[i]) == 0 {
			continue
		}
		target.AddTasks(shares[i]...)
		c.Send(AddrCoordinator, target.ID, MsgSwarmTimeout, SwarmTimeout{
			SwarmID:    from.ID,
			Tasks:      shares[i],
			LastSeen:   lastSeen,
			ReceivedBy: target.ID,
		}, PriorityHigh)
		slog.Info("tasks redistributed", "from", from.ID, "to", target.ID, "tasks", len(shares[i]))
	}

	c.mu.Lock()
	c.stats.Redistributions++
	c.mu.Unlock()
}

// majorCycle rebalances resources, pairs collaborative work, settles
// consensus and publishes global metrics, in that order.
func (c *Coordinator) majorCycle() {
	c.rebalanceResources()
	c.optimizeCollaboration()
	c.settleConsensus()
	c.syncGlobalMetrics()

	c.mu.Lock()
	c.stats.CyclesMajor++
	c.mu.Unlock()
}

// RunMajorCycle runs one major cycle now, outside the ticker.
func (c *Coordinator) RunMajorCycle() {
	guard("major-cycle", c.majorCycle)
}

// RunMinorCycle runs one minor cycle now, outside the ticker.
func (c *Coordinator) RunMinorCycle() {
	guard("minor-cycle", c.minorCycle)
}

// ProcessMessages dispatches one batch now, outside the ticker.
func (c *Coordinator) ProcessMessages() {
	guard("messages", c.processMessages)
}

// CheckHeartbeats runs one liveness check now, outside the ticker.
func (c *Coordinator) CheckHeartbeats() {
	guard("heartbeat", c.checkHeartbeats)
}

// rebalanceResources asks strong swarms to help weak ones. A swarm below
// lowBand of the average requests assistance from every swarm at or above
// the average; a swarm above highBand offers assistance to every weak swarm.
func (c *Coordinator) rebalanceResources() {
	list := activeSwarms(c.swarms.List())
	if len(list) == 0 {
		return
	}

	effs := make(map[string]float64, len(list))
	total := 0.0
	for _, s := range list {
		effs[s.ID] = s.Efficiency()
		total += effs[s.ID]
	}
	avg := total / float64(len(list))
	low, high := avg*lowBand, avg*highBand

	var weak, donors []*swarm.Swarm
	for _, s := range list {
		if effs[s.ID] < low {
			weak = append(weak, s)
		}
		if effs[s.ID] >= avg && effs[s.ID] > low {
			donors = append(donors, s)
		}
	}

	for _, w := range weak {
		for _, d := range donors {
			if d.ID == w.ID {
				continue
			}
			c.Send(w.ID, d.ID, MsgAssistanceRequest, ResourceRequest{
				Resource: "agents",
				Amount:   rebalanceAmount,
				Priority: PriorityHigh,
				Duration: rebalanceDuration,
				Reason:   "efficiency below average",
			}, PriorityNormal)
		}
	}

	for _, s := range list {
		if effs[s.ID] <= high {
			continue
		}
		for _, w := range weak {
			c.Send(s.ID, w.ID, MsgAssistanceOffer, AssistanceOffer{
				Capacity:   effs[s.ID] - avg,
				Efficiency: effs[s.ID],
			}, PriorityNormal)
		}
	}

	if len(weak) > 0 {
		slog.Debug("resources rebalanced", "average", avg, "weak", len(weak), "donors", len(donors))
	}
}

// CollaborationScore rates partner for task: capability coverage, then
// efficiency, then idle capacity. Tasks without required capabilities score
// nothing for coverage.
func CollaborationScore(task swarm.Task, partner *swarm.Swarm) float64 {
	coverage := 0.0
	if len(task.RequiredCapabilities) > 0 {
		have := partner.Capabilities()
		matched := 0
		for _, want := range task.RequiredCapabilities {
			if slices.Contains(have, want) {
				matched++
			}
		}
		coverage = float64(matched) / float64(len(task.RequiredCapabilities))
	}
	return weightCapabilities*coverage +
		weightEfficiency*(partner.Efficiency()/100) +
		weightIdle*((100-partner.Utilization())/100)
}

// optimizeCollaboration finds the best partner for every task that needs
// one and sends a collaboration request when the score clears the bar.
func (c *Coordinator) optimizeCollaboration() {
	list := activeSwarms(c.swarms.List())
	for _, owner := range list {
		for _, task := range owner.Tasks() {
			if !task.NeedsCollaboration() {
				continue
			}
			key := owner.ID + "/" + task.ID
			c.mu.Lock()
			done := c.proposed[key]
			c.mu.Unlock()
			if done {
				continue
			}

			var best *swarm.Swarm
			bestScore := 0.0
			for _, partner := range list {
				if partner.ID == owner.ID {
					continue
				}
				if score := CollaborationScore(task, partner); score > bestScore {
					best, bestScore = partner, score
				}
			}
			if best == nil || bestScore <= collaborationBar {
				continue
			}

			c.mu.Lock()
			c.proposed[key] = true
			c.mu.Unlock()
			c.Send(owner.ID, best.ID, MsgCollaborationRequest, CollaborationRequest{Task: task, Score: bestScore}, PriorityNormal)
			slog.Debug("collaboration proposed", "task", task.ID, "owner", owner.ID, "partner", best.ID, "score", bestScore)
		}
	}
}

// GlobalMetrics is the synchronized view written to performance-metrics.
type GlobalMetrics struct {
	Timestamp         time.Time                `json:"timestamp"`
	Swarms            map[string]swarm.Metrics `json:"swarms"`
	AverageEfficiency float64                  `json:"average_efficiency"`
	TotalAssigned     int                      `json:"total_assigned"`
	TotalCompleted    int                      `json:"total_completed"`
	Active            int                      `json:"active"`
}

func (c *Coordinator) syncGlobalMetrics() {
	list := c.swarms.List()
	if len(list) == 0 {
		return
	}

	gm := GlobalMetrics{
		Timestamp: time.Now(),
		Swarms:    make(map[string]swarm.Metrics, len(list)),
	}
	total := 0.0
	for _, s := range list {
		m := s.Metrics()
		gm.Swarms[s.ID] = m
		gm.TotalAssigned += m.TasksAssigned
		gm.TotalCompleted += m.TasksCompleted
		total += m.Efficiency
		if isSwarmActive(s) {
			gm.Active++
		}
	}
	gm.AverageEfficiency = total / float64(len(list))

	c.mu.Lock()
	version := c.memory[SegPerformanceMetrics].write("global", gm, gm.Timestamp)
	c.mu.Unlock()

	for _, s := range list {
		c.Send(AddrCoordinator, s.ID, MsgMemoryUpdate, MemoryUpdate{
			Segment: SegPerformanceMetrics,
			Key:     "global",
			Version: version,
			Notify:  true,
		}, PriorityNormal)
	}
}

// minorCycle refreshes swarm health, flushes urgent messages and bumps
// stale memory segments.
func (c *Coordinator) minorCycle() {
	now := time.Now()
	for _, s := range c.swarms.List() {
		s.SetHealth(s.HealthScore(now, swarm.StallAfter))
	}

	for _, msg := range c.queue.DrainUrgent() {
		c.dispatch(msg)
	}

	c.mu.Lock()
	for _, seg := range c.memory {
		seg.tick(now)
	}
	c.stats.CyclesMinor++
	c.mu.Unlock()
}

func activeSwarms(list []*swarm.Swarm) []*swarm.Swarm {
	out := make([]*swarm.Swarm, 0, len(list))
	for _, s := range list {
		if isSwarmActive(s) {
			out = append(out, s)
		}
	}
	return out
}
