package coordinator

import (
	"log/slog"
	"slices"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

const emergencyLock = "emergency"

// Emergency assistance terms.
const (
	emergencyHelpers       = 2
	emergencyAgents        = 2.0
	emergencyDuration      = 5 * time.Second
	emergencyMinEfficiency = 70.0
)

// handleEmergency runs the emergency protocol: broadcast inline to every
// other swarm, take the advisory lock, ask the strongest swarms for help and
// release the lock after its TTL.
func (c *Coordinator) handleEmergency(msg Message, n EmergencyNotice) {
	source := n.Source
	if source == "" {
		source = msg.From
	}
	slog.Warn("emergency raised", "swarm", source, "reason", n.Reason)

	others := make([]*swarm.Swarm, 0)
	for _, s := range c.swarms.List() {
		if s.ID != source {
			others = append(others, s)
		}
	}

	// Broadcast is processed inline, not queued.
	for _, s := range others {
		c.dispatch(newMessage(source, s.ID, MsgEmergencyBroadcast, n, PriorityCritical))
	}

	now := time.Now()
	lock := CoordinationLock{
		Name:       emergencyLock,
		Holder:     source,
		AcquiredAt: now,
		ExpiresAt:  now.Add(c.cfg.EmergencyLockTTL),
	}
	c.mu.Lock()
	c.locks[emergencyLock] = lock
	c.stats.Emergencies++
	c.mu.Unlock()

	time.AfterFunc(c.cfg.EmergencyLockTTL, func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		if cur, ok := c.locks[emergencyLock]; ok && cur.Holder == lock.Holder && cur.AcquiredAt.Equal(lock.AcquiredAt) {
			delete(c.locks, emergencyLock)
		}
	})

	helpers := slices.DeleteFunc(others, func(s *swarm.Swarm) bool {
		return !isSwarmActive(s) || s.Efficiency() <= emergencyMinEfficiency
	})
	slices.SortStableFunc(helpers, func(a, b *swarm.Swarm) int {
		return compareDesc(a.Efficiency(), b.Efficiency())
	})
	if len(helpers) > emergencyHelpers {
		helpers = helpers[:emergencyHelpers]
	}
	for _, h := range helpers {
		c.Send(source, h.ID, MsgEmergencyAssistance, ResourceRequest{
			Resource: "agents",
			Amount:   emergencyAgents,
			Priority: PriorityCritical,
			Duration: emergencyDuration,
			Reason:   n.Reason,
		}, PriorityCritical)
	}
}

func (c *Coordinator) recordEmergency(msg Message, n EmergencyNotice) {
	c.mu.Lock()
	c.memory[SegErrorLogs].appendLocked(string(msg.Type), map[string]any{
		"source": n.Source,
		"to":     msg.To,
		"reason": n.Reason,
		"at":     msg.Timestamp,
	}, time.Now())
	c.mu.Unlock()

	if msg.Type == MsgEmergencyBroadcast {
		c.events.Emit(events.EmergencyBroadcast, map[string]any{
			"source": n.Source,
			"to":     msg.To,
			"reason": n.Reason,
		})
	}
}

// ShutdownState is everything in flight at emergency shutdown, returned for
// the caller to persist.
type ShutdownState struct {
	Timestamp       time.Time                  `json:"timestamp"`
	Swarms          []swarm.Snapshot           `json:"swarms"`
	SharedMemory    map[string]SegmentSnapshot `json:"shared_memory"`
	PendingMessages []Message                  `json:"pending_messages"`
	Locks           []CoordinationLock         `json:"locks"`
	Stats           Stats                      `json:"stats"`
}

// EmergencyShutdown deactivates the coordinator, notifies every swarm
// inline and returns the in-flight state. It does not wait for the loops.
func (c *Coordinator) EmergencyShutdown(fleet *swarm.Fleet) ShutdownState {
	c.active.Store(false)
	c.cancelLoops()
	if fleet == nil {
		fleet = c.swarms
	}

	for _, s := range fleet.List() {
		c.dispatch(newMessage(AddrCoordinator, s.ID, MsgShutdown, ShutdownNotice{Reason: "emergency shutdown"}, PriorityCritical))
	}

	state := ShutdownState{
		Timestamp:       time.Now(),
		Swarms:          fleet.Snapshots(),
		PendingMessages: c.queue.Pending(),
	}
	c.mu.Lock()
	state.SharedMemory = c.memorySnapshotLocked()
	for _, l := range c.locks {
		state.Locks = append(state.Locks, l)
	}
	state.Stats = c.stats
	c.mu.Unlock()

	slog.Warn("coordinator emergency shutdown", "swarms", len(state.Swarms), "pending", len(state.PendingMessages))
	return state
}

func compareDesc(a, b float64) int {
	switch {
	case a > b:
		return -1
	case a < b:
		return 1
	}
	return 0
}
