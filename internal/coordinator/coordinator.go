// Package coordinator implements cross-swarm coordination over an in-process
// message bus: pairwise channels, shared memory segments, majority-vote
// consensus, resource rebalancing and the emergency protocol. Four
// independent loops drive it (heartbeat, message processing, major and minor
// cycles); every loop checks the active flag first, so shutdown is eventually
// consistent.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

var (
	ErrUnknownSwarm    = errors.New("unknown swarm")
	ErrNotActive       = errors.New("coordinator not active")
	ErrUnknownProposal = errors.New("unknown proposal")
	ErrProposalDecided = errors.New("proposal already decided")
	ErrAlreadyVoted    = errors.New("swarm already voted")
)

type Coordinator struct {
	cfg    config.CoordinatorConfig
	events *events.Emitter
	queue  *Queue
	swarms *swarm.Fleet

	active atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	loops     *sync.WaitGroup
	channels  map[string]*Channel
	memory    map[string]*Segment
	protocols map[ConsensusKind]*Protocol
	locks     map[string]CoordinationLock
	proposed  map[string]bool // swarm/task pairs already offered for collaboration
	transfers []ResourceTransfer
	stats     Stats
}

// Stats are running counters exposed for reports.
type Stats struct {
	MessagesProcessed int `json:"messages_processed"`
	MessagesLogged    int `json:"messages_logged"`
	Acks              int `json:"acks"`
	Decisions         int `json:"decisions"`
	Transfers         int `json:"transfers"`
	Emergencies       int `json:"emergencies"`
	Collaborations    int `json:"collaborations"`
	Redistributions   int `json:"redistributions"`
	CyclesMajor       int `json:"cycles_major"`
	CyclesMinor       int `json:"cycles_minor"`
}

func New(cfg config.CoordinatorConfig) *Coordinator {
	return &Coordinator{
		cfg:       cfg,
		events:    events.NewEmitter("coordinator"),
		queue:     NewQueue(),
		swarms:    swarm.NewFleet(),
		channels:  make(map[string]*Channel),
		memory:    newSegments(),
		protocols: make(map[ConsensusKind]*Protocol),
		locks:     make(map[string]CoordinationLock),
		proposed:  make(map[string]bool),
	}
}

// Events returns the emitter for swarmRegistered, messageProcessed and the
// other coordinator events.
func (c *Coordinator) Events() *events.Emitter {
	return c.events
}

func (c *Coordinator) IsActive() bool {
	return c.active.Load()
}

// RegisterSwarm records s and opens a channel to every swarm registered
// before it. Registering the same id again reuses the existing channels.
func (c *Coordinator) RegisterSwarm(s *swarm.Swarm) {
	existing := c.swarms.List()
	c.swarms.Add(s)
	s.Heartbeat(time.Now())

	c.mu.Lock()
	opened := 0
	for _, other := range existing {
		if other.ID == s.ID {
			continue
		}
		if c.ensureChannelLocked(s.ID, other.ID) {
			opened++
		}
	}
	for _, seg := range c.memory {
		seg.Subscribers[s.ID] = true
	}
	for _, p := range c.protocols {
		p.Participants[s.ID] = true
	}
	c.mu.Unlock()

	slog.Info("swarm registered", "swarm", s.ID, "channels_opened", opened)
	c.events.Emit(events.SwarmRegistered, map[string]any{"swarm": s.ID, "channels_opened": opened})
}

// StartCoordination registers any swarm in fleet not yet known, initializes
// the consensus protocols and starts the four loops. Calling it while active
// is a no-op.
func (c *Coordinator) StartCoordination(ctx context.Context, fleet *swarm.Fleet) error {
	if !c.active.CompareAndSwap(false, true) {
		return nil
	}

	if fleet != nil {
		for _, s := range fleet.List() {
			if _, ok := c.swarms.Get(s.ID); !ok {
				c.RegisterSwarm(s)
			}
		}
	}
	c.initProtocols()

	ctx, cancel := context.WithCancel(ctx)
	loops := &sync.WaitGroup{}
	c.every(ctx, loops, "heartbeat", c.cfg.HeartbeatInterval, c.checkHeartbeats)
	c.every(ctx, loops, "messages", c.cfg.MessageInterval, c.processMessages)
	c.every(ctx, loops, "major-cycle", c.cfg.MajorInterval, c.majorCycle)
	c.every(ctx, loops, "minor-cycle", c.cfg.MinorInterval, c.minorCycle)
	c.mu.Lock()
	if c.cancel != nil {
		// left over from a run stopped before its loops were published
		c.cancel()
	}
	c.cancel = cancel
	c.loops = loops
	c.mu.Unlock()

	slog.Info("coordination started", "swarms", c.swarms.Len())
	return nil
}

// Stop deactivates the coordinator and waits for the loops to exit.
func (c *Coordinator) Stop() {
	c.active.Store(false)
	c.mu.Lock()
	cancel, loops := c.cancel, c.loops
	c.cancel, c.loops = nil, nil
	c.mu.Unlock()
	if cancel != nil {
		cancel()
		loops.Wait()
	}
}

// cancelLoops ends the loops without waiting for them.
func (c *Coordinator) cancelLoops() {
	c.mu.Lock()
	cancel := c.cancel
	c.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// every runs fn on a ticker until ctx ends. Ticks while inactive are skipped
// and a panicking tick is logged without stopping the loop.
func (c *Coordinator) every(ctx context.Context, wg *sync.WaitGroup, name string, d time.Duration, fn func()) {
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
				if !c.active.Load() {
					continue
				}
				guard(name, fn)
			}
		}
	}()
}

func guard(name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("coordination loop panicked", "loop", name, "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

// Heartbeat refreshes a swarm's liveness and brings an unresponsive swarm
// back to active.
func (c *Coordinator) Heartbeat(swarmID string) error {
	s, ok := c.swarms.Get(swarmID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSwarm, swarmID)
	}
	s.Heartbeat(time.Now())
	if s.Status() == swarm.StatusUnresponsive {
		s.SetStatus(swarm.StatusActive)
		slog.Info("swarm responsive again", "swarm", swarmID)
	}
	return nil
}

// Send enqueues a message on the bus.
func (c *Coordinator) Send(from, to string, typ MessageType, payload any, prio Priority) Message {
	msg := newMessage(from, to, typ, payload, prio)
	c.queue.Enqueue(msg)
	return msg
}

// ExchangeData enqueues a data-exchange from a to b and the matching ack from
// b to a.
func (c *Coordinator) ExchangeData(aID, bID string, data any) error {
	if _, ok := c.swarms.Get(aID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSwarm, aID)
	}
	if _, ok := c.swarms.Get(bID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSwarm, bID)
	}
	req := c.Send(aID, bID, MsgDataExchange, DataExchange{Data: data}, PriorityNormal)
	c.Send(bID, aID, MsgAck, Ack{Ref: req.ID, Approved: true}, PriorityNormal)
	return nil
}

// ShareInsight publishes an insight from swarmID to global memory and, via
// the bus, to every other swarm.
func (c *Coordinator) ShareInsight(swarmID string, in Insight) {
	c.Send(swarmID, AddrCoordinator, MsgInsightShare, in, PriorityNormal)
}

// RequestResources asks target for amount units of resource on behalf of
// from.
func (c *Coordinator) RequestResources(from, target string, req ResourceRequest) Message {
	prio := PriorityNormal
	if req.Priority.Urgent() {
		prio = req.Priority
	}
	return c.Send(from, target, MsgResourceRequest, req, prio)
}

// RaiseEmergency queues a critical emergency from swarmID.
func (c *Coordinator) RaiseEmergency(swarmID, reason string) Message {
	return c.Send(swarmID, AddrCoordinator, MsgEmergency, EmergencyNotice{
		Source:   swarmID,
		Reason:   reason,
		Severity: "critical",
		At:       time.Now(),
	}, PriorityCritical)
}

// Pending returns a copy of the queued messages.
func (c *Coordinator) Pending() []Message {
	return c.queue.Pending()
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Transfers returns every resource transfer made so far.
func (c *Coordinator) Transfers() []ResourceTransfer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]ResourceTransfer(nil), c.transfers...)
}

// Swarms returns the registered swarms.
func (c *Coordinator) Swarms() *swarm.Fleet {
	return c.swarms
}
