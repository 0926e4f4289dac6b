// Package demo drives a scripted run of the coordinator and monitor: it
// spawns the mission swarms, distributes work, synchronizes swarms, injects
// an agent failure and produces the final report.
package demo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

type State string

const (
	StateConstructed          State = "constructed"
	StateLaunching            State = "launching"
	StateRunningOperations    State = "running-operations"
	StateFinalSynchronization State = "final-synchronization"
	StateStopped              State = "stopped"
)

var (
	ErrUnknownMission = errors.New("unknown mission")
	ErrAlreadyRunning = errors.New("demo already launched")
	ErrNoSwarms       = errors.New("no swarms")
)

// Emergency is what HandleCriticalError hands to the emergency handler for
// persistence.
type Emergency struct {
	Error       string                    `json:"error"`
	Coordinator coordinator.ShutdownState `json:"coordinator"`
	Monitor     monitor.EmergencySnapshot `json:"monitor"`
}

type Demo struct {
	cfg        config.DemoConfig
	coord      *coordinator.Coordinator
	mon        *monitor.Monitor
	fleet      *swarm.Fleet
	missions   map[string]swarm.Mission
	operations map[string][]swarm.Task
	order      []string

	running atomic.Bool

	mu          sync.Mutex
	state       State
	global      monitor.GlobalMetrics
	onEmergency func(Emergency) error
	emergency   *Emergency
}

// New returns a demo over the default mission catalogue.
func New(cfg config.DemoConfig, coord *coordinator.Coordinator, mon *monitor.Monitor) *Demo {
	return &Demo{
		cfg:        cfg,
		coord:      coord,
		mon:        mon,
		fleet:      swarm.NewFleet(),
		missions:   swarm.DefaultMissions(),
		operations: swarm.DefaultOperations(),
		order:      swarm.MissionOrder,
		state:      StateConstructed,
	}
}

// SetMissions replaces the catalogue. order is the launch order.
func (d *Demo) SetMissions(missions map[string]swarm.Mission, operations map[string][]swarm.Task, order []string) {
	d.missions = missions
	d.operations = operations
	d.order = order
}

// OnEmergency registers the handler that persists emergency state.
func (d *Demo) OnEmergency(fn func(Emergency) error) {
	d.mu.Lock()
	d.onEmergency = fn
	d.mu.Unlock()
}

func (d *Demo) Fleet() *swarm.Fleet {
	return d.fleet
}

func (d *Demo) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Demo) IsRunning() bool {
	return d.running.Load()
}

// Metrics returns the run-wide counters.
func (d *Demo) Metrics() monitor.GlobalMetrics {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.global
}

// LastEmergency returns the state captured by the last critical error.
func (d *Demo) LastEmergency() (Emergency, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.emergency == nil {
		return Emergency{}, false
	}
	return *d.emergency, true
}

func (d *Demo) setState(s State) {
	d.mu.Lock()
	d.state = s
	d.mu.Unlock()
	slog.Info("demo state", "state", s)
}

// Launch runs the whole scenario and returns the final report. Any failure,
// including a panic, goes through HandleCriticalError once and is returned.
func (d *Demo) Launch(ctx context.Context) (report monitor.Report, err error) {
	if !d.running.CompareAndSwap(false, true) {
		return monitor.Report{}, ErrAlreadyRunning
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("launch panicked: %v", r)
			slog.Error("launch panicked", "panic", r, "stack", string(debug.Stack()))
		}
		if err != nil {
			d.HandleCriticalError(err)
		}
	}()

	report, err = d.launch(ctx)
	return report, err
}

func (d *Demo) launch(ctx context.Context) (monitor.Report, error) {
	d.setState(StateLaunching)
	d.mu.Lock()
	d.global.StartedAt = time.Now()
	d.mu.Unlock()

	if err := d.mon.Initialize(ctx); err != nil {
		return monitor.Report{}, fmt.Errorf("initialize monitor: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range d.order {
		g.Go(func() error {
			_, err := d.SpawnSwarm(gctx, id)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return monitor.Report{}, fmt.Errorf("spawn swarms: %w", err)
	}

	if err := d.coord.StartCoordination(ctx, d.fleet); err != nil {
		return monitor.Report{}, fmt.Errorf("start coordination: %w", err)
	}

	pulseCtx, stopPulse := context.WithCancel(ctx)
	defer stopPulse()
	go d.pulse(pulseCtx)

	d.setState(StateRunningOperations)
	if err := d.runOperations(ctx); err != nil {
		return monitor.Report{}, err
	}

	if err := sleep(ctx, d.cfg.Settle); err != nil {
		return monitor.Report{}, err
	}

	d.setState(StateFinalSynchronization)
	insights := d.coord.CollectGlobalInsights(d.fleet)
	global := d.Metrics()
	d.mon.CollectMetrics(d.fleet, global)
	report := d.mon.GenerateFinalReport(d.fleet, global, insights)

	stopPulse()
	d.coord.Stop()
	d.mon.Shutdown()
	d.running.Store(false)
	d.setState(StateStopped)
	return report, nil
}

// runOperations runs the per-mission distributions, the synchronization
// pass and the resilience test concurrently.
func (d *Demo) runOperations(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, id := range d.order {
		g.Go(func() error {
			s, ok := d.fleet.Get(id)
			if !ok {
				return fmt.Errorf("%w: %s", ErrUnknownMission, id)
			}
			d.DistributeTasksToSwarm(s, d.operations[id])
			return nil
		})
	}
	g.Go(d.ExecuteSwarmSynchronization)
	g.Go(func() error {
		return d.ExecuteResilienceTest(gctx)
	})
	if err := g.Wait(); err != nil {
		return fmt.Errorf("operations: %w", err)
	}
	return nil
}

// pulse keeps swarms alive on the coordinator and feeds the monitor.
func (d *Demo) pulse(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Pulse)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range d.fleet.List() {
				if err := d.coord.Heartbeat(s.ID); err != nil {
					slog.Warn("heartbeat failed", "swarm", s.ID, "error", err)
				}
			}
			d.mon.CollectMetrics(d.fleet, d.Metrics())
		}
	}
}

// SpawnSwarm creates the swarm for mission id, registers it with the
// coordinator and marks it active.
func (d *Demo) SpawnSwarm(ctx context.Context, id string) (*swarm.Swarm, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	mission, ok := d.missions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMission, id)
	}

	s := swarm.New(id, mission)
	d.fleet.Add(s)
	d.coord.RegisterSwarm(s)
	s.SetStatus(swarm.StatusActive)

	d.mu.Lock()
	d.global.TotalAgents += s.AgentCount()
	d.mu.Unlock()

	slog.Info("swarm spawned", "swarm", id, "mission", mission.Name, "agents", s.AgentCount())
	return s, nil
}

// DistributeTasksToSwarm hands tasks 1:1 to idle agents and schedules each
// completion after a random delay. Tasks beyond the idle agent count are not
// assigned.
func (d *Demo) DistributeTasksToSwarm(s *swarm.Swarm, tasks []swarm.Task) []swarm.Assignment {
	stamped := make([]swarm.Task, len(tasks))
	for i, t := range tasks {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		stamped[i] = t
	}

	started := time.Now()
	assigned := s.AssignTasks(stamped, started)
	for _, a := range assigned {
		d.scheduleCompletion(s, a.AgentID, a.Task, started)
	}

	if len(assigned) > 0 {
		d.coord.ShareInsight(s.ID, coordinator.Insight{
			Topic:   "distribution",
			Summary: fmt.Sprintf("%d of %d tasks assigned", len(assigned), len(tasks)),
		})
	}
	slog.Info("tasks distributed", "swarm", s.ID, "assigned", len(assigned), "requested", len(tasks))
	return assigned
}

// scheduleCompletion completes task on agentID after a random delay. The
// callback is a no-op if the agent no longer holds the task.
func (d *Demo) scheduleCompletion(s *swarm.Swarm, agentID string, task swarm.Task, started time.Time) {
	time.AfterFunc(d.taskDelay(), func() {
		if !s.CompleteTask(agentID, task.ID, started, time.Now()) {
			return
		}
		d.mu.Lock()
		d.global.TasksCompleted++
		d.mu.Unlock()
		slog.Debug("task completed", "swarm", s.ID, "agent", agentID, "task", task.Type)
	})
}

func (d *Demo) taskDelay() time.Duration {
	lo, hi := d.cfg.TaskDelayMin, d.cfg.TaskDelayMax
	if hi <= lo {
		return lo
	}
	return lo + rand.N(hi-lo)
}

// ExecuteSwarmSynchronization exchanges metrics between every pair of
// swarms. Each pair costs two messages: the exchange and its ack.
func (d *Demo) ExecuteSwarmSynchronization() error {
	list := d.fleet.List()
	for i := 0; i < len(list); i++ {
		for j := i + 1; j < len(list); j++ {
			a, b := list[i], list[j]
			data := map[string]swarm.Metrics{a.ID: a.Metrics(), b.ID: b.Metrics()}
			if err := d.coord.ExchangeData(a.ID, b.ID, data); err != nil {
				return fmt.Errorf("sync %s/%s: %w", a.ID, b.ID, err)
			}
			d.mu.Lock()
			d.global.MessagesExchanged += 2
			d.global.SwarmSyncs++
			d.mu.Unlock()
		}
	}
	return nil
}

// ExecuteResilienceTest fails the first agent of a random swarm and waits
// for it to recover.
func (d *Demo) ExecuteResilienceTest(ctx context.Context) error {
	list := d.fleet.List()
	if len(list) == 0 {
		return ErrNoSwarms
	}
	s := list[rand.IntN(len(list))]
	agentID, ok := s.FirstAgent()
	if !ok {
		slog.Warn("resilience test skipped, swarm has no agents", "swarm", s.ID)
		return nil
	}

	task, err := s.FailAgent(agentID, time.Now())
	if err != nil {
		return fmt.Errorf("fail agent: %w", err)
	}
	slog.Warn("agent failure injected", "swarm", s.ID, "agent", agentID)

	select {
	case <-d.RecoverFailedAgent(s, agentID, task):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RecoverFailedAgent hands the failed agent's task to an idle peer in the
// same swarm right away, schedules the peer's completion and restores the
// agent after the recovery delay.
// The returned channel closes once the agent is restored; the restore
// happens even if nobody waits for it.
func (d *Demo) RecoverFailedAgent(s *swarm.Swarm, agentID string, task *swarm.Task) <-chan struct{} {
	if task != nil {
		now := time.Now()
		peer, err := s.ReassignTask(agentID, now)
		switch {
		case errors.Is(err, swarm.ErrNoIdleAgent):
			slog.Warn("no idle peer for failed agent's task", "swarm", s.ID, "agent", agentID, "task", task.ID)
		case err != nil:
			slog.Error("task reassignment failed", "swarm", s.ID, "agent", agentID, "error", err)
		case peer != "":
			d.scheduleCompletion(s, peer, *task, now)
			slog.Info("task reassigned", "swarm", s.ID, "from", agentID, "to", peer, "task", task.ID)
		}
	}

	done := make(chan struct{})
	time.AfterFunc(d.cfg.RecoveryDelay, func() {
		defer close(done)
		if err := s.RestoreAgent(agentID, time.Now()); err != nil {
			slog.Error("agent recovery failed", "swarm", s.ID, "agent", agentID, "error", err)
			return
		}
		d.mu.Lock()
		d.global.ErrorsRecovered++
		d.mu.Unlock()
		slog.Info("agent recovered", "swarm", s.ID, "agent", agentID)
	})
	return done
}

// HandleCriticalError shuts the coordinator down, snapshots the monitor and
// hands both to the emergency handler. A failure in this path is logged and
// swallowed.
func (d *Demo) HandleCriticalError(cause error) {
	slog.Error("critical error, emergency shutdown", "error", cause)

	defer func() {
		if r := recover(); r != nil {
			slog.Error("emergency shutdown failed", "panic", r)
		}
		d.running.Store(false)
		d.setState(StateStopped)
	}()

	global := d.Metrics()
	em := Emergency{
		Error:       cause.Error(),
		Coordinator: d.coord.EmergencyShutdown(d.fleet),
		Monitor:     d.mon.SaveEmergencySnapshot(d.fleet, global),
	}
	d.mon.Shutdown()

	d.mu.Lock()
	d.emergency = &em
	handler := d.onEmergency
	d.mu.Unlock()

	if handler != nil {
		if err := handler(em); err != nil {
			slog.Error("persist emergency state", "error", err)
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
