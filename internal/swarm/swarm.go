package swarm

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"
)

var (
	ErrUnknownAgent = errors.New("unknown agent")
	ErrNoIdleAgent  = errors.New("no idle agent")
)

// StallAfter is how long a working agent may go without activity before it
// counts as unhealthy.
const StallAfter = 10 * time.Second

// Swarm is a named group of agents working on a mission. All fields behind
// mu are mutated by the demo driver (task flow) and the coordinator (health,
// efficiency, heartbeat); the monitor only reads snapshots.
type Swarm struct {
	ID      string
	Mission Mission

	mu            sync.RWMutex
	agents        map[string]*Agent
	order         []string
	status        Status
	tasks         []Task
	metrics       Metrics
	lastHeartbeat time.Time
}

// New creates a swarm in the initializing state with one agent per mission
// role.
func New(id string, mission Mission) *Swarm {
	now := time.Now()
	s := &Swarm{
		ID:            id,
		Mission:       mission,
		agents:        make(map[string]*Agent),
		status:        StatusInitializing,
		metrics:       Metrics{Efficiency: 100, Health: 100},
		lastHeartbeat: now,
	}
	for _, r := range mission.Roles {
		s.addAgent(&Agent{
			ID:           fmt.Sprintf("%s-%s", id, r.Name),
			Role:         r.Name,
			Capabilities: append([]string(nil), r.Capabilities...),
			Status:       AgentIdle,
			Performance:  100,
			LastActivity: now,
		})
	}
	return s
}

func (s *Swarm) addAgent(a *Agent) {
	if _, ok := s.agents[a.ID]; !ok {
		s.order = append(s.order, a.ID)
	}
	s.agents[a.ID] = a
}

// AddAgent adds or replaces an agent.
func (s *Swarm) AddAgent(a Agent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := a.clone()
	if c.Status == "" {
		c.Status = AgentIdle
	}
	s.addAgent(&c)
}

func (s *Swarm) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:            s.ID,
		Mission:       s.Mission,
		Status:        s.status,
		Agents:        make([]Agent, 0, len(s.order)),
		Tasks:         append([]Task(nil), s.tasks...),
		Metrics:       s.metrics,
		LastHeartbeat: s.lastHeartbeat,
	}
	for _, id := range s.order {
		snap.Agents = append(snap.Agents, s.agents[id].clone())
	}
	return snap
}

func (s *Swarm) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Swarm) SetStatus(st Status) {
	s.mu.Lock()
	s.status = st
	s.mu.Unlock()
}

func (s *Swarm) Metrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics
}

func (s *Swarm) Efficiency() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.metrics.Efficiency
}

// SetEfficiency clamps v to [0, 100].
func (s *Swarm) SetEfficiency(v float64) {
	s.mu.Lock()
	s.metrics.Efficiency = clamp(v)
	s.mu.Unlock()
}

// AdjustEfficiency adds delta and returns the clamped result.
func (s *Swarm) AdjustEfficiency(delta float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics.Efficiency = clamp(s.metrics.Efficiency + delta)
	return s.metrics.Efficiency
}

func (s *Swarm) SetHealth(v float64) {
	s.mu.Lock()
	s.metrics.Health = clamp(v)
	s.mu.Unlock()
}

func (s *Swarm) Heartbeat(at time.Time) {
	s.mu.Lock()
	s.lastHeartbeat = at
	s.mu.Unlock()
}

func (s *Swarm) LastHeartbeat() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastHeartbeat
}

// AddTasks appends tasks to the swarm's task list without assigning them.
func (s *Swarm) AddTasks(tasks ...Task) {
	s.mu.Lock()
	s.tasks = append(s.tasks, tasks...)
	s.mu.Unlock()
}

func (s *Swarm) Tasks() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Task(nil), s.tasks...)
}

// TasksByPriority returns the tasks at priority p in list order.
func (s *Swarm) TasksByPriority(p Priority) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Priority == p {
			out = append(out, t)
		}
	}
	return out
}

// IdleAgents returns idle agent ids in spawn order.
func (s *Swarm) IdleAgents() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idleLocked("")
}

func (s *Swarm) idleLocked(exclude string) []string {
	var ids []string
	for _, id := range s.order {
		if id != exclude && s.agents[id].Status == AgentIdle {
			ids = append(ids, id)
		}
	}
	return ids
}

// AssignTasks hands tasks 1:1 to idle agents. At most
// min(len(tasks), idle agents) are assigned; the rest are left for a later
// cycle and are not recorded.
func (s *Swarm) AssignTasks(tasks []Task, at time.Time) []Assignment {
	s.mu.Lock()
	defer s.mu.Unlock()

	idle := s.idleLocked("")
	n := min(len(tasks), len(idle))
	out := make([]Assignment, 0, n)
	for i := range n {
		t := tasks[i]
		a := s.agents[idle[i]]
		a.Status = AgentWorking
		a.CurrentTask = &t
		a.LastActivity = at
		s.tasks = append(s.tasks, t)
		s.metrics.TasksAssigned++
		out = append(out, Assignment{AgentID: a.ID, Task: t})
	}
	return out
}

// CompleteTask finishes taskID on agentID. It is a no-op returning false
// unless the agent is still working on exactly that task, which keeps stale
// completion timers from touching a reassigned or recovered agent.
func (s *Swarm) CompleteTask(agentID, taskID string, started, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok || a.Status != AgentWorking || a.CurrentTask == nil || a.CurrentTask.ID != taskID {
		return false
	}
	task := *a.CurrentTask
	a.Status = AgentIdle
	a.CurrentTask = nil
	a.TasksCompleted++
	a.LastActivity = at
	a.Patterns = append(a.Patterns, LearnedPattern{
		TaskType: task.Type,
		Target:   task.Target,
		Outcome:  "success",
		Duration: at.Sub(started).Round(time.Millisecond).String(),
		At:       at,
	})

	s.metrics.TasksCompleted++
	if s.metrics.TasksCompleted > s.metrics.TasksAssigned {
		s.metrics.TasksCompleted = s.metrics.TasksAssigned
	}
	if s.metrics.TasksAssigned > 0 {
		s.metrics.Efficiency = clamp(float64(s.metrics.TasksCompleted) / float64(s.metrics.TasksAssigned) * 100)
	}
	return true
}

// FailAgent marks the agent failed with zero performance and returns the
// task it was holding, if any. The task stays attached until reassigned.
func (s *Swarm) FailAgent(agentID string, at time.Time) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	a.Status = AgentFailed
	a.Performance = 0
	a.LastActivity = at
	if a.CurrentTask == nil {
		return nil, nil
	}
	t := *a.CurrentTask
	return &t, nil
}

// ReassignTask moves the task held by fromAgent to the first idle peer in
// this swarm. It returns the peer id.
func (s *Swarm) ReassignTask(fromAgent string, at time.Time) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	from, ok := s.agents[fromAgent]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownAgent, fromAgent)
	}
	if from.CurrentTask == nil {
		return "", nil
	}
	idle := s.idleLocked(fromAgent)
	if len(idle) == 0 {
		return "", ErrNoIdleAgent
	}
	peer := s.agents[idle[0]]
	peer.Status = AgentWorking
	peer.CurrentTask = from.CurrentTask
	peer.LastActivity = at
	from.CurrentTask = nil
	return peer.ID, nil
}

// RestoreAgent brings a failed agent back to idle with full performance.
// Any task it still held is dropped.
func (s *Swarm) RestoreAgent(agentID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agents[agentID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownAgent, agentID)
	}
	a.Status = AgentIdle
	a.Performance = 100
	a.CurrentTask = nil
	a.LastActivity = at
	return nil
}

// Utilization is the percentage of agents currently working; 0 for an empty
// swarm.
func (s *Swarm) Utilization() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return utilization(s.agents)
}

func utilization(agents map[string]*Agent) float64 {
	if len(agents) == 0 {
		return 0
	}
	working := 0
	for _, a := range agents {
		if a.Status == AgentWorking {
			working++
		}
	}
	return float64(working) / float64(len(agents)) * 100
}

// HealthScore is 100 × the fraction of healthy agents. An agent is unhealthy
// when it is working but idle for longer than stallAfter, or its performance
// is under 50.
func (s *Swarm) HealthScore(now time.Time, stallAfter time.Duration) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.agents) == 0 {
		return 100
	}
	unhealthy := 0
	for _, a := range s.agents {
		stalled := a.Status == AgentWorking && now.Sub(a.LastActivity) > stallAfter
		if stalled || a.Performance < 50 {
			unhealthy++
		}
	}
	return math.Round((1 - float64(unhealthy)/float64(len(s.agents))) * 100)
}

// Capabilities returns the sorted union of all agent capability tags.
func (s *Swarm) Capabilities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, a := range s.agents {
		for _, c := range a.Capabilities {
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	slices.Sort(out)
	return out
}

func (s *Swarm) AgentCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.agents)
}

// FirstAgent returns the id of the first spawned agent.
func (s *Swarm) FirstAgent() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.order) == 0 {
		return "", false
	}
	return s.order[0], true
}

func clamp(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(100, v))
}
