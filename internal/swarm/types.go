package swarm

import "time"

type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentWorking AgentStatus = "working"
	AgentFailed  AgentStatus = "failed"
)

type Status string

const (
	StatusInitializing Status = "initializing"
	StatusActive       Status = "active"
	StatusUnresponsive Status = "unresponsive"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Task is a unit of work handed to a single agent.
type Task struct {
	ID                    string   `json:"id"`
	Type                  string   `json:"type"`
	Target                string   `json:"target"`
	Priority              Priority `json:"priority"`
	Complexity            string   `json:"complexity,omitempty"` // "", "low", "medium", "high"
	RequiredCapabilities  []string `json:"required_capabilities,omitempty"`
	RequiresCollaboration bool     `json:"requires_collaboration,omitempty"`
}

// NeedsCollaboration reports whether the coordinator should look for a
// partner swarm for this task.
func (t Task) NeedsCollaboration() bool {
	return t.RequiresCollaboration || t.Complexity == "high"
}

// LearnedPattern is recorded on an agent every time it completes a task.
type LearnedPattern struct {
	TaskType string    `json:"task_type"`
	Target   string    `json:"target"`
	Outcome  string    `json:"outcome"`
	Duration string    `json:"duration"`
	At       time.Time `json:"at"`
}

type Agent struct {
	ID             string           `json:"id"`
	Role           string           `json:"role"`
	Capabilities   []string         `json:"capabilities"`
	Status         AgentStatus      `json:"status"`
	CurrentTask    *Task            `json:"current_task,omitempty"`
	TasksCompleted int              `json:"tasks_completed"`
	Performance    float64          `json:"performance"`
	LastActivity   time.Time        `json:"last_activity"`
	Patterns       []LearnedPattern `json:"patterns,omitempty"`
}

func (a Agent) clone() Agent {
	c := a
	c.Capabilities = append([]string(nil), a.Capabilities...)
	c.Patterns = append([]LearnedPattern(nil), a.Patterns...)
	if a.CurrentTask != nil {
		t := *a.CurrentTask
		c.CurrentTask = &t
	}
	return c
}

type Metrics struct {
	TasksAssigned  int     `json:"tasks_assigned"`
	TasksCompleted int     `json:"tasks_completed"`
	Efficiency     float64 `json:"efficiency"`
	Health         float64 `json:"health"`
}

// Backlog is assigned minus completed, never negative.
func (m Metrics) Backlog() int {
	if b := m.TasksAssigned - m.TasksCompleted; b > 0 {
		return b
	}
	return 0
}

// Role is a mission slot; one agent is spawned per role.
type Role struct {
	Name         string   `json:"name" yaml:"name"`
	Capabilities []string `json:"capabilities" yaml:"capabilities"`
}

// Mission is the display and staffing metadata for a swarm.
type Mission struct {
	Name      string   `json:"name"`
	Objective string   `json:"objective"`
	Color     string   `json:"color"`
	Priority  Priority `json:"priority"`
	Roles     []Role   `json:"roles"`
}

// Snapshot is a deep, lock-free copy of a swarm's state.
type Snapshot struct {
	ID            string    `json:"id"`
	Mission       Mission   `json:"mission"`
	Status        Status    `json:"status"`
	Agents        []Agent   `json:"agents"`
	Tasks         []Task    `json:"tasks"`
	Metrics       Metrics   `json:"metrics"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Assignment pairs an agent with the task it was just given.
type Assignment struct {
	AgentID string
	Task    Task
}
