package demo

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/coordinator"
	"github.com/mtzanidakis/swarmlab/internal/monitor"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

func testConfig() config.Config {
	cfg := config.Defaults()
	cfg.Coordinator.HeartbeatInterval = time.Hour
	cfg.Coordinator.MessageInterval = 10 * time.Millisecond
	cfg.Coordinator.MajorInterval = time.Hour
	cfg.Coordinator.MinorInterval = time.Hour
	cfg.Monitor.DashboardInterval = time.Hour
	cfg.Monitor.AlertInterval = time.Hour
	cfg.Monitor.RenderDashboard = false
	cfg.Demo = config.DemoConfig{
		TaskDelayMin:  5 * time.Millisecond,
		TaskDelayMax:  20 * time.Millisecond,
		RecoveryDelay: 50 * time.Millisecond,
		Settle:        100 * time.Millisecond,
		Pulse:         20 * time.Millisecond,
	}
	return cfg
}

func newDemo(t *testing.T) *Demo {
	t.Helper()
	cfg := testConfig()
	coord := coordinator.New(cfg.Coordinator)
	mon := monitor.New(cfg.Monitor, monitor.FixedSource{Throughput: 1, ResponseTime: 100})
	t.Cleanup(func() {
		coord.Stop()
		mon.Shutdown()
	})
	return New(cfg.Demo, coord, mon)
}

func pairMission() (map[string]swarm.Mission, map[string][]swarm.Task, []string) {
	missions := map[string]swarm.Mission{
		"pair": {Name: "Pair", Roles: []swarm.Role{
			{Name: "lead", Capabilities: []string{"planning"}},
			{Name: "engineer", Capabilities: []string{"go"}},
		}},
	}
	ops := map[string][]swarm.Task{
		"pair": {{Type: "implement", Target: "endpoint", Priority: swarm.PriorityHigh}},
	}
	return missions, ops, []string{"pair"}
}

func agentByID(t *testing.T, s *swarm.Swarm, id string) swarm.Agent {
	t.Helper()
	for _, a := range s.Snapshot().Agents {
		if a.ID == id {
			return a
		}
	}
	t.Fatalf("agent %s not found", id)
	return swarm.Agent{}
}

func TestSpawnSwarm(t *testing.T) {
	d := newDemo(t)

	s, err := d.SpawnSwarm(context.Background(), "infra")
	require.NoError(t, err)
	assert.Equal(t, swarm.StatusActive, s.Status())
	assert.Equal(t, 4, d.Metrics().TotalAgents)

	got, ok := d.Fleet().Get("infra")
	require.True(t, ok)
	assert.Same(t, s, got)

	_, err = d.SpawnSwarm(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownMission)
}

func TestDistributeTasksAssignsAtMostIdleAgents(t *testing.T) {
	d := newDemo(t)
	s, err := d.SpawnSwarm(context.Background(), "analytics")
	require.NoError(t, err)

	tasks := make([]swarm.Task, 5)
	for i := range tasks {
		tasks[i] = swarm.Task{Type: "analyze", Priority: swarm.PriorityLow}
	}
	assigned := d.DistributeTasksToSwarm(s, tasks)

	require.Len(t, assigned, 3)
	for _, a := range assigned {
		assert.NotEmpty(t, a.Task.ID)
	}
	assert.Equal(t, 3, s.Metrics().TasksAssigned)

	assert.Eventually(t, func() bool {
		return d.Metrics().TasksCompleted == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 100.0, s.Efficiency())
}

func TestSwarmSynchronizationCountsPairs(t *testing.T) {
	d := newDemo(t)
	for _, id := range swarm.MissionOrder {
		_, err := d.SpawnSwarm(context.Background(), id)
		require.NoError(t, err)
	}

	require.NoError(t, d.ExecuteSwarmSynchronization())

	m := d.Metrics()
	assert.Equal(t, 3, m.SwarmSyncs)
	assert.Equal(t, 6, m.MessagesExchanged)
}

func TestResilienceTestReassignsAndRecovers(t *testing.T) {
	d := newDemo(t)
	d.SetMissions(pairMission())
	s, err := d.SpawnSwarm(context.Background(), "pair")
	require.NoError(t, err)

	// Hold the lead's task long enough that it cannot complete first.
	d.cfg.TaskDelayMin = time.Hour
	d.cfg.TaskDelayMax = time.Hour
	assigned := d.DistributeTasksToSwarm(s, []swarm.Task{{Type: "implement", Target: "endpoint"}})
	require.Len(t, assigned, 1)
	require.Equal(t, "pair-lead", assigned[0].AgentID)

	task, err := s.FailAgent("pair-lead", time.Now())
	require.NoError(t, err)
	require.NotNil(t, task)

	done := d.RecoverFailedAgent(s, "pair-lead", task)

	engineer := agentByID(t, s, "pair-engineer")
	assert.Equal(t, swarm.AgentWorking, engineer.Status)
	require.NotNil(t, engineer.CurrentTask)
	assert.Equal(t, assigned[0].Task.ID, engineer.CurrentTask.ID)
	assert.Equal(t, 0, d.Metrics().ErrorsRecovered)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("agent was not recovered")
	}
	assert.Equal(t, 1, d.Metrics().ErrorsRecovered)

	lead := agentByID(t, s, "pair-lead")
	assert.Equal(t, swarm.AgentIdle, lead.Status)
	assert.Equal(t, 100.0, lead.Performance)
}

func TestReassignedTaskCompletesOnPeer(t *testing.T) {
	d := newDemo(t)
	d.SetMissions(pairMission())
	s, err := d.SpawnSwarm(context.Background(), "pair")
	require.NoError(t, err)

	// The original holder's timer must not fire before the failure.
	d.cfg.TaskDelayMin = time.Hour
	d.cfg.TaskDelayMax = time.Hour
	assigned := d.DistributeTasksToSwarm(s, []swarm.Task{{Type: "implement", Target: "endpoint"}})
	require.Len(t, assigned, 1)

	task, err := s.FailAgent("pair-lead", time.Now())
	require.NoError(t, err)
	require.NotNil(t, task)

	d.cfg.TaskDelayMin = 5 * time.Millisecond
	d.cfg.TaskDelayMax = 20 * time.Millisecond
	<-d.RecoverFailedAgent(s, "pair-lead", task)

	assert.Eventually(t, func() bool {
		return agentByID(t, s, "pair-engineer").Status == swarm.AgentIdle
	}, time.Second, 5*time.Millisecond)

	engineer := agentByID(t, s, "pair-engineer")
	assert.Nil(t, engineer.CurrentTask)
	assert.Equal(t, 1, engineer.TasksCompleted)
	assert.Equal(t, 1, d.Metrics().TasksCompleted)
	m := s.Metrics()
	assert.Equal(t, m.TasksAssigned, m.TasksCompleted)
}

func TestResilienceTestWaitsForRecovery(t *testing.T) {
	d := newDemo(t)
	d.SetMissions(pairMission())
	_, err := d.SpawnSwarm(context.Background(), "pair")
	require.NoError(t, err)

	start := time.Now()
	require.NoError(t, d.ExecuteResilienceTest(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), d.cfg.RecoveryDelay)
	assert.Equal(t, 1, d.Metrics().ErrorsRecovered)
}

func TestResilienceTestWithoutSwarms(t *testing.T) {
	d := newDemo(t)
	assert.ErrorIs(t, d.ExecuteResilienceTest(context.Background()), ErrNoSwarms)
}

func TestLaunchProducesFinalReport(t *testing.T) {
	d := newDemo(t)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	report, err := d.Launch(ctx)
	require.NoError(t, err)

	assert.Equal(t, StateStopped, d.State())
	assert.False(t, d.IsRunning())
	assert.Equal(t, 3, report.Summary.Swarms)
	assert.Equal(t, 11, report.Summary.TotalAgents)
	assert.Equal(t, 3, report.Summary.SwarmSyncs)
	assert.Equal(t, 6, report.Summary.MessagesExchanged)
	assert.Equal(t, 1, report.Summary.ErrorsRecovered)
	assert.Positive(t, report.Summary.TasksCompleted)
	assert.Len(t, report.Insights.Swarms, 3)
	assert.NotEmpty(t, report.Swarms)

	_, ok := d.LastEmergency()
	assert.False(t, ok)
}

func TestLaunchTwice(t *testing.T) {
	d := newDemo(t)
	d.running.Store(true)

	_, err := d.Launch(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)
}

func TestLaunchFailureRunsEmergencyPath(t *testing.T) {
	d := newDemo(t)

	var got Emergency
	calls := 0
	d.OnEmergency(func(em Emergency) error {
		calls++
		got = em
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := d.Launch(ctx)
	require.Error(t, err)

	assert.Equal(t, 1, calls)
	assert.Contains(t, got.Error, "spawn swarms")
	assert.NotEmpty(t, got.Monitor.ID)
	assert.Equal(t, StateStopped, d.State())
	assert.False(t, d.IsRunning())

	last, ok := d.LastEmergency()
	require.True(t, ok)
	assert.Equal(t, got.Monitor.ID, last.Monitor.ID)
}

func TestHandleCriticalErrorSwallowsHandlerFailure(t *testing.T) {
	d := newDemo(t)
	d.OnEmergency(func(Emergency) error {
		panic("disk full")
	})

	assert.NotPanics(t, func() {
		d.HandleCriticalError(assert.AnError)
	})
	assert.Equal(t, StateStopped, d.State())
}
