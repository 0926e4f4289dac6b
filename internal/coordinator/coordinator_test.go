package coordinator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mtzanidakis/swarmlab/internal/config"
	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// testConfig keeps the tickers out of the way so tests drive the cycles by
// hand.
func testConfig() config.CoordinatorConfig {
	cfg := config.Defaults().Coordinator
	cfg.HeartbeatInterval = time.Hour
	cfg.MessageInterval = time.Hour
	cfg.MajorInterval = time.Hour
	cfg.MinorInterval = time.Hour
	return cfg
}

func newSwarm(id string, caps ...string) *swarm.Swarm {
	return swarm.New(id, swarm.Mission{
		Name: id,
		Roles: []swarm.Role{
			{Name: "productManager", Capabilities: append([]string{"planning"}, caps...)},
		},
	})
}

func setup(t *testing.T, ids ...string) (*Coordinator, *swarm.Fleet) {
	t.Helper()
	c := New(testConfig())
	fleet := swarm.NewFleet()
	for _, id := range ids {
		s := newSwarm(id)
		s.SetStatus(swarm.StatusActive)
		fleet.Add(s)
		c.RegisterSwarm(s)
	}
	require.NoError(t, c.StartCoordination(context.Background(), fleet))
	t.Cleanup(c.Stop)
	return c, fleet
}

func get(t *testing.T, fleet *swarm.Fleet, id string) *swarm.Swarm {
	t.Helper()
	s, ok := fleet.Get(id)
	require.True(t, ok, "swarm %s", id)
	return s
}

func pendingOfType(c *Coordinator, typ MessageType) []Message {
	var out []Message
	for _, m := range c.Pending() {
		if m.Type == typ {
			out = append(out, m)
		}
	}
	return out
}

func drain(c *Coordinator) {
	for range 20 {
		if len(c.Pending()) == 0 {
			return
		}
		c.ProcessMessages()
	}
}

func TestStartCoordinationOpensChannelsAndProtocols(t *testing.T) {
	c, _ := setup(t, "infra", "dev", "analytics")

	var ids []string
	for _, ch := range c.Channels() {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []string{"analytics-dev", "analytics-infra", "dev-infra"}, ids)

	for _, kind := range []ConsensusKind{KindTaskAllocation, KindResourceSharing, KindPriorityDecisions} {
		p, ok := c.Protocol(kind)
		require.True(t, ok, kind)
		assert.Empty(t, p.Proposals)
		assert.Equal(t, "byzantine-fault-tolerant", p.Algorithm)
		assert.Equal(t, 3, p.Participants)
	}
	assert.True(t, c.IsActive())
}

func TestStartCoordinationIsIdempotent(t *testing.T) {
	c, fleet := setup(t, "infra", "dev")
	require.NoError(t, c.StartCoordination(context.Background(), fleet))
	assert.Len(t, c.Channels(), 1)
}

func TestRegisterSwarmTwiceReusesChannels(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	c.RegisterSwarm(get(t, fleet, "infra"))
	assert.Len(t, c.Channels(), 3)
	assert.Equal(t, 3, c.Swarms().Len())
}

func TestRegisterSwarmEmitsEvent(t *testing.T) {
	c := New(testConfig())
	var got []events.Event
	c.Events().Subscribe(func(e events.Event) { got = append(got, e) })

	c.RegisterSwarm(newSwarm("infra"))
	require.Len(t, got, 1)
	assert.Equal(t, events.SwarmRegistered, got[0].Type)
	assert.Equal(t, "coordinator", got[0].Source)
}

func TestRebalanceRequestsAssistanceForWeakSwarm(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	get(t, fleet, "infra").SetEfficiency(30)

	c.RunMajorCycle()

	reqs := pendingOfType(c, MsgAssistanceRequest)
	targets := map[string]bool{}
	for _, m := range reqs {
		assert.Equal(t, "infra", m.From)
		targets[m.To] = true
	}
	assert.Equal(t, map[string]bool{"dev": true, "analytics": true}, targets)
}

func TestRebalanceAllZeroEfficiency(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	for _, s := range fleet.List() {
		s.SetEfficiency(0)
	}

	c.RunMajorCycle()
	c.RunMajorCycle()

	assert.Empty(t, pendingOfType(c, MsgAssistanceRequest))
	assert.Empty(t, pendingOfType(c, MsgAssistanceOffer))
	assert.Equal(t, 2, c.Stats().CyclesMajor)
}

func TestEmergencyShutdownConcurrentWithStart(t *testing.T) {
	for range 20 {
		c := New(testConfig())
		fleet := swarm.NewFleet()
		s := newSwarm("infra")
		s.SetStatus(swarm.StatusActive)
		fleet.Add(s)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, c.StartCoordination(context.Background(), fleet))
		}()
		go func() {
			defer wg.Done()
			c.EmergencyShutdown(fleet)
		}()
		wg.Wait()

		c.Stop()
		assert.False(t, c.IsActive())
	}
}

func TestZeroSwarms(t *testing.T) {
	c := New(testConfig())
	require.NoError(t, c.StartCoordination(context.Background(), swarm.NewFleet()))
	t.Cleanup(c.Stop)

	c.RunMajorCycle()
	c.RunMinorCycle()
	c.CheckHeartbeats()
	c.ProcessMessages()

	assert.Empty(t, c.Channels())
	assert.Empty(t, c.Pending())
	assert.Equal(t, 1, c.Stats().CyclesMajor)
	assert.Equal(t, 1, c.Stats().CyclesMinor)
}

func TestConsensusDecidesAtQuorum(t *testing.T) {
	c, _ := setup(t, "infra", "dev", "analytics")

	id, err := c.Propose(KindTaskAllocation, "infra", "shift load to dev", "infra is saturated")
	require.NoError(t, err)
	c.ProcessMessages()

	require.Len(t, pendingOfType(c, MsgVoteRequest), 2)

	require.NoError(t, c.Vote(KindTaskAllocation, id, "dev", true))
	c.RunMajorCycle()
	p, _ := c.Protocol(KindTaskAllocation)
	require.Len(t, p.Proposals, 1)
	assert.False(t, p.Proposals[0].Decided, "one vote is below quorum")

	require.NoError(t, c.Vote(KindTaskAllocation, id, "analytics", true))
	c.RunMajorCycle()

	p, _ = c.Protocol(KindTaskAllocation)
	got := p.Proposals[0]
	require.True(t, got.Decided)
	require.NotNil(t, got.Outcome)
	assert.True(t, got.Outcome.Approved)
	assert.GreaterOrEqual(t, len(got.Votes), Quorum(3, 0.66))
	assert.Len(t, p.Decisions, 1)
	assert.Len(t, pendingOfType(c, MsgConsensusDecision), 3)

	assert.ErrorIs(t, c.Vote(KindTaskAllocation, id, "infra", false), ErrProposalDecided)
}

func TestConsensusTieIsRejected(t *testing.T) {
	c, _ := setup(t, "infra", "dev", "analytics", "ops")

	id, err := c.Propose(KindResourceSharing, "infra", "pool gpus", "")
	require.NoError(t, err)
	c.ProcessMessages()

	require.NoError(t, c.Vote(KindResourceSharing, id, "dev", true))
	require.NoError(t, c.Vote(KindResourceSharing, id, "analytics", false))
	require.NoError(t, c.Vote(KindResourceSharing, id, "ops", true))
	require.NoError(t, c.Vote(KindResourceSharing, id, "infra", false))
	c.RunMajorCycle()

	p, _ := c.Protocol(KindResourceSharing)
	require.True(t, p.Proposals[0].Decided)
	assert.False(t, p.Proposals[0].Outcome.Approved)
}

func TestFirstVoteWins(t *testing.T) {
	c, _ := setup(t, "infra", "dev", "analytics")
	id, err := c.Propose(KindPriorityDecisions, "infra", "raise dev", "")
	require.NoError(t, err)
	c.ProcessMessages()

	require.NoError(t, c.Vote(KindPriorityDecisions, id, "dev", true))
	assert.ErrorIs(t, c.Vote(KindPriorityDecisions, id, "dev", false), ErrAlreadyVoted)
	assert.ErrorIs(t, c.Vote(KindPriorityDecisions, "missing", "dev", true), ErrUnknownProposal)
}

func TestVoteRequestsAutoVote(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	get(t, fleet, "analytics").SetEfficiency(20)

	_, err := c.Propose(KindTaskAllocation, "infra", "x", "")
	require.NoError(t, err)
	drain(c)

	p, _ := c.Protocol(KindTaskAllocation)
	assert.Equal(t, map[string]bool{"dev": true, "analytics": false}, p.Proposals[0].Votes)
}

func TestQuorum(t *testing.T) {
	for _, tc := range []struct{ n, want int }{{0, 1}, {1, 1}, {2, 2}, {3, 2}, {4, 3}, {10, 7}, {50, 33}} {
		assert.Equal(t, tc.want, Quorum(tc.n, 0.66), "n=%d", tc.n)
	}
}

func TestResourceTransferIsEightyPercent(t *testing.T) {
	c, fleet := setup(t, "infra", "dev")
	infra := get(t, fleet, "infra")
	infra.SetEfficiency(30)

	c.RequestResources("infra", "dev", ResourceRequest{Resource: "cpu", Amount: 10, Priority: PriorityNormal})
	c.ProcessMessages()

	transfers := pendingOfType(c, MsgResourceTransfer)
	require.Len(t, transfers, 1)
	tr := transfers[0].Payload.(ResourceTransfer)
	assert.InDelta(t, 8.0, tr.Amount, 1e-9)
	assert.Equal(t, "dev", transfers[0].From)
	assert.Equal(t, "infra", transfers[0].To)

	c.ProcessMessages()
	require.Len(t, c.Transfers(), 1)
	assert.InDelta(t, 70.0, infra.Efficiency(), 1e-9)
	pool, _ := c.Memory(SegResourcePool)
	assert.InDelta(t, 8.0, pool.Data["received:infra"], 1e-9)
}

func TestResourceRequestDeniedBelowFloor(t *testing.T) {
	c, fleet := setup(t, "infra", "dev")
	get(t, fleet, "dev").SetEfficiency(50)

	c.RequestResources("infra", "dev", ResourceRequest{Resource: "cpu", Amount: 10})
	c.ProcessMessages()

	assert.Empty(t, pendingOfType(c, MsgResourceTransfer))
	acks := pendingOfType(c, MsgAck)
	require.Len(t, acks, 1)
	assert.False(t, acks[0].Payload.(Ack).Approved)
}

func TestHeartbeatTimeoutRedistributesHighPriorityTasks(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	infra := get(t, fleet, "infra")
	infra.AddTasks(
		swarm.Task{ID: "t-high", Type: "deploy", Target: "api", Priority: swarm.PriorityHigh},
		swarm.Task{ID: "t-low", Type: "docs", Target: "runbook", Priority: swarm.PriorityLow},
	)
	infra.Heartbeat(time.Now().Add(-6 * time.Second))

	c.CheckHeartbeats()

	assert.Equal(t, swarm.StatusUnresponsive, infra.Status())
	copied := 0
	for _, id := range []string{"dev", "analytics"} {
		for _, task := range get(t, fleet, id).Tasks() {
			assert.NotEqual(t, "t-low", task.ID)
			if task.ID == "t-high" {
				copied++
			}
		}
	}
	assert.Equal(t, 1, copied)
	assert.Len(t, pendingOfType(c, MsgSwarmTimeout), 1)

	c.CheckHeartbeats()
	assert.Equal(t, 1, c.Stats().Redistributions, "one redistribution per outage")

	require.NoError(t, c.Heartbeat("infra"))
	assert.Equal(t, swarm.StatusActive, infra.Status())
}

func TestUnknownMessageTypeIsLoggedOnChannel(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	c.Send("infra", "dev", MessageType("gossip"), "hello", PriorityNormal)
	c.Send("dev", "infra", MsgResourceRequest, "not a request", PriorityNormal)
	c.ProcessMessages()

	log := c.ChannelLog("dev", "infra")
	require.Len(t, log, 2)
	assert.Equal(t, MessageType("gossip"), log[0].Type)
	assert.Equal(t, 2, c.Stats().MessagesLogged)
	assert.Equal(t, 2, c.Stats().MessagesProcessed)
}

func TestEmergencyAssistanceIsAResourceRequest(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	c.Send("infra", "dev", MsgEmergencyAssistance, ResourceRequest{
		Resource: "agents",
		Amount:   2,
		Priority: PriorityCritical,
	}, PriorityCritical)
	c.ProcessMessages()

	transfers := pendingOfType(c, MsgResourceTransfer)
	require.Len(t, transfers, 1)
	assert.Equal(t, "infra", transfers[0].To)
	assert.InDelta(t, 1.6, transfers[0].Payload.(ResourceTransfer).Amount, 1e-9)
	assert.Zero(t, c.Stats().MessagesLogged)
}

func TestMemoryUpdateForUnknownSegmentIsLogged(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	c.Send(AddrCoordinator, "dev", MsgMemoryUpdate, MemoryUpdate{Segment: "scratch", Key: "k", Value: 1}, PriorityNormal)
	c.ProcessMessages()

	log := c.ChannelLog(AddrCoordinator, "dev")
	require.Len(t, log, 1)
	assert.Equal(t, MsgMemoryUpdate, log[0].Type)
	assert.Equal(t, 1, c.Stats().MessagesLogged)
}

func TestExchangeData(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	require.NoError(t, c.ExchangeData("infra", "dev", map[string]int{"tasks": 3}))
	pending := c.Pending()
	require.Len(t, pending, 2)
	assert.Equal(t, MsgDataExchange, pending[0].Type)
	assert.Equal(t, MsgAck, pending[1].Type)
	assert.Equal(t, pending[0].ID, pending[1].Payload.(Ack).Ref)

	c.ProcessMessages()
	assert.Equal(t, 1, c.Channels()[0].Exchanges)
	assert.Equal(t, 1, c.Stats().Acks)

	assert.ErrorIs(t, c.ExchangeData("infra", "nope", nil), ErrUnknownSwarm)
}

func TestEmergencyProtocol(t *testing.T) {
	cfg := testConfig()
	cfg.EmergencyLockTTL = 50 * time.Millisecond
	c := New(cfg)
	fleet := swarm.NewFleet()
	for id, eff := range map[string]float64{"infra": 40, "dev": 100, "analytics": 90, "ops": 60} {
		s := newSwarm(id)
		s.SetEfficiency(eff)
		fleet.Add(s)
		c.RegisterSwarm(s)
	}
	require.NoError(t, c.StartCoordination(context.Background(), fleet))
	t.Cleanup(c.Stop)

	var mu sync.Mutex
	broadcasts := 0
	c.Events().Subscribe(func(e events.Event) {
		if e.Type == events.EmergencyBroadcast {
			mu.Lock()
			broadcasts++
			mu.Unlock()
		}
	})

	c.RaiseEmergency("infra", "database down")
	c.RunMinorCycle()

	mu.Lock()
	assert.Equal(t, 3, broadcasts)
	mu.Unlock()

	lock, ok := c.Lock("emergency")
	require.True(t, ok)
	assert.Equal(t, "infra", lock.Holder)

	reqs := pendingOfType(c, MsgEmergencyAssistance)
	require.Len(t, reqs, 2)
	assert.Empty(t, pendingOfType(c, MsgAssistanceRequest))
	assert.Equal(t, "dev", reqs[0].To)
	assert.Equal(t, "analytics", reqs[1].To)
	for _, r := range reqs {
		assert.Equal(t, PriorityCritical, r.Priority)
		req := r.Payload.(ResourceRequest)
		assert.InDelta(t, 2.0, req.Amount, 1e-9)
		assert.Equal(t, 5*time.Second, req.Duration)
	}

	logs, _ := c.Memory(SegErrorLogs)
	assert.Len(t, logs.Data[string(MsgEmergencyBroadcast)], 3)

	assert.Eventually(t, func() bool {
		_, held := c.Lock("emergency")
		return !held
	}, time.Second, 10*time.Millisecond)
}

func TestMinorCycleFlushesUrgentOnly(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	require.NoError(t, c.ExchangeData("infra", "dev", "x"))
	c.Send("infra", "dev", MsgInsightShare, Insight{Topic: "latency"}, PriorityHigh)
	c.RunMinorCycle()

	pending := c.Pending()
	require.Len(t, pending, 3, "two normal messages kept plus one propagation")
	assert.Equal(t, MsgDataExchange, pending[0].Type)
	assert.Equal(t, MsgAck, pending[1].Type)
	assert.Equal(t, MsgInsightPropagation, pending[2].Type)
}

func TestMinorCycleUpdatesHealth(t *testing.T) {
	c, fleet := setup(t, "infra")
	infra := get(t, fleet, "infra")
	id, _ := infra.FirstAgent()
	_, err := infra.FailAgent(id, time.Now())
	require.NoError(t, err)

	c.RunMinorCycle()
	assert.InDelta(t, 0.0, infra.Metrics().Health, 1e-9)
}

func TestMemoryVersionIncreases(t *testing.T) {
	c, _ := setup(t, "infra")

	before, _ := c.Memory(SegTaskRegistry)
	v1, ok := c.WriteMemory(SegTaskRegistry, "k", 1)
	require.True(t, ok)
	v2, _ := c.WriteMemory(SegTaskRegistry, "k", 2)
	assert.Greater(t, v1, before.Version)
	assert.Greater(t, v2, v1)

	_, ok = c.WriteMemory("nope", "k", 1)
	assert.False(t, ok)
}

func TestSyncGlobalMetricsNotifiesSwarms(t *testing.T) {
	c, _ := setup(t, "infra", "dev")

	c.RunMajorCycle()
	notes := pendingOfType(c, MsgMemoryUpdate)
	require.Len(t, notes, 2)

	drain(c)
	seg, _ := c.Memory(SegPerformanceMetrics)
	gm, ok := seg.Data["global"].(GlobalMetrics)
	require.True(t, ok)
	assert.InDelta(t, 100.0, gm.AverageEfficiency, 1e-9)
}

func TestCollaborationRequestAboveBar(t *testing.T) {
	c := New(testConfig())
	infra := newSwarm("infra")
	dev := newSwarm("dev", "golang", "testing")
	fleet := swarm.NewFleet(infra, dev)
	require.NoError(t, c.StartCoordination(context.Background(), fleet))
	t.Cleanup(c.Stop)

	infra.AddTasks(
		swarm.Task{ID: "c1", Type: "build", Priority: swarm.PriorityHigh, Complexity: "high", RequiredCapabilities: []string{"golang", "testing"}},
		swarm.Task{ID: "c2", Type: "build", Priority: swarm.PriorityLow, RequiresCollaboration: true},
	)

	c.RunMajorCycle()
	c.RunMajorCycle()

	reqs := pendingOfType(c, MsgCollaborationRequest)
	require.Len(t, reqs, 1)
	assert.Equal(t, "dev", reqs[0].To)
	req := reqs[0].Payload.(CollaborationRequest)
	assert.Equal(t, "c1", req.Task.ID)
	assert.InDelta(t, 1.0, req.Score, 1e-9)
}

func TestCollaborationScore(t *testing.T) {
	partner := newSwarm("dev", "golang")
	partner.SetEfficiency(50)
	task := swarm.Task{RequiredCapabilities: []string{"golang", "rust"}}
	// 0.5×0.5 + 0.3×0.5 + 0.2×1
	assert.InDelta(t, 0.6, CollaborationScore(task, partner), 1e-9)
}

func TestCollectGlobalInsights(t *testing.T) {
	c, fleet := setup(t, "infra", "dev", "analytics")
	get(t, fleet, "analytics").SetEfficiency(40)
	for _, id := range []string{"infra", "dev"} {
		s := get(t, fleet, id)
		s.AssignTasks([]swarm.Task{{ID: id + "-t", Priority: swarm.PriorityMedium}}, time.Now())
	}

	in := c.CollectGlobalInsights(fleet)
	require.Len(t, in.Swarms, 3)
	assert.Len(t, in.Swarms[0].TopAgents, 1)
	assert.Equal(t, BottleneckUtilization, in.Swarms[0].Bottlenecks[0].Type)
	assert.Empty(t, in.Swarms[2].Bottlenecks)

	types := map[string]bool{}
	for _, p := range in.Patterns {
		types[p.Type] = true
	}
	assert.True(t, types["efficiency-variance"])
	assert.True(t, types["common-bottleneck"])
	assert.Len(t, in.Recommendations, len(in.Patterns))
}

func TestCollectGlobalInsightsEmpty(t *testing.T) {
	c := New(testConfig())
	in := c.CollectGlobalInsights(nil)
	assert.Empty(t, in.Swarms)
	assert.Empty(t, in.Patterns)
	assert.NotNil(t, in.Recommendations)
}

func TestEmergencyShutdownReturnsState(t *testing.T) {
	c, fleet := setup(t, "infra", "dev")
	require.NoError(t, c.ExchangeData("infra", "dev", "x"))

	state := c.EmergencyShutdown(fleet)
	assert.False(t, c.IsActive())
	assert.Len(t, state.Swarms, 2)
	assert.Len(t, state.PendingMessages, 2)
	assert.Contains(t, state.SharedMemory, SegErrorLogs)
	assert.Len(t, state.SharedMemory[SegErrorLogs].Data["shutdown"], 2)
}

func TestLoopSurvivesPanic(t *testing.T) {
	calls := 0
	assert.NotPanics(t, func() {
		guard("test", func() {
			calls++
			panic("boom")
		})
	})
	assert.Equal(t, 1, calls)
}
