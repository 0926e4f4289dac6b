package coordinator

import (
	"fmt"
	"log/slog"
	"maps"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/swarmlab/internal/events"
)

type ConsensusKind string

const (
	KindTaskAllocation    ConsensusKind = "task-allocation"
	KindResourceSharing   ConsensusKind = "resource-sharing"
	KindPriorityDecisions ConsensusKind = "priority-decisions"
)

var consensusKinds = []ConsensusKind{KindTaskAllocation, KindResourceSharing, KindPriorityDecisions}

// algorithmTag is advisory. The protocol is a simple majority among voters
// once a participation quorum is reached; there is no signature checking and
// the first vote from a swarm wins.
const algorithmTag = "byzantine-fault-tolerant"

type Protocol struct {
	Kind         ConsensusKind
	Algorithm    string
	Participants map[string]bool
	Proposals    []*Proposal
	Decisions    []Decision
}

type Proposal struct {
	ID            string          `json:"id"`
	SwarmID       string          `json:"swarm_id"`
	Decision      any             `json:"decision"`
	Justification string          `json:"justification"`
	Timestamp     time.Time       `json:"timestamp"`
	Votes         map[string]bool `json:"votes"`
	Decided       bool            `json:"decided"`
	Outcome       *Decision       `json:"outcome,omitempty"`
}

type Decision struct {
	ProposalID string    `json:"proposal_id"`
	Approved   bool      `json:"approved"`
	Yes        int       `json:"yes"`
	No         int       `json:"no"`
	Quorum     int       `json:"quorum"`
	Voters     int       `json:"voters"`
	DecidedAt  time.Time `json:"decided_at"`
}

type ProtocolSnapshot struct {
	Kind         ConsensusKind `json:"kind"`
	Algorithm    string        `json:"algorithm"`
	Participants int           `json:"participants"`
	Proposals    []Proposal    `json:"proposals"`
	Decisions    []Decision    `json:"decisions"`
}

func (c *Coordinator) initProtocols() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, kind := range consensusKinds {
		if _, ok := c.protocols[kind]; ok {
			continue
		}
		p := &Protocol{
			Kind:         kind,
			Algorithm:    algorithmTag,
			Participants: make(map[string]bool),
		}
		for _, s := range c.swarms.List() {
			p.Participants[s.ID] = true
		}
		c.protocols[kind] = p
	}
}

// Quorum is ceil(n × ratio), at least 1.
func Quorum(n int, ratio float64) int {
	q := int(math.Ceil(float64(n)*ratio - 1e-9))
	return max(q, 1)
}

// Propose queues a consensus proposal from swarmID and returns its id.
// Processing it records the proposal and sends a vote request to every other
// swarm.
func (c *Coordinator) Propose(kind ConsensusKind, swarmID string, decision any, justification string) (string, error) {
	if _, ok := c.swarms.Get(swarmID); !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownSwarm, swarmID)
	}
	id := uuid.New().String()
	c.Send(swarmID, AddrCoordinator, MsgConsensusProposal, ProposalPayload{
		ID:            id,
		Kind:          kind,
		Decision:      decision,
		Justification: justification,
	}, PriorityNormal)
	return id, nil
}

// Vote records swarmID's vote. Only the first vote of a swarm counts.
func (c *Coordinator) Vote(kind ConsensusKind, proposalID, swarmID string, approve bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.findProposalLocked(kind, proposalID)
	if p == nil {
		return fmt.Errorf("%w: %s", ErrUnknownProposal, proposalID)
	}
	if p.Decided {
		return ErrProposalDecided
	}
	if _, voted := p.Votes[swarmID]; voted {
		return fmt.Errorf("%w: %s", ErrAlreadyVoted, swarmID)
	}
	p.Votes[swarmID] = approve
	return nil
}

func (c *Coordinator) findProposalLocked(kind ConsensusKind, id string) *Proposal {
	proto, ok := c.protocols[kind]
	if !ok {
		return nil
	}
	for _, p := range proto.Proposals {
		if p.ID == id {
			return p
		}
	}
	return nil
}

func (c *Coordinator) handleProposal(msg Message, pl ProposalPayload) {
	c.mu.Lock()
	proto, ok := c.protocols[pl.Kind]
	if !ok {
		c.mu.Unlock()
		slog.Warn("proposal for unknown consensus kind", "kind", pl.Kind, "swarm", msg.From)
		c.logOnChannel(msg)
		return
	}
	proto.Proposals = append(proto.Proposals, &Proposal{
		ID:            pl.ID,
		SwarmID:       msg.From,
		Decision:      pl.Decision,
		Justification: pl.Justification,
		Timestamp:     msg.Timestamp,
		Votes:         make(map[string]bool),
	})
	c.mu.Unlock()

	for _, s := range c.swarms.List() {
		if s.ID == msg.From {
			continue
		}
		c.Send(AddrCoordinator, s.ID, MsgVoteRequest, VoteRequest{Kind: pl.Kind, ProposalID: pl.ID}, PriorityNormal)
	}
}

// handleVoteRequest lets the addressed swarm vote: it approves while its own
// efficiency is at least 50.
func (c *Coordinator) handleVoteRequest(msg Message, req VoteRequest) {
	s, ok := c.swarms.Get(msg.To)
	if !ok {
		c.logOnChannel(msg)
		return
	}
	approve := s.Efficiency() >= 50
	if err := c.Vote(req.Kind, req.ProposalID, s.ID, approve); err != nil {
		slog.Debug("vote skipped", "swarm", s.ID, "proposal", req.ProposalID, "error", err)
	}
}

// settleConsensus decides every open proposal that reached quorum.
func (c *Coordinator) settleConsensus() {
	total := c.swarms.Len()
	quorum := Quorum(total, c.cfg.QuorumRatio)
	now := time.Now()

	type decided struct {
		kind ConsensusKind
		d    Decision
	}
	var out []decided

	c.mu.Lock()
	for _, kind := range consensusKinds {
		proto, ok := c.protocols[kind]
		if !ok {
			continue
		}
		for _, p := range proto.Proposals {
			if p.Decided || len(p.Votes) < quorum {
				continue
			}
			yes, no := 0, 0
			for _, v := range p.Votes {
				if v {
					yes++
				} else {
					no++
				}
			}
			d := Decision{
				ProposalID: p.ID,
				Approved:   yes > no,
				Yes:        yes,
				No:         no,
				Quorum:     quorum,
				Voters:     len(p.Votes),
				DecidedAt:  now,
			}
			p.Decided = true
			p.Outcome = &d
			proto.Decisions = append(proto.Decisions, d)
			c.stats.Decisions++
			out = append(out, decided{kind: kind, d: d})
		}
	}
	c.mu.Unlock()

	for _, o := range out {
		slog.Info("consensus reached", "kind", o.kind, "proposal", o.d.ProposalID, "approved", o.d.Approved, "yes", o.d.Yes, "no", o.d.No)
		for _, s := range c.swarms.List() {
			c.Send(AddrCoordinator, s.ID, MsgConsensusDecision, DecisionNotice{Kind: o.kind, Decision: o.d}, PriorityNormal)
		}
		c.events.Emit(events.ConsensusDecided, o.d)
	}
}

func (c *Coordinator) handleDecision(msg Message, n DecisionNotice) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegGlobalInsights].write("decision:"+n.Decision.ProposalID+":"+msg.To, n.Decision.Approved, time.Now())
}

// Protocol returns a copy of the named consensus protocol.
func (c *Coordinator) Protocol(kind ConsensusKind) (ProtocolSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.protocols[kind]
	if !ok {
		return ProtocolSnapshot{}, false
	}
	snap := ProtocolSnapshot{
		Kind:         p.Kind,
		Algorithm:    p.Algorithm,
		Participants: len(p.Participants),
		Proposals:    make([]Proposal, 0, len(p.Proposals)),
		Decisions:    append([]Decision(nil), p.Decisions...),
	}
	for _, pr := range p.Proposals {
		cp := *pr
		cp.Votes = maps.Clone(pr.Votes)
		snap.Proposals = append(snap.Proposals, cp)
	}
	return snap, true
}
