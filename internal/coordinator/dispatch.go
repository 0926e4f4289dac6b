package coordinator

import (
	"log/slog"
	"time"

	"github.com/mtzanidakis/swarmlab/internal/events"
	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

// efficiencyPerUnit is the efficiency a swarm gains per transferred resource
// unit.
const efficiencyPerUnit = 5.0

// transferRatio is the share of a request a donor actually sends, keeping
// headroom for itself.
const transferRatio = 0.8

// approvalFloor is the efficiency a donor needs to approve a request.
const approvalFloor = 50.0

// processMessages dispatches up to one batch of the oldest messages.
func (c *Coordinator) processMessages() {
	for _, msg := range c.queue.DequeueBatch(c.cfg.MessageBatch) {
		c.dispatch(msg)
	}
}

// dispatch routes msg to its handler. Unknown types, and known types with a
// payload of the wrong shape, are logged on the pair's channel.
func (c *Coordinator) dispatch(msg Message) {
	handled := true
	switch msg.Type {
	case MsgConsensusProposal:
		if pl, ok := msg.Payload.(ProposalPayload); ok {
			c.handleProposal(msg, pl)
		} else {
			handled = false
		}
	case MsgVoteRequest:
		if pl, ok := msg.Payload.(VoteRequest); ok {
			c.handleVoteRequest(msg, pl)
		} else {
			handled = false
		}
	case MsgConsensusDecision:
		if pl, ok := msg.Payload.(DecisionNotice); ok {
			c.handleDecision(msg, pl)
		} else {
			handled = false
		}
	case MsgResourceRequest, MsgAssistanceRequest, MsgEmergencyAssistance:
		if pl, ok := msg.Payload.(ResourceRequest); ok {
			c.handleResourceRequest(msg, pl)
		} else {
			handled = false
		}
	case MsgResourceTransfer:
		if pl, ok := msg.Payload.(ResourceTransfer); ok {
			c.handleResourceTransfer(msg, pl)
		} else {
			handled = false
		}
	case MsgAssistanceOffer:
		if pl, ok := msg.Payload.(AssistanceOffer); ok {
			c.handleAssistanceOffer(msg, pl)
		} else {
			handled = false
		}
	case MsgInsightShare:
		if pl, ok := msg.Payload.(Insight); ok {
			c.handleInsightShare(msg, pl)
		} else {
			handled = false
		}
	case MsgInsightPropagation:
		if pl, ok := msg.Payload.(Insight); ok {
			c.handleInsightPropagation(msg, pl)
		} else {
			handled = false
		}
	case MsgCoordinationUpdate:
		if pl, ok := msg.Payload.(CoordinationUpdate); ok {
			c.handleCoordinationUpdate(msg, pl)
		} else {
			handled = false
		}
	case MsgEmergency:
		if pl, ok := msg.Payload.(EmergencyNotice); ok {
			c.handleEmergency(msg, pl)
		} else {
			handled = false
		}
	case MsgEmergencyBroadcast:
		if pl, ok := msg.Payload.(EmergencyNotice); ok {
			c.recordEmergency(msg, pl)
		} else {
			handled = false
		}
	case MsgDataExchange:
		if pl, ok := msg.Payload.(DataExchange); ok {
			c.handleDataExchange(msg, pl)
		} else {
			handled = false
		}
	case MsgAck:
		if _, ok := msg.Payload.(Ack); ok {
			c.mu.Lock()
			c.stats.Acks++
			c.mu.Unlock()
		} else {
			handled = false
		}
	case MsgCollaborationRequest:
		if pl, ok := msg.Payload.(CollaborationRequest); ok {
			c.handleCollaboration(msg, pl)
		} else {
			handled = false
		}
	case MsgMemoryUpdate:
		if pl, ok := msg.Payload.(MemoryUpdate); ok {
			c.handleMemoryUpdate(msg, pl)
		} else {
			handled = false
		}
	case MsgSwarmTimeout:
		if pl, ok := msg.Payload.(SwarmTimeout); ok {
			c.handleSwarmTimeout(msg, pl)
		} else {
			handled = false
		}
	case MsgShutdown:
		if pl, ok := msg.Payload.(ShutdownNotice); ok {
			c.handleShutdown(msg, pl)
		} else {
			handled = false
		}
	default:
		handled = false
	}

	if !handled {
		c.logOnChannel(msg)
	}

	c.mu.Lock()
	c.stats.MessagesProcessed++
	c.mu.Unlock()
	c.events.Emit(events.MessageProcessed, map[string]any{
		"id":      msg.ID,
		"type":    msg.Type,
		"from":    msg.From,
		"to":      msg.To,
		"handled": handled,
	})
}

// handleResourceRequest approves only while the donor's efficiency is above
// approvalFloor and then sends transferRatio of the requested amount.
func (c *Coordinator) handleResourceRequest(msg Message, req ResourceRequest) {
	donor, ok := c.swarms.Get(msg.To)
	if !ok {
		c.logOnChannel(msg)
		return
	}
	if donor.Efficiency() <= approvalFloor {
		c.Send(donor.ID, msg.From, MsgAck, Ack{Ref: msg.ID, Approved: false, Note: "insufficient efficiency"}, PriorityNormal)
		return
	}
	c.Send(donor.ID, msg.From, MsgResourceTransfer, ResourceTransfer{
		Resource:  req.Resource,
		Requested: req.Amount,
		Amount:    req.Amount * transferRatio,
		RequestID: msg.ID,
	}, msg.Priority)
}

func (c *Coordinator) handleResourceTransfer(msg Message, tr ResourceTransfer) {
	if s, ok := c.swarms.Get(msg.To); ok {
		eff := s.AdjustEfficiency(tr.Amount * efficiencyPerUnit)
		slog.Debug("resources received", "swarm", s.ID, "from", msg.From, "amount", tr.Amount, "efficiency", eff)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.transfers = append(c.transfers, tr)
	c.stats.Transfers++
	pool := c.memory[SegResourcePool]
	received, _ := pool.Data["received:"+msg.To].(float64)
	pool.write("received:"+msg.To, received+tr.Amount, time.Now())
}

func (c *Coordinator) handleAssistanceOffer(msg Message, offer AssistanceOffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegResourcePool].write("offer:"+msg.From+":"+msg.To, offer, time.Now())
}

func (c *Coordinator) handleInsightShare(msg Message, in Insight) {
	c.mu.Lock()
	c.memory[SegGlobalInsights].write(msg.From+":"+in.Topic, in, time.Now())
	c.mu.Unlock()

	for _, s := range c.swarms.List() {
		if s.ID == msg.From {
			continue
		}
		c.Send(msg.From, s.ID, MsgInsightPropagation, in, PriorityNormal)
	}
}

func (c *Coordinator) handleInsightPropagation(msg Message, in Insight) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg := c.memory[SegGlobalInsights]
	n, _ := seg.Data["propagated:"+msg.To].(int)
	seg.write("propagated:"+msg.To, n+1, time.Now())
}

func (c *Coordinator) handleCoordinationUpdate(msg Message, u CoordinationUpdate) {
	if err := c.Heartbeat(msg.From); err != nil {
		c.logOnChannel(msg)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegPerformanceMetrics].write("update:"+msg.From, u.Metrics, time.Now())
}

func (c *Coordinator) handleDataExchange(msg Message, ex DataExchange) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ensureChannelLocked(msg.From, msg.To)
	ch := c.channels[channelKey(msg.From, msg.To)]
	ch.Exchanges++
	ch.LastExchange = ex.Data
}

func (c *Coordinator) handleCollaboration(msg Message, req CollaborationRequest) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegTaskRegistry].write("collab:"+req.Task.ID, map[string]any{
		"lead":    msg.From,
		"partner": msg.To,
		"score":   req.Score,
		"task":    req.Task.Target,
	}, time.Now())
	c.stats.Collaborations++
}

func (c *Coordinator) handleMemoryUpdate(msg Message, u MemoryUpdate) {
	c.mu.Lock()
	defer c.mu.Unlock()
	seg, ok := c.memory[u.Segment]
	if !ok {
		c.logOnChannelLocked(msg)
		return
	}
	if u.Notify {
		if u.Version > seg.Seen[msg.To] {
			seg.Seen[msg.To] = u.Version
		}
		return
	}
	seg.write(u.Key, u.Value, time.Now())
}

func (c *Coordinator) handleSwarmTimeout(msg Message, t SwarmTimeout) {
	ids := make([]string, 0, len(t.Tasks))
	for _, task := range t.Tasks {
		ids = append(ids, task.ID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegTaskRegistry].appendLocked("redistributed:"+t.SwarmID, map[string]any{
		"to":    msg.To,
		"tasks": ids,
		"at":    msg.Timestamp,
	}, time.Now())
}

func (c *Coordinator) handleShutdown(msg Message, n ShutdownNotice) {
	if s, ok := c.swarms.Get(msg.To); ok {
		slog.Info("swarm shutdown notified", "swarm", s.ID, "reason", n.Reason)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.memory[SegErrorLogs].appendLocked("shutdown", map[string]any{
		"swarm":  msg.To,
		"reason": n.Reason,
		"at":     msg.Timestamp,
	}, time.Now())
}

func isSwarmActive(s *swarm.Swarm) bool {
	return s.Status() != swarm.StatusUnresponsive
}
