package coordinator

import (
	"time"

	"github.com/google/uuid"

	"github.com/mtzanidakis/swarmlab/internal/swarm"
)

type MessageType string

const (
	MsgConsensusProposal    MessageType = "consensus-proposal"
	MsgResourceRequest      MessageType = "resource-request"
	MsgInsightShare         MessageType = "insight-share"
	MsgCoordinationUpdate   MessageType = "coordination-update"
	MsgEmergency            MessageType = "emergency"
	MsgDataExchange         MessageType = "data-exchange"
	MsgAck                  MessageType = "ack"
	MsgVoteRequest          MessageType = "vote-request"
	MsgResourceTransfer     MessageType = "resource-transfer"
	MsgInsightPropagation   MessageType = "insight-propagation"
	MsgCollaborationRequest MessageType = "collaboration-request"
	MsgConsensusDecision    MessageType = "consensus-decision"
	MsgMemoryUpdate         MessageType = "memory-update"
	MsgAssistanceRequest    MessageType = "assistance-request"
	MsgAssistanceOffer      MessageType = "assistance-offer"
	MsgSwarmTimeout         MessageType = "swarm-timeout"
	MsgEmergencyBroadcast   MessageType = "emergency-broadcast"
	MsgEmergencyAssistance  MessageType = "emergency-assistance"
	MsgShutdown             MessageType = "shutdown"
)

// Reserved endpoints that are not swarm ids.
const (
	AddrCoordinator = "coordinator"
	AddrBroadcast   = "broadcast"
)

type Priority string

const (
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Urgent messages are swept out of FIFO order by the minor cycle.
func (p Priority) Urgent() bool {
	return p == PriorityHigh || p == PriorityCritical
}

// Message is the envelope on the coordinator bus. Payload holds the typed
// struct matching Type; a missing or mismatched payload is not dropped but
// logged on the pair's channel.
type Message struct {
	ID        string      `json:"id"`
	From      string      `json:"from"`
	To        string      `json:"to"`
	Type      MessageType `json:"type"`
	Payload   any         `json:"payload,omitempty"`
	Priority  Priority    `json:"priority"`
	Timestamp time.Time   `json:"timestamp"`
}

func newMessage(from, to string, typ MessageType, payload any, prio Priority) Message {
	return Message{
		ID:        uuid.New().String(),
		From:      from,
		To:        to,
		Type:      typ,
		Payload:   payload,
		Priority:  prio,
		Timestamp: time.Now(),
	}
}

// Typed payloads, one per message type that carries data.

type ProposalPayload struct {
	ID            string        `json:"id"`
	Kind          ConsensusKind `json:"kind"`
	Decision      any           `json:"decision"`
	Justification string        `json:"justification"`
}

type VoteRequest struct {
	Kind       ConsensusKind `json:"kind"`
	ProposalID string        `json:"proposal_id"`
}

type DecisionNotice struct {
	Kind     ConsensusKind `json:"kind"`
	Decision Decision      `json:"decision"`
}

type ResourceRequest struct {
	Resource string        `json:"resource"`
	Amount   float64       `json:"amount"`
	Priority Priority      `json:"priority"`
	Duration time.Duration `json:"duration"`
	Reason   string        `json:"reason,omitempty"`
}

type ResourceTransfer struct {
	Resource  string  `json:"resource"`
	Requested float64 `json:"requested"`
	Amount    float64 `json:"amount"`
	RequestID string  `json:"request_id"`
}

type AssistanceOffer struct {
	Capacity   float64 `json:"capacity"`
	Efficiency float64 `json:"efficiency"`
}

type Insight struct {
	Topic   string `json:"topic"`
	Summary string `json:"summary"`
	Data    any    `json:"data,omitempty"`
}

type CoordinationUpdate struct {
	Status  swarm.Status  `json:"status"`
	Metrics swarm.Metrics `json:"metrics"`
}

type EmergencyNotice struct {
	Source   string    `json:"source"`
	Reason   string    `json:"reason"`
	Severity string    `json:"severity"`
	At       time.Time `json:"at"`
}

type DataExchange struct {
	Data any `json:"data"`
}

type Ack struct {
	Ref      string `json:"ref"`
	Approved bool   `json:"approved"`
	Note     string `json:"note,omitempty"`
}

type CollaborationRequest struct {
	Task  swarm.Task `json:"task"`
	Score float64    `json:"score"`
}

type MemoryUpdate struct {
	Segment string `json:"segment"`
	Key     string `json:"key,omitempty"`
	Value   any    `json:"value,omitempty"`
	Version int    `json:"version"`
	// Notify marks a change notification rather than a write.
	Notify bool `json:"notify"`
}

type SwarmTimeout struct {
	SwarmID    string       `json:"swarm_id"`
	Tasks      []swarm.Task `json:"tasks"`
	LastSeen   time.Time    `json:"last_seen"`
	ReceivedBy string       `json:"received_by"`
}

type ShutdownNotice struct {
	Reason string `json:"reason"`
}
