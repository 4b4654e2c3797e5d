package models

import "time"

// TransitionKind identifies what just happened to a negotiation.
type TransitionKind string

const (
	TransitionOfferSubmitted TransitionKind = "offer_submitted"
	TransitionBuyerAccepted  TransitionKind = "buyer_accepted"
	TransitionDealPending    TransitionKind = "deal_pending"
	TransitionCompleted      TransitionKind = "completed"
	TransitionCancelled      TransitionKind = "cancelled"
	TransitionAgentDecision  TransitionKind = "agent_decision"
)

// Transition is the engine's record of one applied state change. It carries
// everything downstream consumers (notifications, events) need without
// re-reading the store.
type Transition struct {
	Kind        TransitionKind `json:"kind"`
	Negotiation Negotiation    `json:"negotiation"`
	Offer       *Offer         `json:"offer,omitempty"`
	Decision    *AgentDecision `json:"decision,omitempty"`
	Reason      *string        `json:"reason,omitempty"`
	ActorID     string         `json:"actor_id"`
	OccurredAt  time.Time      `json:"occurred_at"`
}
