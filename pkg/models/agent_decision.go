package models

import "time"

// AgentDecisionType is the outcome of a seller-agent evaluation.
type AgentDecisionType string

const (
	AgentDecisionAccept  AgentDecisionType = "ACCEPT"
	AgentDecisionDecline AgentDecisionType = "DECLINE"
	AgentDecisionCounter AgentDecisionType = "COUNTER"
	AgentDecisionWait    AgentDecisionType = "WAIT"
)

// AgentDecision is the audit record of one agent evaluation. OfferID points at
// the offer the decision produced and is nil for WAIT outcomes.
type AgentDecision struct {
	ID               string            `json:"id" db:"id"`
	NegotiationID    string            `json:"negotiation_id" db:"negotiation_id"`
	OfferID          *string           `json:"offer_id,omitempty" db:"offer_id"`
	DecisionType     AgentDecisionType `json:"decision_type" db:"decision_type"`
	Reasoning        string            `json:"reasoning" db:"reasoning"`
	Confidence       float64           `json:"confidence" db:"confidence"`
	RecommendedPrice *float64          `json:"recommended_price,omitempty" db:"recommended_price"`
	CreatedAt        time.Time         `json:"created_at" db:"created_at"`
}
