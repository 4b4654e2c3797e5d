// Package agent is the seller-side decision port: given the state of a
// negotiation, produce an accept/decline/counter/wait decision. Implementations
// range from the deterministic rule decider to an LLM-backed one; the engine
// only sees the port.
package agent

import (
	"context"

	"github.com/chasef07/marketplace/pkg/models"
)

// Input is everything a decider may consider. Offers are ordered oldest
// first and always end with the buyer offer being evaluated.
type Input struct {
	Item        models.Item
	Negotiation models.Negotiation
	Offers      []models.Offer
	BuyerOffer  models.Offer
}

// Decision is a decider's verdict. CounterPrice is required for COUNTER
// outcomes and ignored otherwise.
type Decision struct {
	Type         models.AgentDecisionType
	CounterPrice *float64
	Reasoning    string
	Confidence   float64
}

// DecisionPort evaluates a buyer offer on the seller's behalf.
type DecisionPort interface {
	Decide(ctx context.Context, in Input) (*Decision, error)
}
