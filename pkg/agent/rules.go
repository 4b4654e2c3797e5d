package agent

import (
	"context"
	"fmt"
	"math"

	"github.com/chasef07/marketplace/pkg/models"
)

const (
	// DefaultMinimumMultiplier is the fraction of the listing price below
	// which the rule decider walks away.
	DefaultMinimumMultiplier = 0.55
	// DefaultTargetMultiplier is the fraction of the listing price the rule
	// decider is negotiating toward.
	DefaultTargetMultiplier = 0.75
)

// RuleDecider is a deterministic DecisionPort. It accepts offers near its
// target, declines lowballs below its walk-away floor, and counters toward
// the midpoint otherwise. It is the fallback when no LLM is configured and
// the fixture for engine tests.
type RuleDecider struct {
	MinimumMultiplier float64
	TargetMultiplier  float64
}

// NewRuleDecider creates a rule decider with the default multipliers.
func NewRuleDecider() *RuleDecider {
	return &RuleDecider{
		MinimumMultiplier: DefaultMinimumMultiplier,
		TargetMultiplier:  DefaultTargetMultiplier,
	}
}

func (d *RuleDecider) Decide(_ context.Context, in Input) (*Decision, error) {
	listing := in.Item.ListingPrice
	if listing <= 0 {
		return nil, fmt.Errorf("item %s has no listing price", in.Item.ID)
	}

	offer := in.BuyerOffer.Price
	minimum := listing * d.MinimumMultiplier
	target := listing * d.TargetMultiplier

	// Accept anything at or above 90% of target.
	if offer >= target*0.9 {
		return &Decision{
			Type:       models.AgentDecisionAccept,
			Reasoning:  fmt.Sprintf("offer of %.2f meets the target of %.2f", offer, target),
			Confidence: 0.9,
		}, nil
	}

	if offer < minimum {
		return &Decision{
			Type:       models.AgentDecisionDecline,
			Reasoning:  fmt.Sprintf("offer of %.2f is below the walk-away floor of %.2f", offer, minimum),
			Confidence: 0.8,
		}, nil
	}

	// Counter toward the midpoint between the buyer's offer and the last
	// price the seller put on the table (the listing price before any
	// counter exists).
	anchor := listing
	for i := len(in.Offers) - 1; i >= 0; i-- {
		if in.Offers[i].OfferType == models.OfferTypeSeller {
			anchor = in.Offers[i].Price
			break
		}
	}

	counter := roundPrice((anchor + offer) / 2)
	if counter < minimum {
		counter = roundPrice(minimum)
	}
	if counter <= offer {
		// No room left to counter; take the deal.
		return &Decision{
			Type:       models.AgentDecisionAccept,
			Reasoning:  fmt.Sprintf("offer of %.2f leaves no room to counter below %.2f", offer, anchor),
			Confidence: 0.75,
		}, nil
	}

	return &Decision{
		Type:         models.AgentDecisionCounter,
		CounterPrice: &counter,
		Reasoning:    fmt.Sprintf("countering %.2f at %.2f, holding out for %.2f", offer, counter, target),
		Confidence:   0.7,
	}, nil
}

func roundPrice(p float64) float64 {
	return math.Round(p*100) / 100
}
