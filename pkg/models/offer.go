package models

import "time"

// OfferType identifies which party authored an offer.
type OfferType string

const (
	OfferTypeBuyer  OfferType = "buyer"
	OfferTypeSeller OfferType = "seller"
)

// Opposite returns the other side of the table.
func (t OfferType) Opposite() OfferType {
	if t == OfferTypeBuyer {
		return OfferTypeSeller
	}
	return OfferTypeBuyer
}

// Offer is an immutable priced proposal within a negotiation. Offers are only
// ever appended; a revised price is a new row. RoundNumber is assigned by the
// engine under the version-guarded write and is gap-free from 1.
type Offer struct {
	ID             string    `json:"id" db:"id"`
	NegotiationID  string    `json:"negotiation_id" db:"negotiation_id"`
	OfferType      OfferType `json:"offer_type" db:"offer_type"`
	Price          float64   `json:"price" db:"price"`
	Message        *string   `json:"message,omitempty" db:"message"`
	RoundNumber    int       `json:"round_number" db:"round_number"`
	IsCounterOffer bool      `json:"is_counter_offer" db:"is_counter_offer"`
	AgentGenerated bool      `json:"agent_generated" db:"agent_generated"`
	CreatedAt      time.Time `json:"created_at" db:"created_at"`
}
