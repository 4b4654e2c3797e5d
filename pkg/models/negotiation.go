// Package models contains the shared domain types for the negotiation service.
package models

import (
	"time"
)

// NegotiationStatus is the persisted lifecycle state of a negotiation.
type NegotiationStatus string

const (
	NegotiationStatusActive        NegotiationStatus = "active"
	NegotiationStatusBuyerAccepted NegotiationStatus = "buyer_accepted"
	NegotiationStatusDealPending   NegotiationStatus = "deal_pending"
	NegotiationStatusCompleted     NegotiationStatus = "completed"
	NegotiationStatusCancelled     NegotiationStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transitions.
func (s NegotiationStatus) IsTerminal() bool {
	return s == NegotiationStatusCompleted || s == NegotiationStatusCancelled
}

// IsOpen reports whether the negotiation still occupies its (item, buyer) slot.
func (s NegotiationStatus) IsOpen() bool {
	return s == NegotiationStatusActive || s == NegotiationStatusBuyerAccepted || s == NegotiationStatusDealPending
}

// Negotiation is the lifecycle record for one buyer's offer exchange with one
// seller over one item. Version is the optimistic-concurrency token; every
// state-changing write is conditional on it.
type Negotiation struct {
	ID          string            `json:"id" db:"id"`
	ItemID      string            `json:"item_id" db:"item_id"`
	BuyerID     string            `json:"buyer_id" db:"buyer_id"`
	SellerID    string            `json:"seller_id" db:"seller_id"`
	Status      NegotiationStatus `json:"status" db:"status"`
	RoundNumber int               `json:"round_number" db:"round_number"`
	MaxRounds   int               `json:"max_rounds" db:"max_rounds"`
	FinalPrice  *float64          `json:"final_price,omitempty" db:"final_price"`
	Version     int               `json:"version" db:"version"`
	CreatedAt   time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at" db:"updated_at"`
}

// PartyOf returns the side a user plays in the negotiation, or "" for outsiders.
func (n *Negotiation) PartyOf(userID string) OfferType {
	switch userID {
	case n.BuyerID:
		return OfferTypeBuyer
	case n.SellerID:
		return OfferTypeSeller
	}
	return ""
}

// NegotiationView is a negotiation decorated with derived, read-only state for
// API responses. DerivedStatus is recomputed on every read and never persisted.
type NegotiationView struct {
	Negotiation
	DerivedStatus DerivedStatus `json:"derived_status"`
	LatestOffer   *Offer        `json:"latest_offer,omitempty"`
}

// DerivedStatus is the read-time classification of a negotiation.
type DerivedStatus string

const (
	DerivedStatusPending    DerivedStatus = "pending"
	DerivedStatusAccepted   DerivedStatus = "accepted"
	DerivedStatusDeclined   DerivedStatus = "declined"
	DerivedStatusSuperseded DerivedStatus = "superseded"
	DerivedStatusExpired    DerivedStatus = "expired"
)
