// Package status derives a negotiation's display status from its stored state.
//
// This is the only place the derivation exists. Handlers and any future
// consumers call Resolve instead of re-deriving from raw timestamps.
package status

import (
	"time"

	"github.com/chasef07/marketplace/pkg/models"
)

// DefaultTTL is how long an active negotiation with no offers stays pending
// before it reads as expired.
const DefaultTTL = 72 * time.Hour

// Resolve computes the derived status for a negotiation and its offers. It is
// pure: it never mutates its inputs and never touches the store. Offers must
// be ordered oldest first, as returned by the store.
func Resolve(n *models.Negotiation, offers []models.Offer, now time.Time, ttl time.Duration) models.DerivedStatus {
	switch n.Status {
	case models.NegotiationStatusCompleted:
		return models.DerivedStatusAccepted
	case models.NegotiationStatusCancelled:
		return models.DerivedStatusDeclined
	case models.NegotiationStatusBuyerAccepted, models.NegotiationStatusDealPending:
		// Callers distinguish the sub-phase via Negotiation.Status directly.
		return models.DerivedStatusAccepted
	}

	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if len(offers) == 0 && now.Sub(n.UpdatedAt) > ttl {
		return models.DerivedStatusExpired
	}

	lastBuyer := lastOfferBy(offers, models.OfferTypeBuyer)
	lastSeller := lastOfferBy(offers, models.OfferTypeSeller)
	if lastBuyer != nil && lastSeller != nil && lastSeller.CreatedAt.After(lastBuyer.CreatedAt) {
		// The seller has an unanswered counter outstanding.
		return models.DerivedStatusSuperseded
	}

	return models.DerivedStatusPending
}

func lastOfferBy(offers []models.Offer, side models.OfferType) *models.Offer {
	for i := len(offers) - 1; i >= 0; i-- {
		if offers[i].OfferType == side {
			return &offers[i]
		}
	}
	return nil
}

// LatestOffer returns the most recent offer, or nil when none exist.
func LatestOffer(offers []models.Offer) *models.Offer {
	if len(offers) == 0 {
		return nil
	}
	return &offers[len(offers)-1]
}
