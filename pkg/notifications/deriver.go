// Package notifications turns negotiation transitions into per-recipient
// notification payloads and stores them in a deduplicated feed. Delivery
// transport (push, email) is out of scope; clients poll the feed.
package notifications

import (
	"github.com/chasef07/marketplace/pkg/models"
)

// Derive converts one transition into the notifications it implies. Pure: the
// same transition always yields the same payloads, and the feed's dedup key
// (recipient, kind, negotiation, offer) makes replays harmless.
func Derive(t models.Transition) []models.Notification {
	n := t.Negotiation
	switch t.Kind {
	case models.TransitionOfferSubmitted:
		if t.Offer == nil || !t.Offer.AgentGenerated {
			// Human offers surface through the negotiation views; only the
			// agent's counters get an out-of-band nudge.
			return nil
		}
		return []models.Notification{{
			Recipient:     n.BuyerID,
			Kind:          models.NotificationAgentCounterReceived,
			NegotiationID: n.ID,
			OfferID:       t.Offer.ID,
			OfferPrice:    t.Offer.Price,
			Reasoning:     t.Offer.Message,
			CreatedAt:     t.OccurredAt,
		}}

	case models.TransitionBuyerAccepted, models.TransitionDealPending:
		if t.Offer == nil {
			return nil
		}
		// Notify the accepted offer's author that the other side accepted.
		recipient := n.SellerID
		if t.Offer.OfferType == models.OfferTypeBuyer {
			recipient = n.BuyerID
		}
		if recipient == t.ActorID {
			return nil
		}
		return []models.Notification{{
			Recipient:     recipient,
			Kind:          models.NotificationOfferAccepted,
			NegotiationID: n.ID,
			OfferID:       t.Offer.ID,
			OfferPrice:    t.Offer.Price,
			CreatedAt:     t.OccurredAt,
		}}

	case models.TransitionCancelled:
		if t.Offer == nil {
			return nil
		}
		// The party that did not cancel learns their negotiation is dead.
		recipient := n.BuyerID
		if t.ActorID == n.BuyerID {
			recipient = n.SellerID
		}
		return []models.Notification{{
			Recipient:     recipient,
			Kind:          models.NotificationOfferDeclined,
			NegotiationID: n.ID,
			OfferID:       t.Offer.ID,
			OfferPrice:    t.Offer.Price,
			Reasoning:     t.Reason,
			CreatedAt:     t.OccurredAt,
		}}
	}
	return nil
}
