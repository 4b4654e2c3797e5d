package models

import "time"

// NotificationKind classifies a derived notification payload.
type NotificationKind string

const (
	NotificationAgentCounterReceived NotificationKind = "agent_counter_received"
	NotificationOfferAccepted        NotificationKind = "offer_accepted"
	NotificationOfferDeclined        NotificationKind = "offer_declined"
)

// Notification is the payload derived from a negotiation transition. Its
// identity is (NegotiationID, OfferID, Recipient); the feed deduplicates on it.
type Notification struct {
	Recipient     string           `json:"recipient"`
	Kind          NotificationKind `json:"kind"`
	NegotiationID string           `json:"negotiation_id"`
	OfferID       string           `json:"offer_id"`
	OfferPrice    float64          `json:"offer_price"`
	Reasoning     *string          `json:"reasoning,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}
