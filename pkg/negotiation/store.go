// Package negotiation owns the offer-exchange lifecycle: the store contract,
// the transition rules, and the optimistic-concurrency control around them.
package negotiation

import (
	"context"

	"github.com/chasef07/marketplace/pkg/models"
)

// Store is the durable, append-only record of negotiations and their offers.
// Conditional writes take the expected negotiation version and return
// ErrConflict on a mismatch; that conflict return is the basis of the
// engine's optimistic concurrency.
type Store interface {
	// CreateNegotiation persists a new negotiation. Returns
	// ErrAlreadyNegotiating when the (item, buyer) pair already has an open
	// one; callers route to the existing negotiation instead.
	CreateNegotiation(ctx context.Context, n *models.Negotiation) error

	// GetNegotiation returns the negotiation including its current version.
	GetNegotiation(ctx context.Context, id string) (*models.Negotiation, error)

	// FindOpenNegotiation returns the open negotiation for the (item, buyer)
	// pair, or nil when none exists.
	FindOpenNegotiation(ctx context.Context, itemID, buyerID string) (*models.Negotiation, error)

	// ListNegotiationsByUser returns every negotiation the user is a party
	// to, newest first.
	ListNegotiationsByUser(ctx context.Context, userID string) ([]models.Negotiation, error)

	// ListOpenNegotiationsByItem returns the item's open negotiations.
	ListOpenNegotiationsByItem(ctx context.Context, itemID string) ([]models.Negotiation, error)

	// GetOffers returns the negotiation's offers, oldest first.
	GetOffers(ctx context.Context, negotiationID string) ([]models.Offer, error)

	// AppendOffer atomically appends an offer, assigning the next round
	// number and bumping the negotiation version. It fails with ErrNotActive
	// when the negotiation is not active and ErrConflict when
	// expectedVersion no longer matches. The offer's RoundNumber,
	// IsCounterOffer and CreatedAt are assigned by the store.
	AppendOffer(ctx context.Context, negotiationID string, expectedVersion int, offer *models.Offer) (*models.Offer, error)

	// UpdateNegotiationStatus conditionally moves the negotiation to
	// newStatus, returning ErrConflict on a version mismatch. finalPrice is
	// recorded when non-nil.
	UpdateNegotiationStatus(ctx context.Context, id string, expectedVersion int, newStatus models.NegotiationStatus, finalPrice *float64) (*models.Negotiation, error)

	// CreateAgentDecision records an agent evaluation for audit.
	CreateAgentDecision(ctx context.Context, d *models.AgentDecision) error

	// GetItem returns the item a negotiation is about.
	GetItem(ctx context.Context, itemID string) (*models.Item, error)

	// UpdateItemStatus updates the listing state the engine owns.
	UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus) error
}
