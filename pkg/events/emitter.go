// Package events handles event emission for negotiation lifecycle changes
package events

import (
	"context"
	"encoding/json"

	"github.com/Gobusters/ectologger"

	"github.com/chasef07/marketplace/pkg/kafka"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/tracing"
)

// Emitter publishes negotiation transitions to the event bus. It plugs into
// the engine as a transition sink; publish failures are logged by the engine
// and never fail the originating operation.
type Emitter struct {
	producer *kafka.Producer
	logger   ectologger.Logger
}

// NewEmitter creates a new event emitter. producer may be nil, which turns
// the emitter into a no-op.
func NewEmitter(producer *kafka.Producer, logger ectologger.Logger) *Emitter {
	return &Emitter{
		producer: producer,
		logger:   logger,
	}
}

func eventType(kind models.TransitionKind) string {
	switch kind {
	case models.TransitionOfferSubmitted:
		return "negotiation.offer_submitted"
	case models.TransitionBuyerAccepted:
		return "negotiation.buyer_accepted"
	case models.TransitionDealPending:
		return "negotiation.deal_pending"
	case models.TransitionCompleted:
		return "negotiation.completed"
	case models.TransitionCancelled:
		return "negotiation.cancelled"
	case models.TransitionAgentDecision:
		return "negotiation.agent_decision"
	}
	return "negotiation.unknown"
}

// HandleTransition emits one event per applied transition.
func (e *Emitter) HandleTransition(ctx context.Context, t models.Transition) error {
	if e.producer == nil {
		return nil
	}
	ctx, span := tracing.StartSpan(ctx, "events.Emitter.HandleTransition")
	defer span.End()

	data, err := json.Marshal(t)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Error("Failed to encode transition")
		return err
	}

	event := &kafka.NegotiationEvent{
		EventType:     eventType(t.Kind),
		NegotiationID: t.Negotiation.ID,
		ItemID:        t.Negotiation.ItemID,
		BuyerID:       t.Negotiation.BuyerID,
		SellerID:      t.Negotiation.SellerID,
		Status:        string(t.Negotiation.Status),
		Data:          data,
		Version:       t.Negotiation.Version,
		Timestamp:     t.OccurredAt,
	}
	if err := e.producer.PublishNegotiationEvent(ctx, event); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"event_type":     event.EventType,
			"negotiation_id": event.NegotiationID,
		}).Error("Failed to emit negotiation event")
		return err
	}
	return nil
}
