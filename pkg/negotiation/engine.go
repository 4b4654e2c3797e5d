package negotiation

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/Gobusters/ectologger"

	"github.com/chasef07/marketplace/pkg/agent"
	"github.com/chasef07/marketplace/pkg/metrics"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/status"
	"github.com/chasef07/marketplace/pkg/tracing"
)

const (
	// DefaultMaxRounds caps the number of offers in one negotiation before
	// the engine cancels it as stalled.
	DefaultMaxRounds = 10
	// DefaultConflictRetryAttempts bounds the engine's internal retries on a
	// version conflict before it surfaces ConflictError.
	DefaultConflictRetryAttempts = 3
)

// TransitionSink receives every applied state change. Sink errors are logged
// and never fail the operation that produced the transition.
type TransitionSink interface {
	HandleTransition(ctx context.Context, t models.Transition) error
}

// Config tunes the engine. Zero values fall back to the defaults above.
type Config struct {
	MaxRounds             int
	ConflictRetryAttempts int
	NegotiationTTL        time.Duration
}

// Engine owns the negotiation lifecycle: offer submission, the acceptance
// handshake, decline, and the agent side call. Every state-changing write
// goes through the store's version-conditional operations.
type Engine struct {
	store  Store
	agent  *agent.Invoker
	cfg    Config
	logger ectologger.Logger
	sinks  []TransitionSink
}

// NewEngine creates an engine. invoker may be nil, which disables agent
// consultation entirely.
func NewEngine(store Store, invoker *agent.Invoker, cfg Config, logger ectologger.Logger, sinks ...TransitionSink) *Engine {
	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = DefaultMaxRounds
	}
	if cfg.ConflictRetryAttempts <= 0 {
		cfg.ConflictRetryAttempts = DefaultConflictRetryAttempts
	}
	if cfg.NegotiationTTL <= 0 {
		cfg.NegotiationTTL = status.DefaultTTL
	}
	return &Engine{
		store:  store,
		agent:  invoker,
		cfg:    cfg,
		logger: logger,
		sinks:  sinks,
	}
}

// OpenOffer opens a negotiation on an item with the buyer's first offer, or
// routes the offer into the buyer's existing open negotiation on that item.
func (e *Engine) OpenOffer(ctx context.Context, itemID, buyerID string, price float64, message *string) (*models.Negotiation, *models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.OpenOffer")
	defer span.End()

	if buyerID == "" {
		return nil, nil, ValidationError("buyer id is required")
	}
	if price <= 0 {
		return nil, nil, ValidationError("offer price must be positive")
	}

	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, nil, NotFoundError("item not found")
		}
		return nil, nil, err
	}
	if item.SellerID == buyerID {
		return nil, nil, ValidationError("cannot make an offer on your own item")
	}
	if item.Status == models.ItemStatusSold {
		return nil, nil, NotActiveError("item is already sold", string(item.Status))
	}

	n, err := e.store.FindOpenNegotiation(ctx, itemID, buyerID)
	if err != nil {
		return nil, nil, err
	}
	if n == nil {
		n = &models.Negotiation{
			ItemID:    itemID,
			BuyerID:   buyerID,
			SellerID:  item.SellerID,
			Status:    models.NegotiationStatusActive,
			MaxRounds: e.cfg.MaxRounds,
		}
		if err := e.store.CreateNegotiation(ctx, n); err != nil {
			if !errors.Is(err, ErrAlreadyNegotiating) {
				return nil, nil, err
			}
			// Lost a creation race; use the winner.
			n, err = e.store.FindOpenNegotiation(ctx, itemID, buyerID)
			if err != nil {
				return nil, nil, err
			}
			if n == nil {
				return nil, nil, ConflictError(0, "unknown")
			}
		}
	}

	offer, err := e.SubmitOffer(ctx, n.ID, buyerID, price, message)
	if err != nil {
		return nil, nil, err
	}
	n, err = e.store.GetNegotiation(ctx, n.ID)
	if err != nil {
		return nil, nil, err
	}
	return n, offer, nil
}

// SubmitOffer appends an offer to an active negotiation on behalf of the
// actor, then consults the agent when the actor is the buyer and the item has
// agent mode enabled. The offer is durable before the agent is consulted; an
// unavailable agent never fails the submission.
func (e *Engine) SubmitOffer(ctx context.Context, negotiationID, actorID string, price float64, message *string) (*models.Offer, error) {
	return e.submitOffer(ctx, negotiationID, actorID, price, message, false)
}

func (e *Engine) submitOffer(ctx context.Context, negotiationID, actorID string, price float64, message *string, agentGenerated bool) (*models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.SubmitOffer")
	defer span.End()

	if price <= 0 {
		return nil, ValidationError("offer price must be positive")
	}

	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	side := n.PartyOf(actorID)
	if side == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}
	if n.Status != models.NegotiationStatusActive {
		return nil, NotActiveError("negotiation is not accepting offers", string(n.Status))
	}

	offer := &models.Offer{
		OfferType:      side,
		Price:          price,
		Message:        message,
		AgentGenerated: agentGenerated,
	}

	var appended *models.Offer
	for attempt := 0; ; attempt++ {
		appended, err = e.store.AppendOffer(ctx, n.ID, n.Version, offer)
		if err == nil {
			break
		}
		if errors.Is(err, ErrNotActive) {
			return nil, NotActiveError("negotiation is not accepting offers", string(n.Status))
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if attempt+1 >= e.cfg.ConflictRetryAttempts {
			return nil, e.conflict(ctx, n.ID)
		}
		metrics.ConflictRetriesTotal.Inc()
		if n, err = e.getNegotiation(ctx, negotiationID); err != nil {
			return nil, err
		}
		if n.Status != models.NegotiationStatusActive {
			return nil, NotActiveError("negotiation is not accepting offers", string(n.Status))
		}
	}

	metrics.OffersSubmittedTotal.WithLabelValues(string(side), strconv.FormatBool(agentGenerated)).Inc()
	n, err = e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, models.Transition{
		Kind:        models.TransitionOfferSubmitted,
		Negotiation: *n,
		Offer:       appended,
		ActorID:     actorID,
		OccurredAt:  appended.CreatedAt,
	})

	if appended.RoundNumber >= maxRounds(n, e.cfg.MaxRounds) {
		// The thread is exhausted; close it rather than letting it idle.
		if err := e.cancel(ctx, n, actorID, strPtr("maximum negotiation rounds reached")); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": n.ID,
			}).Warn("failed to cancel negotiation at max rounds")
		}
		return appended, nil
	}

	if side == models.OfferTypeBuyer && !agentGenerated {
		e.consultAgent(ctx, n, appended)
	}
	return appended, nil
}

// Accept advances the acceptance handshake. From active, the party that did
// not author the latest offer accepts it and the negotiation moves to
// buyer_accepted. From buyer_accepted, the other party confirms and the
// negotiation moves to deal_pending, the authoritative "sale agreed" point:
// the final price is recorded, the item goes under negotiation, and the
// item's other open negotiations are cancelled.
func (e *Engine) Accept(ctx context.Context, negotiationID, actorID string) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.Accept")
	defer span.End()

	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	side := n.PartyOf(actorID)
	if side == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}

	offers, err := e.store.GetOffers(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	last := status.LatestOffer(offers)
	if last == nil {
		return nil, ValidationError("there is no offer to accept")
	}

	switch n.Status {
	case models.NegotiationStatusActive:
		if side == last.OfferType {
			return nil, UnauthorizedError("cannot accept your own offer")
		}
		updated, err := e.transition(ctx, n, models.NegotiationStatusBuyerAccepted, nil, last.ID)
		if err != nil {
			return nil, err
		}
		e.publish(ctx, models.Transition{
			Kind:        models.TransitionBuyerAccepted,
			Negotiation: *updated,
			Offer:       last,
			ActorID:     actorID,
			OccurredAt:  updated.UpdatedAt,
		})
		// For agent-generated counters the seller-side confirmation is
		// automatic; otherwise the author of the accepted offer confirms.
		if last.OfferType == models.OfferTypeSeller && last.AgentGenerated {
			return e.confirm(ctx, updated, last, updated.SellerID)
		}
		return updated, nil

	case models.NegotiationStatusBuyerAccepted:
		if side != last.OfferType {
			// The accepting party already acted; a repeat call is a no-op.
			return nil, NotActiveError("acceptance is awaiting the other party's confirmation", string(n.Status))
		}
		return e.confirm(ctx, n, last, actorID)

	default:
		return nil, NotActiveError("negotiation cannot be accepted in its current state", string(n.Status))
	}
}

// confirm is phase two of the handshake: buyer_accepted to deal_pending.
func (e *Engine) confirm(ctx context.Context, n *models.Negotiation, last *models.Offer, actorID string) (*models.Negotiation, error) {
	updated, err := e.transition(ctx, n, models.NegotiationStatusDealPending, &last.Price, last.ID)
	if err != nil {
		return nil, err
	}
	e.publish(ctx, models.Transition{
		Kind:        models.TransitionDealPending,
		Negotiation: *updated,
		Offer:       last,
		ActorID:     actorID,
		OccurredAt:  updated.UpdatedAt,
	})

	if err := e.store.UpdateItemStatus(ctx, updated.ItemID, models.ItemStatusUnderNegotiation); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id": updated.ItemID,
		}).Warn("failed to mark item under negotiation")
	}
	e.cancelSiblings(ctx, updated)
	return updated, nil
}

// Decline cancels a negotiation. Legal from active or buyer_accepted only.
func (e *Engine) Decline(ctx context.Context, negotiationID, actorID string, reason *string) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.Decline")
	defer span.End()

	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n.PartyOf(actorID) == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}
	if n.Status != models.NegotiationStatusActive && n.Status != models.NegotiationStatusBuyerAccepted {
		return nil, NotActiveError("negotiation cannot be declined in its current state", string(n.Status))
	}

	if err := e.cancel(ctx, n, actorID, reason); err != nil {
		return nil, err
	}
	return e.store.GetNegotiation(ctx, negotiationID)
}

// Complete finalizes a deal_pending negotiation once pickup and payment are
// confirmed outside the engine. The item is marked sold.
func (e *Engine) Complete(ctx context.Context, negotiationID, actorID string) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.Complete")
	defer span.End()

	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n.PartyOf(actorID) == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}
	if n.Status != models.NegotiationStatusDealPending {
		return nil, NotActiveError("negotiation is not awaiting completion", string(n.Status))
	}

	updated, err := e.transition(ctx, n, models.NegotiationStatusCompleted, n.FinalPrice, "")
	if err != nil {
		return nil, err
	}
	e.publish(ctx, models.Transition{
		Kind:        models.TransitionCompleted,
		Negotiation: *updated,
		ActorID:     actorID,
		OccurredAt:  updated.UpdatedAt,
	})

	if err := e.store.UpdateItemStatus(ctx, updated.ItemID, models.ItemStatusSold); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id": updated.ItemID,
		}).Warn("failed to mark item sold")
	}
	return updated, nil
}

// GetNegotiation returns the negotiation with derived status and latest
// offer. Only parties may read it.
func (e *Engine) GetNegotiation(ctx context.Context, negotiationID, actorID string) (*models.NegotiationView, error) {
	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n.PartyOf(actorID) == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}
	return e.view(ctx, n)
}

// GetOffers returns a negotiation's full offer history, oldest first. Only
// parties may read it.
func (e *Engine) GetOffers(ctx context.Context, negotiationID, actorID string) ([]models.Offer, error) {
	n, err := e.getNegotiation(ctx, negotiationID)
	if err != nil {
		return nil, err
	}
	if n.PartyOf(actorID) == "" {
		return nil, UnauthorizedError("not a party to this negotiation")
	}
	return e.store.GetOffers(ctx, n.ID)
}

// ListMyNegotiations returns every negotiation the user is a party to,
// decorated with derived status.
func (e *Engine) ListMyNegotiations(ctx context.Context, userID string) ([]models.NegotiationView, error) {
	ctx, span := tracing.StartSpan(ctx, "Negotiation.Engine.ListMyNegotiations")
	defer span.End()

	ns, err := e.store.ListNegotiationsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	views := make([]models.NegotiationView, 0, len(ns))
	for i := range ns {
		v, err := e.view(ctx, &ns[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

// ListItemNegotiations returns an item's open negotiations. Seller only.
func (e *Engine) ListItemNegotiations(ctx context.Context, itemID, actorID string) ([]models.NegotiationView, error) {
	item, err := e.store.GetItem(ctx, itemID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError("item not found")
		}
		return nil, err
	}
	if item.SellerID != actorID {
		return nil, UnauthorizedError("only the seller may list an item's negotiations")
	}

	ns, err := e.store.ListOpenNegotiationsByItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	views := make([]models.NegotiationView, 0, len(ns))
	for i := range ns {
		v, err := e.view(ctx, &ns[i])
		if err != nil {
			return nil, err
		}
		views = append(views, *v)
	}
	return views, nil
}

func (e *Engine) view(ctx context.Context, n *models.Negotiation) (*models.NegotiationView, error) {
	offers, err := e.store.GetOffers(ctx, n.ID)
	if err != nil {
		return nil, err
	}
	return &models.NegotiationView{
		Negotiation:   *n,
		DerivedStatus: status.Resolve(n, offers, time.Now().UTC(), e.cfg.NegotiationTTL),
		LatestOffer:   status.LatestOffer(offers),
	}, nil
}

// consultAgent runs the agent side call after a durably appended buyer offer.
// Every failure path is swallowed: the buyer's offer already stands.
func (e *Engine) consultAgent(ctx context.Context, n *models.Negotiation, buyerOffer *models.Offer) {
	if e.agent == nil {
		return
	}
	item, err := e.store.GetItem(ctx, n.ItemID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id": n.ItemID,
		}).Warn("skipping agent consultation, item lookup failed")
		return
	}
	if !item.AgentEnabled {
		return
	}
	offers, err := e.store.GetOffers(ctx, n.ID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).Warn("skipping agent consultation, offer history lookup failed")
		return
	}

	decision, err := e.agent.Decide(ctx, agent.Input{
		Item:        *item,
		Negotiation: *n,
		Offers:      offers,
		BuyerOffer:  *buyerOffer,
	})
	if err != nil {
		// Deferred to asynchronous evaluation; the offer stays pending.
		return
	}

	record := &models.AgentDecision{
		NegotiationID:    n.ID,
		DecisionType:     decision.Type,
		Reasoning:        decision.Reasoning,
		Confidence:       decision.Confidence,
		RecommendedPrice: decision.CounterPrice,
	}

	switch decision.Type {
	case models.AgentDecisionWait:
		// No state change; the decision is still recorded for audit.

	case models.AgentDecisionCounter:
		counter, err := e.submitOffer(ctx, n.ID, n.SellerID, *decision.CounterPrice, strPtr(decision.Reasoning), true)
		if err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": n.ID,
			}).Warn("agent counter-offer failed")
			return
		}
		record.OfferID = &counter.ID

	case models.AgentDecisionAccept:
		record.OfferID = &buyerOffer.ID
		if _, err := e.Accept(ctx, n.ID, n.SellerID); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": n.ID,
			}).Warn("agent acceptance failed")
			return
		}

	case models.AgentDecisionDecline:
		record.OfferID = &buyerOffer.ID
		if _, err := e.Decline(ctx, n.ID, n.SellerID, strPtr(decision.Reasoning)); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": n.ID,
			}).Warn("agent decline failed")
			return
		}

	default:
		e.logger.WithContext(ctx).WithFields(map[string]any{
			"negotiation_id": n.ID,
			"decision_type":  decision.Type,
		}).Warn("discarding unknown agent decision type")
		return
	}

	if err := e.store.CreateAgentDecision(ctx, record); err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"negotiation_id": n.ID,
		}).Warn("failed to record agent decision")
		return
	}
	current, err := e.store.GetNegotiation(ctx, n.ID)
	if err != nil {
		return
	}
	e.publish(ctx, models.Transition{
		Kind:        models.TransitionAgentDecision,
		Negotiation: *current,
		Decision:    record,
		ActorID:     n.SellerID,
		OccurredAt:  time.Now().UTC(),
	})
}

// transition applies a version-guarded status change. On a conflict it
// re-reads and retries only while the original preconditions still hold: the
// status is unchanged and, when anchorOfferID is set, the latest offer is
// still the one the caller saw.
func (e *Engine) transition(ctx context.Context, n *models.Negotiation, to models.NegotiationStatus, finalPrice *float64, anchorOfferID string) (*models.Negotiation, error) {
	from := n.Status
	for attempt := 0; ; attempt++ {
		updated, err := e.store.UpdateNegotiationStatus(ctx, n.ID, n.Version, to, finalPrice)
		if err == nil {
			metrics.TransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
			return updated, nil
		}
		if !errors.Is(err, ErrConflict) {
			return nil, err
		}
		if attempt+1 >= e.cfg.ConflictRetryAttempts {
			return nil, e.conflict(ctx, n.ID)
		}
		metrics.ConflictRetriesTotal.Inc()

		fresh, err := e.getNegotiation(ctx, n.ID)
		if err != nil {
			return nil, err
		}
		if fresh.Status != from {
			return nil, NotActiveError("negotiation changed state", string(fresh.Status))
		}
		if anchorOfferID != "" {
			offers, err := e.store.GetOffers(ctx, n.ID)
			if err != nil {
				return nil, err
			}
			last := status.LatestOffer(offers)
			if last == nil || last.ID != anchorOfferID {
				// The terms changed under the caller; never accept an offer
				// they have not seen.
				return nil, e.conflict(ctx, n.ID)
			}
		}
		n = fresh
	}
}

// cancel moves a negotiation to cancelled and publishes the transition.
func (e *Engine) cancel(ctx context.Context, n *models.Negotiation, actorID string, reason *string) error {
	updated, err := e.transition(ctx, n, models.NegotiationStatusCancelled, nil, "")
	if err != nil {
		return err
	}
	offers, err := e.store.GetOffers(ctx, n.ID)
	if err != nil {
		return err
	}
	e.publish(ctx, models.Transition{
		Kind:        models.TransitionCancelled,
		Negotiation: *updated,
		Offer:       status.LatestOffer(offers),
		Reason:      reason,
		ActorID:     actorID,
		OccurredAt:  updated.UpdatedAt,
	})
	return nil
}

// cancelSiblings closes the item's other open negotiations once a deal is
// pending. Best effort: a failed sibling cancellation is logged, not fatal.
func (e *Engine) cancelSiblings(ctx context.Context, winner *models.Negotiation) {
	siblings, err := e.store.ListOpenNegotiationsByItem(ctx, winner.ItemID)
	if err != nil {
		e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id": winner.ItemID,
		}).Warn("failed to list sibling negotiations")
		return
	}
	reason := strPtr("item has a pending deal with another buyer")
	for i := range siblings {
		s := siblings[i]
		if s.ID == winner.ID {
			continue
		}
		if err := e.cancel(ctx, &s, winner.SellerID, reason); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": s.ID,
			}).Warn("failed to cancel sibling negotiation")
		}
	}
}

func (e *Engine) getNegotiation(ctx context.Context, id string) (*models.Negotiation, error) {
	n, err := e.store.GetNegotiation(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, NotFoundError("negotiation not found")
		}
		return nil, err
	}
	return n, nil
}

// conflict builds the caller-facing conflict error with the authoritative
// version and status so clients can resynchronize.
func (e *Engine) conflict(ctx context.Context, negotiationID string) error {
	n, err := e.store.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return ConflictError(0, "unknown")
	}
	return ConflictError(n.Version, string(n.Status))
}

func (e *Engine) publish(ctx context.Context, t models.Transition) {
	for _, sink := range e.sinks {
		if err := sink.HandleTransition(ctx, t); err != nil {
			e.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
				"negotiation_id": t.Negotiation.ID,
				"kind":           t.Kind,
			}).Warn("transition sink failed")
		}
	}
}

func maxRounds(n *models.Negotiation, fallback int) int {
	if n.MaxRounds > 0 {
		return n.MaxRounds
	}
	return fallback
}

func strPtr(s string) *string {
	return &s
}
