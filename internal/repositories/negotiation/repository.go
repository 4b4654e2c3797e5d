// Package negotiation implements the Postgres-backed negotiation store.
package negotiation

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/huandu/go-sqlbuilder"
	"github.com/lib/pq"

	"github.com/chasef07/marketplace/pkg/database"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/negotiation"
	"github.com/chasef07/marketplace/pkg/tracing"
)

const uniqueViolation = "23505"

var negotiationCols = []string{
	"id", "item_id", "buyer_id", "seller_id", "status",
	"round_number", "max_rounds", "final_price", "version",
	"created_at", "updated_at",
}

var offerCols = []string{
	"id", "negotiation_id", "offer_type", "price", "message",
	"round_number", "is_counter_offer", "agent_generated", "created_at",
}

// Repository handles negotiation persistence
type Repository struct {
	db     database.DB
	logger ectologger.Logger
}

// NewRepository creates a new negotiation repository
func NewRepository(db database.DB, logger ectologger.Logger) *Repository {
	return &Repository{
		db:     db,
		logger: logger,
	}
}

var _ negotiation.Store = (*Repository)(nil)

// CreateNegotiation inserts a new negotiation at version 1. The partial
// unique index on open (item_id, buyer_id) pairs turns a duplicate into
// ErrAlreadyNegotiating.
func (r *Repository) CreateNegotiation(ctx context.Context, n *models.Negotiation) error {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.CreateNegotiation")
	defer span.End()

	now := time.Now().UTC()
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.Status == "" {
		n.Status = models.NegotiationStatusActive
	}
	n.Version = 1
	n.RoundNumber = 0
	n.CreatedAt = now
	n.UpdatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("negotiations")
	sb.Cols(negotiationCols...)
	sb.Values(n.ID, n.ItemID, n.BuyerID, n.SellerID, n.Status,
		n.RoundNumber, n.MaxRounds, n.FinalPrice, n.Version,
		n.CreatedAt, n.UpdatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && string(pqErr.Code) == uniqueViolation {
			return negotiation.ErrAlreadyNegotiating
		}
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"item_id":  n.ItemID,
			"buyer_id": n.BuyerID,
		}).Error("Failed to create negotiation")
		return err
	}
	return nil
}

// GetNegotiation retrieves a negotiation by ID
func (r *Repository) GetNegotiation(ctx context.Context, id string) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.GetNegotiation")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(negotiationCols...)
	sb.From("negotiations")
	sb.Where(sb.Equal("id", id))

	query, args := sb.Build()
	var n models.Negotiation
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, negotiation.ErrNotFound
		}
		return nil, err
	}
	return &n, nil
}

// FindOpenNegotiation returns the open negotiation for the (item, buyer)
// pair, or nil when none exists.
func (r *Repository) FindOpenNegotiation(ctx context.Context, itemID, buyerID string) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.FindOpenNegotiation")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(negotiationCols...)
	sb.From("negotiations")
	sb.Where(
		sb.Equal("item_id", itemID),
		sb.Equal("buyer_id", buyerID),
		sb.In("status", openStatuses()...),
	)

	query, args := sb.Build()
	var n models.Negotiation
	if err := r.db.GetContext(ctx, &n, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &n, nil
}

// ListNegotiationsByUser returns every negotiation the user is a party to,
// newest first.
func (r *Repository) ListNegotiationsByUser(ctx context.Context, userID string) ([]models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.ListNegotiationsByUser")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(negotiationCols...)
	sb.From("negotiations")
	sb.Where(sb.Or(sb.Equal("buyer_id", userID), sb.Equal("seller_id", userID)))
	sb.OrderBy("created_at").Desc()

	query, args := sb.Build()
	var out []models.Negotiation
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// ListOpenNegotiationsByItem returns the item's open negotiations.
func (r *Repository) ListOpenNegotiationsByItem(ctx context.Context, itemID string) ([]models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.ListOpenNegotiationsByItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(negotiationCols...)
	sb.From("negotiations")
	sb.Where(
		sb.Equal("item_id", itemID),
		sb.In("status", openStatuses()...),
	)
	sb.OrderBy("created_at").Asc()

	query, args := sb.Build()
	var out []models.Negotiation
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// GetOffers returns the negotiation's offers, oldest first.
func (r *Repository) GetOffers(ctx context.Context, negotiationID string) ([]models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.GetOffers")
	defer span.End()

	if _, err := r.GetNegotiation(ctx, negotiationID); err != nil {
		return nil, err
	}

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select(offerCols...)
	sb.From("offers")
	sb.Where(sb.Equal("negotiation_id", negotiationID))
	sb.OrderBy("round_number").Asc()

	query, args := sb.Build()
	var out []models.Offer
	if err := r.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, err
	}
	return out, nil
}

// AppendOffer appends an offer in one transaction: the version-guarded
// negotiation update assigns the round number, then the offer row is
// inserted with it. A zero-row update means either a version conflict or a
// non-active negotiation; the follow-up read tells them apart.
func (r *Repository) AppendOffer(ctx context.Context, negotiationID string, expectedVersion int, offer *models.Offer) (*models.Offer, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.AppendOffer")
	defer span.End()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	var round int
	err = tx.QueryRowxContext(ctx, `
		UPDATE negotiations
		SET round_number = round_number + 1,
		    version = version + 1,
		    updated_at = $1
		WHERE id = $2 AND version = $3 AND status = $4
		RETURNING round_number`,
		now, negotiationID, expectedVersion, models.NegotiationStatusActive,
	).Scan(&round)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, r.classifyAppendFailure(ctx, negotiationID)
		}
		return nil, err
	}

	cp := *offer
	if cp.ID == "" {
		cp.ID = uuid.New().String()
	}
	cp.NegotiationID = negotiationID
	cp.RoundNumber = round
	cp.IsCounterOffer = round > 1
	cp.CreatedAt = now

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("offers")
	sb.Cols(offerCols...)
	sb.Values(cp.ID, cp.NegotiationID, cp.OfferType, cp.Price, cp.Message,
		cp.RoundNumber, cp.IsCounterOffer, cp.AgentGenerated, cp.CreatedAt)

	query, args := sb.Build()
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"negotiation_id": negotiationID,
		}).Error("Failed to insert offer")
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return &cp, nil
}

// classifyAppendFailure reads the negotiation outside the failed update to
// report the precise reason the conditional write matched no row.
func (r *Repository) classifyAppendFailure(ctx context.Context, negotiationID string) error {
	n, err := r.GetNegotiation(ctx, negotiationID)
	if err != nil {
		return err
	}
	if n.Status != models.NegotiationStatusActive {
		return negotiation.ErrNotActive
	}
	return negotiation.ErrConflict
}

// UpdateNegotiationStatus conditionally moves the negotiation to newStatus.
func (r *Repository) UpdateNegotiationStatus(ctx context.Context, id string, expectedVersion int, newStatus models.NegotiationStatus, finalPrice *float64) (*models.Negotiation, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.UpdateNegotiationStatus")
	defer span.End()

	now := time.Now().UTC()
	var n models.Negotiation
	err := r.db.GetContext(ctx, &n, `
		UPDATE negotiations
		SET status = $1,
		    final_price = COALESCE($2, final_price),
		    version = version + 1,
		    updated_at = $3
		WHERE id = $4 AND version = $5
		RETURNING `+joinCols(negotiationCols),
		newStatus, finalPrice, now, id, expectedVersion)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, getErr := r.GetNegotiation(ctx, id); getErr != nil {
				return nil, getErr
			}
			return nil, negotiation.ErrConflict
		}
		return nil, err
	}
	return &n, nil
}

// CreateAgentDecision records an agent evaluation for audit.
func (r *Repository) CreateAgentDecision(ctx context.Context, d *models.AgentDecision) error {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.CreateAgentDecision")
	defer span.End()

	if d.ID == "" {
		d.ID = uuid.New().String()
	}
	if d.CreatedAt.IsZero() {
		d.CreatedAt = time.Now().UTC()
	}

	sb := sqlbuilder.PostgreSQL.NewInsertBuilder()
	sb.InsertInto("agent_decisions")
	sb.Cols("id", "negotiation_id", "offer_id", "decision_type", "reasoning",
		"confidence", "recommended_price", "created_at")
	sb.Values(d.ID, d.NegotiationID, d.OfferID, d.DecisionType, d.Reasoning,
		d.Confidence, d.RecommendedPrice, d.CreatedAt)

	query, args := sb.Build()
	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		r.logger.WithContext(ctx).WithError(err).WithFields(map[string]any{
			"negotiation_id": d.NegotiationID,
		}).Error("Failed to create agent decision")
		return err
	}
	return nil
}

// GetItem retrieves an item by ID
func (r *Repository) GetItem(ctx context.Context, itemID string) (*models.Item, error) {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.GetItem")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewSelectBuilder()
	sb.Select("id", "seller_id", "name", "listing_price", "agent_enabled",
		"status", "created_at", "updated_at")
	sb.From("items")
	sb.Where(sb.Equal("id", itemID))

	query, args := sb.Build()
	var item models.Item
	if err := r.db.GetContext(ctx, &item, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, negotiation.ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// UpdateItemStatus updates the listing state the engine owns.
func (r *Repository) UpdateItemStatus(ctx context.Context, itemID string, status models.ItemStatus) error {
	ctx, span := tracing.StartSpan(ctx, "negotiation.Repository.UpdateItemStatus")
	defer span.End()

	sb := sqlbuilder.PostgreSQL.NewUpdateBuilder()
	sb.Update("items")
	sb.Set(
		sb.Assign("status", status),
		sb.Assign("updated_at", time.Now().UTC()),
	)
	sb.Where(sb.Equal("id", itemID))

	query, args := sb.Build()
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return negotiation.ErrNotFound
	}
	return nil
}

func openStatuses() []any {
	return []any{
		models.NegotiationStatusActive,
		models.NegotiationStatusBuyerAccepted,
		models.NegotiationStatusDealPending,
	}
}

func joinCols(cols []string) string {
	out := cols[0]
	for _, c := range cols[1:] {
		out += ", " + c
	}
	return out
}
