package negotiation_test

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/negotiation"
)

func seedNegotiation(t *testing.T, store *negotiation.MemStore) *models.Negotiation {
	t.Helper()
	n := &models.Negotiation{
		ItemID:    uuid.New().String(),
		BuyerID:   uuid.New().String(),
		SellerID:  uuid.New().String(),
		MaxRounds: 10,
	}
	require.NoError(t, store.CreateNegotiation(context.Background(), n))
	return n
}

func TestMemStore_CreateNegotiation(t *testing.T) {
	store := negotiation.NewMemStore()
	ctx := context.Background()
	n := seedNegotiation(t, store)

	assert.Equal(t, 1, n.Version)
	assert.Equal(t, 0, n.RoundNumber)
	assert.Equal(t, models.NegotiationStatusActive, n.Status)

	t.Run("SecondOpenForSamePairRejected", func(t *testing.T) {
		dup := &models.Negotiation{ItemID: n.ItemID, BuyerID: n.BuyerID, SellerID: n.SellerID}
		err := store.CreateNegotiation(ctx, dup)
		assert.ErrorIs(t, err, negotiation.ErrAlreadyNegotiating)
	})

	t.Run("SameBuyerDifferentItemAllowed", func(t *testing.T) {
		other := &models.Negotiation{ItemID: uuid.New().String(), BuyerID: n.BuyerID, SellerID: n.SellerID}
		assert.NoError(t, store.CreateNegotiation(ctx, other))
	})

	t.Run("NewOpenAllowedAfterTerminal", func(t *testing.T) {
		_, err := store.UpdateNegotiationStatus(ctx, n.ID, n.Version, models.NegotiationStatusCancelled, nil)
		require.NoError(t, err)
		again := &models.Negotiation{ItemID: n.ItemID, BuyerID: n.BuyerID, SellerID: n.SellerID}
		assert.NoError(t, store.CreateNegotiation(ctx, again))
	})
}

func TestMemStore_AppendOffer_VersionGuard(t *testing.T) {
	store := negotiation.NewMemStore()
	ctx := context.Background()
	n := seedNegotiation(t, store)

	offer, err := store.AppendOffer(ctx, n.ID, 1, &models.Offer{OfferType: models.OfferTypeBuyer, Price: 100})
	require.NoError(t, err)
	assert.Equal(t, 1, offer.RoundNumber)
	assert.False(t, offer.IsCounterOffer)

	t.Run("StaleVersionConflicts", func(t *testing.T) {
		_, err := store.AppendOffer(ctx, n.ID, 1, &models.Offer{OfferType: models.OfferTypeSeller, Price: 200})
		assert.ErrorIs(t, err, negotiation.ErrConflict)
	})

	t.Run("FreshVersionSucceeds", func(t *testing.T) {
		second, err := store.AppendOffer(ctx, n.ID, 2, &models.Offer{OfferType: models.OfferTypeSeller, Price: 200})
		require.NoError(t, err)
		assert.Equal(t, 2, second.RoundNumber)
		assert.True(t, second.IsCounterOffer)
		assert.True(t, second.CreatedAt.After(offer.CreatedAt))
	})

	t.Run("UnknownNegotiation", func(t *testing.T) {
		_, err := store.AppendOffer(ctx, uuid.New().String(), 1, &models.Offer{OfferType: models.OfferTypeBuyer, Price: 100})
		assert.ErrorIs(t, err, negotiation.ErrNotFound)
	})

	t.Run("NotActiveRejected", func(t *testing.T) {
		current, err := store.GetNegotiation(ctx, n.ID)
		require.NoError(t, err)
		_, err = store.UpdateNegotiationStatus(ctx, n.ID, current.Version, models.NegotiationStatusBuyerAccepted, nil)
		require.NoError(t, err)

		current, err = store.GetNegotiation(ctx, n.ID)
		require.NoError(t, err)
		_, err = store.AppendOffer(ctx, n.ID, current.Version, &models.Offer{OfferType: models.OfferTypeBuyer, Price: 150})
		assert.ErrorIs(t, err, negotiation.ErrNotActive)
	})
}

func TestMemStore_UpdateNegotiationStatus(t *testing.T) {
	store := negotiation.NewMemStore()
	ctx := context.Background()
	n := seedNegotiation(t, store)

	price := 420.0
	updated, err := store.UpdateNegotiationStatus(ctx, n.ID, 1, models.NegotiationStatusDealPending, &price)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusDealPending, updated.Status)
	assert.Equal(t, 2, updated.Version)
	require.NotNil(t, updated.FinalPrice)
	assert.Equal(t, 420.0, *updated.FinalPrice)

	_, err = store.UpdateNegotiationStatus(ctx, n.ID, 1, models.NegotiationStatusCompleted, nil)
	assert.ErrorIs(t, err, negotiation.ErrConflict)
}

// Concurrent appends at the same version: exactly one wins.
func TestMemStore_ConcurrentAppends(t *testing.T) {
	store := negotiation.NewMemStore()
	ctx := context.Background()
	n := seedNegotiation(t, store)

	const writers = 16
	var wg sync.WaitGroup
	errs := make([]error, writers)
	wg.Add(writers)
	for i := 0; i < writers; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = store.AppendOffer(ctx, n.ID, 1, &models.Offer{
				OfferType: models.OfferTypeBuyer,
				Price:     float64(100 + i),
			})
		}(i)
	}
	wg.Wait()

	var won int
	for _, err := range errs {
		if err == nil {
			won++
		} else {
			assert.ErrorIs(t, err, negotiation.ErrConflict)
		}
	}
	assert.Equal(t, 1, won)

	offers, err := store.GetOffers(ctx, n.ID)
	require.NoError(t, err)
	assert.Len(t, offers, 1)

	current, err := store.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, current.Version)
	assert.Equal(t, 1, current.RoundNumber)
}

func TestMemStore_CopyOutSemantics(t *testing.T) {
	store := negotiation.NewMemStore()
	ctx := context.Background()
	n := seedNegotiation(t, store)

	got, err := store.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	got.Status = models.NegotiationStatusCancelled

	fresh, err := store.GetNegotiation(ctx, n.ID)
	require.NoError(t, err)
	assert.Equal(t, models.NegotiationStatusActive, fresh.Status)
}
