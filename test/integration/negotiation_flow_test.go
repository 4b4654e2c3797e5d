package integration

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Gobusters/ectologger"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chasef07/marketplace/internal/handlers"
	"github.com/chasef07/marketplace/pkg/agent"
	"github.com/chasef07/marketplace/pkg/middleware"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/negotiation"
	"github.com/chasef07/marketplace/pkg/notifications"
)

// Harness wires the full API surface the way cmd/api does, on the in-memory
// store with the rule-based agent, so a whole negotiation can run over HTTP.
type Harness struct {
	t     *testing.T
	e     *echo.Echo
	store *negotiation.MemStore
	feed  *notifications.MemoryFeed
}

func NewHarness(t *testing.T, agentEnabled bool) *Harness {
	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := negotiation.NewMemStore()
	feed := notifications.NewMemoryFeed()

	var invoker *agent.Invoker
	if agentEnabled {
		invoker = agent.NewInvoker(agent.NewRuleDecider(), time.Second, logger)
	}
	engine := negotiation.NewEngine(store, invoker, negotiation.Config{}, logger,
		notifications.NewSink(feed, logger))

	e := echo.New()
	e.Use(middleware.Context())
	e.HTTPErrorHandler = middleware.Error(logger)
	api := e.Group("/api/v1")
	handlers.NewNegotiationHandler(engine, logger).Register(api)
	handlers.NewNotificationHandler(feed, logger).Register(api)

	return &Harness{t: t, e: e, store: store, feed: feed}
}

func (h *Harness) ListItem(sellerID string, listingPrice float64, agentEnabled bool) models.Item {
	item := models.Item{
		ID:           uuid.New().String(),
		SellerID:     sellerID,
		Name:         "oak dining table",
		ListingPrice: listingPrice,
		AgentEnabled: agentEnabled,
		Status:       models.ItemStatusListed,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	h.store.PutItem(&item)
	return item
}

func (h *Harness) Do(method, path, userID string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(h.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(middleware.HeaderUserID, userID)
	rec := httptest.NewRecorder()
	h.e.ServeHTTP(rec, req)
	return rec
}

func (h *Harness) Offer(itemID, buyerID string, price float64) handlers.CreateOfferResponse {
	rec := h.Do(http.MethodPost, fmt.Sprintf("/api/v1/items/%s/offers", itemID), buyerID,
		map[string]any{"price": price})
	require.Equal(h.t, http.StatusCreated, rec.Code, rec.Body.String())
	var out handlers.CreateOfferResponse
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (h *Harness) Negotiation(negotiationID, userID string) models.NegotiationView {
	rec := h.Do(http.MethodGet, "/api/v1/negotiations/"+negotiationID, userID, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var out models.NegotiationView
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func (h *Harness) Offers(negotiationID, userID string) []models.Offer {
	rec := h.Do(http.MethodGet, fmt.Sprintf("/api/v1/negotiations/%s/offers", negotiationID), userID, nil)
	require.Equal(h.t, http.StatusOK, rec.Code, rec.Body.String())
	var out []models.Offer
	require.NoError(h.t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestNegotiationFlow_AgentSeller(t *testing.T) {
	h := NewHarness(t, true)
	seller := uuid.New().String()
	buyer := uuid.New().String()
	item := h.ListItem(seller, 500, true)

	// The opening lowball gets an automated counter at the midpoint.
	opened := h.Offer(item.ID, buyer, 300)
	negID := opened.Negotiation.ID

	offers := h.Offers(negID, buyer)
	require.Len(t, offers, 2)
	assert.Equal(t, models.OfferTypeSeller, offers[1].OfferType)
	assert.True(t, offers[1].AgentGenerated)
	assert.Equal(t, 400.0, offers[1].Price)

	view := h.Negotiation(negID, buyer)
	assert.Equal(t, models.DerivedStatusSuperseded, view.DerivedStatus)

	// The buyer sees the counter in their feed exactly once.
	rec := h.Do(http.MethodGet, "/api/v1/notifications", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 1)
	assert.Equal(t, models.NotificationAgentCounterReceived, feed[0].Kind)
	assert.Equal(t, 400.0, feed[0].OfferPrice)

	// Accepting an automated counter needs no separate seller confirmation.
	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var n models.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, models.NegotiationStatusDealPending, n.Status)
	require.NotNil(t, n.FinalPrice)
	assert.Equal(t, 400.0, *n.FinalPrice)

	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/complete", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, models.NegotiationStatusCompleted, n.Status)

	got, err := h.store.GetItem(t.Context(), item.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ItemStatusSold, got.Status)
}

func TestNegotiationFlow_HumanSeller(t *testing.T) {
	h := NewHarness(t, false)
	seller := uuid.New().String()
	buyer := uuid.New().String()
	item := h.ListItem(seller, 500, false)

	opened := h.Offer(item.ID, buyer, 300)
	negID := opened.Negotiation.ID

	// No agent means the offer just sits there awaiting the seller.
	view := h.Negotiation(negID, seller)
	assert.Equal(t, models.DerivedStatusPending, view.DerivedStatus)
	require.Len(t, h.Offers(negID, seller), 1)

	rec := h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/counter", seller,
		map[string]any{"price": 450})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	// A second buyer offer supersedes the counter; routing sticks to the
	// same negotiation, not a new one.
	again := h.Offer(item.ID, buyer, 380)
	assert.Equal(t, negID, again.Negotiation.ID)
	assert.Equal(t, 3, again.Negotiation.RoundNumber)

	// Seller accepts, buyer confirms, seller completes.
	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var n models.Negotiation
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, models.NegotiationStatusBuyerAccepted, n.Status)

	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &n))
	assert.Equal(t, models.NegotiationStatusDealPending, n.Status)
	require.NotNil(t, n.FinalPrice)
	assert.Equal(t, 380.0, *n.FinalPrice)

	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/complete", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestNegotiationFlow_CompetingBuyers(t *testing.T) {
	h := NewHarness(t, false)
	seller := uuid.New().String()
	first := uuid.New().String()
	second := uuid.New().String()
	item := h.ListItem(seller, 500, false)

	a := h.Offer(item.ID, first, 420)
	b := h.Offer(item.ID, second, 260)
	require.NotEqual(t, a.Negotiation.ID, b.Negotiation.ID)

	// The seller sees both open threads.
	rec := h.Do(http.MethodGet, fmt.Sprintf("/api/v1/items/%s/negotiations", item.ID), seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var views []models.NegotiationView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &views))
	assert.Len(t, views, 2)

	// Agreeing with the first buyer kills the second thread.
	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+a.Negotiation.ID+"/accept", seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = h.Do(http.MethodPost, "/api/v1/negotiations/"+a.Negotiation.ID+"/accept", first, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	loser := h.Negotiation(b.Negotiation.ID, second)
	assert.Equal(t, models.NegotiationStatusCancelled, loser.Status)
	assert.Equal(t, models.DerivedStatusDeclined, loser.DerivedStatus)

	// The deal could still fall through, so the losing buyer may open a
	// fresh thread on the not-yet-sold item.
	rec = h.Do(http.MethodPost, fmt.Sprintf("/api/v1/items/%s/offers", item.ID), second,
		map[string]any{"price": 500})
	assert.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
}

func TestNegotiationFlow_DeclineAfterAgentCounter(t *testing.T) {
	h := NewHarness(t, true)
	seller := uuid.New().String()
	buyer := uuid.New().String()
	item := h.ListItem(seller, 500, true)

	opened := h.Offer(item.ID, buyer, 300)
	negID := opened.Negotiation.ID
	require.Len(t, h.Offers(negID, buyer), 2)

	// The seller changes their mind while their agent's counter is still the
	// latest offer. The buyer must hear about both events.
	rec := h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/decline", seller,
		map[string]any{"reason": "decided to keep it"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = h.Do(http.MethodGet, "/api/v1/notifications", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 2)
	kinds := []models.NotificationKind{feed[0].Kind, feed[1].Kind}
	assert.Contains(t, kinds, models.NotificationAgentCounterReceived)
	assert.Contains(t, kinds, models.NotificationOfferDeclined)
}

func TestNegotiationFlow_DeclineWithReason(t *testing.T) {
	h := NewHarness(t, false)
	seller := uuid.New().String()
	buyer := uuid.New().String()
	item := h.ListItem(seller, 500, false)

	opened := h.Offer(item.ID, buyer, 120)
	negID := opened.Negotiation.ID

	rec := h.Do(http.MethodPost, "/api/v1/negotiations/"+negID+"/decline", seller,
		map[string]any{"reason": "well below what I can take"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The buyer learns why in their feed.
	rec = h.Do(http.MethodGet, "/api/v1/notifications", buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var feed []models.Notification
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &feed))
	require.Len(t, feed, 1)
	assert.Equal(t, models.NotificationOfferDeclined, feed[0].Kind)
	require.NotNil(t, feed[0].Reasoning)
	assert.Equal(t, "well below what I can take", *feed[0].Reasoning)

	// Declined threads do not block a renewed attempt.
	renewed := h.Offer(item.ID, buyer, 350)
	assert.NotEqual(t, negID, renewed.Negotiation.ID)
}
