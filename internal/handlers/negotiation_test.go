package handlers_test

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
	"github.com/chasef07/marketplace/pkg/middleware"
	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/negotiation"
	"github.com/chasef07/marketplace/pkg/notifications"
)

type testServer struct {
	echo   *echo.Echo
	store  *negotiation.MemStore
	feed   *notifications.MemoryFeed
	item   models.Item
	seller string
	buyer  string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	logger := ectologger.NewEctoLogger(func(_ ectologger.EctoLogMessage) {})
	store := negotiation.NewMemStore()
	feed := notifications.NewMemoryFeed()

	seller := uuid.New().String()
	buyer := uuid.New().String()
	item := models.Item{
		ID:           uuid.New().String(),
		SellerID:     seller,
		Name:         "walnut credenza",
		ListingPrice: 500,
		Status:       models.ItemStatusListed,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	store.PutItem(&item)

	engine := negotiation.NewEngine(store, nil, negotiation.Config{}, logger,
		notifications.NewSink(feed, logger))

	e := echo.New()
	e.Use(middleware.Context())
	e.HTTPErrorHandler = middleware.Error(logger)

	api := e.Group("/api/v1")
	handlers.NewNegotiationHandler(engine, logger).Register(api)
	handlers.NewNotificationHandler(feed, logger).Register(api)

	return &testServer{echo: e, store: store, feed: feed, item: item, seller: seller, buyer: buyer}
}

func (ts *testServer) do(t *testing.T, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}
	rec := httptest.NewRecorder()
	ts.echo.ServeHTTP(rec, req)
	return rec
}

func decodeJSON[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), "body: %s", rec.Body.String())
	return out
}

type errorBody struct {
	Message string         `json:"message"`
	Kind    string         `json:"kind"`
	Meta    map[string]any `json:"meta"`
}

func (ts *testServer) openOffer(t *testing.T, price float64) handlers.CreateOfferResponse {
	t.Helper()
	rec := ts.do(t, http.MethodPost, "/api/v1/items/"+ts.item.ID+"/offers", ts.buyer,
		map[string]any{"price": price})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeJSON[handlers.CreateOfferResponse](t, rec)
}

func TestCreateOffer(t *testing.T) {
	ts := newTestServer(t)

	resp := ts.openOffer(t, 300)
	assert.Equal(t, ts.item.ID, resp.Negotiation.ItemID)
	assert.Equal(t, ts.buyer, resp.Negotiation.BuyerID)
	assert.Equal(t, models.NegotiationStatusActive, resp.Negotiation.Status)
	assert.Equal(t, 1, resp.Negotiation.RoundNumber)
	assert.Equal(t, 300.0, resp.Offer.Price)
	assert.Equal(t, models.OfferTypeBuyer, resp.Offer.OfferType)
}

func TestCreateOffer_Unauthenticated(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/items/"+ts.item.ID+"/offers", "",
		map[string]any{"price": 300})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCreateOffer_Validation(t *testing.T) {
	ts := newTestServer(t)

	t.Run("missing price", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/items/"+ts.item.ID+"/offers", ts.buyer,
			map[string]any{})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeJSON[errorBody](t, rec).Kind)
	})

	t.Run("non-positive price", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/items/"+ts.item.ID+"/offers", ts.buyer,
			map[string]any{"price": -5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad item uuid", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/items/not-a-uuid/offers", ts.buyer,
			map[string]any{"price": 300})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("seller bidding on own item", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/items/"+ts.item.ID+"/offers", ts.seller,
			map[string]any{"price": 300})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "validation", decodeJSON[errorBody](t, rec).Kind)
	})

	t.Run("unknown item", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/items/"+uuid.New().String()+"/offers", ts.buyer,
			map[string]any{"price": 300})
		assert.Equal(t, http.StatusNotFound, rec.Code)
		assert.Equal(t, "not_found", decodeJSON[errorBody](t, rec).Kind)
	})
}

func TestCounterAcceptComplete(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)
	negID := opened.Negotiation.ID

	// Seller counters.
	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/counter", ts.seller,
		map[string]any{"price": 420, "message": "meet me in the middle"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	counter := decodeJSON[models.Offer](t, rec)
	assert.Equal(t, models.OfferTypeSeller, counter.OfferType)
	assert.True(t, counter.IsCounterOffer)

	// Buyer accepts the counter.
	rec = ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", ts.buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n := decodeJSON[models.Negotiation](t, rec)
	assert.Equal(t, models.NegotiationStatusBuyerAccepted, n.Status)

	// Seller confirms.
	rec = ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", ts.seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n = decodeJSON[models.Negotiation](t, rec)
	assert.Equal(t, models.NegotiationStatusDealPending, n.Status)
	require.NotNil(t, n.FinalPrice)
	assert.Equal(t, 420.0, *n.FinalPrice)

	// Seller completes the sale.
	rec = ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/complete", ts.seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n = decodeJSON[models.Negotiation](t, rec)
	assert.Equal(t, models.NegotiationStatusCompleted, n.Status)
}

func TestAccept_OwnOfferForbidden(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)

	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+opened.Negotiation.ID+"/accept", ts.buyer, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "unauthorized", decodeJSON[errorBody](t, rec).Kind)
}

func TestDecline(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)
	negID := opened.Negotiation.ID

	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/decline", ts.seller,
		map[string]any{"reason": "price too low"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	n := decodeJSON[models.Negotiation](t, rec)
	assert.Equal(t, models.NegotiationStatusCancelled, n.Status)

	// Countering a dead negotiation conflicts with its state.
	rec = ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/counter", ts.seller,
		map[string]any{"price": 420})
	assert.Equal(t, http.StatusConflict, rec.Code)
	body := decodeJSON[errorBody](t, rec)
	assert.Equal(t, "negotiation_not_active", body.Kind)
	assert.Equal(t, "cancelled", body.Meta["status"])
}

func TestCounter_Outsider(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)

	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+opened.Negotiation.ID+"/counter",
		uuid.New().String(), map[string]any{"price": 400})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestGetNegotiation(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)
	negID := opened.Negotiation.ID

	rec := ts.do(t, http.MethodGet, "/api/v1/negotiations/"+negID, ts.buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decodeJSON[models.NegotiationView](t, rec)
	assert.Equal(t, negID, view.ID)
	assert.Equal(t, models.DerivedStatusPending, view.DerivedStatus)
	require.NotNil(t, view.LatestOffer)
	assert.Equal(t, 300.0, view.LatestOffer.Price)

	t.Run("outsider is forbidden", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/negotiations/"+negID, uuid.New().String(), nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "unauthorized", decodeJSON[errorBody](t, rec).Kind)
	})

	t.Run("unknown id", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/negotiations/"+uuid.New().String(), ts.buyer, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListOffers(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)
	negID := opened.Negotiation.ID

	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/counter", ts.seller,
		map[string]any{"price": 420})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/negotiations/"+negID+"/offers", ts.buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	offers := decodeJSON[[]models.Offer](t, rec)
	require.Len(t, offers, 2)
	assert.Equal(t, 1, offers[0].RoundNumber)
	assert.Equal(t, 2, offers[1].RoundNumber)
}

func TestListMine(t *testing.T) {
	ts := newTestServer(t)
	ts.openOffer(t, 300)

	rec := ts.do(t, http.MethodGet, "/api/v1/negotiations/mine", ts.buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	views := decodeJSON[[]models.NegotiationView](t, rec)
	require.Len(t, views, 1)

	rec = ts.do(t, http.MethodGet, "/api/v1/negotiations/mine", uuid.New().String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, decodeJSON[[]models.NegotiationView](t, rec))
}

func TestListItemNegotiations(t *testing.T) {
	ts := newTestServer(t)
	ts.openOffer(t, 300)
	path := fmt.Sprintf("/api/v1/items/%s/negotiations", ts.item.ID)

	rec := ts.do(t, http.MethodGet, path, ts.seller, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeJSON[[]models.NegotiationView](t, rec), 1)

	t.Run("buyer cannot list", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, path, ts.buyer, nil)
		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

func TestNotificationsFeed(t *testing.T) {
	ts := newTestServer(t)
	opened := ts.openOffer(t, 300)
	negID := opened.Negotiation.ID

	// Run the deal through: buyer accepts then seller confirms, which should
	// leave acceptance notifications in each party's feed.
	rec := ts.do(t, http.MethodPost, "/api/v1/negotiations/"+negID+"/accept", ts.seller, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodGet, "/api/v1/notifications", ts.buyer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	feed := decodeJSON[[]models.Notification](t, rec)
	require.NotEmpty(t, feed)
	assert.Equal(t, models.NotificationOfferAccepted, feed[0].Kind)
	assert.Equal(t, negID, feed[0].NegotiationID)

	t.Run("requires auth", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/notifications", "", nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}
