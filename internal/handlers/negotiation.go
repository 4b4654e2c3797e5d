package handlers

import (
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/chasef07/marketplace/pkg/models"
	"github.com/chasef07/marketplace/pkg/negotiation"
	"github.com/chasef07/marketplace/pkg/tracing"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// NegotiationHandler handles negotiation API endpoints
type NegotiationHandler struct {
	engine *negotiation.Engine
	logger ectologger.Logger
}

// NewNegotiationHandler creates a new negotiation handler
func NewNegotiationHandler(engine *negotiation.Engine, logger ectologger.Logger) *NegotiationHandler {
	return &NegotiationHandler{
		engine: engine,
		logger: logger,
	}
}

// CreateOfferRequest represents the create offer request body
type CreateOfferRequest struct {
	Price   float64 `json:"price" validate:"required,gt=0"`
	Message *string `json:"message,omitempty" validate:"omitempty,max=1000"`
}

// DeclineRequest represents the decline request body
type DeclineRequest struct {
	Reason *string `json:"reason,omitempty" validate:"omitempty,max=1000"`
}

// CreateOfferResponse wraps the negotiation and the offer it opened or
// continued.
type CreateOfferResponse struct {
	Negotiation models.Negotiation `json:"negotiation"`
	Offer       models.Offer       `json:"offer"`
}

// Register registers negotiation routes
func (h *NegotiationHandler) Register(g *echo.Group) {
	g.POST("/items/:id/offers", h.CreateOffer)
	g.GET("/items/:id/negotiations", h.ListItemNegotiations)
	g.GET("/negotiations/mine", h.ListMine)
	g.GET("/negotiations/:id", h.Get)
	g.GET("/negotiations/:id/offers", h.ListOffers)
	g.POST("/negotiations/:id/counter", h.Counter)
	g.POST("/negotiations/:id/accept", h.Accept)
	g.POST("/negotiations/:id/decline", h.Decline)
	g.POST("/negotiations/:id/complete", h.Complete)
}

// CreateOffer opens or continues the caller's negotiation on an item
func (h *NegotiationHandler) CreateOffer(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.CreateOffer")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	itemID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req CreateOfferRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return negotiation.ValidationError(err.Error())
	}

	n, offer, err := h.engine.OpenOffer(ctx, itemID, userID, req.Price, req.Message)
	if err != nil {
		return err
	}
	return CreatedResponse(c, CreateOfferResponse{Negotiation: *n, Offer: *offer})
}

// Counter appends a counter-offer on behalf of the caller
func (h *NegotiationHandler) Counter(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.Counter")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req CreateOfferRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return negotiation.ValidationError(err.Error())
	}

	offer, err := h.engine.SubmitOffer(ctx, negotiationID, userID, req.Price, req.Message)
	if err != nil {
		return err
	}
	return CreatedResponse(c, offer)
}

// Accept advances the acceptance handshake
func (h *NegotiationHandler) Accept(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.Accept")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	n, err := h.engine.Accept(ctx, negotiationID, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, n)
}

// Decline cancels a negotiation
func (h *NegotiationHandler) Decline(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.Decline")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	var req DeclineRequest
	if err := c.Bind(&req); err != nil {
		return BadRequest("invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return negotiation.ValidationError(err.Error())
	}

	n, err := h.engine.Decline(ctx, negotiationID, userID, req.Reason)
	if err != nil {
		return err
	}
	return SuccessResponse(c, n)
}

// Complete finalizes a pending deal
func (h *NegotiationHandler) Complete(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.Complete")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	n, err := h.engine.Complete(ctx, negotiationID, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, n)
}

// Get returns one negotiation with derived status
func (h *NegotiationHandler) Get(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.Get")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	view, err := h.engine.GetNegotiation(ctx, negotiationID, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, view)
}

// ListMine returns the caller's negotiations with derived status
func (h *NegotiationHandler) ListMine(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.ListMine")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	views, err := h.engine.ListMyNegotiations(ctx, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, views)
}

// ListItemNegotiations returns an item's open negotiations for its seller
func (h *NegotiationHandler) ListItemNegotiations(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.ListItemNegotiations")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	itemID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	views, err := h.engine.ListItemNegotiations(ctx, itemID, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, views)
}

// ListOffers returns a negotiation's full offer history
func (h *NegotiationHandler) ListOffers(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NegotiationHandler.ListOffers")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}
	negotiationID, err := ParseUUID(c, "id")
	if err != nil {
		return err
	}

	offers, err := h.engine.GetOffers(ctx, negotiationID, userID)
	if err != nil {
		return err
	}
	return SuccessResponse(c, offers)
}
