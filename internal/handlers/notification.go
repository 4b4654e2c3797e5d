package handlers

import (
	"strconv"

	"github.com/Gobusters/ectologger"
	"github.com/labstack/echo/v4"

	"github.com/chasef07/marketplace/pkg/notifications"
	"github.com/chasef07/marketplace/pkg/tracing"
)

// NotificationHandler serves the caller's notification feed
type NotificationHandler struct {
	feed   notifications.Feed
	logger ectologger.Logger
}

// NewNotificationHandler creates a new notification handler
func NewNotificationHandler(feed notifications.Feed, logger ectologger.Logger) *NotificationHandler {
	return &NotificationHandler{
		feed:   feed,
		logger: logger,
	}
}

// Register registers notification routes
func (h *NotificationHandler) Register(g *echo.Group) {
	g.GET("/notifications", h.List)
}

// List returns the caller's notifications, newest first
func (h *NotificationHandler) List(c echo.Context) error {
	ctx, span := tracing.StartSpan(c.Request().Context(), "NotificationHandler.List")
	defer span.End()
	c.SetRequest(c.Request().WithContext(ctx))

	userID, err := GetUserID(c)
	if err != nil {
		return err
	}

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	out, err := h.feed.List(ctx, userID, limit)
	if err != nil {
		h.logger.WithContext(ctx).WithError(err).Error("Failed to list notifications")
		return err
	}
	return SuccessResponse(c, out)
}
