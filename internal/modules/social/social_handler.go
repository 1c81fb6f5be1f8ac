package social

import (
	"net/http"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/httperr"
	"trusted-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for friendships.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate
}

// NewHandler creates a new social handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc, validate: validator.New()}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/friends", h.ListFriends)
	g.POST("/friends/requests", h.SendRequest)
	g.POST("/friends/requests/:friendshipId/respond", h.Respond)
	g.DELETE("/friends/:friendshipId", h.Remove)
	g.GET("/friends/:friendId/deliveries", h.MutualDeliveries)
}

func (h *Handler) ListFriends(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.ListFriends", models.ErrUnauthenticated)
	}

	views, err := h.svc.ListFriends(c.Request().Context(), p)
	if err != nil {
		return httperr.Respond(c, "Handler.ListFriends", err)
	}

	// ?status=ACCEPTED narrows to accepted friends, ?direction=received to incoming requests
	status, direction := c.QueryParam("status"), c.QueryParam("direction")
	filtered := make([]*models.FriendView, 0, len(views))
	for _, v := range views {
		if status != "" && string(v.Status) != status {
			continue
		}
		if direction != "" && v.Direction != direction {
			continue
		}
		filtered = append(filtered, v)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"friends": filtered})
}

func (h *Handler) SendRequest(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.SendRequest", models.ErrUnauthenticated)
	}

	var req models.FriendRequestInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error(), Code: "validation_failed"})
	}

	f, err := h.svc.SendRequest(c.Request().Context(), p, req.ReceiverID)
	if err != nil {
		return httperr.Respond(c, "Handler.SendRequest", err)
	}
	return c.JSON(http.StatusCreated, f)
}

func (h *Handler) Respond(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.Respond", models.ErrUnauthenticated)
	}

	var req models.RespondFriendRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error(), Code: "validation_failed"})
	}

	f, err := h.svc.Respond(c.Request().Context(), p, c.Param("friendshipId"), *req.Accept)
	if err != nil {
		return httperr.Respond(c, "Handler.Respond", err)
	}
	return c.JSON(http.StatusOK, f)
}

func (h *Handler) Remove(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.Remove", models.ErrUnauthenticated)
	}

	if err := h.svc.Remove(c.Request().Context(), p, c.Param("friendshipId")); err != nil {
		return httperr.Respond(c, "Handler.Remove", err)
	}
	return c.NoContent(http.StatusNoContent)
}

func (h *Handler) MutualDeliveries(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.MutualDeliveries", models.ErrUnauthenticated)
	}

	n, err := h.svc.MutualDeliveries(c.Request().Context(), p, c.Param("friendId"))
	if err != nil {
		return httperr.Respond(c, "Handler.MutualDeliveries", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"friend_id": c.Param("friendId"), "count": n})
}
