package delivery

import (
	"net/http"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/httperr"
	"trusted-delivery/internal/models"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for delivery requests.
type Handler struct {
	svc      ServiceInterface
	validate *validator.Validate // For request body validation
}

// NewHandler creates a new delivery handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{
		svc:      svc,
		validate: validator.New(),
	}
}

// RegisterRoutes mounts the request routes on g. otpLimit guards OTP verification.
func (h *Handler) RegisterRoutes(g *echo.Group, otpLimit ...echo.MiddlewareFunc) {
	g.POST("/requests", h.CreateRequest)
	g.GET("/requests/mine", h.ListMine)
	g.GET("/requests/carrying", h.ListCarrying)
	g.GET("/requests/feed", h.Feed)
	g.GET("/requests/:requestId", h.GetRequest)
	g.POST("/requests/:requestId/accept", h.AcceptRequest)
	g.POST("/requests/:requestId/status", h.UpdateStatus)
	g.POST("/requests/:requestId/verify-otp", h.VerifyOTP, otpLimit...)
	g.POST("/requests/:requestId/cancel", h.CancelRequest)
}

func (h *Handler) CreateRequest(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.CreateRequest", models.ErrUnauthenticated)
	}

	var req models.CreateRequestInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}

	created, err := h.svc.Create(c.Request().Context(), p, req)
	if err != nil {
		return httperr.Respond(c, "Handler.CreateRequest", err)
	}
	return c.JSON(http.StatusCreated, created)
}

func (h *Handler) GetRequest(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.GetRequest", models.ErrUnauthenticated)
	}

	req, err := h.svc.Get(c.Request().Context(), p, c.Param("requestId"))
	if err != nil {
		return httperr.Respond(c, "Handler.GetRequest", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) AcceptRequest(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.AcceptRequest", models.ErrUnauthenticated)
	}

	req, err := h.svc.Accept(c.Request().Context(), p, c.Param("requestId"))
	if err != nil {
		return httperr.Respond(c, "Handler.AcceptRequest", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.UpdateStatus", models.ErrUnauthenticated)
	}

	var body models.StatusUpdateRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(body); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error(), Code: "validation_failed"})
	}

	req, err := h.svc.Advance(c.Request().Context(), p, c.Param("requestId"), body.Status)
	if err != nil {
		return httperr.Respond(c, "Handler.UpdateStatus", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) VerifyOTP(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.VerifyOTP", models.ErrUnauthenticated)
	}

	var body models.VerifyOTPRequest
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}
	if err := h.validate.Struct(body); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Validation failed: " + err.Error(), Code: "validation_failed"})
	}

	req, err := h.svc.VerifyOTP(c.Request().Context(), p, c.Param("requestId"), body.OTP)
	if err != nil {
		return httperr.Respond(c, "Handler.VerifyOTP", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) CancelRequest(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.CancelRequest", models.ErrUnauthenticated)
	}

	req, err := h.svc.Cancel(c.Request().Context(), p, c.Param("requestId"))
	if err != nil {
		return httperr.Respond(c, "Handler.CancelRequest", err)
	}
	return c.JSON(http.StatusOK, req)
}

func (h *Handler) Feed(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.Feed", models.ErrUnauthenticated)
	}

	reqs, err := h.svc.Feed(c.Request().Context(), p)
	if err != nil {
		return httperr.Respond(c, "Handler.Feed", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": reqs, "total": len(reqs)})
}

func (h *Handler) ListMine(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.ListMine", models.ErrUnauthenticated)
	}

	reqs, err := h.svc.ListMine(c.Request().Context(), p)
	if err != nil {
		return httperr.Respond(c, "Handler.ListMine", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": reqs, "total": len(reqs)})
}

func (h *Handler) ListCarrying(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.ListCarrying", models.ErrUnauthenticated)
	}

	reqs, err := h.svc.ListCarrying(c.Request().Context(), p)
	if err != nil {
		return httperr.Respond(c, "Handler.ListCarrying", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"requests": reqs, "total": len(reqs)})
}
