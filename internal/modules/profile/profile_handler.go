package profile

import (
	"net/http"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/httperr"
	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
)

// Handler handles HTTP requests for profiles.
type Handler struct {
	svc ServiceInterface
}

// NewHandler creates a new profile handler.
func NewHandler(svc ServiceInterface) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/me", h.GetMe)
	g.PATCH("/me", h.UpdateMe)
	g.GET("/profiles/search", h.SearchProfiles)
	g.GET("/profiles/:profileId", h.GetProfile)
}

func (h *Handler) GetMe(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.GetMe", models.ErrUnauthenticated)
	}
	profile, err := h.svc.Get(c.Request().Context(), p.ID)
	if err != nil {
		return httperr.Respond(c, "Handler.GetMe", err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) UpdateMe(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.UpdateMe", models.ErrUnauthenticated)
	}

	var req models.UpdateProfileInput
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, models.ErrorResponse{Message: "Invalid request body"})
	}

	profile, err := h.svc.UpdateMe(c.Request().Context(), p, req)
	if err != nil {
		return httperr.Respond(c, "Handler.UpdateMe", err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) GetProfile(c echo.Context) error {
	profile, err := h.svc.Get(c.Request().Context(), c.Param("profileId"))
	if err != nil {
		return httperr.Respond(c, "Handler.GetProfile", err)
	}
	return c.JSON(http.StatusOK, profile)
}

func (h *Handler) SearchProfiles(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.SearchProfiles", models.ErrUnauthenticated)
	}
	profiles, err := h.svc.Search(c.Request().Context(), p, c.QueryParam("q"))
	if err != nil {
		return httperr.Respond(c, "Handler.SearchProfiles", err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"profiles": profiles})
}
