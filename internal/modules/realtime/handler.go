// Package realtime serves the request, feed and friendship streams over websocket.
package realtime

import (
	"context"
	"errors"
	"net/http"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/httperr"
	"trusted-delivery/internal/models"
	"trusted-delivery/internal/notifier"
	"trusted-delivery/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// Streams are the observer streams a connection may open.
type Streams interface {
	WatchRequest(ctx context.Context, viewer models.Principal, id string, fn func(*models.DeliveryRequest), end func(error)) (*notifier.Subscription, error)
	WatchFeed(ctx context.Context, viewer models.Principal, fn func([]*models.DeliveryRequest)) (*notifier.Subscription, error)
	WatchFriends(ctx context.Context, viewer models.Principal, fn func([]*models.FriendView)) (*notifier.Subscription, error)
}

type RequestStreams interface {
	WatchRequest(ctx context.Context, viewer models.Principal, id string, fn func(*models.DeliveryRequest), end func(error)) (*notifier.Subscription, error)
	WatchFeed(ctx context.Context, viewer models.Principal, fn func([]*models.DeliveryRequest)) (*notifier.Subscription, error)
}

type FriendStreams interface {
	WatchFriends(ctx context.Context, viewer models.Principal, fn func([]*models.FriendView)) (*notifier.Subscription, error)
}

// Combine joins the delivery and social services into one Streams.
func Combine(requests RequestStreams, friends FriendStreams) Streams {
	return struct {
		RequestStreams
		FriendStreams
	}{requests, friends}
}

// Handler upgrades authenticated requests to websocket connections.
type Handler struct {
	streams  Streams
	upgrader websocket.Upgrader
	// base outlives the upgrading request; connections end when it is cancelled.
	base context.Context
}

// NewHandler creates a websocket handler. allowedOrigin "*" accepts any origin.
func NewHandler(base context.Context, streams Streams, allowedOrigin string) *Handler {
	return &Handler{
		streams: streams,
		base:    base,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return allowedOrigin == "*" || origin == "" || origin == allowedOrigin
			},
		},
	}
}

func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.GET("/ws", h.Serve)
}

// Serve runs one connection until the peer goes away.
func (h *Handler) Serve(c echo.Context) error {
	p, ok := auth.CurrentPrincipal(c)
	if !ok {
		return httperr.Respond(c, "Handler.Serve", models.ErrUnauthenticated)
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		logger.Warn("websocket upgrade failed", "principal_id", p.ID, "error", err)
		return nil
	}

	client := newClient(h.base, conn, p, h.streams)
	go client.WritePump()
	client.ReadPump()
	return nil
}

func publicError(err error) string {
	for _, target := range []error{models.ErrNotFound, models.ErrForbidden, models.ErrUnauthenticated} {
		if errors.Is(err, target) {
			return target.Error()
		}
	}
	logger.Warn("stream subscription failed", "error", err)
	return "stream unavailable"
}
