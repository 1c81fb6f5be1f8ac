package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/metrics"
	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrincipalLimiter_PerPrincipal(t *testing.T) {
	l := NewPrincipalLimiter(0.001, 2)
	e := echo.New()
	e.POST("/verify", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			auth.SetPrincipal(c, models.Principal{ID: c.Request().Header.Get("X-Principal")})
			return next(c)
		}
	}, l.Middleware())

	call := func(who string) int {
		req := httptest.NewRequest(http.MethodPost, "/verify", nil)
		req.Header.Set("X-Principal", who)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusOK, call("carol"))
	assert.Equal(t, http.StatusOK, call("carol"))
	assert.Equal(t, http.StatusTooManyRequests, call("carol"))
	assert.Equal(t, http.StatusOK, call("dave"), "limits are per principal")
}

func TestPrincipalLimiter_Sweep(t *testing.T) {
	l := NewPrincipalLimiter(1, 1)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	l.get("a")
	now = now.Add(time.Hour)
	l.get("b")
	l.sweep()

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.NotContains(t, l.visitors, "a")
	assert.Contains(t, l.visitors, "b")
}

func TestMonitor_UsesRouteTemplate(t *testing.T) {
	e := echo.New()
	e.Use(Monitor())
	e.GET("/requests/:requestId", func(c echo.Context) error {
		return c.NoContent(http.StatusNoContent)
	})

	before := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/requests/:requestId", http.MethodGet, "204"))
	for _, id := range []string{"R1", "R2"} {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/requests/"+id, nil))
		require.Equal(t, http.StatusNoContent, rec.Code)
	}
	after := testutil.ToFloat64(metrics.HTTPRequests.WithLabelValues("/requests/:requestId", http.MethodGet, "204"))
	assert.Equal(t, 2.0, after-before)
}
