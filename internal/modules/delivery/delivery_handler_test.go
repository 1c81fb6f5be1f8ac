package delivery

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestServer mounts the handler behind a stub principal middleware reading X-Principal.
func newTestServer(f *fixture) *echo.Echo {
	e := echo.New()
	g := e.Group("/api/v1", func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if id := c.Request().Header.Get("X-Principal"); id != "" {
				auth.SetPrincipal(c, models.Principal{ID: id, DisplayName: strings.ToUpper(id)})
			}
			return next(c)
		}
	})
	NewHandler(f.svc).RegisterRoutes(g)
	return e
}

func do(e *echo.Echo, principal, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if principal != "" {
		req.Header.Set("X-Principal", principal)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestHandler_Lifecycle(t *testing.T) {
	f := newFixture(t)
	f.social.befriend("alice", "carol")
	e := newTestServer(f)

	rec := do(e, "alice", http.MethodPost, "/api/v1/requests",
		`{"id":"R1","item":"Book","pickup":"Gate","drop_location":"Dorm","fare":15,"otp":"4821"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created models.DeliveryRequest
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "4821", created.OTP)

	rec = do(e, "carol", http.MethodGet, "/api/v1/requests/feed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"R1"`)
	assert.NotContains(t, rec.Body.String(), "4821")

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/accept", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"partner_name":"CAROL"`)

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/accept", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "precondition_failed")

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/status", `{"status":"DELIVERED"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	for _, s := range []string{"PICKED_UP", "DELIVERING"} {
		rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/status", `{"status":"`+s+`"}`)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/verify-otp", `{"otp":"1111"}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/verify-otp", `{"otp":"4821"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"status":"DELIVERED"`)

	rec = do(e, "carol", http.MethodPost, "/api/v1/requests/R1/verify-otp", `{"otp":"4821"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "already_completed")

	rec = do(e, "carol", http.MethodGet, "/api/v1/requests/carrying", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"total":1`)
}

func TestHandler_Errors(t *testing.T) {
	f := newFixture(t)
	e := newTestServer(f)

	rec := do(e, "", http.MethodGet, "/api/v1/requests/mine", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(e, "alice", http.MethodPost, "/api/v1/requests", `{"item":""}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, "alice", http.MethodPost, "/api/v1/requests", `{not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(e, "alice", http.MethodGet, "/api/v1/requests/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req := f.create(t, alice, "")
	rec = do(e, "dave", http.MethodPost, "/api/v1/requests/"+req.ID+"/accept", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, "dave", http.MethodPost, "/api/v1/requests/"+req.ID+"/cancel", "")
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(e, "alice", http.MethodPost, "/api/v1/requests/"+req.ID+"/cancel", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"CANCELLED"`)
}
