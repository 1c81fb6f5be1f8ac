package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProfiles struct {
	seen map[string]string
}

func (f *fakeProfiles) Ensure(ctx context.Context, id, name string) (*models.Profile, error) {
	if f.seen == nil {
		f.seen = make(map[string]string)
	}
	f.seen[id] = name
	return &models.Profile{ID: id, FullName: name, TrustScore: 3}, nil
}

const secret = "test-secret"

func newServer(profiles ProfileEnsurer) *echo.Echo {
	e := echo.New()
	g := e.Group("/api", Middleware(secret, profiles)...)
	g.GET("/whoami", func(c echo.Context) error {
		p, ok := CurrentPrincipal(c)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, p)
	})
	return e
}

func TestMiddleware_BearerHeader(t *testing.T) {
	profiles := &fakeProfiles{}
	e := newServer(profiles)

	token, err := IssueToken(secret, "alice", "Alice", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"id":"alice"`)
	assert.Contains(t, rec.Body.String(), `"trust_score":3`)
	assert.Equal(t, "Alice", profiles.seen["alice"])
}

func TestMiddleware_QueryToken(t *testing.T) {
	e := newServer(&fakeProfiles{})
	token, err := IssueToken(secret, "bob", "Bob", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/whoami?token="+token, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware_Rejects(t *testing.T) {
	e := newServer(&fakeProfiles{})

	wrongKey, err := IssueToken("other-secret", "alice", "Alice", time.Hour)
	require.NoError(t, err)
	expired, err := IssueToken(secret, "alice", "Alice", -time.Minute)
	require.NoError(t, err)

	cases := map[string]string{
		"missing":   "",
		"wrong key": "Bearer " + wrongKey,
		"expired":   "Bearer " + expired,
		"garbage":   "Bearer not-a-token",
	}
	for name, header := range cases {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			rec := httptest.NewRecorder()
			e.ServeHTTP(rec, req)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
		})
	}
}

func TestIssueToken_RequiresInputs(t *testing.T) {
	_, err := IssueToken("", "alice", "", time.Hour)
	assert.Error(t, err)
	_, err = IssueToken(secret, "", "", time.Hour)
	assert.Error(t, err)
}
