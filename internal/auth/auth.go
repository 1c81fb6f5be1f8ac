// Package auth adapts signed JWTs into the principal the services act for.
// Token issuance belongs to the external identity provider; IssueToken exists
// for development tooling and tests.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"trusted-delivery/internal/models"

	"github.com/golang-jwt/jwt/v5"
	echojwt "github.com/labstack/echo-jwt/v4"
	"github.com/labstack/echo/v4"
)

const (
	tokenContextKey     = "token"
	principalContextKey = "principal"
)

// Claims are the principal claims carried by an access token. Subject is the principal id.
type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ProfileEnsurer creates the stored profile of a principal on first sight.
type ProfileEnsurer interface {
	Ensure(ctx context.Context, id, displayName string) (*models.Profile, error)
}

// Middleware verifies the bearer token (header or ?token= for websocket clients)
// and stores the resolved principal in the echo context.
func Middleware(secret string, profiles ProfileEnsurer) []echo.MiddlewareFunc {
	verify := echojwt.WithConfig(echojwt.Config{
		SigningKey:  []byte(secret),
		ContextKey:  tokenContextKey,
		TokenLookup: "header:Authorization:Bearer ,query:token",
		NewClaimsFunc: func(c echo.Context) jwt.Claims {
			return new(Claims)
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Invalid or missing token", Code: "unauthenticated"})
		},
	})
	return []echo.MiddlewareFunc{verify, resolvePrincipal(profiles)}
}

func resolvePrincipal(profiles ProfileEnsurer) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			claims, err := claimsFrom(c)
			if err != nil {
				return c.JSON(http.StatusUnauthorized, models.ErrorResponse{Message: "Invalid token claims", Code: "unauthenticated"})
			}
			profile, err := profiles.Ensure(c.Request().Context(), claims.Subject, claims.Name)
			if err != nil {
				c.Logger().Error("auth.resolvePrincipal: ", err)
				return c.JSON(http.StatusInternalServerError, models.ErrorResponse{Message: "Failed to load profile"})
			}
			c.Set(principalContextKey, profile.Principal())
			return next(c)
		}
	}
}

func claimsFrom(c echo.Context) (*Claims, error) {
	token, ok := c.Get(tokenContextKey).(*jwt.Token)
	if !ok {
		return nil, models.ErrUnauthenticated
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || strings.TrimSpace(claims.Subject) == "" {
		return nil, models.ErrUnauthenticated
	}
	return claims, nil
}

// CurrentPrincipal returns the principal resolved by Middleware.
func CurrentPrincipal(c echo.Context) (models.Principal, bool) {
	p, ok := c.Get(principalContextKey).(models.Principal)
	return p, ok && p.ID != ""
}

// SetPrincipal stores p as the current principal. Used by tests and tooling.
func SetPrincipal(c echo.Context, p models.Principal) {
	c.Set(principalContextKey, p)
}

// IssueToken signs an HS256 access token for principalID.
func IssueToken(secret, principalID, name string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", errors.New("auth.IssueToken: empty secret")
	}
	if principalID == "" {
		return "", errors.New("auth.IssueToken: empty principal id")
	}
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("auth.IssueToken: %w", err)
	}
	return signed, nil
}
