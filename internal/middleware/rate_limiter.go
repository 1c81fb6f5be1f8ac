package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"trusted-delivery/internal/auth"
	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// PrincipalLimiter rate limits a route per authenticated principal, falling
// back to the client IP. It caps OTP guessing at the HTTP edge.
type PrincipalLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	limit    rate.Limit
	burst    int
	idle     time.Duration
	now      func() time.Time
}

// NewPrincipalLimiter allows perSecond sustained requests with the given burst.
func NewPrincipalLimiter(perSecond float64, burst int) *PrincipalLimiter {
	return &PrincipalLimiter{
		visitors: make(map[string]*visitor),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idle:     10 * time.Minute,
		now:      time.Now,
	}
}

// Middleware rejects requests over the limit with 429.
func (l *PrincipalLimiter) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.RealIP()
			if p, ok := auth.CurrentPrincipal(c); ok {
				key = "principal:" + p.ID
			}
			if !l.get(key).Allow() {
				return c.JSON(http.StatusTooManyRequests, models.ErrorResponse{Message: "Too many attempts, try again later", Code: "rate_limited"})
			}
			return next(c)
		}
	}
}

func (l *PrincipalLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	v, ok := l.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.visitors[key] = v
	}
	v.lastSeen = l.now()
	return v.limiter
}

// Cleanup drops idle visitors every interval until ctx is done.
func (l *PrincipalLimiter) Cleanup(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweep()
		}
	}
}

func (l *PrincipalLimiter) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for key, v := range l.visitors {
		if l.now().Sub(v.lastSeen) > l.idle {
			delete(l.visitors, key)
		}
	}
}
