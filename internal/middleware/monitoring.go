package middleware

import (
	"strconv"
	"time"

	"trusted-delivery/internal/metrics"

	"github.com/labstack/echo/v4"
)

// Monitor records request count and latency per route template, so ids in
// paths do not explode label cardinality.
func Monitor() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				// let echo write the error response so the status is final
				c.Error(err)
			}

			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			method := c.Request().Method
			status := strconv.Itoa(c.Response().Status)

			metrics.HTTPRequests.WithLabelValues(path, method, status).Inc()
			metrics.HTTPDuration.WithLabelValues(path, method).Observe(time.Since(start).Seconds())
			return nil
		}
	}
}
