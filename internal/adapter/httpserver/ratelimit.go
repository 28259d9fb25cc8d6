package httpserver

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pscheid92/credpulse/internal/adapter/metrics"
	apperrors "github.com/pscheid92/credpulse/internal/platform/errors"
	"golang.org/x/time/rate"
)

const rateLimiterExpiry = 5 * time.Minute

// newRateLimiter limits requests per client IP. Rejections become
// rate_limited errors for the error handling middleware to render.
func newRateLimiter(ratePerSecond float64, burst int, m *metrics.HTTPMetrics) echo.MiddlewareFunc {
	store := middleware.NewRateLimiterMemoryStoreWithConfig(
		middleware.RateLimiterMemoryStoreConfig{
			Rate:      rate.Limit(ratePerSecond),
			Burst:     burst,
			ExpiresIn: rateLimiterExpiry,
		},
	)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		Store: store,
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			m.RateLimited.WithLabelValues(c.Path()).Inc()
			return apperrors.RateLimitedError("rate limit exceeded").WithField("client", identifier)
		},
	})
}
