package server

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	echoapi "github.com/pilab-dev/shadow-idp/api/echo"
	oautherrors "github.com/pilab-dev/shadow-idp/errors"
	"github.com/pilab-dev/shadow-idp/internal/ratelimit"
	"github.com/pilab-dev/shadow-idp/log"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

// NewHTTPServer builds the echo instance serving the OAuth2 API and metrics.
// A nil limiter disables throttling of the credential endpoints.
func NewHTTPServer(
	appLogger log.Logger,
	oauthAPI *echoapi.OAuth2API,
	gatherer prometheus.Gatherer,
	limiter *ratelimit.Limiter,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(securityHeaders())
	e.Use(traceContext())
	e.Use(requestLogger(appLogger))
	if limiter != nil {
		e.Use(throttle(limiter, "/login", "/token"))
	}

	oauthAPI.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	return e
}

// securityHeaders sets the browser hardening headers. form-action is left
// out so the post-login redirect chain can reach client callbacks.
func securityHeaders() echo.MiddlewareFunc {
	return middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "0",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		HSTSPreloadEnabled:    true,
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none'; base-uri 'self'",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
	})
}

// throttle limits POST requests to paths per client IP.
func throttle(limiter *ratelimit.Limiter, paths ...string) echo.MiddlewareFunc {
	guarded := make(map[string]bool, len(paths))
	for _, p := range paths {
		guarded[p] = true
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if req.Method != http.MethodPost || !guarded[req.URL.Path] {
				return next(c)
			}
			if !limiter.Allow(c.RealIP()) {
				c.Response().Header().Set(echo.HeaderRetryAfter, "1")
				return c.JSON(http.StatusTooManyRequests,
					oautherrors.New(oautherrors.TemporarilyUnavailable, "too many requests"))
			}
			return next(c)
		}
	}
}

// traceContext extracts W3C trace headers so flow spans join the caller's trace.
func traceContext() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			ctx := otel.GetTextMapPropagator().Extract(req.Context(), propagation.HeaderCarrier(req.Header))
			c.SetRequest(req.WithContext(ctx))
			return next(c)
		}
	}
}

func requestLogger(appLogger log.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			req := c.Request()
			fields := map[string]interface{}{
				"method":     req.Method,
				"path":       req.URL.Path,
				"status":     c.Response().Status,
				"latency":    time.Since(start).String(),
				"ip":         c.RealIP(),
				"user_agent": req.UserAgent(),
				"request_id": c.Response().Header().Get(echo.HeaderXRequestID),
			}
			switch {
			case err != nil:
				appLogger.Error(req.Context(), "HTTP request failed", err, fields)
			case c.Response().Status >= http.StatusInternalServerError:
				appLogger.Warn(req.Context(), "HTTP request", fields)
			default:
				appLogger.Info(req.Context(), "HTTP request", fields)
			}
			return nil
		}
	}
}
