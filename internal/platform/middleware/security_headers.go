package middleware

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"
)

type SecurityConfig struct {
	// HSTSMaxAge is announced on HTTPS requests only. Under a second omits
	// the header.
	HSTSMaxAge time.Duration
}

func DefaultSecurityConfig() SecurityConfig {
	return SecurityConfig{HSTSMaxAge: 365 * 24 * time.Hour}
}

// apiHeaders apply to every JSON response. Meeting rooms run on the
// provider's domain, so camera and microphone stay disabled here, and triage
// data must never be cached by intermediaries.
var apiHeaders = []struct{ name, value string }{
	{"X-Content-Type-Options", "nosniff"},
	{"X-Frame-Options", "DENY"},
	{"X-XSS-Protection", "0"},
	{"Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'"},
	{"Referrer-Policy", "no-referrer"},
	{"Permissions-Policy", "camera=(), microphone=(), geolocation=()"},
	{"Cache-Control", "no-store"},
}

func SecurityHeaders(cfg SecurityConfig) echo.MiddlewareFunc {
	var hsts string
	if secs := int64(cfg.HSTSMaxAge / time.Second); secs > 0 {
		hsts = fmt.Sprintf("max-age=%d; includeSubDomains", secs)
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			h := c.Response().Header()
			for _, kv := range apiHeaders {
				h.Set(kv.name, kv.value)
			}
			// Scheme honours X-Forwarded-Proto from the load balancer.
			if hsts != "" && c.Scheme() == "https" {
				h.Set("Strict-Transport-Security", hsts)
			}
			return next(c)
		}
	}
}
