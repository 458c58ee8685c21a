// Package middleware provides Gin middleware functions for the Meter API.
// It includes CORS handling, request ids, request logging, bearer token
// authentication, rate limiting and panic recovery.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/auth"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/logger"
)

const (
	principalKey = "meter.principal"
	requestIDKey = "meter.request_id"

	// RequestIDHeader carries the request id in both directions.
	RequestIDHeader = "X-Request-ID"
)

// TokenVerifier verifies bearer tokens.
type TokenVerifier interface {
	Parse(token string) (*auth.Claims, error)
}

// RateLimiter is a fixed-window counter keyed by caller identity.
type RateLimiter interface {
	RateLimitCheck(ctx context.Context, id string, maxRequests int64, window time.Duration) (bool, error)
}

// CORS returns the cross-origin policy for the dashboard origins. An empty
// list or "*" allows every origin without credentials.
func CORS(allowedOrigins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", RequestIDHeader},
		ExposeHeaders:    []string{RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	for _, o := range allowedOrigins {
		if o == "*" {
			cfg.AllowAllOrigins = true
			cfg.AllowCredentials = false
			break
		}
	}
	if !cfg.AllowAllOrigins {
		cfg.AllowOrigins = allowedOrigins
	}
	return cors.New(cfg)
}

// RequestID propagates the caller's X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(requestIDKey, id)
		c.Writer.Header().Set(RequestIDHeader, id)
		c.Next()
	}
}

// Logging logs method, path, status, latency and client IP for every
// request. The level follows the status class.
func Logging(log *logger.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if q := c.Request.URL.RawQuery; q != "" {
			path = path + "?" + q
		}

		c.Next()

		status := c.Writer.Status()
		fields := []any{
			"method", c.Request.Method,
			"path", path,
			"status", status,
			"latency_ms", time.Since(start).Milliseconds(),
			"client_ip", c.ClientIP(),
			"bytes", c.Writer.Size(),
			"request_id", c.GetString(requestIDKey),
		}
		if p, ok := PrincipalFrom(c); ok {
			fields = append(fields, "user_id", p.UserID)
		}

		switch {
		case status >= 500:
			fields = append(fields, "errors", c.Errors.ByType(gin.ErrorTypePrivate).String())
			log.Error("request failed", fields...)
		case status >= 400:
			log.Warn("request rejected", fields...)
		default:
			log.Info("request", fields...)
		}
	}
}

// Auth requires an "Authorization: Bearer <jwt>" header and stores the
// verified principal on the context.
func Auth(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Missing bearer token. Provide Authorization: Bearer <token>.",
			})
			return
		}

		claims, err := verifier.Parse(strings.TrimSpace(token))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "Invalid or expired token.",
			})
			return
		}

		c.Set(principalKey, claims.Principal())
		c.Next()
	}
}

// PrincipalFrom returns the principal stored by Auth.
func PrincipalFrom(c *gin.Context) (access.Principal, bool) {
	v, ok := c.Get(principalKey)
	if !ok {
		return access.Principal{}, false
	}
	p, ok := v.(access.Principal)
	return p, ok
}

// SetPrincipal stores p on the context, as Auth does.
func SetPrincipal(c *gin.Context, p access.Principal) {
	c.Set(principalKey, p)
}

// RateLimit enforces maxRequests per window for each principal, or per
// client IP before authentication. A nil limiter disables the check, and
// limiter errors let the request through.
func RateLimit(limiter RateLimiter, maxRequests int64, window time.Duration, log *logger.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		if limiter == nil || maxRequests <= 0 {
			c.Next()
			return
		}

		id := "ip:" + c.ClientIP()
		if p, ok := PrincipalFrom(c); ok {
			id = "user:" + p.UserID
		}

		allowed, err := limiter.RateLimitCheck(c.Request.Context(), id, maxRequests, window)
		if err != nil {
			log.Warn("rate limit check failed", "error", err, "id", id)
			c.Next()
			return
		}
		if !allowed {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":   "rate_limit_exceeded",
				"message": "Too many requests. Please slow down.",
			})
			return
		}
		c.Next()
	}
}

// Recovery converts panics into a 500 response.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	log = logger.OrNop(log)
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				log.Error("recovered from panic",
					"panic", err,
					"path", c.Request.URL.Path,
					"request_id", c.GetString(requestIDKey),
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   "internal_server_error",
					"message": "An unexpected error occurred.",
				})
			}
		}()
		c.Next()
	}
}
