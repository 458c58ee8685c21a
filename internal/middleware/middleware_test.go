package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/access"
	"github.com/bigdegenenergy/open-cloud-ops/meter/internal/auth"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/cache"
	"github.com/bigdegenenergy/open-cloud-ops/meter/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeLimiter struct {
	allowed bool
	err     error
	ids     []string
}

func (f *fakeLimiter) RateLimitCheck(_ context.Context, id string, _ int64, _ time.Duration) (bool, error) {
	f.ids = append(f.ids, id)
	return f.allowed, f.err
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuth(t *testing.T) {
	issuer, err := auth.NewIssuer("secret", "meter", time.Hour)
	require.NoError(t, err)
	token, _, err := issuer.Issue(access.Principal{UserID: "u1", CustomerID: "acme", Role: models.RoleAdmin})
	require.NoError(t, err)

	r := gin.New()
	r.Use(Auth(issuer))
	r.GET("/me", func(c *gin.Context) {
		p, ok := PrincipalFrom(c)
		require.True(t, ok)
		c.JSON(http.StatusOK, gin.H{"user_id": p.UserID, "customer_id": p.CustomerID, "role": p.Role})
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized},
		{"empty token", "Bearer ", http.StatusUnauthorized},
		{"invalid token", "Bearer nope", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := serve(r, req)
			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.JSONEq(t, `{"user_id":"u1","customer_id":"acme","role":"ADMIN"}`, w.Body.String())
			} else {
				assert.Contains(t, w.Body.String(), "unauthorized")
			}
		})
	}
}

func TestRateLimit(t *testing.T) {
	withPrincipal := func(c *gin.Context) {
		SetPrincipal(c, access.Principal{UserID: "u1"})
		c.Next()
	}

	t.Run("blocked", func(t *testing.T) {
		lim := &fakeLimiter{allowed: false}
		r := gin.New()
		r.Use(withPrincipal, RateLimit(lim, 1, time.Minute, nil))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusTooManyRequests, w.Code)
		assert.Equal(t, []string{"user:u1"}, lim.ids)
	})

	t.Run("fails open", func(t *testing.T) {
		lim := &fakeLimiter{err: errors.New("redis down")}
		r := gin.New()
		r.Use(RateLimit(lim, 1, time.Minute, nil))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		w := serve(r, req)
		assert.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, []string{"ip:10.0.0.1"}, lim.ids)
	})

	t.Run("nil limiter", func(t *testing.T) {
		r := gin.New()
		r.Use(RateLimit(nil, 1, time.Minute, nil))
		r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
		assert.Equal(t, http.StatusOK, serve(r, httptest.NewRequest(http.MethodGet, "/", nil)).Code)
	})
}

func TestRecovery(t *testing.T) {
	r := gin.New()
	r.Use(Recovery(nil))
	r.GET("/boom", func(*gin.Context) { panic("boom") })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, w.Body.String(), "internal_server_error")
}

func TestRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RequestID(), Logging(nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := serve(r, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(RequestIDHeader), 36)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w = serve(r, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestCORS_Preflight(t *testing.T) {
	r := gin.New()
	r.Use(CORS([]string{"http://localhost:3000"}))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "http://evil.test")
	w = serve(r, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimit_Redis(t *testing.T) {
	mr := miniredis.RunT(t)
	rc := cache.New(redis.NewClient(&redis.Options{Addr: mr.Addr()}), nil)
	t.Cleanup(func() { _ = rc.Close() })

	r := gin.New()
	r.Use(func(c *gin.Context) {
		SetPrincipal(c, access.Principal{UserID: c.GetHeader("X-User")})
		c.Next()
	}, RateLimit(rc, 2, time.Minute, nil))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	get := func(user string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-User", user)
		return serve(r, req).Code
	}
	assert.Equal(t, http.StatusOK, get("u1"))
	assert.Equal(t, http.StatusOK, get("u1"))
	assert.Equal(t, http.StatusTooManyRequests, get("u1"))
	assert.Equal(t, http.StatusOK, get("u2"))

	mr.FastForward(time.Minute)
	assert.Equal(t, http.StatusOK, get("u1"))
}
