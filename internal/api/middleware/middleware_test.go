package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/rhost/internal/shared/id"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func setupTestRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	return gin.New()
}

func TestCORS(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(DefaultCORSConfig()))
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
	})

	tests := []struct {
		name           string
		method         string
		origin         string
		wantStatus     int
		wantCORSHeader bool
	}{
		{"simple GET with origin", "GET", "http://localhost:3000", http.StatusOK, true},
		{"preflight OPTIONS", "OPTIONS", "http://localhost:3000", http.StatusNoContent, true},
		{"no origin header", "GET", "", http.StatusOK, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, "/health", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if tt.method == "OPTIONS" {
				req.Header.Set("Access-Control-Request-Method", "POST")
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCORSHeader {
				assert.NotEmpty(t, w.Header().Get("Access-Control-Allow-Origin"))
			} else {
				assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
			}
		})
	}
}

func TestCORSRestrictedOrigins(t *testing.T) {
	router := setupTestRouter()
	router.Use(CORS(CORSConfig{Origins: []string{"http://localhost:3000"}}))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })

	do := func(origin string) *httptest.ResponseRecorder {
		req := httptest.NewRequest("GET", "/health", nil)
		req.Header.Set("Origin", origin)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w
	}

	w := do("http://localhost:3000")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "http://localhost:3000", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), http.CanonicalHeaderKey(RequestIDHeader))

	assert.Equal(t, http.StatusForbidden, do("http://evil.example").Code)
}

func TestRateLimit(t *testing.T) {
	router := setupTestRouter()
	router.Use(RateLimit(RateLimitConfig{RequestsPerSecond: 1, Burst: 2, Exempt: []string{"/metrics"}}))
	ok := func(c *gin.Context) { c.Status(http.StatusOK) }
	router.POST("/sessions/:id/evaluate", ok)
	router.GET("/metrics", ok)

	do := func(method, path, ip string) int {
		req := httptest.NewRequest(method, path, nil)
		req.RemoteAddr = ip + ":1234"
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		return w.Code
	}

	assert.Equal(t, http.StatusOK, do("POST", "/sessions/a/evaluate", "10.0.0.1"))
	assert.Equal(t, http.StatusOK, do("POST", "/sessions/a/evaluate", "10.0.0.1"))
	assert.Equal(t, http.StatusTooManyRequests, do("POST", "/sessions/a/evaluate", "10.0.0.1"))

	// buckets are per client
	assert.Equal(t, http.StatusOK, do("POST", "/sessions/a/evaluate", "10.0.0.2"))

	for range 5 {
		assert.Equal(t, http.StatusOK, do("GET", "/metrics", "10.0.0.1"))
	}
}

func TestLimitersEvictIdleClients(t *testing.T) {
	now := time.Now()
	l := newLimiters(RateLimitConfig{RequestsPerSecond: 10, Burst: 10, IdleTTL: time.Minute})
	l.now = func() time.Time { return now }

	assert.True(t, l.allow("10.0.0.1"))
	assert.True(t, l.allow("10.0.0.2"))
	assert.Equal(t, 2, l.size())

	now = now.Add(2 * time.Minute)
	assert.True(t, l.allow("10.0.0.3"))
	assert.Equal(t, 1, l.size())
}

func TestRequestID(t *testing.T) {
	router := setupTestRouter()
	router.Use(RequestID(zap.NewNop()))
	router.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, GetRequestID(c))
	})

	tests := []struct {
		name     string
		incoming string
	}{
		{"generated", ""},
		{"propagated", "client-supplied"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("GET", "/health", nil)
			if tt.incoming != "" {
				req.Header.Set(RequestIDHeader, tt.incoming)
			}
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			got := w.Header().Get(RequestIDHeader)
			assert.Equal(t, got, w.Body.String())
			if tt.incoming != "" {
				assert.Equal(t, tt.incoming, got)
			} else {
				assert.True(t, strings.HasPrefix(got, id.RequestPrefix+"_"))
			}
		})
	}
}
