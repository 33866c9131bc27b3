package middleware

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORSConfig lists the browser origins allowed to drive the command interface.
type CORSConfig struct {
	// Origins is empty to allow any origin
	Origins []string
	MaxAge  time.Duration
}

// DefaultCORSConfig allows any origin without credentials. The command
// interface binds to loopback by default.
func DefaultCORSConfig() CORSConfig {
	return CORSConfig{MaxAge: 12 * time.Hour}
}

// CORS creates a CORS middleware for the command interface's own headers.
// Websocket upgrades of the event stream go through the same origin check.
func CORS(cfg CORSConfig) gin.HandlerFunc {
	c := cors.Config{
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{
			"Content-Type",
			"Accept",
			"Origin",
			"Authorization",
			APIKeyHeader,
			RequestIDHeader,
		},
		ExposeHeaders:   []string{RequestIDHeader, "Retry-After"},
		AllowWebSockets: true,
		MaxAge:          cfg.MaxAge,
	}
	if len(cfg.Origins) == 0 {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.Origins
	}
	return cors.New(c)
}
