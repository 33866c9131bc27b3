// Package middleware provides the gin middleware of the command interface.
//
// Middleware stack includes:
//   - CORS: cross-origin access, including the websocket event stream
//   - RateLimit: per-IP token buckets; idle clients are evicted
//   - RequestID: X-Request-ID assignment and request logging
//   - APIKey: optional shared key checked against a bcrypt hash
//
// Example Usage:
//
//	router.Use(middleware.RequestID(logger))
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
