package monitoring

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
)

// Middleware creates a Gin middleware for metrics collection.
// Paths are recorded by route template so session IDs do not explode cardinality.
func Middleware(metrics *Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequest(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// Timer measures one worker round trip
type Timer struct {
	start   time.Time
	metrics *Metrics
	request string
}

// NewTimer starts timing request
func NewTimer(metrics *Metrics, request string) *Timer {
	metrics.IncPending()
	return &Timer{
		start:   time.Now(),
		metrics: metrics,
		request: request,
	}
}

// Stop records the round trip with its outcome
func (t *Timer) Stop(outcome string) {
	t.metrics.DecPending()
	t.metrics.RecordRequest(t.request, outcome, time.Since(t.start))
}
