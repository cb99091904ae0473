package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/credverify/pkg/metrics"
)

// unmatchedRoute labels requests that hit no registered route so probes cannot inflate label cardinality.
const unmatchedRoute = "unmatched"

// Metrics records latency per route template and tracks in-flight requests.
// Paths listed in skip (e.g. the scrape endpoint) are served without instrumentation.
func Metrics(skip ...string) gin.HandlerFunc {
	skipped := make(map[string]struct{}, len(skip))
	for _, path := range skip {
		skipped[path] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skipped[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		metrics.APIInFlight.Inc()
		start := time.Now()
		defer metrics.APIInFlight.Dec()

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = unmatchedRoute
		}
		status := strconv.Itoa(c.Writer.Status())
		metrics.APILatency.WithLabelValues(c.Request.Method, route, status).Observe(time.Since(start).Seconds())
	}
}
