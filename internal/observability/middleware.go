package observability

import (
	"time"

	"github.com/gin-gonic/gin"
)

// RequestMetricsMiddleware records every request into the HTTP counters
// using the matched route pattern, so /api/jobs/17 counts under
// /api/jobs/:seq.
func RequestMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
