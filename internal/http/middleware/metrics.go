package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/autoforge-backend/internal/observability"
)

// Metrics instruments HTTP request counts and latency.
func Metrics(m *observability.Metrics) gin.HandlerFunc {
	if m == nil {
		return func(c *gin.Context) { c.Next() }
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = normalizePath(c.Request.URL.Path)
		}
		m.ObserveHTTP(c.Request.Method, route, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// normalizePath keeps label cardinality bounded for unmatched routes by
// collapsing anything under /v1/ to its first segment.
func normalizePath(path string) string {
	if strings.HasPrefix(path, "/v1/") {
		segments := strings.Split(path, "/")
		if len(segments) > 2 {
			return "/v1/" + segments[2]
		}
	}
	return path
}
