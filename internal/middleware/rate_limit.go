package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/citylens/citylens/internal/metrics"
	"github.com/citylens/citylens/internal/ratelimit"
	"github.com/citylens/citylens/pkg/config"
)

// RateLimitDemo throttles the public demo endpoints per client address. The
// demo surface is unauthenticated, so the client network address is the only
// identity available for bucketing.
func RateLimitDemo(lim ratelimit.Limiter, bcfg config.RateLimitBucketConfig, endpoint string) gin.HandlerFunc {
	bucket := ratelimit.Bucket{RequestsPerMinute: bcfg.RequestsPerMinute, BurstSize: bcfg.BurstSize}
	return func(c *gin.Context) {
		if lim == nil || !bucket.Enabled() {
			c.Next()
			return
		}

		dec := lim.Allow(clientKey(c), bucket)
		if dec.Allowed {
			c.Next()
			return
		}

		retryAfterSeconds := int(dec.RetryAfter.Seconds())
		if retryAfterSeconds <= 0 {
			retryAfterSeconds = 1
		}
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds))
		metrics.RateLimitHitsTotal.WithLabelValues(endpoint).Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error":             "rate limit exceeded",
			"retryAfterSeconds": retryAfterSeconds,
		})
	}
}

// clientKey picks the leftmost X-Forwarded-For entry when present, falling
// back to the peer host without its port so reconnects share a bucket. Behind
// the trusted ingress the leftmost entry is the original client.
func clientKey(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		if first := strings.TrimSpace(strings.Split(xff, ",")[0]); first != "" {
			return first
		}
	}
	addr := strings.TrimSpace(c.Request.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil && host != "" {
		return host
	}
	if addr != "" {
		return addr
	}
	return "unknown"
}
