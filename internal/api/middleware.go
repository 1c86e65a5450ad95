package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

// requestID propagates or assigns a request ID.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("requestID", id)
		c.Header(requestIDHeader, id)
		c.Next()
	}
}

// RateLimiter is a fixed-window counter keyed by client.
type RateLimiter interface {
	Allow(ctx context.Context, client string, limit int, window time.Duration) (bool, time.Duration, error)
}

const (
	DefaultRateLimit  = 100
	DefaultRateWindow = 15 * time.Minute
)

// rateLimit allows limit requests per window per client IP. Limiter errors
// let the request through.
func rateLimit(l RateLimiter, limit int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, retryAfter, err := l.Allow(c.Request.Context(), "ip:"+c.ClientIP(), limit, window)
		if err != nil {
			slog.Warn("Server.rateLimit: limiter unavailable", "error", err)
			c.Next()
			return
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(retryAfter.Seconds())+1))
			abortJSON(c, http.StatusTooManyRequests, "Too many requests, please try again later")
			return
		}
		c.Next()
	}
}
