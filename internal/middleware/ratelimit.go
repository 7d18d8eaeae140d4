package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/response"
)

// RateLimiter is a fixed-window limiter shared by every server instance
// through Redis. Each key gets rate requests per interval.
type RateLimiter struct {
	rdb      *redis.Client
	scope    string
	rate     int64
	interval time.Duration
	log      zerolog.Logger
}

// NewRateLimiter creates a RateLimiter (e.g., 10 requests per minute).
func NewRateLimiter(rdb *redis.Client, scope string, rate int, interval time.Duration, log zerolog.Logger) *RateLimiter {
	return &RateLimiter{
		rdb:      rdb,
		scope:    scope,
		rate:     int64(rate),
		interval: interval,
		log:      log.With().Str("component", "rate_limiter").Str("scope", scope).Logger(),
	}
}

// Allow counts one request for key and reports whether it is within the limit.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	window := time.Now().UnixNano() / int64(rl.interval)
	redisKey := config.CacheKey.RateLimitKey(rl.scope, key, window)

	pipe := rl.rdb.TxPipeline()
	incr := pipe.Incr(ctx, redisKey)
	pipe.Expire(ctx, redisKey, rl.interval)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, fmt.Errorf("rate limit counter: %w", err)
	}
	return incr.Val() <= rl.rate, nil
}

func (rl *RateLimiter) untilNextWindow() time.Duration {
	elapsed := time.Duration(time.Now().UnixNano() % int64(rl.interval))
	return rl.interval - elapsed
}

// Middleware returns a Gin middleware that rate-limits requests by student
// when authenticated, otherwise by client IP. Redis errors let the request through.
func (rl *RateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if claims := GetClaims(c); claims != nil {
			key = "u" + strconv.Itoa(claims.UserID)
		}

		ok, err := rl.Allow(c.Request.Context(), key)
		if err != nil {
			rl.log.Warn().Err(err).Msg("Rate limiter unavailable")
			c.Next()
			return
		}
		if !ok {
			response.AbortRateLimited(c, rl.untilNextWindow())
			return
		}
		c.Next()
	}
}
