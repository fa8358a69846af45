package middleware

import (
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"

	"github.com/characterhub/api/pkg/response"
)

// RateLimiter enforces per-user submission budgets with redis fixed windows.
// When redis is down the limiter fails open: losing rate limiting is better
// than losing job submission.
type RateLimiter struct {
	redis *redis.Client
}

func NewRateLimiter(redisClient *redis.Client) *RateLimiter {
	return &RateLimiter{redis: redisClient}
}

// CreationLimit caps character-creation submissions per hour.
func (rl *RateLimiter) CreationLimit(perHour int) fiber.Handler {
	return rl.limit("creation", perHour, time.Hour)
}

// MediaLimit caps media-generation submissions per hour.
func (rl *RateLimiter) MediaLimit(perHour int) fiber.Handler {
	return rl.limit("media", perHour, time.Hour)
}

func (rl *RateLimiter) limit(scope string, max int, window time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if max <= 0 {
			return c.Next()
		}

		userID := GetUserID(c)
		if userID == "" {
			return c.Next()
		}

		windowStart := time.Now().Unix() / int64(window.Seconds())
		key := fmt.Sprintf("ratelimit:%s:%s:%d", scope, userID, windowStart)

		count, err := rl.redis.Incr(c.Context(), key).Result()
		if err != nil {
			return c.Next()
		}
		if count == 1 {
			rl.redis.Expire(c.Context(), key, window)
		}
		if count > int64(max) {
			return response.RateLimited(c)
		}

		return c.Next()
	}
}
