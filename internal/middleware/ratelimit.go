package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/wallet"
)

type RateLimitConfig struct {
	PerIP      int
	PerAddress int
	Window     time.Duration
}

func DefaultRateLimit() RateLimitConfig {
	return RateLimitConfig{
		PerIP:      services.RateLimitPerIP,
		PerAddress: services.RateLimitPerAddress,
		Window:     services.RateLimitWindow,
	}
}

// RateLimitMiddleware counts every request against the client IP and, when
// the JSON body names a wallet, against that address too. Redis errors let
// the request through.
func RateLimitMiddleware(redisService *services.RedisService, cfg RateLimitConfig, log slog.Logger) gin.HandlerFunc {
	if log == nil {
		log = slog.Disabled
	}
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		allowed, retry, err := redisService.CheckRateLimit(ctx, "ip", c.ClientIP(), cfg.PerIP, cfg.Window)
		if err != nil {
			log.Warnf("Rate limit check failed: %v", err)
			c.Next()
			return
		}
		if !allowed {
			tooMany(c, retry)
			return
		}

		addr := bodyAddress(c)
		if addr == "" {
			c.Next()
			return
		}
		allowed, retry, err = redisService.CheckRateLimit(ctx, "addr", addr, cfg.PerAddress, cfg.Window)
		if err != nil {
			log.Warnf("Rate limit check failed: %v", err)
			c.Next()
			return
		}
		if !allowed {
			tooMany(c, retry)
			return
		}

		c.Next()
	}
}

func tooMany(c *gin.Context, retry time.Duration) {
	secs := int(retry.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	c.Header("Retry-After", strconv.Itoa(secs))
	abort(c, http.StatusTooManyRequests, models.CodeRateLimited, "Rate limit exceeded")
}

// bodyAddress peeks at the JSON body for the wallet the request acts on and
// puts the body back for the handler.
func bodyAddress(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	data, err := io.ReadAll(io.LimitReader(c.Request.Body, 64<<10))
	c.Request.Body.Close()
	c.Request.Body = io.NopCloser(bytes.NewReader(data))
	if err != nil || len(data) == 0 {
		return ""
	}

	var probe struct {
		Address       string `json:"address"`
		Player        string `json:"player"`
		PlayerAddress string `json:"playerAddress"`
	}
	if json.Unmarshal(data, &probe) != nil {
		return ""
	}
	for _, a := range []string{probe.Address, probe.Player, probe.PlayerAddress} {
		if addr, err := wallet.Normalize(a); err == nil {
			return addr
		}
	}
	return ""
}
