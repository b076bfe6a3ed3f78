package handlers

import (
	"net/http"

	"github.com/decred/slog"
	"github.com/gin-gonic/gin"

	"rugmania-backend/internal/middleware"
	"rugmania-backend/internal/services"
)

type RouterConfig struct {
	Sessions    *SessionHandler
	Settlements *SettlementHandler
	Users       *UserHandler
	Auth        *AuthHandler
	Feed        *FeedHandler

	JWT       *services.JWTService
	Redis     *services.RedisService
	RateLimit middleware.RateLimitConfig
	Log       slog.Logger
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	log := cfg.Log
	if log == nil {
		log = slog.Disabled
	}

	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.Logger(log), middleware.CORS())

	router.GET("/health", func(c *gin.Context) {
		if err := cfg.Redis.Ping(c.Request.Context()); err != nil {
			respondError(c, http.StatusServiceUnavailable, "UNAVAILABLE", "redis unreachable")
			return
		}
		respondOK(c, nil)
	})

	limited := middleware.RateLimitMiddleware(cfg.Redis, cfg.RateLimit, log)

	api := router.Group("/api")
	{
		api.POST("/auth/token", limited, cfg.Auth.IssueToken)

		sessions := api.Group("/sessions")
		sessions.Use(middleware.AuthMiddleware(cfg.JWT))
		{
			sessions.POST("", cfg.Sessions.SaveSession)
			sessions.GET("", cfg.Sessions.GetSession)
			sessions.DELETE("", cfg.Sessions.DeleteSession)
		}

		api.POST("/settlements", limited, cfg.Settlements.RecordSettlement)
		api.GET("/history", cfg.Settlements.GetHistory)
		api.GET("/stats", cfg.Settlements.GetStats)
		api.GET("/leaderboard", cfg.Settlements.GetLeaderboard)

		api.GET("/users", cfg.Users.GetUser)
		api.POST("/users", limited, cfg.Users.SetUsername)

		if cfg.Feed != nil {
			api.GET("/ws", cfg.Feed.HandleWebSocket)
		}
	}

	return router
}
