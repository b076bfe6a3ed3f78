package services

import "time"

const (
	KeyGameSession     = "session:%s"
	KeyPendingSessions = "sessions:pending"
	KeyRateLimit       = "ratelimit:%s:%s"
	KeyLeaderboard     = "leaderboard:%s"

	TTLGameSession = 7 * 24 * time.Hour // 7 days

	RateLimitPerIP      = 30 // per window
	RateLimitPerAddress = 10
	RateLimitWindow     = time.Minute
)
