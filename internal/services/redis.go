package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"rugmania-backend/internal/config"
	"rugmania-backend/internal/models"

	"github.com/redis/go-redis/v9"
)

var ErrSessionNotFound = errors.New("session not found")

// RedisService is the server-side Session Store plus the small amount of
// shared state the API keeps in Redis (rate-limit windows, cached read
// models). One pending session per lowercase player address; the key TTL
// enforces expiresAt.
type RedisService struct {
	client     *redis.Client
	sessionTTL time.Duration
	now        func() time.Time
}

func NewRedisService(cfg *config.Config) (*RedisService, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisURL,
		Password: cfg.RedisPass,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := client.Ping(ctx).Result(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = TTLGameSession
	}

	return &RedisService{
		client:     client,
		sessionTTL: ttl,
		now:        time.Now,
	}, nil
}

func (s *RedisService) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisService) Close() error {
	return s.client.Close()
}

func sessionKey(address string) string {
	return fmt.Sprintf(KeyGameSession, strings.ToLower(address))
}

// PutGameSession replaces whatever the player had stored. Status is reset to
// pending and every timestamp is rewritten, so a put is never a merge.
func (s *RedisService) PutGameSession(ctx context.Context, session *models.GameSession) error {
	now := s.now().UTC()
	session.PlayerAddress = strings.ToLower(session.PlayerAddress)
	session.Status = models.SessionStatusPending
	session.CreatedAt = now
	session.UpdatedAt = now
	session.ExpiresAt = now.Add(s.sessionTTL)

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to marshal game session: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, sessionKey(session.PlayerAddress), data, s.sessionTTL)
	pipe.ZAdd(ctx, KeyPendingSessions, redis.Z{
		Score:  float64(now.Unix()),
		Member: session.PlayerAddress,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save game session: %w", err)
	}

	return nil
}

// GetGameSession returns the player's pending session or ErrSessionNotFound.
func (s *RedisService) GetGameSession(ctx context.Context, address string) (*models.GameSession, error) {
	data, err := s.client.Get(ctx, sessionKey(address)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to get game session: %w", err)
	}

	var session models.GameSession
	if err := json.Unmarshal([]byte(data), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal game session: %w", err)
	}

	if !session.IsPending() || !s.now().Before(session.ExpiresAt) {
		return nil, ErrSessionNotFound
	}

	return &session, nil
}

// DeleteGameSession reports how many sessions were removed; zero is not an
// error.
func (s *RedisService) DeleteGameSession(ctx context.Context, address string) (int64, error) {
	address = strings.ToLower(address)

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, sessionKey(address))
	pipe.ZRem(ctx, KeyPendingSessions, address)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to delete game session: %w", err)
	}

	return del.Val(), nil
}

// PendingSessionsBefore lists up to limit indexed player addresses whose
// session was written before cutoff, oldest first, skipping the first
// offset matches.
func (s *RedisService) PendingSessionsBefore(ctx context.Context, cutoff time.Time, offset, limit int64) ([]string, error) {
	if limit <= 0 {
		limit = 100
	}

	addrs, err := s.client.ZRangeByScore(ctx, KeyPendingSessions, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    fmt.Sprintf("%d", cutoff.Unix()),
		Offset: offset,
		Count:  limit,
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list pending sessions: %w", err)
	}

	return addrs, nil
}

// UnindexSession drops an address from the pending index without touching
// the session key.
func (s *RedisService) UnindexSession(ctx context.Context, address string) error {
	return s.client.ZRem(ctx, KeyPendingSessions, strings.ToLower(address)).Err()
}

func (s *RedisService) PendingSessionCount(ctx context.Context) (int64, error) {
	return s.client.ZCard(ctx, KeyPendingSessions).Result()
}

// CheckRateLimit counts one hit against a fixed window. When the hit is over
// the limit the remaining window length is returned as retryAfter.
func (s *RedisService) CheckRateLimit(ctx context.Context, scope, subject string, limit int, window time.Duration) (bool, time.Duration, error) {
	key := fmt.Sprintf(KeyRateLimit, scope, strings.ToLower(subject))

	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("failed to check rate limit: %w", err)
	}

	if count == 1 {
		s.client.Expire(ctx, key, window)
	}

	if count <= int64(limit) {
		return true, 0, nil
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil || ttl <= 0 {
		// A window without a TTL would block forever; re-arm it.
		s.client.Expire(ctx, key, window)
		ttl = window
	}

	return false, ttl, nil
}

func (s *RedisService) GetCachedLeaderboard(ctx context.Context, period string) ([]models.LeaderboardEntry, bool, error) {
	data, err := s.client.Get(ctx, fmt.Sprintf(KeyLeaderboard, period)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cached leaderboard: %w", err)
	}

	var entries []models.LeaderboardEntry
	if err := json.Unmarshal([]byte(data), &entries); err != nil {
		return nil, false, fmt.Errorf("failed to unmarshal cached leaderboard: %w", err)
	}

	return entries, true, nil
}

func (s *RedisService) SetCachedLeaderboard(ctx context.Context, period string, entries []models.LeaderboardEntry, ttl time.Duration) error {
	if entries == nil {
		entries = []models.LeaderboardEntry{}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal leaderboard: %w", err)
	}

	return s.client.Set(ctx, fmt.Sprintf(KeyLeaderboard, period), data, ttl).Err()
}

func (s *RedisService) InvalidateLeaderboards(ctx context.Context, periods ...string) error {
	if len(periods) == 0 {
		return nil
	}

	keys := make([]string, len(periods))
	for i, p := range periods {
		keys[i] = fmt.Sprintf(KeyLeaderboard, p)
	}

	return s.client.Del(ctx, keys...).Err()
}
