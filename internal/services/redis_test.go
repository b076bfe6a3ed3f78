package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugmania-backend/internal/config"
	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
)

const playerAddr = "0xabcdefabcdef0000000000000000000000000001"

func setupTestRedis(t *testing.T) (*services.RedisService, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	svc, err := services.NewRedisService(&config.Config{RedisURL: mr.Addr(), SessionTTL: services.TTLGameSession})
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc, mr
}

func testSession(seed, hash string) *models.GameSession {
	return &models.GameSession{
		PlayerAddress:  "0xABCDEFabcdef0000000000000000000000000001",
		ServerSeed:     seed,
		ServerSeedHash: hash,
		BetAmount:      1.5,
		Difficulty:     4,
	}
}

func TestRedisServiceSessionLifecycle(t *testing.T) {
	svc, mr := setupTestRedis(t)
	ctx := context.Background()

	_, err := svc.GetGameSession(ctx, playerAddr)
	assert.True(t, errors.Is(err, services.ErrSessionNotFound))

	require.NoError(t, svc.PutGameSession(ctx, testSession("0x01", "0x02")))

	got, err := svc.GetGameSession(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, playerAddr, got.PlayerAddress, "address is stored lowercase")
	assert.Equal(t, models.SessionStatusPending, got.Status)
	assert.Equal(t, "0x01", got.ServerSeed)
	assert.WithinDuration(t, got.CreatedAt.Add(7*24*time.Hour), got.ExpiresAt, time.Second)

	ttl := mr.TTL("session:" + playerAddr)
	assert.InDelta(t, (7 * 24 * time.Hour).Seconds(), ttl.Seconds(), 2)

	n, err := svc.DeleteGameSession(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = svc.DeleteGameSession(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(0), n, "deleting nothing is not an error")

	count, err := svc.PendingSessionCount(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRedisServicePutReplaces(t *testing.T) {
	svc, _ := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.PutGameSession(ctx, testSession("0x01", "0x02")))
	first, err := svc.GetGameSession(ctx, playerAddr)
	require.NoError(t, err)

	second := testSession("0x03", "0x04")
	second.Difficulty = 3
	require.NoError(t, svc.PutGameSession(ctx, second))

	got, err := svc.GetGameSession(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, "0x03", got.ServerSeed)
	assert.Equal(t, 3, got.Difficulty)
	assert.Empty(t, got.ClientSeed, "nothing carries over from the first session")
	assert.False(t, got.CreatedAt.Before(first.CreatedAt))

	count, err := svc.PendingSessionCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisServiceSessionExpires(t *testing.T) {
	svc, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, svc.PutGameSession(ctx, testSession("0x01", "0x02")))
	mr.FastForward(7*24*time.Hour + time.Second)

	_, err := svc.GetGameSession(ctx, playerAddr)
	assert.True(t, errors.Is(err, services.ErrSessionNotFound))
}

func TestRedisServiceNonPendingIsNotFound(t *testing.T) {
	svc, mr := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, mr.Set("session:"+playerAddr, `{"playerAddress":"`+playerAddr+`","serverSeed":"0x01","status":"completed"}`))
	_, err := svc.GetGameSession(ctx, playerAddr)
	assert.True(t, errors.Is(err, services.ErrSessionNotFound))
}

func TestRedisServiceUnavailable(t *testing.T) {
	svc, mr := setupTestRedis(t)
	mr.Close()

	_, err := svc.GetGameSession(context.Background(), playerAddr)
	assert.Error(t, err)
	assert.False(t, errors.Is(err, services.ErrSessionNotFound))
}

func TestCheckRateLimit(t *testing.T) {
	svc, mr := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ok, _, err := svc.CheckRateLimit(ctx, "ip", "10.0.0.1", 3, time.Minute)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, retry, err := svc.CheckRateLimit(ctx, "ip", "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.True(t, retry > 0 && retry <= time.Minute)

	ok, _, err = svc.CheckRateLimit(ctx, "ip", "10.0.0.2", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "windows are per subject")

	mr.FastForward(time.Minute + time.Second)
	ok, _, err = svc.CheckRateLimit(ctx, "ip", "10.0.0.1", 3, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaderboardCache(t *testing.T) {
	svc, _ := setupTestRedis(t)
	ctx := context.Background()

	_, ok, err := svc.GetCachedLeaderboard(ctx, "weekly")
	require.NoError(t, err)
	assert.False(t, ok)

	entries := []models.LeaderboardEntry{{Address: playerAddr, DisplayName: "x", Wins: 2, Games: 3, Rank: 1}}
	require.NoError(t, svc.SetCachedLeaderboard(ctx, "weekly", entries, time.Minute))

	got, ok, err := svc.GetCachedLeaderboard(ctx, "weekly")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, entries, got)

	require.NoError(t, svc.InvalidateLeaderboards(ctx, "weekly", "alltime"))
	_, ok, err = svc.GetCachedLeaderboard(ctx, "weekly")
	require.NoError(t, err)
	assert.False(t, ok)
}
