package services_test

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/services"
	"rugmania-backend/internal/storage"
)

type fakeVerifier struct {
	payout *big.Int
	err    error
	calls  int
}

func (f *fakeVerifier) VerifySettlement(ctx context.Context, player, txRef string, won bool) (*big.Int, error) {
	f.calls++
	return f.payout, f.err
}

type recordingBroadcaster struct {
	mu  sync.Mutex
	got []*models.Settlement
}

func (b *recordingBroadcaster) BroadcastSettlement(s *models.Settlement) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.got = append(b.got, s)
}

func newTestStore(t *testing.T) *storage.Store {
	t.Helper()
	db, err := storage.Open(sqlite.Open(filepath.Join(t.TempDir(), "rug.db")))
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return storage.NewStore(db)
}

func ref(c string) string {
	return "0x" + strings.Repeat(c, 64)
}

func newSettlementService(t *testing.T, v services.SettlementVerifier) (*services.SettlementService, *storage.Store, *recordingBroadcaster) {
	t.Helper()
	store := newTestStore(t)
	rds, _ := setupTestRedis(t)
	b := &recordingBroadcaster{}
	svc := services.NewSettlementService(services.SettlementServiceConfig{
		Store:       store,
		Redis:       rds,
		Verifier:    v,
		Broadcaster: b,
	})
	return svc, store, b
}

func TestRecordSettlementOncePerTxRef(t *testing.T) {
	v := &fakeVerifier{}
	svc, _, b := newSettlementService(t, v)
	ctx := context.Background()

	req := models.SettlementRequest{Player: "0x" + strings.ToUpper(playerAddr[2:]), Won: false, BetAmount: 1, TxRef: ref("a")}
	first, dup, err := svc.Record(ctx, req)
	require.NoError(t, err)
	assert.False(t, dup)
	assert.Equal(t, playerAddr, first.Player)
	assert.Zero(t, first.Payout)

	second, dup, err := svc.Record(ctx, req)
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)

	assert.Equal(t, 1, v.calls, "duplicates are not re-verified")
	assert.Len(t, b.got, 1, "duplicates are not broadcast")
}

func TestRecordSettlementTxRefIgnoresCase(t *testing.T) {
	v := &fakeVerifier{}
	svc, store, _ := newSettlementService(t, v)
	ctx := context.Background()

	lower := "0x" + strings.Repeat("ab", 32)
	first, dup, err := svc.Record(ctx, models.SettlementRequest{Player: playerAddr, BetAmount: 1, TxRef: lower})
	require.NoError(t, err)
	assert.False(t, dup)

	second, dup, err := svc.Record(ctx, models.SettlementRequest{Player: playerAddr, BetAmount: 1, TxRef: "0x" + strings.ToUpper(lower[2:])})
	require.NoError(t, err)
	assert.True(t, dup)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, lower, second.TxRef)

	var rows int64
	require.NoError(t, store.DB().Model(&storage.Settlement{}).Count(&rows).Error)
	assert.Equal(t, int64(1), rows)
	assert.Equal(t, 1, v.calls)
}

func TestRecordSettlementUsesOnChainPayout(t *testing.T) {
	svc, _, _ := newSettlementService(t, &fakeVerifier{payout: models.EtherToWei(2.5)})

	out, _, err := svc.Record(context.Background(), models.SettlementRequest{
		Player: playerAddr, Won: true, BetAmount: 1, Payout: 99, TxRef: ref("b"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2.5, out.Payout)
}

func TestRecordSettlementRejectsUnverified(t *testing.T) {
	svc, store, b := newSettlementService(t, &fakeVerifier{err: errors.New("sender mismatch")})
	ctx := context.Background()

	_, _, err := svc.Record(ctx, models.SettlementRequest{Player: playerAddr, BetAmount: 1, TxRef: ref("c")})
	assert.True(t, errors.Is(err, services.ErrUnverified))

	_, err = store.SettlementByTxRef(ctx, ref("c"))
	assert.True(t, errors.Is(err, storage.ErrNotFound))
	assert.Empty(t, b.got)
}

func TestRecordSettlementValidates(t *testing.T) {
	svc, _, _ := newSettlementService(t, nil)
	ctx := context.Background()

	_, _, err := svc.Record(ctx, models.SettlementRequest{Player: "nope", TxRef: ref("d")})
	assert.Error(t, err)

	_, _, err = svc.Record(ctx, models.SettlementRequest{Player: playerAddr, TxRef: "0x1234"})
	assert.Error(t, err)
}

func TestHistoryAndStats(t *testing.T) {
	svc, _, _ := newSettlementService(t, nil)
	ctx := context.Background()

	_, _, err := svc.Record(ctx, models.SettlementRequest{Player: playerAddr, Won: true, BetAmount: 1, Payout: 3, TxRef: ref("e")})
	require.NoError(t, err)
	_, _, err = svc.Record(ctx, models.SettlementRequest{Player: playerAddr, Won: false, BetAmount: 0.5, TxRef: ref("f")})
	require.NoError(t, err)

	history, err := svc.History(ctx, playerAddr)
	require.NoError(t, err)
	require.Len(t, history, 2)
	labels := []string{history[0].Status, history[1].Status}
	assert.ElementsMatch(t, []string{"Win", "Loss"}, labels)
	for _, h := range history {
		assert.True(t, strings.HasPrefix(h.GameID, "#0x"))
		assert.Len(t, h.GameID, 9)
		if h.Status == "Win" {
			assert.Equal(t, "3000000000000000000", h.Winnings)
		} else {
			assert.Equal(t, "-500000000000000000", h.Winnings, "a loss shows the stake as negative winnings")
		}
	}

	stats, err := svc.Stats(ctx, playerAddr)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalGames)
	assert.Equal(t, int64(1), stats.Wins)
	assert.Equal(t, "1500000000000000000", stats.TotalWagered)
	assert.Equal(t, "1500000000000000000", stats.NetProfitLoss)
}

func TestLeaderboardCachedAndInvalidated(t *testing.T) {
	svc, store, _ := newSettlementService(t, nil)
	ctx := context.Background()

	_, _, err := svc.Record(ctx, models.SettlementRequest{Player: playerAddr, Won: true, BetAmount: 1, Payout: 2, TxRef: ref("1")})
	require.NoError(t, err)
	_, err = store.SetUsername(ctx, playerAddr, "rugger")
	require.NoError(t, err)

	entries, period, err := svc.Leaderboard(ctx, "bogus")
	require.NoError(t, err)
	assert.Equal(t, services.PeriodAllTime, period)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, "rugger", entries[0].DisplayName)

	// Written straight to the store, so the cached board is still served.
	_, err = store.RecordSettlement(ctx, &storage.Settlement{Player: "0x2222222222222222222222222222222222222222", Won: true, BetAmount: 1, Payout: 2, TxRef: ref("2")})
	require.NoError(t, err)
	entries, _, err = svc.Leaderboard(ctx, services.PeriodAllTime)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	_, _, err = svc.Record(ctx, models.SettlementRequest{Player: playerAddr, Won: false, BetAmount: 1, TxRef: ref("3")})
	require.NoError(t, err)
	entries, _, err = svc.Leaderboard(ctx, services.PeriodAllTime)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
	assert.Equal(t, playerAddr, entries[0].Address)
}
