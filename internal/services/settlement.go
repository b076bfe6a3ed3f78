package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/decred/slog"

	"rugmania-backend/internal/models"
	"rugmania-backend/internal/storage"
	"rugmania-backend/internal/wallet"
)

const (
	PeriodWeekly  = "weekly"
	PeriodAllTime = "alltime"

	HistoryLimit     = 100
	LeaderboardLimit = 50
)

var ErrUnverified = errors.New("settlement could not be verified")

// SettlementVerifier checks a reported settlement against the chain and
// returns the on-chain payout for wins.
type SettlementVerifier interface {
	VerifySettlement(ctx context.Context, player, txRef string, won bool) (*big.Int, error)
}

type SettlementService struct {
	store       *storage.Store
	redis       *RedisService
	verifier    SettlementVerifier
	broadcaster Broadcaster
	cacheTTL    time.Duration
	log         slog.Logger
	now         func() time.Time
}

type SettlementServiceConfig struct {
	Store       *storage.Store
	Redis       *RedisService
	Verifier    SettlementVerifier
	Broadcaster Broadcaster
	CacheTTL    time.Duration
	Log         slog.Logger
}

func NewSettlementService(cfg SettlementServiceConfig) *SettlementService {
	s := &SettlementService{
		store:       cfg.Store,
		redis:       cfg.Redis,
		verifier:    cfg.Verifier,
		broadcaster: cfg.Broadcaster,
		cacheTTL:    cfg.CacheTTL,
		log:         cfg.Log,
		now:         time.Now,
	}
	if s.log == nil {
		s.log = slog.Disabled
	}
	if s.cacheTTL <= 0 {
		s.cacheTTL = 30 * time.Second
	}
	return s
}

// Record stores a settlement once per txRef. A repeat is reported as a
// duplicate without re-verifying.
func (s *SettlementService) Record(ctx context.Context, req models.SettlementRequest) (*models.Settlement, bool, error) {
	player, err := wallet.Normalize(req.Player)
	if err != nil {
		return nil, false, err
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}
	req.TxRef = strings.ToLower(req.TxRef)

	if existing, err := s.store.SettlementByTxRef(ctx, req.TxRef); err == nil {
		return toModel(existing), true, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, false, err
	}

	payout := req.Payout
	if !req.Won {
		payout = 0
	}
	if s.verifier != nil {
		onChain, err := s.verifier.VerifySettlement(ctx, player, req.TxRef, req.Won)
		if err != nil {
			s.log.Warnf("Rejected settlement %s for %s: %v", req.TxRef, wallet.Truncate(player), err)
			return nil, false, fmt.Errorf("%w: %v", ErrUnverified, err)
		}
		if req.Won && onChain != nil {
			payout = models.WeiToEther(onChain)
		}
	}

	row := &storage.Settlement{
		Player:    player,
		Won:       req.Won,
		BetAmount: req.BetAmount,
		Payout:    payout,
		TxRef:     req.TxRef,
		CreatedAt: s.now().UTC(),
	}
	dup, err := s.store.RecordSettlement(ctx, row)
	if err != nil {
		return nil, false, fmt.Errorf("failed to record settlement: %w", err)
	}
	if dup {
		existing, err := s.store.SettlementByTxRef(ctx, req.TxRef)
		if err != nil {
			return nil, true, nil
		}
		return toModel(existing), true, nil
	}

	out := toModel(row)
	s.log.Infof("Recorded settlement for %s: %s (%s)", wallet.Truncate(player), out.Outcome(), req.TxRef)

	if s.redis != nil {
		if err := s.redis.InvalidateLeaderboards(ctx, PeriodWeekly, PeriodAllTime); err != nil {
			s.log.Warnf("Leaderboard cache invalidation failed: %v", err)
		}
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastSettlement(out)
	}
	return out, false, nil
}

func (s *SettlementService) History(ctx context.Context, player string) ([]models.HistoryEntry, error) {
	rows, err := s.store.History(ctx, player, HistoryLimit)
	if err != nil {
		return nil, err
	}
	out := make([]models.HistoryEntry, 0, len(rows))
	for _, r := range rows {
		status, winnings := "Loss", -r.BetAmount
		if r.Won {
			status, winnings = "Win", r.Payout
		}
		id := r.TxRef
		if len(id) > 8 {
			id = id[:8]
		}
		out = append(out, models.HistoryEntry{
			GameID:    "#" + id,
			Status:    status,
			Wagered:   models.WeiString(r.BetAmount),
			Winnings:  models.WeiString(winnings),
			Timestamp: r.CreatedAt.UnixMilli(),
		})
	}
	return out, nil
}

func (s *SettlementService) Stats(ctx context.Context, player string) (models.PlayerStats, error) {
	t, err := s.store.PlayerTotals(ctx, player)
	if err != nil {
		return models.PlayerStats{}, err
	}
	return models.PlayerStats{
		TotalGames:    t.TotalGames,
		Wins:          t.Wins,
		TotalWagered:  models.WeiString(t.TotalWagered),
		NetProfitLoss: models.WeiString(t.NetProfitLoss()),
	}, nil
}

// Leaderboard serves from the Redis cache when it can and fills it on a
// miss. Unknown periods fall back to all time.
func (s *SettlementService) Leaderboard(ctx context.Context, period string) ([]models.LeaderboardEntry, string, error) {
	if period != PeriodWeekly {
		period = PeriodAllTime
	}

	if s.redis != nil {
		entries, ok, err := s.redis.GetCachedLeaderboard(ctx, period)
		if err != nil {
			s.log.Debugf("Leaderboard cache read failed: %v", err)
		} else if ok {
			return entries, period, nil
		}
	}

	var since time.Time
	if period == PeriodWeekly {
		since = storage.WeekStart(s.now())
	}
	rankings, err := s.store.Rankings(ctx, since, LeaderboardLimit)
	if err != nil {
		return nil, period, err
	}

	addrs := make([]string, len(rankings))
	for i, r := range rankings {
		addrs[i] = r.Player
	}
	names, err := s.store.DisplayNames(ctx, addrs)
	if err != nil {
		return nil, period, err
	}

	entries := make([]models.LeaderboardEntry, len(rankings))
	for i, r := range rankings {
		entries[i] = models.LeaderboardEntry{
			Address:     r.Player,
			DisplayName: names[r.Player],
			Wins:        r.Wins,
			Games:       r.Games,
			Rank:        i + 1,
		}
	}

	if s.redis != nil {
		if err := s.redis.SetCachedLeaderboard(ctx, period, entries, s.cacheTTL); err != nil {
			s.log.Debugf("Leaderboard cache write failed: %v", err)
		}
	}
	return entries, period, nil
}

func toModel(r *storage.Settlement) *models.Settlement {
	return &models.Settlement{
		ID:        r.ID.String(),
		Player:    r.Player,
		Won:       r.Won,
		BetAmount: r.BetAmount,
		Payout:    r.Payout,
		TxRef:     r.TxRef,
		CreatedAt: r.CreatedAt,
	}
}
