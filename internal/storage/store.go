package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"rugmania-backend/internal/wallet"
)

// Store wraps a gorm DB instance and provides the settlement and user
// queries the API needs.
type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	if db == nil {
		return nil
	}
	return &Store{db: db}
}

func (s *Store) DB() *gorm.DB {
	if s == nil {
		return nil
	}
	return s.db
}

var (
	ErrNotFound      = gorm.ErrRecordNotFound
	ErrUsernameTaken = errors.New("username already taken")
)

// RecordSettlement inserts a settlement. A second insert for the same TxRef
// leaves the first row untouched and reports duplicate.
func (s *Store) RecordSettlement(ctx context.Context, st *Settlement) (duplicate bool, err error) {
	st.Player = strings.ToLower(st.Player)
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "tx_ref"}}, DoNothing: true}).
		Create(st)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 0, nil
}

func (s *Store) SettlementByTxRef(ctx context.Context, txRef string) (*Settlement, error) {
	var st Settlement
	if err := s.db.WithContext(ctx).First(&st, "tx_ref = ?", txRef).Error; err != nil {
		return nil, err
	}
	return &st, nil
}

// History returns a player's newest settlements first.
func (s *Store) History(ctx context.Context, player string, limit int) ([]Settlement, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	var rows []Settlement
	err := s.db.WithContext(ctx).
		Where("player = ?", strings.ToLower(player)).
		Order("created_at DESC").
		Limit(limit).
		Find(&rows).Error
	return rows, err
}

// PlayerTotals aggregates every settlement of one player.
type PlayerTotals struct {
	TotalGames   int64
	Wins         int64
	TotalWagered float64
	TotalPayout  float64
}

func (t PlayerTotals) NetProfitLoss() float64 {
	return t.TotalPayout - t.TotalWagered
}

func (s *Store) PlayerTotals(ctx context.Context, player string) (PlayerTotals, error) {
	var totals PlayerTotals
	err := s.db.WithContext(ctx).
		Model(&Settlement{}).
		Select(`COUNT(*) AS total_games,
			COALESCE(SUM(CASE WHEN won THEN 1 ELSE 0 END), 0) AS wins,
			COALESCE(SUM(bet_amount), 0) AS total_wagered,
			COALESCE(SUM(payout), 0) AS total_payout`).
		Where("player = ?", strings.ToLower(player)).
		Scan(&totals).Error
	return totals, err
}

// Ranking is one leaderboard row before display names are attached.
type Ranking struct {
	Player string
	Wins   int64
	Games  int64
}

// Rankings orders players by wins, then games played. A zero since covers
// all time.
func (s *Store) Rankings(ctx context.Context, since time.Time, limit int) ([]Ranking, error) {
	if limit <= 0 {
		limit = 50
	}
	q := s.db.WithContext(ctx).
		Model(&Settlement{}).
		Select("player, COALESCE(SUM(CASE WHEN won THEN 1 ELSE 0 END), 0) AS wins, COUNT(*) AS games")
	if !since.IsZero() {
		q = q.Where("created_at >= ?", since.UTC())
	}
	var rows []Ranking
	err := q.Group("player").
		Order("wins DESC").
		Order("games DESC").
		Order("player ASC").
		Limit(limit).
		Scan(&rows).Error
	return rows, err
}

func (s *Store) GetUser(ctx context.Context, address string) (*User, error) {
	var u User
	if err := s.db.WithContext(ctx).First(&u, "address = ?", strings.ToLower(address)).Error; err != nil {
		return nil, err
	}
	return &u, nil
}

// SetUsername creates or renames the user at address. Names are unique
// regardless of case.
func (s *Store) SetUsername(ctx context.Context, address, username string) (*User, error) {
	address = strings.ToLower(address)
	key := strings.ToLower(username)

	var holder User
	err := s.db.WithContext(ctx).
		Where("username_key = ? AND address <> ?", key, address).
		First(&holder).Error
	switch {
	case err == nil:
		return nil, ErrUsernameTaken
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return nil, err
	}

	u := &User{Address: address, Username: username, UsernameKey: key}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "address"}},
			DoUpdates: clause.AssignmentColumns([]string{"username", "username_key", "updated_at"}),
		}).
		Create(u).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, ErrUsernameTaken
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// DisplayNames maps each address to its username, falling back to the
// truncated address.
func (s *Store) DisplayNames(ctx context.Context, addresses []string) (map[string]string, error) {
	names := make(map[string]string, len(addresses))
	if len(addresses) == 0 {
		return names, nil
	}
	lower := make([]string, len(addresses))
	for i, a := range addresses {
		lower[i] = strings.ToLower(a)
		names[lower[i]] = wallet.Truncate(lower[i])
	}

	var users []User
	if err := s.db.WithContext(ctx).Where("address IN ?", lower).Find(&users).Error; err != nil {
		return nil, err
	}
	for _, u := range users {
		if u.Username != "" {
			names[u.Address] = u.Username
		}
	}
	return names, nil
}

// WeekStart returns Monday 00:00 UTC of the week containing t.
func WeekStart(t time.Time) time.Time {
	t = t.UTC()
	offset := (int(t.Weekday()) + 6) % 7
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -offset)
}
