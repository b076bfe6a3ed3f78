package models

import "time"

type SessionStatus string

const (
	SessionStatusPending SessionStatus = "pending"
)

// GameSession is the server-side copy of a round's secret material, kept
// only so a player can restore an in-progress round after a reload or from
// another device. There is at most one per player address.
type GameSession struct {
	PlayerAddress  string        `json:"playerAddress" redis:"player_address"`
	ServerSeed     string        `json:"serverSeed" redis:"server_seed"`
	ServerSeedHash string        `json:"serverSeedHash" redis:"server_seed_hash"`
	ClientSeed     string        `json:"clientSeed,omitempty" redis:"client_seed"`
	BetAmount      float64       `json:"betAmount" redis:"bet_amount"`
	Difficulty     int           `json:"difficulty" redis:"difficulty"`
	Status         SessionStatus `json:"status" redis:"status"`
	CreatedAt      time.Time     `json:"createdAt" redis:"created_at"`
	UpdatedAt      time.Time     `json:"updatedAt" redis:"updated_at"`
	ExpiresAt      time.Time     `json:"expiresAt" redis:"expires_at"`
}

func (s *GameSession) IsPending() bool {
	return s != nil && s.Status == SessionStatusPending
}
