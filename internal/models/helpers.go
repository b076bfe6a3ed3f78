package models

import (
	"fmt"
	"math"
	"regexp"
	"time"

	"rugmania-backend/internal/fairness"
)

const (
	MinBet = 0.1
	MaxBet = 10.0

	// MaxSettlementBet and MaxSettlementPayout bound what a client may
	// report; anything larger is rejected as malformed.
	MaxSettlementBet    = 1_000.0
	MaxSettlementPayout = 100_000.0

	SignatureMaxSkew = 5 * time.Minute
)

var (
	usernameRe = regexp.MustCompile(`^[a-zA-Z0-9_]{3,20}$`)
	txRefRe    = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)
)

func (r *SaveSessionRequest) Validate() error {
	if !fairness.IsSeedHex(r.ServerSeed) {
		return fmt.Errorf("serverSeed: %v", fairness.ErrInvalidSeed)
	}
	if _, err := fairness.ParseHash(r.ServerSeedHash); err != nil {
		return fmt.Errorf("serverSeedHash: %v", err)
	}
	if r.ClientSeed != "" && !fairness.IsSeedHex(r.ClientSeed) {
		return fmt.Errorf("clientSeed: %v", fairness.ErrInvalidSeed)
	}
	if !Difficulty(r.Difficulty).Valid() {
		return fmt.Errorf("invalid difficulty: %d", r.Difficulty)
	}
	if r.BetAmount < 0 || math.IsNaN(r.BetAmount) || math.IsInf(r.BetAmount, 0) {
		return fmt.Errorf("invalid bet amount")
	}
	return nil
}

func (r *SettlementRequest) Validate() error {
	if !txRefRe.MatchString(r.TxRef) {
		return fmt.Errorf("invalid txRef")
	}
	if r.BetAmount < 0 || r.BetAmount > MaxSettlementBet || math.IsNaN(r.BetAmount) {
		return fmt.Errorf("invalid bet amount")
	}
	if r.Payout < 0 || r.Payout > MaxSettlementPayout || math.IsNaN(r.Payout) {
		return fmt.Errorf("invalid payout")
	}
	return nil
}

func ValidUsername(name string) bool {
	return usernameRe.MatchString(name)
}

// TimestampFresh checks a millisecond timestamp against the allowed skew.
func TimestampFresh(tsMillis int64, now time.Time) bool {
	d := now.Sub(time.UnixMilli(tsMillis))
	if d < 0 {
		d = -d
	}
	return d <= SignatureMaxSkew
}

func UsernameMessage(address, username string, tsMillis int64) string {
	return fmt.Sprintf("RugMania - Set Username\nAddress: %s\nUsername: %s\nTimestamp: %d",
		address, username, tsMillis)
}

func SessionAccessMessage(address string, tsMillis int64) string {
	return fmt.Sprintf("RugMania - Session Access\nAddress: %s\nTimestamp: %d",
		address, tsMillis)
}

// Multiplier mirrors the contract: (doors / (doors-1))^level, rounded to
// two decimals. The house edge is applied at payout, not here.
func Multiplier(doors, level int) float64 {
	if doors < 2 || level <= 0 {
		return 1
	}
	m := math.Pow(float64(doors)/float64(doors-1), float64(level))
	return math.Round(m*100) / 100
}

func CalculatePayout(betAmount, multiplier float64) float64 {
	return betAmount * multiplier
}
