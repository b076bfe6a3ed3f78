// Package chain talks to the RugMania contract: the authoritative session
// read, the three writes, settlement verification and event polling.
package chain

import (
	"errors"
	"fmt"
	"math/big"

	"rugmania-backend/internal/fairness"
	"rugmania-backend/internal/models"
)

// MaxLevel is the last level a round can reach; reaching it settles.
const MaxLevel = 15

var (
	ErrTxReverted     = errors.New("transaction reverted")
	ErrTxNotFound     = errors.New("transaction not found")
	ErrSenderMismatch = errors.New("transaction sender mismatch")
	ErrTargetMismatch = errors.New("transaction target mismatch")
	ErrEventNotFound  = errors.New("expected event not found")
	ErrNoSigner       = errors.New("no signing key configured")
)

// Session is the contract's view of a player's round. It is authoritative:
// local state is reconciled against it, never the other way round.
type Session struct {
	IsActive       bool
	CurrentLevel   int
	BetAmount      *big.Int
	DoorsPerLevel  int
	ServerSeedHash fairness.Hash
	ClientSeed     fairness.Seed
	Multiplier     *big.Int // 1e18 fixed point
}

func (s *Session) BetEther() float64 {
	return models.WeiToEther(s.BetAmount)
}

func (s *Session) MultiplierValue() float64 {
	return models.WeiToEther(s.Multiplier)
}

// Meta locates an event in the chain.
type Meta struct {
	Player      string
	TxHash      string
	LogIndex    uint
	BlockNumber uint64
}

// ID is the dedup key for polled events.
func (m Meta) ID() string {
	return fmt.Sprintf("%s-%d", m.TxHash, m.LogIndex)
}

// Event is one of BetPlaced, DoorResolved, Rugged, CashedOut or
// MaxLevelReached.
type Event interface {
	Meta() Meta
	event()
}

type BetPlaced struct {
	Info   Meta
	Amount *big.Int
	Doors  int
}

type DoorResolved struct {
	Info          Meta
	Door          int
	Survived      bool
	Level         int
	NewMultiplier *big.Int
}

type Rugged struct {
	Info    Meta
	Level   int
	RugDoor int
}

type CashedOut struct {
	Info   Meta
	Payout *big.Int
	Level  int
}

type MaxLevelReached struct {
	Info   Meta
	Payout *big.Int
}

func (e BetPlaced) Meta() Meta       { return e.Info }
func (e DoorResolved) Meta() Meta    { return e.Info }
func (e Rugged) Meta() Meta          { return e.Info }
func (e CashedOut) Meta() Meta       { return e.Info }
func (e MaxLevelReached) Meta() Meta { return e.Info }

func (BetPlaced) event()       {}
func (DoorResolved) event()    {}
func (Rugged) event()          {}
func (CashedOut) event()       {}
func (MaxLevelReached) event() {}

// Receipt is a mined write and the contract events it emitted.
type Receipt struct {
	TxHash      string
	BlockNumber uint64
	Events      []Event
}
