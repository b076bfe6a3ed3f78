package chain

import (
	"context"
	"math/big"

	"rugmania-backend/internal/fairness"
)

// Reader fetches the authoritative session.
type Reader interface {
	GetGame(ctx context.Context, player string) (*Session, error)
}

// Writer sends the player's transactions and waits for them to be mined.
// A returned error means the write did not take effect.
type Writer interface {
	PlaceBet(ctx context.Context, doors int, clientSeed fairness.Seed, commitment fairness.Hash, value *big.Int) (*Receipt, error)
	SelectDoor(ctx context.Context, door int, secret fairness.Seed) (*Receipt, error)
	CashOut(ctx context.Context) (*Receipt, error)
}

type Contract interface {
	Reader
	Writer
}
