package models

import "time"

// Settlement is the terminal record of a round, keyed by the transaction
// that settled it on chain.
type Settlement struct {
	ID        string    `json:"id"`
	Player    string    `json:"player"`
	Won       bool      `json:"won"`
	BetAmount float64   `json:"betAmount"`
	Payout    float64   `json:"payout"`
	TxRef     string    `json:"txRef"`
	CreatedAt time.Time `json:"timestamp"`
}

func (s Settlement) Outcome() string {
	if s.Won {
		return "won"
	}
	return "lost"
}
