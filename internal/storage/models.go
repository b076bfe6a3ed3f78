package storage

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Settlement is one terminal round, unique by the transaction that settled
// it. Amounts are in MNT.
type Settlement struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Player    string    `gorm:"size:42;index;not null"`
	Won       bool      `gorm:"index"`
	BetAmount float64
	Payout    float64
	TxRef     string    `gorm:"size:66;uniqueIndex;not null"`
	CreatedAt time.Time `gorm:"index"`
}

func (s *Settlement) BeforeCreate(*gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	return nil
}

// User holds an optional display name for a wallet address. UsernameKey is
// the lowercased name and carries the uniqueness constraint.
type User struct {
	Address     string `gorm:"size:42;primaryKey"`
	Username    string `gorm:"size:20"`
	UsernameKey string `gorm:"size:20;uniqueIndex"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
