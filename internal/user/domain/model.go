package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

// MembershipRank is a pure function of the user's cumulative paid total; it
// is cached here and recomputed on every payment or refund.
type MembershipRank string

const (
	RankNormal MembershipRank = "NORMAL"
	RankVIP    MembershipRank = "VIP"
	RankVVIP   MembershipRank = "VVIP"
)

// User carries the cached point balance. The balance is strictly the running
// sum of the user's point_transactions rows; every mutation appends a ledger
// entry and updates this cache in the same transaction.
type User struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	Email          string          `json:"email" gorm:"type:text;not null"`
	Name           string          `json:"name" gorm:"type:text;not null"`
	TotalPoints    decimal.Decimal `json:"total_points" gorm:"type:numeric(18,2);not null"`
	MembershipRank MembershipRank  `json:"membership_rank" gorm:"type:text;not null;default:NORMAL"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (User) TableName() string { return "users" }

var ErrNotFound = errors.New("user_not_found")
