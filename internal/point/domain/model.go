package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// PointType signs a ledger entry: EARNED increases the balance, USED
// decreases it. Refund restores are EARNED entries and clawbacks are USED
// entries, mirroring the entries they reverse.
type PointType string

const (
	PointTypeUsed   PointType = "USED"
	PointTypeEarned PointType = "EARNED"
)

// PointTransaction is an append-only ledger row; entries are never updated
// or deleted. The user's cached total_points must equal the running sum of
// these rows at all times.
type PointTransaction struct {
	ID            snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID        snowflake.ID    `json:"user_id" gorm:"not null;index"`
	PointsChanged decimal.Decimal `json:"points_changed" gorm:"type:numeric(18,2);not null"`
	Type          PointType       `json:"type" gorm:"type:text;not null"`
	CreatedAt     time.Time       `json:"created_at" gorm:"not null"`
}

func (PointTransaction) TableName() string { return "point_transactions" }

var (
	ErrInvalidAmount      = errors.New("invalid_point_amount")
	ErrInsufficientPoints = errors.New("insufficient_points")
	ErrUserNotFound       = errors.New("point_user_not_found")
)

// Service mutates point balances. Spend and Accrue run inside the caller's
// transaction so payment side effects commit or roll back as one unit; each
// appends a ledger entry and updates the cached balance together.
type Service interface {
	Spend(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error
	Accrue(ctx context.Context, tx *gorm.DB, userID snowflake.ID, amount decimal.Decimal) error
	Balance(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
	// LedgerSum recomputes the balance from the ledger; reconciliation
	// tooling asserts it equals the cached balance.
	LedgerSum(ctx context.Context, userID snowflake.ID) (decimal.Decimal, error)
}
