package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Refund is the single record of a payment's reversal. The unique constraint
// on payment_id is what makes refunds idempotent: at most one row can ever
// exist per payment, however many times a refund is requested.
type Refund struct {
	ID               snowflake.ID    `json:"id" gorm:"primaryKey"`
	PaymentID        snowflake.ID    `json:"payment_id" gorm:"not null;uniqueIndex"`
	Amount           decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	PointsRestored   decimal.Decimal `json:"points_restored" gorm:"type:numeric(18,2);not null"`
	PointsClawedBack decimal.Decimal `json:"points_clawed_back" gorm:"type:numeric(18,2);not null"`
	Reason           string          `json:"reason" gorm:"type:text"`
	CreatedAt        time.Time       `json:"created_at" gorm:"not null"`
}

func (Refund) TableName() string { return "refunds" }

var (
	// ErrNotRefundable rejects refunds of payments that never reached PAID.
	ErrNotRefundable = errors.New("payment_not_refundable")
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, refund *Refund) error
	FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*Refund, error)
}

// Service reverses a PAID payment: stock back, spent points restored, earned
// points clawed back, order cancelled, rank recomputed. Calling it twice for
// the same payment returns the one existing Refund row.
type Service interface {
	// Refund is the user-facing path. The gateway cancel runs first; if the
	// gateway refuses, no local state changes.
	Refund(ctx context.Context, paymentID snowflake.ID, callerUserID *snowflake.ID, reason string) (*Refund, error)
	// RefundFromGateway handles cancellations the gateway already settled
	// on its side, so no cancel call is issued.
	RefundFromGateway(ctx context.Context, paymentKey, reason string) (*Refund, error)
}
