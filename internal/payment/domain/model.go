package domain

import (
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type PaymentStatus string

// Status transitions are monotonic: CREATED moves to PAID or FAILED, and
// only PAID moves to REFUNDED. Nothing ever overrides PAID except a refund.
const (
	StatusCreated  PaymentStatus = "CREATED"
	StatusPaid     PaymentStatus = "PAID"
	StatusFailed   PaymentStatus = "FAILED"
	StatusRefunded PaymentStatus = "REFUNDED"
)

// Payment is one payment attempt against one order. PaymentKey is the
// gateway correlation token, assigned once at intent creation and never
// reused. EarnedPoints is fixed at PAID time so a refund claws back exactly
// what was accrued even if the accrual rate changes later.
type Payment struct {
	ID             snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID        snowflake.ID    `json:"order_id" gorm:"not null;index"`
	PaymentKey     string          `json:"payment_key" gorm:"type:text;not null;uniqueIndex"`
	MethodID       int64           `json:"method_id" gorm:"not null"`
	Amount         decimal.Decimal `json:"amount" gorm:"type:numeric(18,2);not null"`
	PointsUsed     decimal.Decimal `json:"points_used" gorm:"type:numeric(18,2);not null"`
	DiscountAmount decimal.Decimal `json:"discount_amount" gorm:"type:numeric(18,2);not null"`
	EarnedPoints   decimal.Decimal `json:"earned_points" gorm:"type:numeric(18,2);not null"`
	Status         PaymentStatus   `json:"status" gorm:"type:text;not null;default:CREATED"`
	PaidAt         *time.Time      `json:"paid_at"`
	CreatedAt      time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt      time.Time       `json:"updated_at" gorm:"not null"`
}

func (Payment) TableName() string { return "payments" }
