package domain

import (
	"context"
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	userdomain "github.com/orbitcart/payments/internal/user/domain"
)

var (
	ErrNotFound = errors.New("payment_not_found")
	// ErrForbidden is returned when the caller does not own the order the
	// payment settles. Webhook callers carry no identity and skip the check.
	ErrForbidden = errors.New("payment_forbidden")
	// ErrVerificationFailed means the gateway does not confirm the payment
	// as paid (wrong status, unknown key, or gateway fault).
	ErrVerificationFailed = errors.New("payment_verification_failed")
	// ErrTamperSuspected means the gateway's recorded amount differs from
	// the intent amount.
	ErrTamperSuspected = errors.New("payment_amount_mismatch")
	// ErrAlreadyPaid rejects attempts to fail or recreate a PAID payment.
	ErrAlreadyPaid = errors.New("payment_already_paid")
	// ErrKeyCollision indicates a generated payment key already exists; a
	// configuration fault, not a retryable condition.
	ErrKeyCollision = errors.New("payment_key_collision")
	ErrOrderNotPayable = errors.New("order_not_payable")
)

// Intent is what the checkout frontend needs to hand the buyer to the
// gateway SDK.
type Intent struct {
	PaymentID  snowflake.ID    `json:"payment_id"`
	PaymentKey string          `json:"payment_key"`
	Amount     decimal.Decimal `json:"amount"`
	OrderName  string          `json:"order_name"`
}

// ItemInfo is the resolved order line inside a snapshot.
type ItemInfo struct {
	ProductID   snowflake.ID    `json:"product_id"`
	ProductName string          `json:"product_name"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
}

// Snapshot is the terminal view of a payment returned by Reconcile and by
// lookups; repeated Reconcile calls for a PAID payment return the same
// snapshot without re-applying side effects.
type Snapshot struct {
	PaymentID      snowflake.ID              `json:"payment_id"`
	OrderID        snowflake.ID              `json:"order_id"`
	UserID         snowflake.ID              `json:"user_id"`
	Amount         decimal.Decimal           `json:"amount"`
	PointsUsed     decimal.Decimal           `json:"points_used"`
	DiscountAmount decimal.Decimal           `json:"discount_amount"`
	EarnedPoints   decimal.Decimal           `json:"earned_points"`
	Status         PaymentStatus             `json:"status"`
	Method         string                    `json:"method"`
	PointsBefore   decimal.Decimal           `json:"points_before"`
	PointsAfter    decimal.Decimal           `json:"points_after"`
	RankBefore     userdomain.MembershipRank `json:"rank_before"`
	RankAfter      userdomain.MembershipRank `json:"rank_after"`
	Items          []ItemInfo                `json:"items"`
	PaidAt         *time.Time                `json:"paid_at,omitempty"`
	CreatedAt      time.Time                 `json:"created_at"`
	UpdatedAt      time.Time                 `json:"updated_at"`
}

// Service is the payment coordinator: it owns the payment state machine and
// every side effect of its transitions.
type Service interface {
	// CreateIntent persists a CREATED payment for the order (reusing an
	// existing CREATED one) and returns what the gateway SDK needs. No
	// stock or points are mutated yet.
	CreateIntent(ctx context.Context, userID, orderID snowflake.ID, usePoints bool) (*Intent, error)
	// Reconcile drives the payment to PAID or FAILED from the gateway's
	// ground truth. Safe to call concurrently and repeatedly for the same
	// key; exactly one caller applies the side effects. callerUserID is
	// nil on the webhook path.
	Reconcile(ctx context.Context, paymentKey string, callerUserID *snowflake.ID) (*Snapshot, error)
	// FailByKey marks a non-PAID payment FAILED and cancels its order.
	FailByKey(ctx context.Context, paymentKey string) error
	// GetPayment returns the snapshot for support/detail views.
	GetPayment(ctx context.Context, paymentID snowflake.ID, callerUserID *snowflake.ID) (*Snapshot, error)
}
