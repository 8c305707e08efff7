package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

// StatusPaid is the gateway's own value for a settled payment.
const StatusPaid = "paid"

// Verification is the gateway's record of a payment: the single source of
// truth for whether the reported amount was actually received.
type Verification struct {
	PaymentKey string
	Amount     decimal.Decimal
	Status     string
	OrderRef   string
}

var (
	// ErrPaymentNotFound means the gateway has no record for the key.
	ErrPaymentNotFound = errors.New("gateway_payment_not_found")
	// ErrUnavailable covers auth failures, timeouts and transport faults;
	// callers treat it as "cannot confirm paid", never as confirmation.
	ErrUnavailable = errors.New("gateway_unavailable")
)

// Verifier is the gateway contract. Verify is an idempotent read and safe to
// call repeatedly for the same key. Cancel reverses a charge; failures must
// be reported to the caller wherever they gate a local transition.
type Verifier interface {
	Verify(ctx context.Context, paymentKey string) (*Verification, error)
	Cancel(ctx context.Context, paymentKey, reason string) error
}
