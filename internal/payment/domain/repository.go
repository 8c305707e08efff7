package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, payment *Payment) error
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Payment, error)
	FindByKey(ctx context.Context, db *gorm.DB, paymentKey string) (*Payment, error)
	// FindCreatedByOrder returns an open intent for the order, if any, so
	// repeated checkout attempts reuse one payment row.
	FindCreatedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*Payment, error)
	// TransitionStatus is the compare-and-set guarding the state machine:
	// the update applies only while the row still has the expected status,
	// and the first caller to win it owns the transition's side effects.
	TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to PaymentStatus, paidAt *time.Time, earnedPoints *decimal.Decimal) (bool, error)
	// SumPaidByUser totals amounts over the user's PAID payments for
	// membership evaluation.
	SumPaidByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (decimal.Decimal, error)
}
