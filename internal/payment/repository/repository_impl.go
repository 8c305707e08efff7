package repository

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/payment/domain"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const selectColumns = `id, order_id, payment_key, method_id, amount, points_used,
	discount_amount, earned_points, status, paid_at, created_at, updated_at`

func (r *repo) Insert(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO payments (
			id, order_id, payment_key, method_id, amount, points_used,
			discount_amount, earned_points, status, paid_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		payment.ID,
		payment.OrderID,
		payment.PaymentKey,
		payment.MethodID,
		payment.Amount,
		payment.PointsUsed,
		payment.DiscountAmount,
		payment.EarnedPoints,
		payment.Status,
		payment.PaidAt,
		payment.CreatedAt,
		payment.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM payments
		 WHERE id = ?
		 LIMIT 1`,
		id,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindByKey(ctx context.Context, db *gorm.DB, paymentKey string) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM payments
		 WHERE payment_key = ?
		 LIMIT 1`,
		paymentKey,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) FindCreatedByOrder(ctx context.Context, db *gorm.DB, orderID snowflake.ID) (*domain.Payment, error) {
	var item domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+selectColumns+`
		 FROM payments
		 WHERE order_id = ? AND status = ?
		 ORDER BY id
		 LIMIT 1`,
		orderID,
		domain.StatusCreated,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}

func (r *repo) TransitionStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, from, to domain.PaymentStatus, paidAt *time.Time, earnedPoints *decimal.Decimal) (bool, error) {
	query := `UPDATE payments
		 SET status = ?, updated_at = CURRENT_TIMESTAMP`
	args := []any{to}
	if paidAt != nil {
		query += `, paid_at = ?`
		args = append(args, *paidAt)
	}
	if earnedPoints != nil {
		query += `, earned_points = ?`
		args = append(args, *earnedPoints)
	}
	query += ` WHERE id = ? AND status = ?`
	args = append(args, id, from)

	res := db.WithContext(ctx).Exec(query, args...)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) SumPaidByUser(ctx context.Context, db *gorm.DB, userID snowflake.ID) (decimal.Decimal, error) {
	var rows []struct {
		Amount decimal.Decimal `gorm:"column:amount"`
	}
	err := db.WithContext(ctx).Raw(
		`SELECT p.amount AS amount
		 FROM payments p
		 JOIN orders o ON o.id = p.order_id
		 WHERE o.user_id = ? AND p.status = ?`,
		userID,
		domain.StatusPaid,
	).Scan(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}

	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount)
	}
	return total, nil
}
