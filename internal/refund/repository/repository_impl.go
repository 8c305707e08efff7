package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/refund/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, refund *domain.Refund) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO refunds (
			id, payment_id, amount, points_restored, points_clawed_back, reason, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		refund.ID,
		refund.PaymentID,
		refund.Amount,
		refund.PointsRestored,
		refund.PointsClawedBack,
		refund.Reason,
		refund.CreatedAt,
	).Error
}

func (r *repo) FindByPaymentID(ctx context.Context, db *gorm.DB, paymentID snowflake.ID) (*domain.Refund, error) {
	var item domain.Refund
	err := db.WithContext(ctx).Raw(
		`SELECT id, payment_id, amount, points_restored, points_clawed_back, reason, created_at
		 FROM refunds
		 WHERE payment_id = ?
		 LIMIT 1`,
		paymentID,
	).Scan(&item).Error
	if err != nil {
		return nil, err
	}
	if item.ID == 0 {
		return nil, nil
	}
	return &item, nil
}
