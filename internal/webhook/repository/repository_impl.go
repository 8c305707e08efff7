package repository

import (
	"context"

	"github.com/orbitcart/payments/internal/webhook/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) Insert(ctx context.Context, db *gorm.DB, record *domain.EventRecord) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO webhook_events (
			id, payment_key, merchant_uid, status, payload, outcome, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		record.ID,
		record.PaymentKey,
		record.MerchantUID,
		record.Status,
		record.Payload,
		record.Outcome,
		record.CreatedAt,
	).Error
}
