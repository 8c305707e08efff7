package repository

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"github.com/orbitcart/payments/internal/order/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*domain.Order, error) {
	var item domain.Order
	err := db.WithContext(ctx).Raw(
		`SELECT id, user_id, total_amount, status, created_at, updated_at
		 FROM orders
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

	var lines []domain.OrderItem
	err = db.WithContext(ctx).Raw(
		`SELECT id, order_id, product_id, product_name, price, quantity
		 FROM order_items
		 WHERE order_id = ?
		 ORDER BY id`,
		id,
	).Scan(&lines).Error
	if err != nil {
		return nil, err
	}
	item.Items = lines
	return &item, nil
}

func (r *repo) UpdateStatus(ctx context.Context, db *gorm.DB, id snowflake.ID, status domain.OrderStatus) error {
	return db.WithContext(ctx).Exec(
		`UPDATE orders
		 SET status = ?, updated_at = CURRENT_TIMESTAMP
		 WHERE id = ?`,
		status,
		id,
	).Error
}
