package domain

import (
	"context"

	"github.com/bwmarrin/snowflake"
	"gorm.io/gorm"
)

type Repository interface {
	FindByID(ctx context.Context, db *gorm.DB, id snowflake.ID) (*Product, error)
	// DecrementStock subtracts quantity only when enough stock remains.
	// Returns ErrInsufficientStock otherwise; the counter can never go
	// negative.
	DecrementStock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64) error
	// Restock adds quantity back (refund compensation).
	Restock(ctx context.Context, db *gorm.DB, id snowflake.ID, quantity int64) error
}
