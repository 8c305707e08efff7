package domain

import (
	"errors"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPendingPayment OrderStatus = "PENDING_PAYMENT"
	OrderStatusCompleted      OrderStatus = "COMPLETED"
	OrderStatusCancelled      OrderStatus = "CANCELLED"
)

// Order is the purchase a payment settles. Item rows snapshot product name
// and price at order-creation time; later product changes never affect them.
type Order struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	UserID      snowflake.ID    `json:"user_id" gorm:"not null;index"`
	TotalAmount decimal.Decimal `json:"total_amount" gorm:"type:numeric(18,2);not null"`
	Status      OrderStatus     `json:"status" gorm:"type:text;not null;default:PENDING_PAYMENT"`
	CreatedAt   time.Time       `json:"created_at" gorm:"not null"`
	UpdatedAt   time.Time       `json:"updated_at" gorm:"not null"`

	Items []OrderItem `json:"items" gorm:"-"`
}

func (Order) TableName() string { return "orders" }

type OrderItem struct {
	ID          snowflake.ID    `json:"id" gorm:"primaryKey"`
	OrderID     snowflake.ID    `json:"order_id" gorm:"not null;index"`
	ProductID   snowflake.ID    `json:"product_id" gorm:"not null"`
	ProductName string          `json:"product_name" gorm:"type:text;not null"`
	Price       decimal.Decimal `json:"price" gorm:"type:numeric(18,2);not null"`
	Quantity    int64           `json:"quantity" gorm:"not null"`
}

func (OrderItem) TableName() string { return "order_items" }

var (
	ErrNotFound = errors.New("order_not_found")
	ErrNoItems  = errors.New("order_has_no_items")
)
