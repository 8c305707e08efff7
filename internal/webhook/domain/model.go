package domain

import (
	"context"
	"time"

	"github.com/bwmarrin/snowflake"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Event is a gateway notification. The gateway is the source of truth for
// nothing here: "paid" events still go through full verification, so a forged
// event can at worst trigger a verify round trip.
type Event struct {
	PaymentKey  string `json:"imp_uid" binding:"required"`
	MerchantUID string `json:"merchant_uid"`
	Status      string `json:"status" binding:"required"`
	Raw         []byte `json:"-"`
}

// EventRecord is the audit row kept for every delivery, including ones with
// statuses we do not act on.
type EventRecord struct {
	ID          snowflake.ID   `json:"id" gorm:"primaryKey"`
	PaymentKey  string         `json:"payment_key" gorm:"type:text;not null;index"`
	MerchantUID string         `json:"merchant_uid" gorm:"type:text"`
	Status      string         `json:"status" gorm:"type:text;not null"`
	Payload     datatypes.JSON `json:"payload"`
	Outcome     string         `json:"outcome" gorm:"type:text;not null"`
	CreatedAt   time.Time      `json:"created_at" gorm:"not null"`
}

func (EventRecord) TableName() string { return "webhook_events" }

type Repository interface {
	Insert(ctx context.Context, db *gorm.DB, record *EventRecord) error
}

// Service dispatches gateway events onto the payment and refund coordinators.
type Service interface {
	Handle(ctx context.Context, event Event) error
}
