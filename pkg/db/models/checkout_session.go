package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgebook/lodgebook-backend/pkg/enums"
)

// CheckoutSession tracks an in-flight provider checkout attempt. Rows are
// created by the checkout-initiation flow; only webhook events (or the expiry
// job) transition them out of the active state.
type CheckoutSession struct {
	ID              uuid.UUID                   `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID          uuid.UUID                   `gorm:"column:user_id;type:uuid;not null;index"`
	StripeSessionID string                      `gorm:"column:stripe_session_id;not null;unique"`
	Status          enums.CheckoutSessionStatus `gorm:"column:status;type:checkout_session_status;not null;default:'active'"`
	CreatedAt       time.Time                   `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt       time.Time                   `gorm:"column:updated_at;autoUpdateTime"`
}
