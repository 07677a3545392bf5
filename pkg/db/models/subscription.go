package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/lodgebook/lodgebook-backend/pkg/enums"
)

// Subscription mirrors the provider-side subscription for one host account.
// stripe_subscription_id is the idempotency key: exactly one row per provider
// subscription, created by whichever webhook event arrives first and mutated
// in place afterwards. Rows are never hard-deleted.
type Subscription struct {
	ID                   uuid.UUID                `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	UserID               uuid.UUID                `gorm:"column:user_id;type:uuid;not null;index"`
	StripeCustomerID     string                   `gorm:"column:stripe_customer_id;index"`
	StripeSubscriptionID string                   `gorm:"column:stripe_subscription_id;not null;unique"`
	PlanType             enums.PlanType           `gorm:"column:plan_type;type:plan_type;not null;default:'monthly'"`
	Status               enums.SubscriptionStatus `gorm:"column:status;type:subscription_status;not null;default:'pending'"`
	Recurring            bool                     `gorm:"column:recurring;not null;default:true"`
	CurrentPeriodStart   *time.Time               `gorm:"column:current_period_start"`
	CurrentPeriodEnd     *time.Time               `gorm:"column:current_period_end"`
	TrialStart           *time.Time               `gorm:"column:trial_start"`
	TrialEnd             *time.Time               `gorm:"column:trial_end"`
	TrialRemainingDays   int                      `gorm:"column:trial_remaining_days;not null;default:0"`
	TrialConsumed        bool                     `gorm:"column:trial_consumed;not null;default:false"`
	CanceledAt           *time.Time               `gorm:"column:canceled_at"`
	CreatedAt            time.Time                `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time                `gorm:"column:updated_at;autoUpdateTime"`
}
