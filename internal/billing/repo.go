package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/enums"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error)
	FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error)
	CreateSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error)
	UpsertSubscriptionPreservingStatus(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscriptionFields(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error)
	ListTrialingForRefresh(ctx context.Context, limit int) ([]models.Subscription, error)
	CreateCheckoutSession(ctx context.Context, session *models.CheckoutSession) error
	FindCheckoutSessionBySessionID(ctx context.Context, stripeSessionID string) (*models.CheckoutSession, error)
	UpdateCheckoutSessionStatus(ctx context.Context, stripeSessionID string, status enums.CheckoutSessionStatus) (int64, error)
	ExpireStaleCheckoutSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriptionIfAbsent inserts the subscription unless a row already
// exists for the same stripe_subscription_id. Returns whether a row was
// actually inserted, so callers can treat replays as no-ops.
func (r *repository) CreateSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error) {
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
			DoNothing: true,
		}).
		Create(subscription)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected > 0, nil
}

// UpsertSubscriptionPreservingStatus writes the provider snapshot in a single
// INSERT .. ON CONFLICT statement. On conflict every column is overwritten
// except status, which is only replaced while the stored row is still pending;
// a row already promoted by a payment event keeps its status even when the
// creation event arrives late. trial_consumed is one-way: once true it stays
// true.
func (r *repository) UpsertSubscriptionPreservingStatus(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "stripe_subscription_id"}},
			DoUpdates: clause.Assignments(map[string]any{
				"stripe_customer_id":   subscription.StripeCustomerID,
				"plan_type":            subscription.PlanType,
				"recurring":            subscription.Recurring,
				"current_period_start": subscription.CurrentPeriodStart,
				"current_period_end":   subscription.CurrentPeriodEnd,
				"trial_start":          subscription.TrialStart,
				"trial_end":            subscription.TrialEnd,
				"trial_remaining_days": subscription.TrialRemainingDays,
				"canceled_at":          subscription.CanceledAt,
				"status": gorm.Expr(
					"CASE WHEN subscriptions.status = ? THEN excluded.status ELSE subscriptions.status END",
					enums.SubscriptionStatusPending,
				),
				"trial_consumed": gorm.Expr("subscriptions.trial_consumed OR excluded.trial_consumed"),
				"updated_at":     time.Now().UTC(),
			}),
		}).
		Create(subscription).Error
}

// UpdateSubscriptionFields applies a partial update keyed on the provider
// subscription id and reports how many rows matched. Zero rows means the
// local record does not exist yet.
func (r *repository) UpdateSubscriptionFields(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", stripeSubscriptionID).
		Updates(fields)
	return result.RowsAffected, result.Error
}

func (r *repository) ListTrialingForRefresh(ctx context.Context, limit int) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 500
	}
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("status = ?", enums.SubscriptionStatusTrialing).
		Where("trial_end IS NOT NULL").
		Order("trial_end ASC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CreateCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	return r.db.WithContext(ctx).Create(session).Error
}

func (r *repository) FindCheckoutSessionBySessionID(ctx context.Context, stripeSessionID string) (*models.CheckoutSession, error) {
	if stripeSessionID == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var session models.CheckoutSession
	if err := r.db.WithContext(ctx).
		Where("stripe_session_id = ?", stripeSessionID).
		First(&session).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &session, nil
}

func (r *repository) UpdateCheckoutSessionStatus(ctx context.Context, stripeSessionID string, status enums.CheckoutSessionStatus) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("stripe_session_id = ?", stripeSessionID).
		Update("status", status)
	return result.RowsAffected, result.Error
}

// ExpireStaleCheckoutSessions marks sessions still active past the cutoff as
// expired. Completed sessions are never touched.
func (r *repository) ExpireStaleCheckoutSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.CheckoutSession{}).
		Where("status = ?", enums.CheckoutSessionStatusActive).
		Where("created_at < ?", cutoff).
		Update("status", enums.CheckoutSessionStatusExpired)
	return result.RowsAffected, result.Error
}
