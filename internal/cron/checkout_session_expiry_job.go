package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

const defaultCheckoutSessionTTL = 24 * time.Hour

type staleSessionExpirer interface {
	ExpireStaleCheckoutSessions(ctx context.Context, cutoff time.Time) (int64, error)
}

// CheckoutSessionExpiryJobParams configure the session cleanup job.
type CheckoutSessionExpiryJobParams struct {
	Logger *logger.Logger
	Repo   staleSessionExpirer
	TTL    time.Duration
}

// NewCheckoutSessionExpiryJob builds the cron job that expires checkout
// sessions the provider never reported on. The provider emits
// checkout.session.expired itself, so this is a safety net for lost
// deliveries.
func NewCheckoutSessionExpiryJob(params CheckoutSessionExpiryJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	ttl := params.TTL
	if ttl <= 0 {
		ttl = defaultCheckoutSessionTTL
	}
	return &checkoutSessionExpiryJob{
		logg: params.Logger,
		repo: params.Repo,
		ttl:  ttl,
		now:  time.Now,
	}, nil
}

type checkoutSessionExpiryJob struct {
	logg *logger.Logger
	repo staleSessionExpirer
	ttl  time.Duration
	now  func() time.Time
}

func (j *checkoutSessionExpiryJob) Name() string { return "checkout-session-expiry" }

func (j *checkoutSessionExpiryJob) Run(ctx context.Context) error {
	cutoff := j.now().UTC().Add(-j.ttl)
	count, err := j.repo.ExpireStaleCheckoutSessions(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("expire stale checkout sessions: %w", err)
	}
	logCtx := j.logg.WithFields(ctx, map[string]any{"count": count})
	j.logg.Info(logCtx, "checkout session expiry loop complete")
	return nil
}
