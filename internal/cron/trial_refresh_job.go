package cron

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/multierr"

	"github.com/lodgebook/lodgebook-backend/internal/subscriptions"
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

const trialRefreshBatchSize = 500

type trialingSubscriptionRepo interface {
	ListTrialingForRefresh(ctx context.Context, limit int) ([]models.Subscription, error)
	UpdateSubscriptionFields(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error)
}

// TrialRefreshJobParams configure the trial countdown job.
type TrialRefreshJobParams struct {
	Logger *logger.Logger
	Repo   trialingSubscriptionRepo
}

// NewTrialRefreshJob builds the cron job that keeps trial_remaining_days
// current between webhook deliveries. Provider events carry the countdown at
// event time only; without this job a trial that receives no events drifts.
func NewTrialRefreshJob(params TrialRefreshJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repo required")
	}
	return &trialRefreshJob{
		logg: params.Logger,
		repo: params.Repo,
		now:  time.Now,
	}, nil
}

type trialRefreshJob struct {
	logg *logger.Logger
	repo trialingSubscriptionRepo
	now  func() time.Time
}

func (j *trialRefreshJob) Name() string { return "trial-refresh" }

func (j *trialRefreshJob) Run(ctx context.Context) error {
	subs, err := j.repo.ListTrialingForRefresh(ctx, trialRefreshBatchSize)
	if err != nil {
		return fmt.Errorf("list trialing subscriptions: %w", err)
	}

	now := j.now().UTC()
	var errs []error
	refreshed := 0
	for _, sub := range subs {
		remaining := subscriptions.TrialRemainingDays(sub.TrialEnd, now)
		if remaining == sub.TrialRemainingDays && (remaining != 0 || sub.TrialConsumed) {
			continue
		}
		fields := map[string]any{"trial_remaining_days": remaining}
		if remaining == 0 {
			fields["trial_consumed"] = true
		}
		if _, err := j.repo.UpdateSubscriptionFields(ctx, sub.StripeSubscriptionID, fields); err != nil {
			errs = append(errs, fmt.Errorf("refresh trial for %s: %w", sub.StripeSubscriptionID, err))
			continue
		}
		refreshed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{"count": refreshed})
	j.logg.Info(logCtx, "trial refresh loop complete")
	return multierr.Combine(errs...)
}
