package cron

import (
	"context"
	"testing"
	"time"

	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/enums"
	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

type trialFieldUpdate struct {
	stripeSubscriptionID string
	fields               map[string]any
}

type fakeTrialingRepo struct {
	subs    []models.Subscription
	updates []trialFieldUpdate
}

func (f *fakeTrialingRepo) ListTrialingForRefresh(ctx context.Context, limit int) ([]models.Subscription, error) {
	return f.subs, nil
}

func (f *fakeTrialingRepo) UpdateSubscriptionFields(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error) {
	f.updates = append(f.updates, trialFieldUpdate{stripeSubscriptionID: stripeSubscriptionID, fields: fields})
	return 1, nil
}

func newTrialRefreshJobTest(t *testing.T, repo *fakeTrialingRepo, now time.Time) *trialRefreshJob {
	t.Helper()
	jobIface, err := NewTrialRefreshJob(TrialRefreshJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   repo,
	})
	if err != nil {
		t.Fatalf("NewTrialRefreshJob: %v", err)
	}
	job, ok := jobIface.(*trialRefreshJob)
	if !ok {
		t.Fatalf("expected trialRefreshJob, got %T", jobIface)
	}
	job.now = func() time.Time { return now }
	return job
}

func TestTrialRefreshJob_RecomputesCountdown(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	trialEnd := now.Add(2*24*time.Hour + time.Hour)
	repo := &fakeTrialingRepo{
		subs: []models.Subscription{{
			StripeSubscriptionID: "sub_ticking",
			Status:               enums.SubscriptionStatusTrialing,
			TrialEnd:             &trialEnd,
			TrialRemainingDays:   5,
		}},
	}
	job := newTrialRefreshJobTest(t, repo, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected 1 update, got %d", len(repo.updates))
	}
	update := repo.updates[0]
	if update.fields["trial_remaining_days"] != 3 {
		t.Fatalf("expected countdown 3, got %v", update.fields["trial_remaining_days"])
	}
	if _, ok := update.fields["trial_consumed"]; ok {
		t.Fatalf("running trial must not be consumed")
	}
}

func TestTrialRefreshJob_ConsumesExpiredTrial(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	trialEnd := now.Add(-time.Hour)
	repo := &fakeTrialingRepo{
		subs: []models.Subscription{{
			StripeSubscriptionID: "sub_done",
			Status:               enums.SubscriptionStatusTrialing,
			TrialEnd:             &trialEnd,
			TrialRemainingDays:   1,
		}},
	}
	job := newTrialRefreshJobTest(t, repo, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	update := repo.updates[0]
	if update.fields["trial_remaining_days"] != 0 {
		t.Fatalf("expected countdown 0, got %v", update.fields["trial_remaining_days"])
	}
	if update.fields["trial_consumed"] != true {
		t.Fatalf("expired trial must be consumed")
	}
}

func TestTrialRefreshJob_SkipsCurrentRows(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	trialEnd := now.Add(4 * 24 * time.Hour)
	repo := &fakeTrialingRepo{
		subs: []models.Subscription{{
			StripeSubscriptionID: "sub_fresh",
			Status:               enums.SubscriptionStatusTrialing,
			TrialEnd:             &trialEnd,
			TrialRemainingDays:   4,
		}},
	}
	job := newTrialRefreshJobTest(t, repo, now)

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(repo.updates) != 0 {
		t.Fatalf("up-to-date row must not be written")
	}
}
