package cron

import (
	"context"
	"testing"
	"time"

	"github.com/lodgebook/lodgebook-backend/pkg/logger"
)

type fakeSessionExpirer struct {
	cutoffs []time.Time
	count   int64
	err     error
}

func (f *fakeSessionExpirer) ExpireStaleCheckoutSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	f.cutoffs = append(f.cutoffs, cutoff)
	return f.count, f.err
}

func TestCheckoutSessionExpiryJob_UsesConfiguredTTL(t *testing.T) {
	now := time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)
	expirer := &fakeSessionExpirer{count: 3}
	jobIface, err := NewCheckoutSessionExpiryJob(CheckoutSessionExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   expirer,
		TTL:    6 * time.Hour,
	})
	if err != nil {
		t.Fatalf("NewCheckoutSessionExpiryJob: %v", err)
	}
	job := jobIface.(*checkoutSessionExpiryJob)
	job.now = func() time.Time { return now }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(expirer.cutoffs) != 1 {
		t.Fatalf("expected 1 sweep, got %d", len(expirer.cutoffs))
	}
	if want := now.Add(-6 * time.Hour); !expirer.cutoffs[0].Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, expirer.cutoffs[0])
	}
}

func TestCheckoutSessionExpiryJob_DefaultsTTL(t *testing.T) {
	jobIface, err := NewCheckoutSessionExpiryJob(CheckoutSessionExpiryJobParams{
		Logger: logger.New(logger.Options{ServiceName: "test"}),
		Repo:   &fakeSessionExpirer{},
	})
	if err != nil {
		t.Fatalf("NewCheckoutSessionExpiryJob: %v", err)
	}
	job := jobIface.(*checkoutSessionExpiryJob)
	if job.ttl != defaultCheckoutSessionTTL {
		t.Fatalf("expected default ttl, got %s", job.ttl)
	}
}
