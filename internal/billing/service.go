package billing

import (
	"context"

	"github.com/google/uuid"

	"github.com/lodgebook/lodgebook-backend/internal/subscriptions"
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
)

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo         Repository
	PortalClient subscriptions.StripePortalClient
}

// Service orchestrates billing operations that are not driven by webhooks:
// the dashboard subscription view and billing-portal handoff.
type Service struct {
	repo   Repository
	portal subscriptions.StripePortalClient
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.PortalClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "portal client required")
	}
	return &Service{repo: params.Repo, portal: params.PortalClient}, nil
}

// Subscription returns the user's most recent subscription, or a not-found
// error when none exists.
func (s *Service) Subscription(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	sub, err := s.repo.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "no subscription for user")
	}
	return sub, nil
}

// PortalSession creates a Stripe billing-portal session for the user's
// provider customer and returns its redirect URL.
func (s *Service) PortalSession(ctx context.Context, userID uuid.UUID, returnURL string) (string, error) {
	sub, err := s.repo.FindSubscriptionByUser(ctx, userID)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if sub == nil || sub.StripeCustomerID == "" {
		return "", pkgerrors.New(pkgerrors.CodeNotFound, "no billing profile for user")
	}

	session, err := s.portal.BillingPortalSession(ctx, sub.StripeCustomerID, returnURL)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create billing portal session")
	}
	if session == nil || session.URL == "" {
		return "", pkgerrors.New(pkgerrors.CodeDependency, "billing portal session missing url")
	}
	return session.URL, nil
}
