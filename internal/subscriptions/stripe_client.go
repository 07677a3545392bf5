package subscriptions

import (
	"context"

	"github.com/stripe/stripe-go/v84"
)

// StripeBillingClient exposes the subset of Stripe lookups the reconciliation
// flow needs when an event payload is only a thin reference.
type StripeBillingClient interface {
	Subscription(ctx context.Context, id string) (*stripe.Subscription, error)
	Customer(ctx context.Context, id string) (*stripe.Customer, error)
}

// StripePortalClient creates billing-portal sessions for the dashboard.
type StripePortalClient interface {
	BillingPortalSession(ctx context.Context, customerID, returnURL string) (*stripe.BillingPortalSession, error)
}
