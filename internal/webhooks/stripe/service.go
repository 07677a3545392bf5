package stripewebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/lodgebook/lodgebook-backend/internal/billing"
	"github.com/lodgebook/lodgebook-backend/internal/subscriptions"
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/enums"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
)

type userRepository interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
}

type eventHandler func(ctx context.Context, event *stripe.Event) error

// ServiceParams groups dependencies for the reconciliation service.
type ServiceParams struct {
	BillingRepo  billing.Repository
	UserRepo     userRepository
	StripeClient subscriptions.StripeBillingClient
	Now          func() time.Time
}

// Service projects provider webhook events onto the local billing records.
// Every handler is idempotent and tolerates out-of-order delivery: creation
// events never clobber a status already promoted by a payment event, and
// update events for unknown subscriptions fail retryably so the provider
// redelivers once the creation event lands.
type Service struct {
	billingRepo billing.Repository
	users       userRepository
	stripe      subscriptions.StripeBillingClient
	now         func() time.Time

	handlers map[stripe.EventType]eventHandler
}

// NewService builds the reconciliation service and its dispatch table.
func NewService(params ServiceParams) (*Service, error) {
	if params.BillingRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing repo required")
	}
	if params.UserRepo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "user repo required")
	}
	if params.StripeClient == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "stripe client required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	s := &Service{
		billingRepo: params.BillingRepo,
		users:       params.UserRepo,
		stripe:      params.StripeClient,
		now:         now,
	}
	s.handlers = map[stripe.EventType]eventHandler{
		stripe.EventTypeCheckoutSessionCompleted:    s.handleCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionExpired:      s.handleCheckoutSessionExpired,
		stripe.EventTypeInvoiceCreated:              s.handleInvoiceCreated,
		stripe.EventTypeInvoicePaymentSucceeded:     s.handleInvoicePaymentSucceeded,
		stripe.EventTypeInvoicePaymentFailed:        s.handleInvoicePaymentFailed,
		stripe.EventTypeCustomerSubscriptionCreated: s.handleSubscriptionCreated,
		stripe.EventTypeCustomerSubscriptionUpdated: s.handleSubscriptionUpdated,
		stripe.EventTypeCustomerSubscriptionDeleted: s.handleSubscriptionDeleted,
		stripe.EventTypeCustomerSubscriptionPaused:  s.handleSubscriptionPaused,
	}
	return s, nil
}

// Handles reports whether the service has a handler for the event type.
func (s *Service) Handles(eventType stripe.EventType) bool {
	_, ok := s.handlers[eventType]
	return ok
}

// HandleEvent dispatches a verified event to its handler. Event types without
// a handler are acknowledged without side effects.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) error {
	if event == nil || event.Data == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	handler, ok := s.handlers[event.Type]
	if !ok {
		return nil
	}
	return handler(ctx, event)
}

func (s *Service) handleCheckoutSessionCompleted(ctx context.Context, event *stripe.Event) error {
	return s.transitionCheckoutSession(ctx, event, enums.CheckoutSessionStatusCompleted)
}

func (s *Service) handleCheckoutSessionExpired(ctx context.Context, event *stripe.Event) error {
	return s.transitionCheckoutSession(ctx, event, enums.CheckoutSessionStatusExpired)
}

func (s *Service) transitionCheckoutSession(ctx context.Context, event *stripe.Event, status enums.CheckoutSessionStatus) error {
	sessionID := event.GetObjectValue("id")
	if sessionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "checkout session id missing")
	}
	rows, err := s.billingRepo.UpdateCheckoutSessionStatus(ctx, sessionID, status)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update checkout session")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeNotFound, "checkout session not found").
			WithDetails(map[string]any{"stripe_session_id": sessionID})
	}
	return nil
}

// handleInvoiceCreated seeds the local subscription record in pending status.
// The payment outcome events promote it from there; if the record already
// exists the event is a replay or arrived after the creation path and is a
// no-op.
func (s *Service) handleInvoiceCreated(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing on invoice")
	}

	existing, err := s.billingRepo.FindSubscriptionByStripeID(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}
	if existing != nil {
		return nil
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
	}

	userID, err := s.resolveUserID(ctx, invoice.CustomerEmail, event.GetObjectValue("customer"))
	if err != nil {
		return err
	}

	stripeSub, err := s.stripe.Subscription(ctx, subscriptionID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe subscription")
	}

	now := s.now()
	sub, err := subscriptions.BuildFromStripe(stripeSub, userID, now)
	if err != nil {
		return err
	}
	sub.Status = enums.SubscriptionStatusPending

	// The first invoice line carries the trial window when the provider
	// subscription has not materialized its trial fields yet.
	if lineStart, lineEnd := subscriptions.InvoiceLinePeriod(&invoice); lineEnd != 0 && sub.TrialEnd == nil {
		start := time.Unix(lineStart, 0).UTC()
		end := time.Unix(lineEnd, 0).UTC()
		sub.TrialStart = &start
		sub.TrialEnd = &end
		sub.TrialRemainingDays = subscriptions.TrialRemainingDays(&end, now)
	}

	if _, err := s.billingRepo.CreateSubscriptionIfAbsent(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create subscription")
	}
	return nil
}

func (s *Service) handleInvoicePaymentSucceeded(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing on invoice")
	}

	var invoice stripe.Invoice
	if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode invoice event")
	}

	fields := map[string]any{
		"status": enums.SubscriptionStatusActive,
	}
	// A zero-amount invoice is the trial kickoff: the subscription enters its
	// trial window and the free trial is burned.
	if invoice.AmountPaid == 0 {
		fields["status"] = enums.SubscriptionStatusTrialing
		fields["trial_consumed"] = true
	}

	return s.updateExisting(ctx, subscriptionID, fields)
}

func (s *Service) handleInvoicePaymentFailed(ctx context.Context, event *stripe.Event) error {
	subscriptionID := event.GetObjectValue("subscription")
	if subscriptionID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing on invoice")
	}
	return s.updateExisting(ctx, subscriptionID, map[string]any{
		"status": enums.SubscriptionStatusUnpaid,
	})
}

// handleSubscriptionCreated upserts the full provider snapshot. The single
// INSERT .. ON CONFLICT preserves any status a payment event already set, so
// arrival order between this and invoice.payment_succeeded does not matter.
func (s *Service) handleSubscriptionCreated(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	stored, err := s.billingRepo.FindSubscriptionByStripeID(ctx, stripeSub.ID)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load subscription")
	}

	var userID uuid.UUID
	if stored != nil {
		userID = stored.UserID
	} else {
		customerID := ""
		if stripeSub.Customer != nil {
			customerID = stripeSub.Customer.ID
		}
		userID, err = s.resolveUserID(ctx, "", customerID)
		if err != nil {
			return err
		}
	}

	sub, err := subscriptions.BuildFromStripe(&stripeSub, userID, s.now())
	if err != nil {
		return err
	}
	if err := s.billingRepo.UpsertSubscriptionPreservingStatus(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "upsert subscription")
	}
	return nil
}

// handleSubscriptionUpdated overwrites the record with the provider snapshot.
// Unlike creation, updates carry the authoritative state, so status is taken
// as-is. trial_consumed only ever flips to true.
func (s *Service) handleSubscriptionUpdated(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	now := s.now()
	built, err := subscriptions.BuildFromStripe(&stripeSub, uuid.Nil, now)
	if err != nil {
		return err
	}

	consumed := built.TrialRemainingDays == 0 || stripeSub.Status == stripe.SubscriptionStatusCanceled
	fields := map[string]any{
		"status":               built.Status,
		"plan_type":            built.PlanType,
		"recurring":            built.Recurring,
		"current_period_start": built.CurrentPeriodStart,
		"current_period_end":   built.CurrentPeriodEnd,
		"trial_start":          built.TrialStart,
		"trial_end":            built.TrialEnd,
		"trial_remaining_days": built.TrialRemainingDays,
		"canceled_at":          built.CanceledAt,
		"trial_consumed":       gorm.Expr("trial_consumed OR ?", consumed),
	}
	if built.StripeCustomerID != "" {
		fields["stripe_customer_id"] = built.StripeCustomerID
	}
	return s.updateExisting(ctx, stripeSub.ID, fields)
}

func (s *Service) handleSubscriptionDeleted(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}

	canceledAt := s.now()
	if stripeSub.CanceledAt != 0 {
		canceledAt = time.Unix(stripeSub.CanceledAt, 0).UTC()
	}
	return s.updateExisting(ctx, stripeSub.ID, map[string]any{
		"status":               enums.SubscriptionStatusCancelled,
		"recurring":            false,
		"trial_consumed":       true,
		"trial_remaining_days": 0,
		"canceled_at":          canceledAt,
	})
}

func (s *Service) handleSubscriptionPaused(ctx context.Context, event *stripe.Event) error {
	var stripeSub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &stripeSub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if stripeSub.ID == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription id missing")
	}
	return s.updateExisting(ctx, stripeSub.ID, map[string]any{
		"status": enums.SubscriptionStatusPaused,
	})
}

// updateExisting applies a partial update and fails retryably when the local
// record does not exist yet: at-least-once delivery means the creation event
// will land eventually and the provider redelivers this one.
func (s *Service) updateExisting(ctx context.Context, stripeSubscriptionID string, fields map[string]any) error {
	rows, err := s.billingRepo.UpdateSubscriptionFields(ctx, stripeSubscriptionID, fields)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update subscription")
	}
	if rows == 0 {
		return pkgerrors.New(pkgerrors.CodeDependency, "subscription not reconciled yet").
			WithDetails(map[string]any{"stripe_subscription_id": stripeSubscriptionID})
	}
	return nil
}

// resolveUserID maps a billing email to a local account. When the event does
// not carry the email, the provider customer is fetched for it.
func (s *Service) resolveUserID(ctx context.Context, email, customerID string) (uuid.UUID, error) {
	if email == "" {
		if customerID == "" {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "customer reference missing")
		}
		customer, err := s.stripe.Customer(ctx, customerID)
		if err != nil {
			return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "fetch stripe customer")
		}
		if customer == nil || customer.Email == "" {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no billing email on customer").
				WithDetails(map[string]any{"stripe_customer_id": customerID})
		}
		email = customer.Email
	}

	user, err := s.users.FindByEmail(ctx, email)
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return uuid.Nil, pkgerrors.New(pkgerrors.CodeNotFound, "no user for billing email")
		}
		return uuid.Nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load user")
	}
	return user.ID, nil
}
