package stripewebhook

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/lodgebook/lodgebook-backend/internal/billing"
	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/enums"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
)

var testNow = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, repo *stubBillingRepo, users *stubUserRepo, client *stubStripeClient) *Service {
	t.Helper()
	service, err := NewService(ServiceParams{
		BillingRepo:  repo,
		UserRepo:     users,
		StripeClient: client,
		Now:          func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatalf("setup service: %v", err)
	}
	return service
}

func subscriptionEvent(t *testing.T, eventType stripe.EventType, sub *stripe.Subscription) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(sub)
	if err != nil {
		t.Fatalf("marshal subscription: %v", err)
	}
	var object map[string]interface{}
	if err := json.Unmarshal(raw, &object); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw, Object: object},
	}
}

func invoiceEvent(t *testing.T, eventType stripe.EventType, subscriptionID string, invoice *stripe.Invoice) *stripe.Event {
	t.Helper()
	raw, err := json.Marshal(invoice)
	if err != nil {
		t.Fatalf("marshal invoice: %v", err)
	}
	var object map[string]interface{}
	if err := json.Unmarshal(raw, &object); err != nil {
		t.Fatalf("unmarshal object: %v", err)
	}
	// The provider serializes the subscription reference as a bare id string.
	object["subscription"] = subscriptionID
	return &stripe.Event{
		ID:   "evt_" + uuid.NewString(),
		Type: eventType,
		Data: &stripe.EventData{Raw: raw, Object: object},
	}
}

func TestService_UnknownEventTypeIsAcknowledged(t *testing.T) {
	repo := &stubBillingRepo{}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	event := &stripe.Event{
		Type: stripe.EventType("charge.refunded"),
		Data: &stripe.EventData{Raw: json.RawMessage(`{}`)},
	}
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.created) != 0 || len(repo.updates) != 0 {
		t.Fatalf("unknown event must not touch the database")
	}
}

func TestService_InvoiceCreatedSeedsPendingSubscription(t *testing.T) {
	userID := uuid.New()
	repo := &stubBillingRepo{}
	users := &stubUserRepo{users: map[string]*models.User{
		"host@lodgebook.test": {ID: userID, Email: "host@lodgebook.test"},
	}}
	client := &stubStripeClient{
		subscription: &stripe.Subscription{
			ID:       "sub_new",
			Status:   stripe.SubscriptionStatusTrialing,
			Customer: &stripe.Customer{ID: "cus_1"},
			Items: &stripe.SubscriptionItemList{
				Data: []*stripe.SubscriptionItem{{
					CurrentPeriodStart: testNow.Unix(),
					CurrentPeriodEnd:   testNow.Add(30 * 24 * time.Hour).Unix(),
					Price: &stripe.Price{
						Recurring: &stripe.PriceRecurring{Interval: stripe.PriceRecurringIntervalMonth},
					},
				}},
			},
		},
	}
	service := newTestService(t, repo, users, client)

	invoice := &stripe.Invoice{
		CustomerEmail: "host@lodgebook.test",
		Lines: &stripe.InvoiceLineItemList{
			Data: []*stripe.InvoiceLineItem{{
				Period: &stripe.Period{
					Start: testNow.Unix(),
					End:   testNow.Add(14 * 24 * time.Hour).Unix(),
				},
			}},
		},
	}
	event := invoiceEvent(t, stripe.EventTypeInvoiceCreated, "sub_new", invoice)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.created) != 1 {
		t.Fatalf("expected one subscription created, got %d", len(repo.created))
	}
	created := repo.created[0]
	if created.Status != enums.SubscriptionStatusPending {
		t.Fatalf("seed status must be pending, got %s", created.Status)
	}
	if created.UserID != userID {
		t.Fatalf("user not resolved from billing email")
	}
	if created.TrialEnd == nil || created.TrialRemainingDays != 14 {
		t.Fatalf("trial window not taken from invoice line, remaining=%d", created.TrialRemainingDays)
	}
}

func TestService_InvoiceCreatedIsNoOpWhenRecordExists(t *testing.T) {
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			StripeSubscriptionID: "sub_known",
			Status:               enums.SubscriptionStatusActive,
		},
	}
	client := &stubStripeClient{}
	service := newTestService(t, repo, &stubUserRepo{}, client)

	event := invoiceEvent(t, stripe.EventTypeInvoiceCreated, "sub_known", &stripe.Invoice{})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.created) != 0 {
		t.Fatalf("existing subscription must not be re-created")
	}
	if client.subscriptionCalls != 0 {
		t.Fatalf("no provider fetch expected for known subscription")
	}
}

func TestService_InvoiceCreatedFailsWithoutMatchingUser(t *testing.T) {
	repo := &stubBillingRepo{}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	invoice := &stripe.Invoice{CustomerEmail: "stranger@lodgebook.test"}
	event := invoiceEvent(t, stripe.EventTypeInvoiceCreated, "sub_orphan", invoice)

	err := service.HandleEvent(context.Background(), event)
	if err == nil {
		t.Fatalf("expected error for unknown billing email")
	}
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found error, got %v", err)
	}
}

func TestService_ZeroAmountInvoiceStartsTrial(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	invoice := &stripe.Invoice{AmountPaid: 0}
	event := invoiceEvent(t, stripe.EventTypeInvoicePaymentSucceeded, "sub_trial", invoice)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.updates) != 1 {
		t.Fatalf("expected one update")
	}
	update := repo.updates[0]
	if update.fields["status"] != enums.SubscriptionStatusTrialing {
		t.Fatalf("zero-amount payment must set trialing, got %v", update.fields["status"])
	}
	if update.fields["trial_consumed"] != true {
		t.Fatalf("trial start must consume the free trial")
	}
}

func TestService_PaidInvoiceActivatesSubscription(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	invoice := &stripe.Invoice{AmountPaid: 4900}
	event := invoiceEvent(t, stripe.EventTypeInvoicePaymentSucceeded, "sub_paid", invoice)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	update := repo.updates[0]
	if update.fields["status"] != enums.SubscriptionStatusActive {
		t.Fatalf("paid invoice must activate, got %v", update.fields["status"])
	}
	if _, ok := update.fields["trial_consumed"]; ok {
		t.Fatalf("paid invoice must not touch trial_consumed")
	}
}

func TestService_PaymentFailedMarksUnpaid(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	event := invoiceEvent(t, stripe.EventTypeInvoicePaymentFailed, "sub_late", &stripe.Invoice{AmountPaid: 0})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if repo.updates[0].fields["status"] != enums.SubscriptionStatusUnpaid {
		t.Fatalf("payment failure must mark unpaid")
	}
}

func TestService_UpdateBeforeCreationIsRetryable(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 0}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	event := invoiceEvent(t, stripe.EventTypeInvoicePaymentSucceeded, "sub_unseen", &stripe.Invoice{AmountPaid: 100})
	err := service.HandleEvent(context.Background(), event)
	if err == nil {
		t.Fatalf("expected retryable error for unknown subscription")
	}
	typed := pkgerrors.As(err)
	if typed == nil || typed.Code() != pkgerrors.CodeDependency {
		t.Fatalf("expected dependency error, got %v", err)
	}
	if !pkgerrors.MetadataFor(typed.Code()).Retryable {
		t.Fatalf("out-of-order updates must be retryable")
	}
}

func TestService_SubscriptionCreatedReusesStoredUser(t *testing.T) {
	userID := uuid.New()
	repo := &stubBillingRepo{
		existing: &models.Subscription{
			UserID:               userID,
			StripeSubscriptionID: "sub_seen",
			Status:               enums.SubscriptionStatusActive,
		},
	}
	client := &stubStripeClient{}
	service := newTestService(t, repo, &stubUserRepo{}, client)

	sub := &stripe.Subscription{
		ID:       "sub_seen",
		Status:   stripe.SubscriptionStatusActive,
		Customer: &stripe.Customer{ID: "cus_seen"},
	}
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.upserted) != 1 {
		t.Fatalf("expected one upsert")
	}
	if repo.upserted[0].UserID != userID {
		t.Fatalf("stored user must be reused, not re-resolved")
	}
	if client.customerCalls != 0 {
		t.Fatalf("no customer lookup expected when record exists")
	}
}

func TestService_SubscriptionCreatedResolvesUserViaCustomer(t *testing.T) {
	userID := uuid.New()
	repo := &stubBillingRepo{}
	users := &stubUserRepo{users: map[string]*models.User{
		"owner@lodgebook.test": {ID: userID, Email: "owner@lodgebook.test"},
	}}
	client := &stubStripeClient{
		customer: &stripe.Customer{ID: "cus_fresh", Email: "owner@lodgebook.test"},
	}
	service := newTestService(t, repo, users, client)

	sub := &stripe.Subscription{
		ID:       "sub_fresh",
		Status:   stripe.SubscriptionStatusTrialing,
		Customer: &stripe.Customer{ID: "cus_fresh"},
	}
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionCreated, sub)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if len(repo.upserted) != 1 || repo.upserted[0].UserID != userID {
		t.Fatalf("user must be resolved through the provider customer")
	}
}

func TestService_SubscriptionUpdatedOverwritesSnapshot(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	trialEnd := testNow.Add(5 * 24 * time.Hour)
	sub := &stripe.Subscription{
		ID:       "sub_live",
		Status:   stripe.SubscriptionStatusTrialing,
		TrialEnd: trialEnd.Unix(),
	}
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionUpdated, sub)

	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	update := repo.updates[0]
	if update.fields["status"] != enums.SubscriptionStatusTrialing {
		t.Fatalf("status must follow the snapshot")
	}
	if update.fields["trial_remaining_days"] != 5 {
		t.Fatalf("expected 5 trial days, got %v", update.fields["trial_remaining_days"])
	}
	if _, ok := update.fields["trial_consumed"].(clause.Expr); !ok {
		t.Fatalf("trial_consumed must be an OR expression, not a plain value")
	}
}

func TestService_SubscriptionDeletedFallsBackToLocalClock(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, &stripe.Subscription{ID: "sub_gone"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	update := repo.updates[0]
	if update.fields["status"] != enums.SubscriptionStatusCancelled {
		t.Fatalf("deleted subscription must be cancelled")
	}
	if update.fields["canceled_at"] != testNow {
		t.Fatalf("missing provider timestamp must fall back to now")
	}
	if update.fields["trial_consumed"] != true || update.fields["recurring"] != false {
		t.Fatalf("cancellation must burn the trial and stop recurrence")
	}
}

func TestService_SubscriptionDeletedKeepsProviderTimestamp(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	canceled := testNow.Add(-2 * time.Hour)
	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionDeleted, &stripe.Subscription{
		ID:         "sub_gone",
		CanceledAt: canceled.Unix(),
	})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if got := repo.updates[0].fields["canceled_at"]; got != canceled {
		t.Fatalf("expected provider canceled_at, got %v", got)
	}
}

func TestService_SubscriptionPausedSetsPaused(t *testing.T) {
	repo := &stubBillingRepo{updateRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	event := subscriptionEvent(t, stripe.EventTypeCustomerSubscriptionPaused, &stripe.Subscription{ID: "sub_hold"})
	if err := service.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if repo.updates[0].fields["status"] != enums.SubscriptionStatusPaused {
		t.Fatalf("pause event must set paused status")
	}
}

func TestService_CheckoutSessionTransitions(t *testing.T) {
	repo := &stubBillingRepo{sessionRows: 1}
	service := newTestService(t, repo, &stubUserRepo{}, &stubStripeClient{})

	completed := &stripe.Event{
		Type: stripe.EventTypeCheckoutSessionCompleted,
		Data: &stripe.EventData{
			Raw:    json.RawMessage(`{"id":"cs_done"}`),
			Object: map[string]interface{}{"id": "cs_done"},
		},
	}
	if err := service.HandleEvent(context.Background(), completed); err != nil {
		t.Fatalf("handle completed: %v", err)
	}
	if repo.sessionStatuses["cs_done"] != enums.CheckoutSessionStatusCompleted {
		t.Fatalf("expected completed session")
	}

	repo.sessionRows = 0
	missing := &stripe.Event{
		Type: stripe.EventTypeCheckoutSessionExpired,
		Data: &stripe.EventData{
			Raw:    json.RawMessage(`{"id":"cs_missing"}`),
			Object: map[string]interface{}{"id": "cs_missing"},
		},
	}
	err := service.HandleEvent(context.Background(), missing)
	if typed := pkgerrors.As(err); typed == nil || typed.Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not-found for unknown session, got %v", err)
	}
}

type recordedUpdate struct {
	stripeSubscriptionID string
	fields               map[string]any
}

type stubBillingRepo struct {
	existing *models.Subscription

	created  []*models.Subscription
	upserted []*models.Subscription
	updates  []recordedUpdate

	updateRows      int64
	sessionRows     int64
	sessionStatuses map[string]enums.CheckoutSessionStatus
}

func (s *stubBillingRepo) WithTx(tx *gorm.DB) billing.Repository { return s }

func (s *stubBillingRepo) FindSubscriptionByStripeID(ctx context.Context, stripeSubscriptionID string) (*models.Subscription, error) {
	if s.existing != nil && s.existing.StripeSubscriptionID == stripeSubscriptionID {
		return s.existing, nil
	}
	return nil, nil
}

func (s *stubBillingRepo) FindSubscriptionByUser(ctx context.Context, userID uuid.UUID) (*models.Subscription, error) {
	return s.existing, nil
}

func (s *stubBillingRepo) CreateSubscriptionIfAbsent(ctx context.Context, subscription *models.Subscription) (bool, error) {
	s.created = append(s.created, subscription)
	return true, nil
}

func (s *stubBillingRepo) UpsertSubscriptionPreservingStatus(ctx context.Context, subscription *models.Subscription) error {
	s.upserted = append(s.upserted, subscription)
	return nil
}

func (s *stubBillingRepo) UpdateSubscriptionFields(ctx context.Context, stripeSubscriptionID string, fields map[string]any) (int64, error) {
	s.updates = append(s.updates, recordedUpdate{stripeSubscriptionID: stripeSubscriptionID, fields: fields})
	return s.updateRows, nil
}

func (s *stubBillingRepo) ListTrialingForRefresh(ctx context.Context, limit int) ([]models.Subscription, error) {
	return nil, nil
}

func (s *stubBillingRepo) CreateCheckoutSession(ctx context.Context, session *models.CheckoutSession) error {
	return nil
}

func (s *stubBillingRepo) FindCheckoutSessionBySessionID(ctx context.Context, stripeSessionID string) (*models.CheckoutSession, error) {
	return nil, nil
}

func (s *stubBillingRepo) UpdateCheckoutSessionStatus(ctx context.Context, stripeSessionID string, status enums.CheckoutSessionStatus) (int64, error) {
	if s.sessionStatuses == nil {
		s.sessionStatuses = map[string]enums.CheckoutSessionStatus{}
	}
	if s.sessionRows > 0 {
		s.sessionStatuses[stripeSessionID] = status
	}
	return s.sessionRows, nil
}

func (s *stubBillingRepo) ExpireStaleCheckoutSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	return 0, nil
}

type stubUserRepo struct {
	users map[string]*models.User
}

func (s *stubUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if user, ok := s.users[email]; ok {
		return user, nil
	}
	return nil, gorm.ErrRecordNotFound
}

type stubStripeClient struct {
	subscription      *stripe.Subscription
	subscriptionErr   error
	subscriptionCalls int

	customer      *stripe.Customer
	customerErr   error
	customerCalls int
}

func (s *stubStripeClient) Subscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	s.subscriptionCalls++
	if s.subscriptionErr != nil {
		return nil, s.subscriptionErr
	}
	return s.subscription, nil
}

func (s *stubStripeClient) Customer(ctx context.Context, id string) (*stripe.Customer, error) {
	s.customerCalls++
	if s.customerErr != nil {
		return nil, s.customerErr
	}
	return s.customer, nil
}
