package subscriptions

import (
	"time"

	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v84"

	"github.com/lodgebook/lodgebook-backend/pkg/db/models"
	"github.com/lodgebook/lodgebook-backend/pkg/enums"
	pkgerrors "github.com/lodgebook/lodgebook-backend/pkg/errors"
)

const secondsPerDay = 86400

// planTypeByInterval maps the provider's billing interval onto the local plan
// vocabulary. Unmapped intervals fall back to monthly.
var planTypeByInterval = map[stripe.PriceRecurringInterval]enums.PlanType{
	stripe.PriceRecurringIntervalMonth: enums.PlanTypeMonthly,
	stripe.PriceRecurringIntervalYear:  enums.PlanTypeYearly,
}

// statusByProvider maps the provider's subscription status onto the local
// vocabulary. Anything unmapped falls back to pending; the mapping never
// fails.
var statusByProvider = map[stripe.SubscriptionStatus]enums.SubscriptionStatus{
	stripe.SubscriptionStatusTrialing:          enums.SubscriptionStatusTrialing,
	stripe.SubscriptionStatusActive:            enums.SubscriptionStatusActive,
	stripe.SubscriptionStatusPaused:            enums.SubscriptionStatusPaused,
	stripe.SubscriptionStatusUnpaid:            enums.SubscriptionStatusUnpaid,
	stripe.SubscriptionStatusPastDue:           enums.SubscriptionStatusUnpaid,
	stripe.SubscriptionStatusCanceled:          enums.SubscriptionStatusCancelled,
	stripe.SubscriptionStatusIncompleteExpired: enums.SubscriptionStatusCancelled,
}

// MapPlanType resolves the local plan type for a provider billing interval.
func MapPlanType(interval stripe.PriceRecurringInterval) enums.PlanType {
	if plan, ok := planTypeByInterval[interval]; ok {
		return plan
	}
	return enums.PlanTypeMonthly
}

// MapSubscriptionStatus resolves the local status for a provider status.
func MapSubscriptionStatus(status stripe.SubscriptionStatus) enums.SubscriptionStatus {
	if mapped, ok := statusByProvider[status]; ok {
		return mapped
	}
	return enums.SubscriptionStatusPending
}

// TrialRemainingDays computes ceil((trial_end - now) / 1 day), floored at
// zero. A missing trial end means no trial time remains.
func TrialRemainingDays(trialEnd *time.Time, now time.Time) int {
	if trialEnd == nil {
		return 0
	}
	secs := trialEnd.Unix() - now.Unix()
	if secs <= 0 {
		return 0
	}
	return int((secs + secondsPerDay - 1) / secondsPerDay)
}

// BuildFromStripe maps a provider subscription into the canonical model.
// The caller owns status overrides (e.g. the pending seed on first invoice).
func BuildFromStripe(stripeSub *stripe.Subscription, userID uuid.UUID, now time.Time) (*models.Subscription, error) {
	if stripeSub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "stripe subscription is nil")
	}

	periodStart, periodEnd := periodFromSubscription(stripeSub)
	trialEnd := toTimePtr(stripeSub.TrialEnd)

	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: stripeSub.ID,
		StripeCustomerID:     customerID(stripeSub),
		PlanType:             MapPlanType(IntervalFromSubscription(stripeSub)),
		Status:               MapSubscriptionStatus(stripeSub.Status),
		Recurring:            !stripeSub.CancelAtPeriodEnd,
		CurrentPeriodStart:   toTimePtr(periodStart),
		CurrentPeriodEnd:     toTimePtr(periodEnd),
		TrialStart:           toTimePtr(stripeSub.TrialStart),
		TrialEnd:             trialEnd,
		TrialRemainingDays:   TrialRemainingDays(trialEnd, now),
		CanceledAt:           toTimePtr(stripeSub.CanceledAt),
	}
	return sub, nil
}

// IntervalFromSubscription pulls the billing interval off the first line item.
func IntervalFromSubscription(sub *stripe.Subscription) stripe.PriceRecurringInterval {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return ""
	}
	item := sub.Items.Data[0]
	if item == nil || item.Price == nil || item.Price.Recurring == nil {
		return ""
	}
	return item.Price.Recurring.Interval
}

// InvoiceLinePeriod returns the first invoice line's period bounds as Unix
// seconds, or zeros when the invoice carries no lines.
func InvoiceLinePeriod(invoice *stripe.Invoice) (int64, int64) {
	if invoice == nil || invoice.Lines == nil || len(invoice.Lines.Data) == 0 {
		return 0, 0
	}
	line := invoice.Lines.Data[0]
	if line == nil || line.Period == nil {
		return 0, 0
	}
	return line.Period.Start, line.Period.End
}

func periodFromSubscription(sub *stripe.Subscription) (int64, int64) {
	if sub == nil || sub.Items == nil || len(sub.Items.Data) == 0 {
		return 0, 0
	}
	item := sub.Items.Data[0]
	if item == nil {
		return 0, 0
	}
	return item.CurrentPeriodStart, item.CurrentPeriodEnd
}

func customerID(sub *stripe.Subscription) string {
	if sub == nil || sub.Customer == nil {
		return ""
	}
	return sub.Customer.ID
}

func toTimePtr(ts int64) *time.Time {
	if ts == 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
