package billing

import "time"

// Stripe event tags handled by the reconciler.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventInvoicePaid            = "invoice.payment_succeeded"
	EventInvoiceFailed          = "invoice.payment_failed"
	EventSubscriptionCreated    = "customer.subscription.created"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
)

// Metadata keys set on payment intents and subscriptions at checkout.
const (
	MetadataUserID = "userId"
	MetadataTier   = "membershipTier"
)

// Outcome describes what happened to a verified event.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeIgnored   Outcome = "ignored"
	OutcomeFailed    Outcome = "failed"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeRejected  Outcome = "rejected"
)

// Result is returned for every verified event. Err is set when the handler
// failed; the delivery itself is still acknowledged.
type Result struct {
	EventID   string
	EventType string
	UserID    string
	Outcome   Outcome
	Err       error
}

// Transition reports the effect of a payment write.
type Transition string

const (
	TransitionCreated   Transition = "created"
	TransitionUpdated   Transition = "updated"
	TransitionUnchanged Transition = "unchanged"
)

// PaymentUpdate identifies a payment intent outcome for one account.
type PaymentUpdate struct {
	UserID          string
	StripePaymentID string
	Amount          int64
	Currency        string
	At              time.Time
}

// InvoicePayment is an invoice outcome, keyed by the Stripe invoice id.
type InvoicePayment struct {
	UserID          string
	StripeInvoiceID string
	Status          string
	Amount          int64
	Currency        string
	PeriodStart     *time.Time
	PeriodEnd       *time.Time
	At              time.Time
}

// MembershipExtension activates an account for a paid period.
type MembershipExtension struct {
	UserID string
	Start  *time.Time
	End    *time.Time
	Tier   string
}
