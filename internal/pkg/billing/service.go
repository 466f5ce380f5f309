package billing

import (
	"context"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/ironlotus/gymsite/app/models"
	"github.com/ironlotus/gymsite/internal/pkg/metrics"
)

const (
	defaultHandlerTimeout = 10 * time.Second
	journalTimeout        = 5 * time.Second
)

// PayloadArchiver stores the raw body of verified events.
type PayloadArchiver interface {
	Archive(ctx context.Context, eventID string, receivedAt time.Time, payload []byte) error
}

// Options configures a Reconciler. Only WebhookSecret is required.
type Options struct {
	WebhookSecret   string
	SignatureMaxAge time.Duration
	HandlerTimeout  time.Duration
	Subscriptions   SubscriptionResolver
	Locker          AccountLocker
	Archiver        PayloadArchiver
	Logger          *zap.Logger
	Clock           func() time.Time
	DisableJournal  bool
}

// Reconciler turns signed Stripe events into membership and payment updates.
// It holds no state between deliveries.
type Reconciler struct {
	repo     Repository
	secret   string
	maxAge   time.Duration
	timeout  time.Duration
	subs     SubscriptionResolver
	locker   AccountLocker
	archiver PayloadArchiver
	log      *zap.Logger
	now      func() time.Time
	journal  bool
	handlers map[string]eventHandler
}

type eventHandler func(ctx context.Context, evt *stripe.Event, scope *eventScope) error

// eventScope carries per-delivery logging context into a handler.
type eventScope struct {
	log    *zap.Logger
	userID string
}

func (s *eventScope) forUser(userID string) {
	s.userID = userID
	s.log = s.log.With(zap.String("user_id", userID))
}

// NewReconciler creates a reconciler from an injected repository.
func NewReconciler(repo Repository, opts Options) *Reconciler {
	r := &Reconciler{
		repo:     repo,
		secret:   opts.WebhookSecret,
		maxAge:   opts.SignatureMaxAge,
		timeout:  opts.HandlerTimeout,
		subs:     opts.Subscriptions,
		locker:   opts.Locker,
		archiver: opts.Archiver,
		log:      opts.Logger,
		now:      opts.Clock,
		journal:  !opts.DisableJournal,
	}
	if r.timeout <= 0 {
		r.timeout = defaultHandlerTimeout
	}
	if r.locker == nil {
		r.locker = noopLocker{}
	}
	if r.log == nil {
		r.log = zap.NewNop()
	}
	if r.now == nil {
		r.now = time.Now
	}
	r.handlers = map[string]eventHandler{
		EventPaymentIntentSucceeded: r.handlePaymentSucceeded,
		EventPaymentIntentFailed:    r.handlePaymentFailed,
		EventInvoicePaid:            r.handleInvoicePaid,
		EventInvoiceFailed:          r.handleInvoiceFailed,
		EventSubscriptionCreated:    r.handleSubscriptionCreated,
		EventSubscriptionUpdated:    r.handleSubscriptionUpdated,
		EventSubscriptionDeleted:    r.handleSubscriptionDeleted,
	}
	return r
}

// NewReconcilerFromDB creates a reconciler from a GORM DB handle.
func NewReconcilerFromDB(db *gorm.DB, opts Options) *Reconciler {
	return NewReconciler(NewRepository(db), opts)
}

// HandleWebhook verifies and applies one delivery. The only errors returned
// are ErrInvalidSignature and ErrInvalidPayload; handler failures are reported
// in Result.Err so the delivery can still be acknowledged.
func (r *Reconciler) HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*Result, error) {
	if err := VerifyStripeWebhookSignature(payload, signatureHeader, r.secret, r.maxAge); err != nil {
		r.log.Warn("stripe webhook rejected", zap.Error(err), zap.Int("payload_bytes", len(payload)))
		metrics.WebhookEvents.WithLabelValues("unverified", string(OutcomeRejected)).Inc()
		return nil, err
	}

	evt, err := ParseEvent(payload)
	if err != nil {
		r.log.Warn("stripe webhook payload unreadable", zap.Error(err))
		metrics.WebhookEvents.WithLabelValues("unparsed", string(OutcomeRejected)).Inc()
		return nil, err
	}

	eventType := string(evt.Type)
	res := &Result{EventID: evt.ID, EventType: eventType}
	scope := &eventScope{log: r.log.With(
		zap.String("event_id", evt.ID),
		zap.String("event_type", eventType),
	)}
	receivedAt := r.now()

	handler, ok := r.handlers[eventType]
	if !ok {
		scope.log.Info("stripe event type not handled")
		res.Outcome = OutcomeIgnored
		metrics.WebhookEvents.WithLabelValues(eventType, string(OutcomeIgnored)).Inc()
		return res, nil
	}

	journalID, applied := r.openJournal(ctx, evt, scope)
	if applied {
		scope.log.Info("stripe event already applied, skipping redelivery")
		res.Outcome = OutcomeDuplicate
		metrics.WebhookEvents.WithLabelValues(eventType, string(OutcomeDuplicate)).Inc()
		return res, nil
	}

	r.archive(ctx, evt.ID, receivedAt, payload, scope)

	started := time.Now()
	hctx, cancel := context.WithTimeout(ctx, r.timeout)
	res.Outcome, res.Err = r.dispatch(hctx, handler, evt, scope)
	cancel()
	res.UserID = scope.userID
	metrics.WebhookDuration.WithLabelValues(eventType).Observe(time.Since(started).Seconds())
	metrics.WebhookEvents.WithLabelValues(eventType, string(res.Outcome)).Inc()

	if res.Err != nil {
		reason := failureReason(res.Err)
		metrics.WebhookHandlerFailures.WithLabelValues(eventType, reason).Inc()
		scope.log.Error("stripe event handler failed", zap.String("reason", reason), zap.Error(res.Err))
	}

	r.closeJournal(ctx, journalID, scope.userID, res.Err, scope)
	return res, nil
}

// dispatch runs one handler; a panic fails this event only.
func (r *Reconciler) dispatch(ctx context.Context, handler eventHandler, evt *stripe.Event, scope *eventScope) (outcome Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			outcome = OutcomeFailed
			err = fmt.Errorf("%w: handler panic: %v", ErrDownstreamFailure, p)
		}
	}()

	if err := handler(ctx, evt, scope); err != nil {
		return OutcomeFailed, err
	}
	return OutcomeApplied, nil
}

// openJournal records the delivery and reports whether an earlier delivery of
// the same event was already applied. Journal failures never block processing.
func (r *Reconciler) openJournal(ctx context.Context, evt *stripe.Event, scope *eventScope) (uint, bool) {
	if !r.journal {
		return 0, false
	}
	jctx, cancel := context.WithTimeout(ctx, journalTimeout)
	defer cancel()

	created, stored, err := r.repo.CreateWebhookEventIfNotExists(jctx, &models.BillingWebhookEvent{
		Provider:        models.BillingProviderStripe,
		ProviderEventID: evt.ID,
		EventType:       string(evt.Type),
		Attempts:        1,
	})
	if err != nil {
		scope.log.Warn("webhook journal unavailable", zap.Error(err))
		return 0, false
	}
	if created {
		return stored.ID, false
	}
	if stored.WasApplied() {
		return stored.ID, true
	}
	if err := r.repo.RetryWebhookEvent(jctx, stored.ID); err != nil {
		scope.log.Warn("webhook journal retry not recorded", zap.Error(err))
	}
	scope.log.Info("reprocessing stripe event", zap.Int("previous_attempts", stored.Attempts))
	return stored.ID, false
}

func (r *Reconciler) closeJournal(ctx context.Context, id uint, userID string, handlerErr error, scope *eventScope) {
	if id == 0 {
		return
	}
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), journalTimeout)
	defer cancel()

	msg := ""
	if handlerErr != nil {
		msg = handlerErr.Error()
	}
	if err := r.repo.MarkWebhookProcessed(jctx, id, userID, msg); err != nil {
		scope.log.Warn("webhook journal not updated", zap.Error(err))
	}
}

func (r *Reconciler) archive(ctx context.Context, eventID string, receivedAt time.Time, payload []byte, scope *eventScope) {
	if r.archiver == nil {
		return
	}
	if err := r.archiver.Archive(ctx, eventID, receivedAt, payload); err != nil {
		scope.log.Warn("webhook payload not archived", zap.Error(err))
	}
}

// withAccountLock runs fn while holding the per-account lock.
func (r *Reconciler) withAccountLock(ctx context.Context, userID string, fn func(context.Context) error) error {
	unlock, err := r.locker.Lock(ctx, userID)
	if err != nil {
		return err
	}
	defer unlock()
	return fn(ctx)
}
