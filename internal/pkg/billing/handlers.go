package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"

	"github.com/ironlotus/gymsite/app/models"
)

func (r *Reconciler) handlePaymentSucceeded(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return err
	}
	userID := metadataValue(pi.Metadata, MetadataUserID)
	if userID == "" {
		return fmt.Errorf("%w: payment_intent %s has no %s", ErrMissingMetadata, pi.ID, MetadataUserID)
	}
	scope.forUser(userID)
	if _, err := r.repo.GetAccount(ctx, userID); err != nil {
		return accountError(err)
	}

	amount := pi.AmountReceived
	if amount <= 0 {
		amount = pi.Amount
	}
	tr, err := r.repo.MarkPaymentPaid(ctx, PaymentUpdate{
		UserID:          userID,
		StripePaymentID: pi.ID,
		Amount:          amount,
		Currency:        currencyCode(pi.Currency),
		At:              r.now(),
	})
	if err != nil {
		return paymentWriteError("mark payment paid", err)
	}
	scope.log.Info("payment succeeded",
		zap.String("payment_id", pi.ID),
		zap.Int64("amount", amount),
		zap.String("transition", string(tr)),
	)
	return nil
}

func (r *Reconciler) handlePaymentFailed(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var pi stripe.PaymentIntent
	if err := decodeObject(evt, &pi); err != nil {
		return err
	}
	userID := metadataValue(pi.Metadata, MetadataUserID)
	if userID == "" {
		return fmt.Errorf("%w: payment_intent %s has no %s", ErrMissingMetadata, pi.ID, MetadataUserID)
	}
	scope.forUser(userID)
	if _, err := r.repo.GetAccount(ctx, userID); err != nil {
		return accountError(err)
	}

	tr, err := r.repo.MarkPaymentFailed(ctx, PaymentUpdate{
		UserID:          userID,
		StripePaymentID: pi.ID,
		Amount:          pi.Amount,
		Currency:        currencyCode(pi.Currency),
		At:              r.now(),
	})
	if err != nil {
		return paymentWriteError("mark payment failed", err)
	}
	scope.log.Info("payment failed",
		zap.String("payment_id", pi.ID),
		zap.String("transition", string(tr)),
	)
	return nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var inv stripe.Invoice
	if err := decodeObject(evt, &inv); err != nil {
		return err
	}
	userID, tier, err := r.resolveInvoiceOwner(ctx, &inv)
	if err != nil {
		return err
	}
	scope.forUser(userID)
	periodStart, periodEnd := invoicePeriod(&inv)

	return r.withAccountLock(ctx, userID, func(ctx context.Context) error {
		if _, err := r.repo.GetAccount(ctx, userID); err != nil {
			return accountError(err)
		}

		tr, err := r.repo.UpsertInvoicePayment(ctx, InvoicePayment{
			UserID:          userID,
			StripeInvoiceID: inv.ID,
			Status:          models.PaymentStatusPaid,
			Amount:          inv.AmountPaid,
			Currency:        currencyCode(inv.Currency),
			PeriodStart:     periodStart,
			PeriodEnd:       periodEnd,
			At:              r.now(),
		})
		if err != nil {
			return downstream("upsert invoice payment", err)
		}

		extended, err := r.repo.ExtendMembership(ctx, MembershipExtension{
			UserID: userID,
			Start:  periodStart,
			End:    periodEnd,
			Tier:   tier,
		})
		if err != nil {
			return downstream("extend membership", err)
		}

		scope.log.Info("invoice paid, membership extended",
			zap.String("invoice_id", inv.ID),
			zap.Int64("amount", inv.AmountPaid),
			zap.Timep("membership_end", periodEnd),
			zap.Bool("window_extended", extended),
			zap.String("transition", string(tr)),
		)
		return nil
	})
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var inv stripe.Invoice
	if err := decodeObject(evt, &inv); err != nil {
		return err
	}
	userID, _, err := r.resolveInvoiceOwner(ctx, &inv)
	if err != nil {
		return err
	}
	scope.forUser(userID)

	if _, err := r.repo.GetAccount(ctx, userID); err != nil {
		return accountError(err)
	}

	periodStart, periodEnd := invoicePeriod(&inv)
	tr, err := r.repo.UpsertInvoicePayment(ctx, InvoicePayment{
		UserID:          userID,
		StripeInvoiceID: inv.ID,
		Status:          models.PaymentStatusFailed,
		Amount:          inv.AmountDue,
		Currency:        currencyCode(inv.Currency),
		PeriodStart:     periodStart,
		PeriodEnd:       periodEnd,
		At:              r.now(),
	})
	if err != nil {
		return downstream("upsert invoice payment", err)
	}
	scope.log.Warn("invoice payment failed",
		zap.String("invoice_id", inv.ID),
		zap.Int64("amount_due", inv.AmountDue),
		zap.String("transition", string(tr)),
	)
	return nil
}

func (r *Reconciler) handleSubscriptionCreated(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var sub stripe.Subscription
	if err := decodeObject(evt, &sub); err != nil {
		return err
	}
	if userID := metadataValue(sub.Metadata, MetadataUserID); userID != "" {
		scope.forUser(userID)
	}
	scope.log.Info("subscription created",
		zap.String("subscription_id", sub.ID),
		zap.String("status", string(sub.Status)),
	)
	return nil
}

func (r *Reconciler) handleSubscriptionUpdated(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var sub stripe.Subscription
	if err := decodeObject(evt, &sub); err != nil {
		return err
	}
	userID := metadataValue(sub.Metadata, MetadataUserID)
	if userID == "" {
		return fmt.Errorf("%w: subscription %s has no %s", ErrMissingMetadata, sub.ID, MetadataUserID)
	}
	scope.forUser(userID)
	log := scope.log.With(zap.String("subscription_id", sub.ID), zap.String("status", string(sub.Status)))

	switch sub.Status {
	case stripe.SubscriptionStatusActive:
		return r.withAccountLock(ctx, userID, func(ctx context.Context) error {
			account, err := r.repo.GetAccount(ctx, userID)
			if err != nil {
				return accountError(err)
			}
			if account.IsActive {
				log.Debug("subscription active, account already active")
				return nil
			}
			if err := r.repo.UpdateAccount(ctx, userID, map[string]interface{}{"is_active": true}); err != nil {
				return downstream("activate account", err)
			}
			log.Info("subscription active, account activated")
			return nil
		})
	case stripe.SubscriptionStatusCanceled, stripe.SubscriptionStatusUnpaid:
		// Grace period: access runs until the deleted event or the window ends.
		log.Info("subscription lapsed, deactivation deferred to grace period")
		return nil
	default:
		log.Debug("subscription status change not tracked")
		return nil
	}
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, evt *stripe.Event, scope *eventScope) error {
	var sub stripe.Subscription
	if err := decodeObject(evt, &sub); err != nil {
		return err
	}
	userID := metadataValue(sub.Metadata, MetadataUserID)
	if userID == "" {
		return fmt.Errorf("%w: subscription %s has no %s", ErrMissingMetadata, sub.ID, MetadataUserID)
	}
	scope.forUser(userID)

	return r.withAccountLock(ctx, userID, func(ctx context.Context) error {
		if _, err := r.repo.GetAccount(ctx, userID); err != nil {
			return accountError(err)
		}
		now := r.now()
		if err := r.repo.UpdateAccount(ctx, userID, map[string]interface{}{
			"is_active":      false,
			"membership_end": now,
		}); err != nil {
			return downstream("end membership", err)
		}
		scope.log.Info("subscription deleted, membership ended",
			zap.String("subscription_id", sub.ID),
			zap.Time("membership_end", now),
		)
		return nil
	})
}

// resolveInvoiceOwner finds the account and tier for an invoice from its
// subscription metadata, fetching the subscription when the event only
// carries its id.
func (r *Reconciler) resolveInvoiceOwner(ctx context.Context, inv *stripe.Invoice) (string, string, error) {
	if inv.Subscription == nil || strings.TrimSpace(inv.Subscription.ID) == "" {
		return "", "", fmt.Errorf("%w: invoice %s has no subscription", ErrMissingMetadata, inv.ID)
	}

	sub := inv.Subscription
	if metadataValue(sub.Metadata, MetadataUserID) == "" {
		if r.subs == nil {
			return "", "", fmt.Errorf("%w: no subscription resolver for %s", ErrDownstreamFailure, sub.ID)
		}
		fetched, err := r.subs.GetSubscription(ctx, sub.ID)
		if err != nil {
			return "", "", downstream("retrieve subscription", err)
		}
		sub = fetched
	}

	userID := metadataValue(sub.Metadata, MetadataUserID)
	if userID == "" {
		return "", "", fmt.Errorf("%w: subscription %s has no %s", ErrMissingMetadata, sub.ID, MetadataUserID)
	}
	tier := strings.ToLower(metadataValue(sub.Metadata, MetadataTier))
	if !models.IsKnownTier(tier) {
		tier = ""
	}
	return userID, tier, nil
}

func accountError(err error) error {
	if errors.Is(err, ErrAccountNotFound) {
		return err
	}
	return downstream("load account", err)
}

func paymentWriteError(op string, err error) error {
	if errors.Is(err, ErrPaymentOwnerMismatch) {
		return err
	}
	return downstream(op, err)
}
