package billing

import (
	"context"
	"errors"
	"time"

	"github.com/ironlotus/gymsite/app/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Repository provides DB operations used by the reconciler.
type Repository interface {
	GetAccount(ctx context.Context, userID string) (*models.User, error)
	UpdateAccount(ctx context.Context, userID string, updates map[string]interface{}) error
	ExtendMembership(ctx context.Context, in MembershipExtension) (bool, error)
	MarkPaymentPaid(ctx context.Context, in PaymentUpdate) (Transition, error)
	MarkPaymentFailed(ctx context.Context, in PaymentUpdate) (Transition, error)
	UpsertInvoicePayment(ctx context.Context, in InvoicePayment) (Transition, error)
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error)
	RetryWebhookEvent(ctx context.Context, id uint) error
	MarkWebhookProcessed(ctx context.Context, id uint, userID, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetAccount(ctx context.Context, userID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).Where("id = ?", userID).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) UpdateAccount(ctx context.Context, userID string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).Updates(updates).Error
}

// ExtendMembership activates the account and moves membership_end out to
// in.End. The end date and tier are only written when in.End lies after the
// stored end, so overlapping deliveries can never pull the window back.
// Reports whether the end date changed.
func (r *gormRepository) ExtendMembership(ctx context.Context, in MembershipExtension) (bool, error) {
	extended := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		account := func() *gorm.DB {
			return tx.Model(&models.User{}).Where("id = ?", in.UserID)
		}

		updates := map[string]interface{}{"is_active": true}
		if in.Tier != "" && in.End == nil {
			updates["membership_tier"] = in.Tier
		}
		if err := account().Updates(updates).Error; err != nil {
			return err
		}

		if in.End != nil {
			window := map[string]interface{}{"membership_end": *in.End}
			// A stale invoice carries a stale tier too.
			if in.Tier != "" {
				window["membership_tier"] = in.Tier
			}
			res := account().
				Where("(membership_end IS NULL OR membership_end < ?)", *in.End).
				Updates(window)
			if res.Error != nil {
				return res.Error
			}
			extended = res.RowsAffected > 0
		}
		if in.Start != nil {
			if err := account().Where("membership_start IS NULL").Update("membership_start", *in.Start).Error; err != nil {
				return err
			}
		}
		return nil
	})
	return extended, err
}

// MarkPaymentPaid moves the (payment id, account) record to PAID. A record
// that is already PAID keeps its paid timestamp. An unknown payment id is
// recorded as a new PAID payment.
func (r *gormRepository) MarkPaymentPaid(ctx context.Context, in PaymentUpdate) (Transition, error) {
	db := r.db.WithContext(ctx)
	update := func() (int64, error) {
		res := db.Model(&models.Payment{}).
			Where("stripe_payment_id = ? AND user_id = ? AND status <> ?", in.StripePaymentID, in.UserID, models.PaymentStatusPaid).
			Updates(map[string]interface{}{
				"status":  models.PaymentStatusPaid,
				"paid_at": in.At,
			})
		return res.RowsAffected, res.Error
	}

	n, err := update()
	if err != nil {
		return "", err
	}
	if n > 0 {
		return TransitionUpdated, nil
	}

	existing, err := r.findPaymentByStripeID(db, in.StripePaymentID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.UserID != in.UserID {
			return "", ErrPaymentOwnerMismatch
		}
		return TransitionUnchanged, nil
	}

	paidAt := in.At
	created, err := r.createPaymentIfNotExists(db, &models.Payment{
		UserID:          in.UserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Status:          models.PaymentStatusPaid,
		StripePaymentID: &in.StripePaymentID,
		PaidAt:          &paidAt,
	}, "stripe_payment_id")
	if err != nil {
		return "", err
	}
	if created {
		return TransitionCreated, nil
	}

	// Lost an insert race against a concurrent delivery.
	n, err = update()
	if err != nil {
		return "", err
	}
	if n > 0 {
		return TransitionUpdated, nil
	}
	return TransitionUnchanged, nil
}

// MarkPaymentFailed moves a PENDING record to FAILED. PAID and FAILED records
// are left as they are.
func (r *gormRepository) MarkPaymentFailed(ctx context.Context, in PaymentUpdate) (Transition, error) {
	db := r.db.WithContext(ctx)
	res := db.Model(&models.Payment{}).
		Where("stripe_payment_id = ? AND user_id = ? AND status = ?", in.StripePaymentID, in.UserID, models.PaymentStatusPending).
		Update("status", models.PaymentStatusFailed)
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return TransitionUpdated, nil
	}

	existing, err := r.findPaymentByStripeID(db, in.StripePaymentID)
	if err != nil {
		return "", err
	}
	if existing != nil {
		if existing.UserID != in.UserID {
			return "", ErrPaymentOwnerMismatch
		}
		return TransitionUnchanged, nil
	}

	created, err := r.createPaymentIfNotExists(db, &models.Payment{
		UserID:          in.UserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Status:          models.PaymentStatusFailed,
		StripePaymentID: &in.StripePaymentID,
	}, "stripe_payment_id")
	if err != nil {
		return "", err
	}
	if created {
		return TransitionCreated, nil
	}
	return TransitionUnchanged, nil
}

// UpsertInvoicePayment records an invoice outcome keyed by the Stripe invoice
// id. Redelivery never creates a second row; a PAID invoice is never moved
// back to FAILED.
func (r *gormRepository) UpsertInvoicePayment(ctx context.Context, in InvoicePayment) (Transition, error) {
	db := r.db.WithContext(ctx)

	payment := &models.Payment{
		UserID:          in.UserID,
		Amount:          in.Amount,
		Currency:        in.Currency,
		Status:          in.Status,
		StripeInvoiceID: &in.StripeInvoiceID,
		PeriodStart:     in.PeriodStart,
		PeriodEnd:       in.PeriodEnd,
	}
	if in.Status == models.PaymentStatusPaid {
		paidAt := in.At
		payment.PaidAt = &paidAt
	}

	created, err := r.createPaymentIfNotExists(db, payment, "stripe_invoice_id")
	if err != nil {
		return "", err
	}
	if created {
		return TransitionCreated, nil
	}

	var res *gorm.DB
	switch in.Status {
	case models.PaymentStatusPaid:
		res = db.Model(&models.Payment{}).
			Where("stripe_invoice_id = ? AND status <> ?", in.StripeInvoiceID, models.PaymentStatusPaid).
			Updates(map[string]interface{}{
				"status":       models.PaymentStatusPaid,
				"amount":       in.Amount,
				"currency":     in.Currency,
				"period_start": in.PeriodStart,
				"period_end":   in.PeriodEnd,
				"paid_at":      in.At,
			})
	case models.PaymentStatusFailed:
		res = db.Model(&models.Payment{}).
			Where("stripe_invoice_id = ? AND status = ?", in.StripeInvoiceID, models.PaymentStatusPending).
			Updates(map[string]interface{}{
				"status": models.PaymentStatusFailed,
				"amount": in.Amount,
			})
	default:
		return TransitionUnchanged, nil
	}
	if res.Error != nil {
		return "", res.Error
	}
	if res.RowsAffected > 0 {
		return TransitionUpdated, nil
	}
	return TransitionUnchanged, nil
}

func (r *gormRepository) findPaymentByStripeID(db *gorm.DB, stripePaymentID string) (*models.Payment, error) {
	var p models.Payment
	err := db.Where("stripe_payment_id = ?", stripePaymentID).First(&p).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &p, nil
}

func (r *gormRepository) createPaymentIfNotExists(db *gorm.DB, payment *models.Payment, uniqueColumn string) (bool, error) {
	tx := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: uniqueColumn}},
		DoNothing: true,
	}).Create(payment)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.BillingWebhookEvent) (bool, *models.BillingWebhookEvent, error) {
	db := r.db.WithContext(ctx)
	tx := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider"},
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.BillingWebhookEvent
	if err := db.Where("provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) RetryWebhookEvent(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).
		Updates(map[string]interface{}{
			"attempts":     gorm.Expr("attempts + ?", 1),
			"processed_at": nil,
		}).Error
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, userID, processingError string) error {
	now := time.Now()
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
	}
	if userID != "" {
		updates["user_id"] = userID
	}
	return r.db.WithContext(ctx).Model(&models.BillingWebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
