package models

import "time"

const (
	PaymentStatusPending = "pending"
	PaymentStatusPaid    = "paid"
	PaymentStatusFailed  = "failed"
)

// Payment records a single charge or invoice seen from the payment provider.
// StripePaymentID and StripeInvoiceID are nullable and unique when set, so a
// redelivered provider event always lands on the same row.
type Payment struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	UserID          string     `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Amount          int64      `gorm:"not null;default:0" json:"amount"`
	Currency        string     `gorm:"type:varchar(3);not null;default:'aud'" json:"currency"`
	Status          string     `gorm:"type:varchar(16);not null;default:'pending';index" json:"status"`
	StripePaymentID *string    `gorm:"type:varchar(191);uniqueIndex:ux_payments_stripe_payment_id" json:"stripe_payment_id,omitempty"`
	StripeInvoiceID *string    `gorm:"type:varchar(191);uniqueIndex:ux_payments_stripe_invoice_id" json:"stripe_invoice_id,omitempty"`
	PeriodStart     *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd       *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	PaidAt          *time.Time `gorm:"type:timestamp;default:null" json:"paid_at,omitempty"`
	CreatedAt       time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether no further transition may move the record.
// Only PAID is absorbing; a FAILED charge may still be retried and succeed.
func (p *Payment) IsTerminal() bool {
	return p.Status == PaymentStatusPaid
}
