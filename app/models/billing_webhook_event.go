package models

import "time"

const BillingProviderStripe = "stripe"

// BillingWebhookEvent journals verified provider webhook deliveries so that
// redeliveries of an already processed event are acknowledged without being
// re-applied.
type BillingWebhookEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_billing_webhook_events_provider_event,unique,priority:1;index" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;default:'';index:ux_billing_webhook_events_provider_event,unique,priority:2" json:"provider_event_id"`
	EventType       string     `gorm:"type:varchar(100);not null;index" json:"event_type"`
	UserID          string     `gorm:"type:varchar(36);default:'';index" json:"user_id"`
	Attempts        int        `gorm:"not null;default:1" json:"attempts"`
	ProcessedAt     *time.Time `gorm:"type:timestamp;default:null" json:"processed_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// WasApplied reports whether an earlier delivery finished without error.
func (e *BillingWebhookEvent) WasApplied() bool {
	return e.ProcessedAt != nil && e.ProcessingError == ""
}
