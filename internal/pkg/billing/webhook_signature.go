package billing

import (
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79/webhook"
)

// VerifyStripeWebhookSignature checks the Stripe-Signature header against the
// raw, unparsed request body. A non-positive tolerance falls back to the
// library default of five minutes.
func VerifyStripeWebhookSignature(payload []byte, signatureHeader, webhookSecret string, tolerance time.Duration) error {
	sig := strings.TrimSpace(signatureHeader)
	secret := strings.TrimSpace(webhookSecret)
	if sig == "" || secret == "" {
		return ErrInvalidSignature
	}
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}

	if err := webhook.ValidatePayloadWithTolerance(payload, sig, secret, tolerance); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return nil
}
