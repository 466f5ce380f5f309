package controllers

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/ironlotus/gymsite/internal/pkg/billing"
)

// WebhookProcessor applies one signed provider delivery.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signatureHeader string) (*billing.Result, error)
}

type BillingController struct {
	processor WebhookProcessor
	log       *zap.Logger
}

func NewBillingController(processor WebhookProcessor, log *zap.Logger) *BillingController {
	if log == nil {
		log = zap.NewNop()
	}
	return &BillingController{processor: processor, log: log}
}

// HandleStripeWebhook acknowledges every verified delivery with 200 so the
// provider does not retry; only signature and payload errors are 400.
func (bc *BillingController) HandleStripeWebhook(c *fiber.Ctx) error {
	// Fiber reuses the request buffer after the handler returns
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("Stripe-Signature"))

	res, err := bc.processor.HandleWebhook(c.UserContext(), rawBody, signature)
	if err != nil {
		switch {
		case errors.Is(err, billing.ErrInvalidSignature):
			bc.log.Warn("stripe webhook signature rejected", zap.String("remote_ip", clientIP(c)))
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_signature"})
		case errors.Is(err, billing.ErrInvalidPayload):
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
		default:
			bc.log.Error("stripe webhook processing failed", zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "webhook_processing_failed"})
		}
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"received":   true,
		"event_id":   res.EventID,
		"event_type": res.EventType,
		"outcome":    res.Outcome,
		"duplicate":  res.Outcome == billing.OutcomeDuplicate,
	})
}
