package controllers

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ironlotus/gymsite/app/models"
	"github.com/ironlotus/gymsite/internal/pkg/billing"
)

const testSecret = "whsec_controller_test"

func setupControllerDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:controllers_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Payment{}, &models.BillingWebhookEvent{}))
	return db
}

func stripeSignature(payload []byte, secret string) string {
	ts := time.Now().Unix()
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts, payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts, hex.EncodeToString(mac.Sum(nil)))
}

func stripeEvent(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()

	b, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func newWebhookApp(t *testing.T, db *gorm.DB) *fiber.App {
	t.Helper()

	log := zaptest.NewLogger(t)
	rec := billing.NewReconcilerFromDB(db, billing.Options{WebhookSecret: testSecret, Logger: log})
	bc := NewBillingController(rec, log)

	app := fiber.New()
	app.Post("/webhooks/stripe", bc.HandleStripeWebhook)
	return app
}

func postWebhook(t *testing.T, app *fiber.App, payload []byte, signature string) (int, map[string]interface{}) {
	t.Helper()

	req := httptest.NewRequest("POST", "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	resp, err := app.Test(req)
	require.NoError(t, err)

	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return resp.StatusCode, body
}

func TestHandleStripeWebhook_PaymentSucceeded(t *testing.T) {
	db := setupControllerDB(t)
	require.NoError(t, db.Create(&models.User{ID: "u1", Email: "u1@example.com", IsActive: true}).Error)
	pid := "pi_123"
	require.NoError(t, db.Create(&models.Payment{UserID: "u1", Amount: 5000, Currency: "aud", Status: models.PaymentStatusPending, StripePaymentID: &pid}).Error)
	app := newWebhookApp(t, db)

	payload := stripeEvent(t, "evt_1", "payment_intent.succeeded", map[string]interface{}{
		"id":       "pi_123",
		"object":   "payment_intent",
		"amount":   5000,
		"currency": "aud",
		"metadata": map[string]string{"userId": "u1"},
	})
	status, body := postWebhook(t, app, payload, stripeSignature(payload, testSecret))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["received"])
	assert.Equal(t, "applied", body["outcome"])
	assert.Equal(t, false, body["duplicate"])

	var p models.Payment
	require.NoError(t, db.Where("stripe_payment_id = ?", pid).First(&p).Error)
	assert.Equal(t, models.PaymentStatusPaid, p.Status)
	assert.NotNil(t, p.PaidAt)

	status, body = postWebhook(t, app, payload, stripeSignature(payload, testSecret))
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, true, body["duplicate"])
}

func TestHandleStripeWebhook_InvalidSignature(t *testing.T) {
	db := setupControllerDB(t)
	require.NoError(t, db.Create(&models.User{ID: "u1", Email: "u1@example.com", IsActive: true}).Error)
	app := newWebhookApp(t, db)

	payload := stripeEvent(t, "evt_1", "customer.subscription.deleted", map[string]interface{}{
		"id":       "sub_1",
		"object":   "subscription",
		"metadata": map[string]string{"userId": "u1"},
	})

	for _, sig := range []string{stripeSignature(payload, "whsec_forged"), ""} {
		status, body := postWebhook(t, app, payload, sig)
		assert.Equal(t, fiber.StatusBadRequest, status)
		assert.Equal(t, "invalid_signature", body["error"])
	}

	var u models.User
	require.NoError(t, db.Where("id = ?", "u1").First(&u).Error)
	assert.True(t, u.IsActive)
	assert.Nil(t, u.MembershipEnd)
}

func TestHandleStripeWebhook_HandlerFailureStillAcknowledged(t *testing.T) {
	db := setupControllerDB(t)
	app := newWebhookApp(t, db)

	payload := stripeEvent(t, "evt_1", "customer.subscription.deleted", map[string]interface{}{
		"id":     "sub_1",
		"object": "subscription",
	})
	status, body := postWebhook(t, app, payload, stripeSignature(payload, testSecret))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "failed", body["outcome"])
}

func TestHandleStripeWebhook_UnrecognizedEvent(t *testing.T) {
	app := newWebhookApp(t, setupControllerDB(t))

	payload := stripeEvent(t, "evt_1", "charge.dispute.created", map[string]interface{}{"id": "dp_1"})
	status, body := postWebhook(t, app, payload, stripeSignature(payload, testSecret))

	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, "ignored", body["outcome"])
}

func TestHandleStripeWebhook_InvalidPayload(t *testing.T) {
	app := newWebhookApp(t, setupControllerDB(t))

	payload := []byte(`{"hello":"world"}`)
	status, body := postWebhook(t, app, payload, stripeSignature(payload, testSecret))

	assert.Equal(t, fiber.StatusBadRequest, status)
	assert.Equal(t, "invalid_payload", body["error"])
}
