package billing

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/ironlotus/gymsite/app/models"
)

const testWebhookSecret = "whsec_test_secret"

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:billing_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(&models.User{}, &models.Payment{}, &models.BillingWebhookEvent{}))
	return db
}

func seedMember(t *testing.T, db *gorm.DB, id string, active bool, end *time.Time) *models.User {
	t.Helper()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	u := &models.User{
		ID:              id,
		Name:            "Member " + id,
		Email:           id + "@example.com",
		Password:        "x",
		Role:            models.ROLE_MEMBER,
		IsActive:        active,
		MembershipTier:  models.TIER_TRIAL,
		MembershipStart: &start,
		MembershipEnd:   end,
	}
	require.NoError(t, db.Create(u).Error)
	return u
}

func seedPayment(t *testing.T, db *gorm.DB, userID, stripePaymentID, status string) *models.Payment {
	t.Helper()

	p := &models.Payment{
		UserID:          userID,
		Amount:          5000,
		Currency:        "aud",
		Status:          status,
		StripePaymentID: &stripePaymentID,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

func loadMember(t *testing.T, db *gorm.DB, id string) models.User {
	t.Helper()

	var u models.User
	require.NoError(t, db.Where("id = ?", id).First(&u).Error)
	return u
}

func countRows(t *testing.T, db *gorm.DB, model interface{}) int64 {
	t.Helper()

	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

func signPayload(payload []byte, secret string, ts time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(fmt.Sprintf("%d.%s", ts.Unix(), payload)))
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

func eventPayload(t *testing.T, id, eventType string, object map[string]interface{}) []byte {
	t.Helper()

	b, err := json.Marshal(map[string]interface{}{
		"id":          id,
		"object":      "event",
		"type":        eventType,
		"created":     time.Now().Unix(),
		"api_version": stripe.APIVersion,
		"data":        map[string]interface{}{"object": object},
	})
	require.NoError(t, err)
	return b
}

func paymentIntentObject(id, userID string, amount int64) map[string]interface{} {
	metadata := map[string]string{}
	if userID != "" {
		metadata[MetadataUserID] = userID
	}
	return map[string]interface{}{
		"id":              id,
		"object":          "payment_intent",
		"amount":          amount,
		"amount_received": amount,
		"currency":        "aud",
		"metadata":        metadata,
	}
}

func invoiceObject(id, subscriptionID string, amount int64, start, end time.Time) map[string]interface{} {
	return map[string]interface{}{
		"id":           id,
		"object":       "invoice",
		"amount_paid":  amount,
		"amount_due":   amount,
		"currency":     "aud",
		"period_start": start.Unix(),
		"period_end":   end.Unix(),
		"subscription": subscriptionID,
	}
}

func subscriptionObject(id, userID, status string) map[string]interface{} {
	return map[string]interface{}{
		"id":       id,
		"object":   "subscription",
		"status":   status,
		"metadata": map[string]string{MetadataUserID: userID},
	}
}

// fakeSubscriptions resolves subscriptions from a map.
type fakeSubscriptions struct {
	subs  map[string]*stripe.Subscription
	err   error
	calls int
}

func (f *fakeSubscriptions) GetSubscription(_ context.Context, id string) (*stripe.Subscription, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	sub, ok := f.subs[id]
	if !ok {
		return nil, errors.New("no such subscription: " + id)
	}
	return sub, nil
}

type fixedClock struct {
	t time.Time
}

func (c *fixedClock) Now() time.Time { return c.t }
