package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/edge-gateway/internal/models"
)

func sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestVerifySignature(t *testing.T) {
	handler := NewWebhookHandler("whsec", newFakeStore())
	body := []byte(`{"type":"payment.created"}`)

	assert.True(t, handler.VerifySignature(body, sign("whsec", body)))
	assert.False(t, handler.VerifySignature(body, sign("wrong-secret", body)))
	assert.False(t, handler.VerifySignature(body, "garbage"))
	assert.False(t, handler.VerifySignature([]byte(`tampered`), sign("whsec", body)))
}

func TestHandleEventPaymentCreated(t *testing.T) {
	store := newFakeStore()
	store.intents["k"] = &models.PaymentIntent{ID: "intent-1", Status: models.PaymentPending, IdempotencyKey: "k"}
	handler := NewWebhookHandler("whsec", store)

	body := []byte(`{"type":"payment.created","data":{"object":{"payment":{"id":"sq-9","reference_id":"intent-1","status":"COMPLETED"}}}}`)
	require.NoError(t, handler.HandleEvent(context.Background(), body))

	assert.Equal(t, models.PaymentCompleted, store.intents["k"].Status)
	assert.Equal(t, "sq-9", store.intents["k"].SquarePaymentID)

	require.Len(t, store.auditLog, 1)
	assert.Equal(t, "intent-1", store.auditLog[0].PaymentID)
	assert.Equal(t, "payment.created", store.auditLog[0].EventType)
}

func TestHandleEventPaymentUpdatedOnlyAudits(t *testing.T) {
	store := newFakeStore()
	store.intents["k"] = &models.PaymentIntent{ID: "intent-1", Status: models.PaymentPending, IdempotencyKey: "k"}
	handler := NewWebhookHandler("whsec", store)

	body := []byte(`{"type":"payment.updated","data":{"object":{"payment":{"id":"sq-9","reference_id":"intent-1"}}}}`)
	require.NoError(t, handler.HandleEvent(context.Background(), body))

	assert.Equal(t, models.PaymentPending, store.intents["k"].Status, "intent state untouched")
	assert.Len(t, store.auditLog, 1)
}

func TestHandleEventRefundCreated(t *testing.T) {
	store := newFakeStore()
	handler := NewWebhookHandler("whsec", store)

	body := []byte(`{"type":"refund.created","data":{"object":{"refund":{"id":"rf-1","payment_id":"intent-1","reason":"guest cancelled","amount_money":{"amount":10000}}}}}`)
	require.NoError(t, handler.HandleEvent(context.Background(), body))

	require.Len(t, store.refunds, 1)
	assert.Equal(t, "intent-1", store.refunds[0].PaymentID)
	assert.Equal(t, int64(10000), store.refunds[0].Amount)

	require.Len(t, store.adjustments, 1)
	assert.Equal(t, "intent-1", store.adjustments[0].PaymentID)
	assert.Equal(t, int64(-500), store.adjustments[0].Amount, "adjustment is the negated commission")
	assert.Equal(t, "refund", store.adjustments[0].Type)
}

func TestHandleEventUnknownTypeIgnored(t *testing.T) {
	store := newFakeStore()
	handler := NewWebhookHandler("whsec", store)

	require.NoError(t, handler.HandleEvent(context.Background(), []byte(`{"type":"dispute.created"}`)))

	assert.Empty(t, store.auditLog)
	assert.Empty(t, store.refunds)
	assert.Empty(t, store.adjustments)
}

func TestHandleEventMalformed(t *testing.T) {
	handler := NewWebhookHandler("whsec", newFakeStore())

	assert.Error(t, handler.HandleEvent(context.Background(), []byte(`not json`)))
	assert.Error(t, handler.HandleEvent(context.Background(), []byte(`{"type":"payment.created","data":{}}`)))
}
