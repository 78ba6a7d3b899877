package payments

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"

	"github.com/google/uuid"

	"github.com/tripnest/edge-gateway/internal/models"
)

// WebhookHandler reconciles payment state from provider callbacks. Signature
// verification is an integrity check and never fails open: a forged financial
// event must not touch the ledger.
type WebhookHandler struct {
	signingSecret string
	store         Store
}

func NewWebhookHandler(signingSecret string, store Store) *WebhookHandler {
	return &WebhookHandler{signingSecret: signingSecret, store: store}
}

// VerifySignature recomputes the HMAC-SHA256 of the raw body and compares it
// in constant time against the provider-supplied signature.
func (h *WebhookHandler) VerifySignature(body []byte, signature string) bool {
	mac := hmac.New(sha256.New, []byte(h.signingSecret))
	mac.Write(body)
	expected := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}

type webhookEvent struct {
	Type string `json:"type"`
	Data struct {
		Object struct {
			Payment *struct {
				ID          string `json:"id"`
				ReferenceID string `json:"reference_id"`
				Status      string `json:"status"`
			} `json:"payment"`
			Refund *struct {
				ID        string `json:"id"`
				PaymentID string `json:"payment_id"`
				Reason    string `json:"reason"`
				Amount    struct {
					Amount int64 `json:"amount"`
				} `json:"amount_money"`
			} `json:"refund"`
		} `json:"object"`
	} `json:"data"`
}

// HandleEvent dispatches a verified webhook body by event type. Unrecognized
// types are logged and ignored.
func (h *WebhookHandler) HandleEvent(ctx context.Context, body []byte) error {
	var event webhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("decode webhook event: %w", err)
	}

	switch event.Type {
	case "payment.created":
		return h.paymentCreated(ctx, body, &event)
	case "payment.updated":
		return h.paymentUpdated(ctx, body, &event)
	case "refund.created":
		return h.refundCreated(ctx, &event)
	default:
		log.Printf("payments: ignoring webhook event type %q", event.Type)
		return nil
	}
}

func (h *WebhookHandler) paymentCreated(ctx context.Context, body []byte, event *webhookEvent) error {
	payment := event.Data.Object.Payment
	if payment == nil || payment.ReferenceID == "" {
		return fmt.Errorf("payment.created event without payment reference")
	}

	if err := h.store.UpdatePaymentIntentStatus(ctx, payment.ReferenceID, models.PaymentCompleted, payment.ID); err != nil {
		return fmt.Errorf("complete intent %s: %w", payment.ReferenceID, err)
	}

	return h.store.InsertAuditLog(ctx, payment.ReferenceID, event.Type, string(body))
}

// paymentUpdated only appends to the audit trail; intent state is owned by
// the synchronous path and payment.created.
func (h *WebhookHandler) paymentUpdated(ctx context.Context, body []byte, event *webhookEvent) error {
	payment := event.Data.Object.Payment
	if payment == nil || payment.ReferenceID == "" {
		return fmt.Errorf("payment.updated event without payment reference")
	}

	return h.store.InsertAuditLog(ctx, payment.ReferenceID, event.Type, string(body))
}

// refundCreated records the refund and a compensating commission adjustment.
// The original intent's commission is never edited: the financial trail is
// append-only.
func (h *WebhookHandler) refundCreated(ctx context.Context, event *webhookEvent) error {
	refund := event.Data.Object.Refund
	if refund == nil || refund.PaymentID == "" {
		return fmt.Errorf("refund.created event without refund payload")
	}

	id := refund.ID
	if id == "" {
		id = uuid.NewString()
	}

	if err := h.store.InsertRefund(ctx, &models.Refund{
		ID:        id,
		PaymentID: refund.PaymentID,
		Amount:    refund.Amount.Amount,
		Reason:    refund.Reason,
	}); err != nil {
		return fmt.Errorf("insert refund %s: %w", id, err)
	}

	return h.store.InsertCommissionAdjustment(ctx, &models.CommissionAdjustment{
		PaymentID: refund.PaymentID,
		Amount:    -Commission(refund.Amount.Amount),
		Type:      "refund",
	})
}
