package payments

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"log"
	"math"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/models"
)

const (
	commissionRate = 0.05

	dailyAmountCeiling = 1_000_000 // $10,000 in cents
	dailyCountCap      = 50

	repeatAmountWindow    = 10 * time.Minute
	repeatAmountLookback  = 5
	repeatAmountThreshold = 3

	pendingResultTTL   = 15 * time.Minute
	completedResultTTL = 24 * time.Hour
)

// Store is the durable payment ledger.
type Store interface {
	InsertPaymentIntent(ctx context.Context, intent *models.PaymentIntent) (bool, error)
	GetPaymentIntentByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error)
	GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error)
	UpdatePaymentIntentStatus(ctx context.Context, id string, status models.PaymentStatus, squarePaymentID string) error
	UserPaymentTotals(ctx context.Context, userID string, since time.Time) (int64, int, error)
	RecentPaymentAmounts(ctx context.Context, userID string, since time.Time, limit int) ([]int64, error)
	InsertAuditLog(ctx context.Context, paymentID, eventType, data string) error
	InsertRefund(ctx context.Context, refund *models.Refund) error
	InsertCommissionAdjustment(ctx context.Context, adj *models.CommissionAdjustment) error
}

// Origin executes the actual charge against the payment provider.
type Origin interface {
	CreatePayment(ctx context.Context, req *OriginRequest) (*OriginResponse, error)
}

type OriginRequest struct {
	IntentID       string          `json:"intentId"`
	UserID         string          `json:"userId"`
	BookingID      string          `json:"bookingId"`
	HotelID        string          `json:"hotelId"`
	Amount         int64           `json:"amount"`
	Commission     int64           `json:"commission"`
	NetAmount      int64           `json:"netAmount"`
	Currency       string          `json:"currency"`
	BillingAddress json.RawMessage `json:"billingAddress,omitempty"`
}

type OriginResponse struct {
	StatusCode      int
	Body            []byte
	SquarePaymentID string
}

type Request struct {
	Amount         int64           `json:"amount" validate:"required,gt=0"`
	Currency       string          `json:"currency" validate:"required,len=3"`
	BookingID      string          `json:"bookingId" validate:"required"`
	UserID         string          `json:"userId" validate:"required"`
	HotelID        string          `json:"hotelId" validate:"required"`
	BillingAddress json.RawMessage `json:"billingAddress,omitempty"`
}

// Result mirrors the origin backend's payment-creation response, plus the
// replay marker the gateway surfaces as X-Idempotent.
type Result struct {
	StatusCode int
	Body       []byte
	Idempotent bool
}

type Processor struct {
	store            Store
	hot              kv.Store
	origin           Origin
	validate         *validator.Validate
	velocityFailOpen bool
	nowFunc          func() time.Time
}

func NewProcessor(store Store, hot kv.Store, origin Origin, velocityFailOpen bool) *Processor {
	return &Processor{
		store:            store,
		hot:              hot,
		origin:           origin,
		validate:         validator.New(),
		velocityFailOpen: velocityFailOpen,
		nowFunc:          time.Now,
	}
}

// IdempotencyKey derives the deterministic key for one logical payment
// attempt. No randomness: retries and duplicate submissions converge.
func IdempotencyKey(userID, bookingID string, amount int64) string {
	hash := sha256.Sum256([]byte(fmt.Sprintf("%s|%s|%d", userID, bookingID, amount)))
	return fmt.Sprintf("%x", hash)
}

// Commission returns the platform's cut in minor units. The complement
// (amount - commission) is the net amount; the two always sum exactly.
func Commission(amount int64) int64 {
	return int64(math.Round(float64(amount) * commissionRate))
}

// Process runs the payment-intent pipeline: validate, idempotency replay,
// velocity limits, intent creation, origin forward, status transition.
func (p *Processor) Process(ctx context.Context, req *Request) Result {
	if result, rejected := p.validateRequest(req); rejected {
		return result
	}

	idemKey := IdempotencyKey(req.UserID, req.BookingID, req.Amount)

	// Fast path only: a hot-tier replay hit avoids the round trip, but the
	// durable conditional insert below is the actual idempotency boundary.
	if cached, ok := p.cachedResult(ctx, idemKey); ok {
		return Result{StatusCode: cached.StatusCode, Body: cached.Body, Idempotent: true}
	}

	if result, rejected := p.checkVelocity(ctx, req); rejected {
		return result
	}

	commission := Commission(req.Amount)
	intent := &models.PaymentIntent{
		ID:             uuid.NewString(),
		UserID:         req.UserID,
		BookingID:      req.BookingID,
		HotelID:        req.HotelID,
		Amount:         req.Amount,
		Commission:     commission,
		NetAmount:      req.Amount - commission,
		Currency:       req.Currency,
		Status:         models.PaymentPending,
		IdempotencyKey: idemKey,
		CreatedAt:      p.nowFunc(),
		UpdatedAt:      p.nowFunc(),
	}

	created, err := p.store.InsertPaymentIntent(ctx, intent)
	if err != nil {
		log.Printf("payments: intent insert failed: %v", err)
		return errorResult(http.StatusInternalServerError, "Payment processing failed")
	}
	if !created {
		return p.replayExisting(ctx, idemKey)
	}

	p.cacheResult(ctx, idemKey, intentResult(http.StatusAccepted, intent), pendingResultTTL)

	originResp, err := p.origin.CreatePayment(ctx, &OriginRequest{
		IntentID:       intent.ID,
		UserID:         intent.UserID,
		BookingID:      intent.BookingID,
		HotelID:        intent.HotelID,
		Amount:         intent.Amount,
		Commission:     intent.Commission,
		NetAmount:      intent.NetAmount,
		Currency:       intent.Currency,
		BillingAddress: req.BillingAddress,
	})
	if err != nil {
		log.Printf("payments: origin forward failed for intent %s: %v", intent.ID, err)
		p.transition(ctx, intent.ID, models.PaymentFailed, "")
		return errorResult(http.StatusBadGateway, "Payment backend unavailable")
	}

	result := Result{StatusCode: originResp.StatusCode, Body: originResp.Body}

	if originResp.StatusCode >= 200 && originResp.StatusCode < 300 {
		p.transition(ctx, intent.ID, models.PaymentCompleted, originResp.SquarePaymentID)
		p.cacheResult(ctx, idemKey, result, completedResultTTL)
		p.cacheResult(ctx, "intent:"+intent.ID, result, completedResultTTL)
	} else {
		p.transition(ctx, intent.ID, models.PaymentFailed, "")
	}

	return result
}

func (p *Processor) validateRequest(req *Request) (Result, bool) {
	err := p.validate.Struct(req)
	if err == nil {
		return Result{}, false
	}

	if errs, ok := err.(validator.ValidationErrors); ok {
		for _, fieldErr := range errs {
			if fieldErr.Field() == "Amount" {
				return errorResult(http.StatusBadRequest, "Invalid amount"), true
			}
		}
		field := errs[0].Field()
		return errorResult(http.StatusBadRequest, fmt.Sprintf("Missing or invalid field: %s", jsonField(field))), true
	}

	return errorResult(http.StatusBadRequest, "Invalid request"), true
}

// checkVelocity enforces the daily spend ceiling, the daily transaction cap,
// and the repeated-amount fraud pattern. Store failures honor the configured
// fail-open choice: this is the one limiter where availability-over-strictness
// is an explicit decision, not an accident.
func (p *Processor) checkVelocity(ctx context.Context, req *Request) (Result, bool) {
	now := p.nowFunc()

	total, count, err := p.store.UserPaymentTotals(ctx, req.UserID, now.Add(-24*time.Hour))
	if err != nil {
		return p.velocityFailure(req.UserID, err)
	}

	if total+req.Amount > dailyAmountCeiling {
		return errorResult(http.StatusTooManyRequests, "Daily payment limit exceeded"), true
	}
	if count >= dailyCountCap {
		return errorResult(http.StatusTooManyRequests, "Daily transaction count exceeded"), true
	}

	recent, err := p.store.RecentPaymentAmounts(ctx, req.UserID, now.Add(-repeatAmountWindow), repeatAmountLookback)
	if err != nil {
		return p.velocityFailure(req.UserID, err)
	}

	if len(recent) >= repeatAmountThreshold && allEqual(recent) {
		return errorResult(http.StatusTooManyRequests, "Suspicious payment pattern detected"), true
	}

	return Result{}, false
}

func (p *Processor) velocityFailure(userID string, err error) (Result, bool) {
	if p.velocityFailOpen {
		log.Printf("payments: velocity check failed open for user %s: %v", userID, err)
		return Result{}, false
	}
	log.Printf("payments: velocity check failed closed for user %s: %v", userID, err)
	return errorResult(http.StatusServiceUnavailable, "Payment limits unavailable"), true
}

// replayExisting serves the durable record for an idempotency key that lost
// the insert race or arrived after a prior attempt.
func (p *Processor) replayExisting(ctx context.Context, idemKey string) Result {
	intent, err := p.store.GetPaymentIntentByIdempotencyKey(ctx, idemKey)
	if err != nil || intent == nil {
		log.Printf("payments: replay lookup failed for key %s: %v", idemKey, err)
		return errorResult(http.StatusConflict, "Payment already in progress")
	}

	result := intentResult(http.StatusOK, intent)
	result.Idempotent = true
	return result
}

type cachedResult struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

func (p *Processor) cachedResult(ctx context.Context, idemKey string) (*cachedResult, bool) {
	raw, found, err := p.hot.Get(ctx, paymentKey(idemKey))
	if err != nil {
		log.Printf("payments: idempotency cache read failed: %v", err)
		return nil, false
	}
	if !found {
		return nil, false
	}

	var cached cachedResult
	if err := json.Unmarshal([]byte(raw), &cached); err != nil {
		return nil, false
	}
	return &cached, true
}

func (p *Processor) cacheResult(ctx context.Context, key string, result Result, ttl time.Duration) {
	encoded, err := json.Marshal(cachedResult{StatusCode: result.StatusCode, Body: result.Body})
	if err != nil {
		return
	}
	if err := p.hot.Set(ctx, paymentKey(key), string(encoded), ttl); err != nil {
		log.Printf("payments: idempotency cache write failed: %v", err)
	}
}

func (p *Processor) transition(ctx context.Context, intentID string, status models.PaymentStatus, squarePaymentID string) {
	if err := p.store.UpdatePaymentIntentStatus(ctx, intentID, status, squarePaymentID); err != nil {
		log.Printf("payments: status transition to %s failed for intent %s: %v", status, intentID, err)
	}
}

func intentResult(statusCode int, intent *models.PaymentIntent) Result {
	body, _ := json.Marshal(map[string]any{
		"intentId":   intent.ID,
		"bookingId":  intent.BookingID,
		"amount":     intent.Amount,
		"commission": intent.Commission,
		"netAmount":  intent.NetAmount,
		"currency":   intent.Currency,
		"status":     intent.Status,
	})
	return Result{StatusCode: statusCode, Body: body}
}

func errorResult(statusCode int, message string) Result {
	body, _ := json.Marshal(map[string]string{"error": message})
	return Result{StatusCode: statusCode, Body: body}
}

func allEqual(amounts []int64) bool {
	for _, amount := range amounts[1:] {
		if amount != amounts[0] {
			return false
		}
	}
	return true
}

func jsonField(field string) string {
	switch field {
	case "Currency":
		return "currency"
	case "BookingID":
		return "bookingId"
	case "UserID":
		return "userId"
	case "HotelID":
		return "hotelId"
	default:
		return field
	}
}

func paymentKey(key string) string {
	return "payment:" + key
}
