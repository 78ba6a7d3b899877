package models

import "time"

type CacheEntry struct {
	Key       string    `json:"key"`
	Data      string    `json:"data"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
}

type CacheStat struct {
	Date      string    `json:"date"`
	Operation string    `json:"operation"`
	Count     int64     `json:"count"`
	LastKey   string    `json:"last_key"`
	UpdatedAt time.Time `json:"updated_at"`
}

type HotelSummary struct {
	HotelID    string    `json:"hotel_id"`
	Name       string    `json:"name"`
	City       string    `json:"city"`
	Country    string    `json:"country"`
	Rating     float64   `json:"rating"`
	PriceMin   int64     `json:"price_min"`
	Amenities  []string  `json:"amenities"`
	CachedData string    `json:"cached_data"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type PaymentStatus string

const (
	PaymentPending   PaymentStatus = "pending"
	PaymentCompleted PaymentStatus = "completed"
	PaymentFailed    PaymentStatus = "failed"
)

// PaymentIntent is one attempted payment. Amounts are integer minor
// currency units (cents). Commission is never edited after creation;
// refunds produce a compensating CommissionAdjustment instead.
type PaymentIntent struct {
	ID              string        `json:"id"`
	UserID          string        `json:"user_id"`
	BookingID       string        `json:"booking_id"`
	HotelID         string        `json:"hotel_id"`
	Amount          int64         `json:"amount"`
	Commission      int64         `json:"commission"`
	NetAmount       int64         `json:"net_amount"`
	Currency        string        `json:"currency"`
	Status          PaymentStatus `json:"status"`
	IdempotencyKey  string        `json:"idempotency_key"`
	SquarePaymentID string        `json:"square_payment_id,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
	UpdatedAt       time.Time     `json:"updated_at"`
}

type Refund struct {
	ID        string    `json:"id"`
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type CommissionAdjustment struct {
	PaymentID string    `json:"payment_id"`
	Amount    int64     `json:"amount"`
	Type      string    `json:"type"`
	CreatedAt time.Time `json:"created_at"`
}

type AuditLogEntry struct {
	PaymentID string    `json:"payment_id"`
	EventType string    `json:"event_type"`
	Data      string    `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type RateLimitViolation struct {
	ID        string    `json:"id"`
	Identity  string    `json:"identity"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Session caches the claims of an already-verified token. Advisory only:
// the signed token stays authoritative.
type Session struct {
	UserID     string    `json:"user_id"`
	Email      string    `json:"email"`
	Role       string    `json:"role"`
	LastAccess time.Time `json:"last_access"`
}
