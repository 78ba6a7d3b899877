package ratelimit

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/models"
)

type Policy struct {
	Limit  int
	Window time.Duration
}

var defaultPolicy = Policy{Limit: 100, Window: time.Minute}

// Per-route policies, keyed by path prefix. Longest prefix wins.
var routePolicies = map[string]Policy{
	"/api/hotels/search":   {Limit: 30, Window: time.Minute},
	"/api/payments/create": {Limit: 10, Window: time.Minute},
	"/api/auth/refresh":    {Limit: 20, Window: time.Minute},
	"/api/bookings":        {Limit: 60, Window: time.Minute},
}

// Per-user action policies for authenticated flows.
var actionPolicies = map[string]Policy{
	"booking_create":  {Limit: 10, Window: time.Hour},
	"payment_attempt": {Limit: 20, Window: time.Hour},
	"review_submit":   {Limit: 5, Window: time.Hour},
}

const (
	violationThreshold = 10
	violationWindow    = time.Hour
	blockDuration      = time.Hour
)

type CheckResult struct {
	Allowed    bool
	Remaining  int
	ResetAt    time.Time
	RetryAfter int // seconds, only set when rejected
}

// ViolationStore is the durable audit trail of rate-limit violations.
type ViolationStore interface {
	InsertViolation(ctx context.Context, v *models.RateLimitViolation) error
}

type Limiter struct {
	store      kv.Store
	violations ViolationStore
	nowFunc    func() time.Time
}

func NewLimiter(store kv.Store, violations ViolationStore) *Limiter {
	return &Limiter{
		store:      store,
		violations: violations,
		nowFunc:    time.Now,
	}
}

type window struct {
	Count   int   `json:"count"`
	ResetAt int64 `json:"reset_at"` // unix millis
}

// Check runs the fixed-window counter for (identity, route). Store errors
// fail open: legitimate traffic is never blocked by an unreachable counter.
func (l *Limiter) Check(ctx context.Context, identity, route string) CheckResult {
	policy := PolicyForRoute(route)
	key := fmt.Sprintf("ratelimit:route:%s:%s", identity, route)
	return l.check(ctx, key, identity, route, policy)
}

// CheckAction is the per-user variant for logical actions rather than routes.
func (l *Limiter) CheckAction(ctx context.Context, userID, action string) CheckResult {
	policy, ok := actionPolicies[action]
	if !ok {
		policy = defaultPolicy
	}
	key := fmt.Sprintf("ratelimit:action:%s:%s", userID, action)
	return l.check(ctx, key, userID, action, policy)
}

func (l *Limiter) check(ctx context.Context, key, identity, path string, policy Policy) CheckResult {
	now := l.nowFunc()

	var win window
	raw, found, err := l.store.Get(ctx, key)
	if err != nil {
		log.Printf("ratelimit: window load failed for %s: %v", key, err)
		return CheckResult{Allowed: true, Remaining: policy.Limit - 1, ResetAt: now.Add(policy.Window)}
	}
	if found {
		if err := json.Unmarshal([]byte(raw), &win); err != nil {
			win = window{}
		}
	}

	if !found || now.UnixMilli() > win.ResetAt {
		win = window{Count: 0, ResetAt: now.Add(policy.Window).UnixMilli()}
	}

	win.Count++

	encoded, _ := json.Marshal(win)
	if err := l.store.Set(ctx, key, string(encoded), policy.Window); err != nil {
		log.Printf("ratelimit: window persist failed for %s: %v", key, err)
		return CheckResult{Allowed: true, Remaining: policy.Limit - win.Count, ResetAt: time.UnixMilli(win.ResetAt)}
	}

	resetAt := time.UnixMilli(win.ResetAt)

	if win.Count > policy.Limit {
		l.recordViolation(ctx, identity, path)

		retryAfter := int((time.Duration(win.ResetAt-now.UnixMilli()) * time.Millisecond).Seconds())
		if retryAfter < 1 {
			retryAfter = 1
		}
		return CheckResult{Allowed: false, Remaining: 0, ResetAt: resetAt, RetryAfter: retryAfter}
	}

	return CheckResult{Allowed: true, Remaining: policy.Limit - win.Count, ResetAt: resetAt}
}

// IsBlocked reports whether repeated violations escalated to a block for
// this identity. Consulted by the gateway before the per-route check.
func (l *Limiter) IsBlocked(ctx context.Context, identity string) bool {
	_, found, err := l.store.Get(ctx, blockKey(identity))
	if err != nil {
		log.Printf("ratelimit: block lookup failed for %s: %v", identity, err)
		return false
	}
	return found
}

func (l *Limiter) recordViolation(ctx context.Context, identity, path string) {
	now := l.nowFunc()

	if l.violations != nil {
		v := &models.RateLimitViolation{
			ID:        uuid.NewString(),
			Identity:  identity,
			Path:      path,
			Timestamp: now,
		}
		go func() {
			if err := l.violations.InsertViolation(context.Background(), v); err != nil {
				log.Printf("ratelimit: violation insert failed: %v", err)
			}
		}()
	}

	counterKey := fmt.Sprintf("ratelimit:violations:%s", identity)
	count, err := l.store.Incr(ctx, counterKey)
	if err != nil {
		log.Printf("ratelimit: violation counter failed for %s: %v", identity, err)
		return
	}
	if count == 1 {
		l.store.Expire(ctx, counterKey, violationWindow)
	}

	if count > violationThreshold {
		if err := l.store.Set(ctx, blockKey(identity), "1", blockDuration); err != nil {
			log.Printf("ratelimit: block write failed for %s: %v", identity, err)
		} else {
			log.Printf("ratelimit: identity %s blocked for %s after %d violations", identity, blockDuration, count)
		}
	}
}

func PolicyForRoute(route string) Policy {
	best := defaultPolicy
	bestLen := 0
	for prefix, policy := range routePolicies {
		if len(prefix) > bestLen && strings.HasPrefix(route, prefix) {
			best = policy
			bestLen = len(prefix)
		}
	}
	return best
}

func blockKey(identity string) string {
	return fmt.Sprintf("ratelimit:block:%s", identity)
}
