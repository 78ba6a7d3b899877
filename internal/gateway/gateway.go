package gateway

import (
	"context"
	"log"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/tripnest/edge-gateway/internal/auth"
	"github.com/tripnest/edge-gateway/internal/cache"
	"github.com/tripnest/edge-gateway/internal/config"
	"github.com/tripnest/edge-gateway/internal/models"
	"github.com/tripnest/edge-gateway/internal/payments"
	"github.com/tripnest/edge-gateway/internal/ratelimit"
)

const defaultCacheTTL = 1 * time.Hour

// HotelStore is the durable hotel/search surface the gateway queries directly.
type HotelStore interface {
	SearchHotelsByCity(ctx context.Context, city string, limit int) ([]models.HotelSummary, error)
	GetCacheStats(ctx context.Context) ([]models.CacheStat, error)
}

type Handler struct {
	cfg       *config.Config
	limiter   *ratelimit.Limiter
	global    *ratelimit.GlobalLimiter
	validator *auth.Validator
	cache     *cache.Cache
	processor *payments.Processor
	webhooks  *payments.WebhookHandler
	hotels    HotelStore
	proxy     http.Handler
}

func New(
	cfg *config.Config,
	limiter *ratelimit.Limiter,
	global *ratelimit.GlobalLimiter,
	validator *auth.Validator,
	responseCache *cache.Cache,
	processor *payments.Processor,
	webhooks *payments.WebhookHandler,
	hotels HotelStore,
) *Handler {
	return &Handler{
		cfg:       cfg,
		limiter:   limiter,
		global:    global,
		validator: validator,
		cache:     responseCache,
		processor: processor,
		webhooks:  webhooks,
		hotels:    hotels,
		proxy:     newOriginProxy(cfg.OriginURL),
	}
}

// Router assembles the per-request pipeline: recovery, CORS, rate limiting,
// then route dispatch with authentication on protected prefixes and response
// caching around proxied GETs.
func (h *Handler) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(h.recoverMiddleware, h.corsMiddleware, h.rateLimitMiddleware)

	authMiddleware := auth.NewMiddleware(h.validator)

	router.HandleFunc("/api/health", h.handleHealth).Methods("GET")
	router.HandleFunc("/api/hotels/search", h.handleHotelSearch).Methods("GET")
	router.HandleFunc("/api/payments/create", h.handleCreatePayment).Methods("POST")
	router.HandleFunc("/api/payments/webhook", h.handleWebhook).Methods("POST")
	router.HandleFunc("/api/auth/refresh", h.handleRefresh).Methods("POST")
	router.HandleFunc("/api/auth/revoke", h.handleRevoke).Methods("POST")

	admin := router.PathPrefix("/api/admin").Subrouter()
	admin.Use(authMiddleware.Authenticate)
	admin.HandleFunc("/cache/invalidate", h.handleCacheInvalidate).Methods("POST")
	admin.HandleFunc("/cache/stats", h.handleCacheStats).Methods("GET")

	bookings := router.PathPrefix("/api/bookings").Subrouter()
	bookings.Use(authMiddleware.Authenticate)
	bookings.PathPrefix("").Handler(h.cached(h.proxy))

	// Anything unmatched is forwarded to the origin backend as-is.
	router.PathPrefix("/").Handler(h.cached(h.proxy))

	return router
}

func (h *Handler) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				log.Printf("gateway: panic serving %s %s: %v", r.Method, r.URL.Path, rec)
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware adds the configured CORS headers to every response and
// short-circuits preflight requests before any other stage runs.
func (h *Handler) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", h.cfg.AllowedOrigin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Square-Signature")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (h *Handler) rateLimitMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity := clientIdentity(r)

		// Escalated blocks gate independently of the per-route counters.
		if h.limiter.IsBlocked(r.Context(), identity) {
			w.Header().Set("Retry-After", "3600")
			writeJSONError(w, http.StatusTooManyRequests, "Temporarily blocked due to repeated violations")
			return
		}

		result := h.limiter.Check(r.Context(), identity, r.URL.Path)
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(result.ResetAt.Unix(), 10))

		if !result.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(result.RetryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "Rate limit exceeded")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// cached wraps a handler with the generic GET response cache keyed by
// path + query string. Population is fire-and-forget after the response
// has been written.
func (h *Handler) cached(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			next.ServeHTTP(w, r)
			return
		}

		key := requestCacheKey(r)

		if payload, source := h.cache.Get(r.Context(), key); source != cache.SourceMiss {
			w.Header().Set("Content-Type", "application/json")
			w.Header().Set("X-Cache", string(source))
			w.WriteHeader(http.StatusOK)
			w.Write([]byte(payload))
			return
		}

		w.Header().Set("X-Cache", string(cache.SourceMiss))

		recorder := newResponseRecorder(w)
		next.ServeHTTP(recorder, r)

		if recorder.statusCode == http.StatusOK && recorder.body.Len() > 0 {
			payload := recorder.body.String()
			go h.cache.Set(context.Background(), key, payload, defaultCacheTTL)
		}
	})
}

func requestCacheKey(r *http.Request) string {
	if r.URL.RawQuery == "" {
		return r.URL.Path
	}
	return r.URL.Path + "?" + r.URL.RawQuery
}

func clientIdentity(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		if idx := strings.IndexByte(forwarded, ','); idx >= 0 {
			return strings.TrimSpace(forwarded[:idx])
		}
		return strings.TrimSpace(forwarded)
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
