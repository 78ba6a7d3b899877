package gateway

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tripnest/edge-gateway/internal/cache"
	"github.com/tripnest/edge-gateway/internal/models"
	"github.com/tripnest/edge-gateway/internal/payments"
)

const (
	globalPaymentLimit  = 1000
	globalPaymentWindow = time.Minute
)

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	cacheStatus := "operational"
	h.cache.Set(r.Context(), "health:probe", "ok", time.Minute)
	if _, source := h.cache.Get(r.Context(), "health:probe"); source == cache.SourceMiss {
		cacheStatus = "degraded"
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"edge":      h.cfg.EdgeRegion,
		"cache":     cacheStatus,
	})
}

// handleHotelSearch consults the cache tiers, then the denormalized hotels
// table, before falling back to the origin backend.
func (h *Handler) handleHotelSearch(w http.ResponseWriter, r *http.Request) {
	params := r.URL.Query()
	paramsKey := cache.SearchParamsKey(params)

	if payload, source := h.cache.GetSearchResults(r.Context(), paramsKey); source != cache.SourceMiss {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Cache", string(source))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, payload)
		return
	}

	if city := params.Get("city"); city != "" {
		hotels, err := h.hotels.SearchHotelsByCity(r.Context(), city, 20)
		if err != nil {
			log.Printf("gateway: hotel table search failed for %q: %v", city, err)
		} else if len(hotels) > 0 {
			payload, err := json.Marshal(map[string]any{"hotels": hotels})
			if err == nil {
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("X-Cache", string(cache.SourceCold))
				w.WriteHeader(http.StatusOK)
				w.Write(payload)

				go h.cache.SetSearchResults(context.Background(), paramsKey, string(payload), passionTags(params.Get("passions")))
				return
			}
		}
	}

	w.Header().Set("X-Cache", string(cache.SourceMiss))

	recorder := newResponseRecorder(w)
	h.proxy.ServeHTTP(recorder, r)

	if recorder.statusCode == http.StatusOK && recorder.body.Len() > 0 {
		payload := recorder.body.String()
		passions := passionTags(params.Get("passions"))
		go func() {
			ctx := context.Background()
			h.cache.SetSearchResults(ctx, paramsKey, payload, passions)
			h.indexHotels(ctx, payload)
		}()
	}
}

// indexHotels denormalizes hotels from a search response into the queryable
// table and per-hotel detail keys. Best-effort: an unrecognized shape is
// simply not indexed.
func (h *Handler) indexHotels(ctx context.Context, payload string) {
	var parsed struct {
		Hotels []struct {
			ID        string   `json:"id"`
			HotelID   string   `json:"hotel_id"`
			Name      string   `json:"name"`
			City      string   `json:"city"`
			Country   string   `json:"country"`
			Rating    float64  `json:"rating"`
			PriceMin  int64    `json:"price_min"`
			Amenities []string `json:"amenities"`
		} `json:"hotels"`
	}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return
	}

	for _, hotel := range parsed.Hotels {
		id := hotel.ID
		if id == "" {
			id = hotel.HotelID
		}
		if id == "" {
			continue
		}

		detail, err := json.Marshal(hotel)
		if err != nil {
			continue
		}

		h.cache.SetHotelDetail(ctx, id, string(detail), &models.HotelSummary{
			HotelID:    id,
			Name:       hotel.Name,
			City:       hotel.City,
			Country:    hotel.Country,
			Rating:     hotel.Rating,
			PriceMin:   hotel.PriceMin,
			Amenities:  hotel.Amenities,
			CachedData: string(detail),
		})
	}
}

func (h *Handler) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	var req payments.Request
	if err := json.Unmarshal(body, &req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.UserID != "" {
		action := h.limiter.CheckAction(r.Context(), req.UserID, "payment_attempt")
		if !action.Allowed {
			w.Header().Set("Retry-After", strconv.Itoa(action.RetryAfter))
			writeJSONError(w, http.StatusTooManyRequests, "Too many payment attempts")
			return
		}
	}

	allowed, err := h.global.Allow(r.Context(), "payments_create", globalPaymentLimit, globalPaymentWindow)
	if err != nil {
		log.Printf("gateway: global payment limiter failed open: %v", err)
	} else if !allowed {
		w.Header().Set("Retry-After", strconv.Itoa(int(globalPaymentWindow.Seconds())))
		writeJSONError(w, http.StatusTooManyRequests, "Payment volume limit reached")
		return
	}

	result := h.processor.Process(r.Context(), &req)

	w.Header().Set("Content-Type", "application/json")
	if result.Idempotent {
		w.Header().Set("X-Idempotent", "true")
	}
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "Failed to read request body")
		return
	}

	signature := r.Header.Get("X-Square-Signature")
	if signature == "" || !h.webhooks.VerifySignature(body, signature) {
		writeJSONError(w, http.StatusUnauthorized, "Invalid webhook signature")
		return
	}

	if err := h.webhooks.HandleEvent(r.Context(), body); err != nil {
		log.Printf("gateway: webhook processing failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Webhook processing failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "processed"})
}

func (h *Handler) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RefreshToken string `json:"refreshToken"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RefreshToken == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing refresh token")
		return
	}

	token, err := h.validator.Refresh(r.Context(), req.RefreshToken)
	if err != nil {
		writeJSONError(w, http.StatusUnauthorized, "Invalid refresh token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"token": token})
}

func (h *Handler) handleRevoke(w http.ResponseWriter, r *http.Request) {
	authHeader := r.Header.Get("Authorization")
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		writeJSONError(w, http.StatusBadRequest, "No token provided")
		return
	}

	if err := h.validator.Revoke(r.Context(), parts[1]); err != nil {
		log.Printf("gateway: token revoke failed: %v", err)
		writeJSONError(w, http.StatusInternalServerError, "Failed to revoke token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (h *Handler) handleCacheInvalidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Prefix string `json:"prefix"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Prefix == "" {
		writeJSONError(w, http.StatusBadRequest, "Missing prefix")
		return
	}

	h.cache.Invalidate(r.Context(), req.Prefix)
	writeJSON(w, http.StatusOK, map[string]string{"status": "invalidated", "prefix": req.Prefix})
}

func (h *Handler) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.hotels.GetCacheStats(r.Context())
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "Failed to load cache stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

func passionTags(raw string) []string {
	if raw == "" {
		return nil
	}
	var tags []string
	for _, tag := range strings.Split(raw, ",") {
		if tag = strings.TrimSpace(tag); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}

func writeJSON(w http.ResponseWriter, statusCode int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{"error": message})
}
