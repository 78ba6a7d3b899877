package cache

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log"
	"net/url"
	"time"

	"github.com/tripnest/edge-gateway/internal/models"
)

// Domain-specific TTLs. Each helper below is a thin specialization of
// Set/Get with a fixed TTL and a derived key scheme.
const (
	hotelDetailTTL  = 24 * time.Hour
	searchResultTTL = 1 * time.Hour
	preferencesTTL  = 30 * 24 * time.Hour
	bookingDraftTTL = 7 * 24 * time.Hour
)

// SetHotelDetail caches a hotel's detail payload and denormalizes its
// summary into the queryable hotels table for search.
func (c *Cache) SetHotelDetail(ctx context.Context, hotelID, payload string, summary *models.HotelSummary) {
	c.Set(ctx, hotelKey(hotelID), payload, hotelDetailTTL)

	if summary != nil {
		if err := c.cold.UpsertHotelSummary(ctx, summary); err != nil {
			log.Printf("cache: hotel summary upsert failed for %s: %v", hotelID, err)
		}
	}
}

func (c *Cache) GetHotelDetail(ctx context.Context, hotelID string) (string, Source) {
	return c.Get(ctx, hotelKey(hotelID))
}

// SetSearchResults caches a search-result payload under its parameter hash
// and fans out into per-passion-tag keys for fast filtered lookups.
func (c *Cache) SetSearchResults(ctx context.Context, paramsKey, payload string, passions []string) {
	c.Set(ctx, searchKeyFor(paramsKey), payload, searchResultTTL)

	for _, tag := range passions {
		c.Set(ctx, "search:passion:"+tag, payload, searchResultTTL)
	}
}

func (c *Cache) GetSearchResults(ctx context.Context, paramsKey string) (string, Source) {
	return c.Get(ctx, searchKeyFor(paramsKey))
}

func (c *Cache) SetUserPreferences(ctx context.Context, userID, payload string) {
	c.Set(ctx, "prefs:"+userID, payload, preferencesTTL)
}

func (c *Cache) GetUserPreferences(ctx context.Context, userID string) (string, Source) {
	return c.Get(ctx, "prefs:"+userID)
}

func (c *Cache) SetBookingDraft(ctx context.Context, userID, bookingID, payload string) {
	c.Set(ctx, draftKey(userID, bookingID), payload, bookingDraftTTL)
}

func (c *Cache) GetBookingDraft(ctx context.Context, userID, bookingID string) (string, Source) {
	return c.Get(ctx, draftKey(userID, bookingID))
}

// SearchParamsKey derives a stable key from search query parameters.
// url.Values.Encode sorts by key, so equivalent queries hash identically.
func SearchParamsKey(params url.Values) string {
	hash := sha256.Sum256([]byte(params.Encode()))
	return fmt.Sprintf("%x", hash[:16])
}

func hotelKey(hotelID string) string {
	return "hotel:" + hotelID
}

func searchKeyFor(paramsKey string) string {
	return "search:" + paramsKey
}

func draftKey(userID, bookingID string) string {
	return fmt.Sprintf("draft:%s:%s", userID, bookingID)
}
