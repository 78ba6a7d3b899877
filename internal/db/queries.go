package db

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/tripnest/edge-gateway/internal/models"
)

func (db *DB) GetCacheEntry(ctx context.Context, key string) (*models.CacheEntry, error) {
	query := `
        SELECT key, data, expires_at, created_at
        FROM cache
        WHERE key = $1 AND expires_at > NOW()
    `

	var entry models.CacheEntry
	err := db.Pool.QueryRow(ctx, query, key).Scan(
		&entry.Key,
		&entry.Data,
		&entry.ExpiresAt,
		&entry.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

func (db *DB) UpsertCacheEntry(ctx context.Context, key, data string, expiresAt time.Time) error {
	query := `
        INSERT INTO cache (key, data, expires_at)
        VALUES ($1, $2, $3)
        ON CONFLICT (key) DO UPDATE
        SET data = EXCLUDED.data, expires_at = EXCLUDED.expires_at
    `

	_, err := db.Pool.Exec(ctx, query, key, data, expiresAt)
	return err
}

func (db *DB) DeleteCacheByPrefix(ctx context.Context, prefix string) error {
	query := `DELETE FROM cache WHERE key LIKE $1 || '%'`

	_, err := db.Pool.Exec(ctx, query, prefix)
	return err
}

func (db *DB) BumpCacheStat(ctx context.Context, operation, lastKey string) error {
	query := `
        INSERT INTO cache_stats (date, operation, count, last_key)
        VALUES (CURRENT_DATE, $1, 1, $2)
        ON CONFLICT (date, operation) DO UPDATE
        SET count = cache_stats.count + 1, last_key = EXCLUDED.last_key, updated_at = NOW()
    `

	_, err := db.Pool.Exec(ctx, query, operation, lastKey)
	return err
}

func (db *DB) GetCacheStats(ctx context.Context) ([]models.CacheStat, error) {
	query := `
        SELECT date::text, operation, count, last_key, updated_at
        FROM cache_stats
        ORDER BY date DESC, operation
        LIMIT 100
    `

	rows, err := db.Pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []models.CacheStat
	for rows.Next() {
		var s models.CacheStat
		if err := rows.Scan(&s.Date, &s.Operation, &s.Count, &s.LastKey, &s.UpdatedAt); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}

	return stats, rows.Err()
}

func (db *DB) UpsertHotelSummary(ctx context.Context, hotel *models.HotelSummary) error {
	query := `
        INSERT INTO hotels (hotel_id, name, city, country, rating, price_min, amenities, cached_data, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
        ON CONFLICT (hotel_id) DO UPDATE
        SET name = EXCLUDED.name,
            city = EXCLUDED.city,
            country = EXCLUDED.country,
            rating = EXCLUDED.rating,
            price_min = EXCLUDED.price_min,
            amenities = EXCLUDED.amenities,
            cached_data = EXCLUDED.cached_data,
            updated_at = NOW()
    `

	_, err := db.Pool.Exec(ctx, query,
		hotel.HotelID,
		hotel.Name,
		hotel.City,
		hotel.Country,
		hotel.Rating,
		hotel.PriceMin,
		hotel.Amenities,
		hotel.CachedData,
	)

	return err
}

func (db *DB) SearchHotelsByCity(ctx context.Context, city string, limit int) ([]models.HotelSummary, error) {
	query := `
        SELECT hotel_id, name, city, country, rating, price_min, amenities, cached_data, updated_at
        FROM hotels
        WHERE LOWER(city) = LOWER($1)
        ORDER BY rating DESC
        LIMIT $2
    `

	rows, err := db.Pool.Query(ctx, query, city, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hotels []models.HotelSummary
	for rows.Next() {
		var h models.HotelSummary
		if err := rows.Scan(
			&h.HotelID,
			&h.Name,
			&h.City,
			&h.Country,
			&h.Rating,
			&h.PriceMin,
			&h.Amenities,
			&h.CachedData,
			&h.UpdatedAt,
		); err != nil {
			return nil, err
		}
		hotels = append(hotels, h)
	}

	return hotels, rows.Err()
}

// InsertPaymentIntent creates the intent row if and only if no row with the
// same idempotency key exists. The UNIQUE constraint is the idempotency gate:
// returns (false, nil) when the key is already taken.
func (db *DB) InsertPaymentIntent(ctx context.Context, intent *models.PaymentIntent) (bool, error) {
	query := `
        INSERT INTO payment_intents
            (id, user_id, booking_id, hotel_id, amount, commission, net_amount, currency, status, idempotency_key)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `

	_, err := db.Pool.Exec(ctx, query,
		intent.ID,
		intent.UserID,
		intent.BookingID,
		intent.HotelID,
		intent.Amount,
		intent.Commission,
		intent.NetAmount,
		intent.Currency,
		intent.Status,
		intent.IdempotencyKey,
	)

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	return true, nil
}

func (db *DB) GetPaymentIntentByIdempotencyKey(ctx context.Context, key string) (*models.PaymentIntent, error) {
	return db.getPaymentIntent(ctx, `idempotency_key = $1`, key)
}

func (db *DB) GetPaymentIntent(ctx context.Context, id string) (*models.PaymentIntent, error) {
	return db.getPaymentIntent(ctx, `id = $1`, id)
}

func (db *DB) getPaymentIntent(ctx context.Context, where string, arg any) (*models.PaymentIntent, error) {
	query := `
        SELECT id, user_id, booking_id, hotel_id, amount, commission, net_amount,
               currency, status, idempotency_key, square_payment_id, created_at, updated_at
        FROM payment_intents
        WHERE ` + where

	var intent models.PaymentIntent
	err := db.Pool.QueryRow(ctx, query, arg).Scan(
		&intent.ID,
		&intent.UserID,
		&intent.BookingID,
		&intent.HotelID,
		&intent.Amount,
		&intent.Commission,
		&intent.NetAmount,
		&intent.Currency,
		&intent.Status,
		&intent.IdempotencyKey,
		&intent.SquarePaymentID,
		&intent.CreatedAt,
		&intent.UpdatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	return &intent, nil
}

func (db *DB) UpdatePaymentIntentStatus(ctx context.Context, id string, status models.PaymentStatus, squarePaymentID string) error {
	query := `
        UPDATE payment_intents
        SET status = $2,
            square_payment_id = CASE WHEN $3 = '' THEN square_payment_id ELSE $3 END,
            updated_at = NOW()
        WHERE id = $1
    `

	_, err := db.Pool.Exec(ctx, query, id, status, squarePaymentID)
	return err
}

// UserPaymentTotals returns the sum and count of completed payments for a
// user since the given time. Feeds the daily velocity ceiling.
func (db *DB) UserPaymentTotals(ctx context.Context, userID string, since time.Time) (int64, int, error) {
	query := `
        SELECT COALESCE(SUM(amount), 0), COUNT(*)
        FROM payment_intents
        WHERE user_id = $1 AND status = 'completed' AND created_at >= $2
    `

	var total int64
	var count int
	err := db.Pool.QueryRow(ctx, query, userID, since).Scan(&total, &count)
	if err != nil {
		return 0, 0, err
	}

	return total, count, nil
}

// RecentPaymentAmounts returns up to limit amounts for a user since the given
// time, newest first. Feeds the repeated-amount fraud check.
func (db *DB) RecentPaymentAmounts(ctx context.Context, userID string, since time.Time, limit int) ([]int64, error) {
	query := `
        SELECT amount
        FROM payment_intents
        WHERE user_id = $1 AND created_at >= $2
        ORDER BY created_at DESC
        LIMIT $3
    `

	rows, err := db.Pool.Query(ctx, query, userID, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var amounts []int64
	for rows.Next() {
		var amount int64
		if err := rows.Scan(&amount); err != nil {
			return nil, err
		}
		amounts = append(amounts, amount)
	}

	return amounts, rows.Err()
}

func (db *DB) InsertAuditLog(ctx context.Context, paymentID, eventType, data string) error {
	query := `
        INSERT INTO payment_audit_log (payment_id, event_type, data)
        VALUES ($1, $2, $3)
    `

	_, err := db.Pool.Exec(ctx, query, paymentID, eventType, data)
	return err
}

func (db *DB) InsertRefund(ctx context.Context, refund *models.Refund) error {
	query := `
        INSERT INTO refunds (id, payment_id, amount, reason)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (id) DO NOTHING
    `

	_, err := db.Pool.Exec(ctx, query, refund.ID, refund.PaymentID, refund.Amount, refund.Reason)
	return err
}

func (db *DB) InsertCommissionAdjustment(ctx context.Context, adj *models.CommissionAdjustment) error {
	query := `
        INSERT INTO commission_adjustments (payment_id, amount, type)
        VALUES ($1, $2, $3)
    `

	_, err := db.Pool.Exec(ctx, query, adj.PaymentID, adj.Amount, adj.Type)
	return err
}

func (db *DB) InsertViolation(ctx context.Context, v *models.RateLimitViolation) error {
	query := `
        INSERT INTO rate_limit_violations (id, identity, path, timestamp)
        VALUES ($1, $2, $3, $4)
    `

	_, err := db.Pool.Exec(ctx, query, v.ID, v.Identity, v.Path, v.Timestamp)
	return err
}
