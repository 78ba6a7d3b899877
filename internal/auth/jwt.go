package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/models"
)

const (
	tokenTTL   = 1 * time.Hour
	sessionTTL = 1 * time.Hour

	// Blacklisted tokens stay listed long enough to outlive any token TTL.
	blacklistTTL = 24 * time.Hour
)

type Claims struct {
	UserID string `json:"id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

// ValidationResult is the structured outcome of a token check. The gateway
// never sees an error from Validate; failures become {Valid:false, Reason}.
type ValidationResult struct {
	Valid  bool
	User   *User
	Reason string
}

type Validator struct {
	secret  string
	store   kv.Store
	nowFunc func() time.Time
}

func NewValidator(secret string, store kv.Store) *Validator {
	return &Validator{secret: secret, store: store, nowFunc: time.Now}
}

// Validate checks the bearer token on a request: format, expiry, HMAC
// signature, and the revocation blacklist. On success it refreshes the
// advisory session record; the signed token stays the source of truth.
func (v *Validator) Validate(ctx context.Context, r *http.Request) ValidationResult {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ValidationResult{Valid: false, Reason: "No token provided"}
	}

	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return ValidationResult{Valid: false, Reason: "No token provided"}
	}
	rawToken := parts[1]

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(rawToken, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(v.secret), nil
	}, jwt.WithTimeFunc(v.nowFunc))

	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return ValidationResult{Valid: false, Reason: "Invalid token format"}
		case errors.Is(err, jwt.ErrTokenExpired):
			return ValidationResult{Valid: false, Reason: "Token expired"}
		case errors.Is(err, jwt.ErrTokenSignatureInvalid):
			return ValidationResult{Valid: false, Reason: "Invalid signature"}
		default:
			log.Printf("auth: token parse failed: %v", err)
			return ValidationResult{Valid: false, Reason: "Validation error"}
		}
	}

	if !token.Valid {
		return ValidationResult{Valid: false, Reason: "Validation error"}
	}

	if v.isRevoked(ctx, rawToken) {
		return ValidationResult{Valid: false, Reason: "Token revoked"}
	}

	user := &User{ID: claims.UserID, Email: claims.Email, Role: claims.Role}
	v.refreshSession(ctx, user)

	return ValidationResult{Valid: true, User: user}
}

func (v *Validator) isRevoked(ctx context.Context, rawToken string) bool {
	_, found, err := v.store.Get(ctx, blacklistKey(rawToken))
	if err != nil {
		// Revocation is an integrity check: an unreadable blacklist must not
		// admit a possibly revoked token.
		log.Printf("auth: blacklist lookup failed: %v", err)
		return true
	}
	return found
}

// refreshSession writes the advisory session record. Failures are logged and
// ignored; the session is a read-path optimization, never authority.
func (v *Validator) refreshSession(ctx context.Context, user *User) {
	session := models.Session{
		UserID:     user.ID,
		Email:      user.Email,
		Role:       user.Role,
		LastAccess: v.nowFunc(),
	}

	encoded, _ := json.Marshal(session)
	if err := v.store.Set(ctx, sessionKey(user.ID), string(encoded), sessionTTL); err != nil {
		log.Printf("auth: session refresh failed for user %s: %v", user.ID, err)
	}
}

// Revoke blacklists a raw token. Subsequent Validate calls fail with
// "Token revoked" regardless of any cached session.
func (v *Validator) Revoke(ctx context.Context, rawToken string) error {
	return v.store.Set(ctx, blacklistKey(rawToken), "1", blacklistTTL)
}

// Refresh exchanges a refresh-token value for a freshly minted access token.
// It does not re-verify any access token; the refresh store entry is the
// credential.
func (v *Validator) Refresh(ctx context.Context, refreshToken string) (string, error) {
	raw, found, err := v.store.Get(ctx, refreshKey(refreshToken))
	if err != nil {
		return "", fmt.Errorf("refresh token lookup: %w", err)
	}
	if !found {
		return "", errors.New("invalid refresh token")
	}

	var user User
	if err := json.Unmarshal([]byte(raw), &user); err != nil {
		return "", fmt.Errorf("refresh token payload: %w", err)
	}

	return GenerateToken(&user, v.secret, v.nowFunc())
}

func GenerateToken(user *User, secret string, now time.Time) (string, error) {
	claims := &Claims{
		UserID: user.ID,
		Email:  user.Email,
		Role:   user.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

func blacklistKey(rawToken string) string {
	return "auth:blacklist:" + rawToken
}

func sessionKey(userID string) string {
	return "auth:session:" + userID
}

func refreshKey(refreshToken string) string {
	return "auth:refresh:" + refreshToken
}
