package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripnest/edge-gateway/internal/kv"
	"github.com/tripnest/edge-gateway/internal/models"
)

const testSecret = "test-secret"

func newTestValidator() (*Validator, *kv.Memory, *time.Time) {
	store := kv.NewMemory()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Now = func() time.Time { return now }

	v := NewValidator(testSecret, store)
	v.nowFunc = func() time.Time { return now }

	return v, store, &now
}

func requestWithToken(token string) *http.Request {
	r, _ := http.NewRequest(http.MethodGet, "/api/bookings", nil)
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	return r
}

func mintToken(t *testing.T, v *Validator) string {
	t.Helper()
	token, err := GenerateToken(&User{ID: "u1", Email: "guest@example.com", Role: "user"}, testSecret, v.nowFunc())
	require.NoError(t, err)
	return token
}

func TestValidateSuccess(t *testing.T) {
	v, _, _ := newTestValidator()
	token := mintToken(t, v)

	result := v.Validate(context.Background(), requestWithToken(token))

	require.True(t, result.Valid)
	assert.Equal(t, "u1", result.User.ID)
	assert.Equal(t, "guest@example.com", result.User.Email)
	assert.Equal(t, "user", result.User.Role)
}

func TestValidateMissingToken(t *testing.T) {
	v, _, _ := newTestValidator()

	testCases := []struct {
		name   string
		header string
	}{
		{"no_header", ""},
		{"empty_bearer", "Bearer "},
		{"wrong_scheme", "Basic abc"},
		{"scheme_only", "Bearer"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			r, _ := http.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				r.Header.Set("Authorization", tc.header)
			}

			result := v.Validate(context.Background(), r)
			assert.False(t, result.Valid)
			assert.Equal(t, "No token provided", result.Reason)
		})
	}
}

func TestValidateMalformedToken(t *testing.T) {
	v, _, _ := newTestValidator()

	result := v.Validate(context.Background(), requestWithToken("not.a-real-token"))
	assert.False(t, result.Valid)
	assert.Equal(t, "Invalid token format", result.Reason)
}

func TestValidateTamperedSignature(t *testing.T) {
	v, _, _ := newTestValidator()
	token := mintToken(t, v)

	parts := strings.Split(token, ".")
	require.Len(t, parts, 3)

	// Flip one character of the signature segment.
	sig := []byte(parts[2])
	if sig[0] == 'A' {
		sig[0] = 'B'
	} else {
		sig[0] = 'A'
	}
	tampered := parts[0] + "." + parts[1] + "." + string(sig)

	result := v.Validate(context.Background(), requestWithToken(tampered))
	assert.False(t, result.Valid)
	assert.Equal(t, "Invalid signature", result.Reason)
}

func TestValidateExpiredToken(t *testing.T) {
	v, _, now := newTestValidator()
	token := mintToken(t, v)

	*now = now.Add(2 * time.Hour)

	result := v.Validate(context.Background(), requestWithToken(token))
	assert.False(t, result.Valid)
	assert.Equal(t, "Token expired", result.Reason)
}

func TestValidateRevokedToken(t *testing.T) {
	v, _, _ := newTestValidator()
	token := mintToken(t, v)

	require.True(t, v.Validate(context.Background(), requestWithToken(token)).Valid)

	require.NoError(t, v.Revoke(context.Background(), token))

	result := v.Validate(context.Background(), requestWithToken(token))
	assert.False(t, result.Valid)
	assert.Equal(t, "Token revoked", result.Reason)
}

func TestValidateWritesSession(t *testing.T) {
	v, store, now := newTestValidator()
	token := mintToken(t, v)

	v.Validate(context.Background(), requestWithToken(token))

	raw, found, err := store.Get(context.Background(), "auth:session:u1")
	require.NoError(t, err)
	require.True(t, found)

	var session models.Session
	require.NoError(t, json.Unmarshal([]byte(raw), &session))
	assert.Equal(t, "u1", session.UserID)
	assert.Equal(t, *now, session.LastAccess)
}

func TestRefresh(t *testing.T) {
	v, store, _ := newTestValidator()

	user, _ := json.Marshal(User{ID: "u1", Email: "guest@example.com", Role: "user"})
	require.NoError(t, store.Set(context.Background(), "auth:refresh:rt-1", string(user), time.Hour))

	token, err := v.Refresh(context.Background(), "rt-1")
	require.NoError(t, err)

	result := v.Validate(context.Background(), requestWithToken(token))
	require.True(t, result.Valid, "refreshed token validates")
	assert.Equal(t, "u1", result.User.ID)
}

func TestRefreshUnknownToken(t *testing.T) {
	v, _, _ := newTestValidator()

	_, err := v.Refresh(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMiddlewareRejectsAndPassesContext(t *testing.T) {
	v, _, _ := newTestValidator()
	middleware := NewMiddleware(v)

	var captured *User
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured, _ = GetUserFromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	t.Run("valid", func(t *testing.T) {
		w := httptest.NewRecorder()
		middleware.Authenticate(next).ServeHTTP(w, requestWithToken(mintToken(t, v)))
		assert.Equal(t, http.StatusOK, w.Code)
		require.NotNil(t, captured)
		assert.Equal(t, "u1", captured.ID)
	})

	t.Run("invalid", func(t *testing.T) {
		w := httptest.NewRecorder()
		middleware.Authenticate(next).ServeHTTP(w, requestWithToken("garbage"))
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})
}
