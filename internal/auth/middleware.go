package auth

import (
	"context"
	"encoding/json"
	"net/http"
)

type contextKey string

const UserContextKey contextKey = "user"

type Middleware struct {
	validator *Validator
}

func NewMiddleware(validator *Validator) *Middleware {
	return &Middleware{validator: validator}
}

func (m *Middleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		result := m.validator.Validate(r.Context(), r)
		if !result.Valid {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"error": result.Reason})
			return
		}

		ctx := context.WithValue(r.Context(), UserContextKey, result.User)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func GetUserFromContext(ctx context.Context) (*User, bool) {
	user, ok := ctx.Value(UserContextKey).(*User)
	return user, ok
}
