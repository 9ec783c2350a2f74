package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/convospace/convospace-api/internal/domain"
	"github.com/convospace/convospace-api/internal/http/response"
	"github.com/convospace/convospace-api/internal/observability"
	"github.com/convospace/convospace-api/internal/security"
	"github.com/convospace/convospace-api/internal/service"
)

type contextKey string

const accountContextKey contextKey = "account"

// Authenticate guards protected routes. The session token comes from the
// session cookie or a Bearer header; the resolved account lands in the
// request context. Tokens minted before the account's last password change
// are rejected.
func Authenticate(accounts service.AccountLifecycle) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			source := "cookie"
			raw := security.GetCookie(r, security.SessionCookieName)
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
					source = "bearer"
				}
			}
			if raw == "" {
				observability.RecordSessionValidation(r.Context(), "missing_token", "none")
				response.Error(w, r, http.StatusUnauthorized, "you are not logged in")
				return
			}
			account, err := accounts.Authenticate(raw)
			if err != nil {
				observability.RecordSessionValidation(r.Context(), "rejected", source)
				response.Error(w, r, http.StatusUnauthorized, authFailureMessage(err))
				return
			}
			observability.RecordSessionValidation(r.Context(), "accepted", source)
			ctx := context.WithValue(r.Context(), accountContextKey, account)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func AccountFromContext(ctx context.Context) (*domain.Account, bool) {
	a, ok := ctx.Value(accountContextKey).(*domain.Account)
	return a, ok
}

func authFailureMessage(err error) string {
	switch {
	case errors.Is(err, service.ErrStalePassword):
		return "password was changed recently, please log in again"
	case errors.Is(err, service.ErrAccountNotFound):
		return "the account belonging to this session no longer exists"
	default:
		return "session is invalid or has expired"
	}
}
