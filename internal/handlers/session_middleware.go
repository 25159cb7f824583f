package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/tsonic/storefront/internal/platform/httpx"
	"github.com/tsonic/storefront/internal/platform/requestctx"
	"github.com/tsonic/storefront/internal/shop"
)

const sessionHeader = "X-Session-Token"

type sessionContextKey struct{}

// SessionResolver turns a bearer token into a live session.
type SessionResolver interface {
	Resolve(token string) (*shop.Session, error)
}

// SessionFromContext returns the session attached by RequireSession.
func SessionFromContext(ctx context.Context) (*shop.Session, bool) {
	session, ok := ctx.Value(sessionContextKey{}).(*shop.Session)
	return session, ok && session != nil
}

// RequireSession resolves the session token from the Authorization header or
// X-Session-Token and attaches the session to the request context.
func RequireSession(store SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			token := bearerToken(r)
			if token == "" {
				httpx.WriteError(ctx, w, httpx.NewError("session_required", "session token required", http.StatusUnauthorized))
				return
			}

			session, err := store.Resolve(token)
			if err != nil {
				switch {
				case errors.Is(err, shop.ErrSessionNotFound):
					httpx.WriteError(ctx, w, httpx.NewError("session_not_found", "session no longer exists", http.StatusUnauthorized))
				default:
					httpx.WriteError(ctx, w, httpx.NewError("session_invalid", "session token rejected", http.StatusUnauthorized))
				}
				return
			}

			ctx = context.WithValue(ctx, sessionContextKey{}, session)
			ctx = requestctx.WithSessionID(ctx, session.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func bearerToken(r *http.Request) string {
	if header := strings.TrimSpace(r.Header.Get("Authorization")); header != "" {
		if token, found := strings.CutPrefix(header, "Bearer "); found {
			return strings.TrimSpace(token)
		}
	}
	return strings.TrimSpace(r.Header.Get(sessionHeader))
}
