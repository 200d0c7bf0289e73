package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"nvrgate/internal/auth"
)

// claimsKey is the unexported context key for the verified identity,
// preventing collisions with other packages.
type claimsKey struct{}

// ClaimsFrom returns the verified identity stored by TokenAuth, if any.
func ClaimsFrom(ctx context.Context) (auth.Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(auth.Claims)
	return c, ok
}

// TokenAuth returns a middleware enforcing Bearer-token authentication on
// every route except the exact paths in exclude. The gate is a hard
// boundary: rejection happens before any host resolution or proxying.
//
// Browsers cannot set the Authorization header on a WebSocket upgrade, so a
// "token" query parameter is accepted as a fallback carrier.
func TokenAuth(svc *auth.Service, exclude []string) func(http.Handler) http.Handler {
	excludeSet := make(map[string]struct{}, len(exclude))
	for _, p := range exclude {
		excludeSet[p] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := excludeSet[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			tokenStr, err := bearerToken(r)
			if err == nil {
				var claims auth.Claims
				claims, err = svc.Verify(tokenStr)
				if err == nil {
					next.ServeHTTP(w, r.WithContext(
						context.WithValue(r.Context(), claimsKey{}, claims)))
					return
				}
			}

			slog.Warn("auth: rejected",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
				"reason", err,
			)
			jsonError(w, err.Error(), http.StatusUnauthorized)
		})
	}
}

// bearerToken extracts the raw token from the Authorization header or the
// "token" query parameter. The error distinguishes a missing header from a
// malformed one.
func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		if tok := r.URL.Query().Get("token"); tok != "" {
			return tok, nil
		}
		return "", auth.ErrMissing
	}
	tok := strings.TrimSpace(strings.TrimPrefix(header, "Bearer"))
	if !strings.HasPrefix(header, "Bearer ") || tok == "" {
		return "", auth.ErrMalformed
	}
	return tok, nil
}
