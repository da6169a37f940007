package api

import (
	"context"
	"net/http"
	"strings"
)

// CallerHeader names the caller when API keys are not configured.
const CallerHeader = "X-Caller"

// exemptPaths are routes that bypass authentication.
var exemptPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

type callerKey struct{}

// ContextWithCaller stores the authenticated caller identity.
func ContextWithCaller(ctx context.Context, caller string) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFromContext returns the caller identity, or "" when unauthenticated.
func CallerFromContext(ctx context.Context) string {
	c, _ := ctx.Value(callerKey{}).(string)
	return c
}

// BearerAuthMiddleware resolves Bearer API keys to caller identities.
// If apiKeys is empty, authentication is disabled and the caller is read
// from the X-Caller header.
func BearerAuthMiddleware(apiKeys map[string]string) func(http.Handler) http.Handler {
	identities := make(map[string]string, len(apiKeys))
	for k, id := range apiKeys {
		if k != "" && id != "" {
			identities[k] = id
		}
	}

	return func(next http.Handler) http.Handler {
		if len(identities) == 0 {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				ctx := ContextWithCaller(r.Context(), r.Header.Get(CallerHeader))
				next.ServeHTTP(w, r.WithContext(ctx))
			})
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := exemptPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			auth := r.Header.Get("Authorization")
			if auth == "" {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "missing authorization header")
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(auth, bearerPrefix) {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "authorization header must use Bearer scheme")
				return
			}

			caller, ok := identities[auth[len(bearerPrefix):]]
			if !ok {
				writeError(w, http.StatusUnauthorized, codeUnauthenticated, "invalid api key")
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithCaller(r.Context(), caller)))
		})
	}
}
