package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"tessera.org/internal/auth"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// authenticate verifies the bearer token, rejects invalidated token ids and
// puts the identity into the request context.
func (a *API) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}
		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, http.StatusUnauthorized, headerAuth, err.Error())
			return
		}
		identity, err := a.svc.Codec.Authentication(token)
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		if err := a.svc.Ledger.CheckForInvalidityOfToken(r.Context(), identity.TokenID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		ctx := auth.ContextWithIdentity(r.Context(), identity)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// requirePermission lets the request through when the identity holds any of perms.
func requirePermission(perms ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, ok := auth.IdentityFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, headerAuth, "authentication required")
				return
			}
			if err := auth.RequireAny(identity, perms...); err != nil {
				writeServiceError(w, r, err)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	if !strings.HasPrefix(strings.ToLower(header), strings.ToLower(bearer)) {
		return "", errors.New("invalid authorization scheme")
	}
	token := strings.TrimSpace(header[len(bearer):])
	if token == "" {
		return "", errors.New("missing bearer token")
	}
	return token, nil
}
