package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"campusiam.org/internal/auth"
)

const authHeader = "Authorization"

var publicPaths = []string{
	"/api/auth/register",
	"/api/auth/login",
	"/api/auth/token",
	"/api/auth/logout",
	"/api/auth/request-password-reset",
	"/api/auth/reset-password",
	"/metrics",
	"/healthz",
	"/readyz",
	"/",
}

func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		if isPublicPath(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		token, err := extractBearerToken(r.Header.Get(authHeader))
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}

		claims, err := a.svc.Tokens().VerifyAccess(token)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "token invalid or expired")
			return
		}

		principal := auth.Principal{ID: claims.Subject, Role: claims.Role}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithPrincipal(r.Context(), principal)))
	})
}

// requirePrincipal returns the authenticated principal or writes a 401.
func (a *API) requirePrincipal(w http.ResponseWriter, r *http.Request) (auth.Principal, bool) {
	principal, ok := auth.PrincipalFromContext(r.Context())
	if !ok {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return auth.Principal{}, false
	}
	return principal, true
}

// requireRole enforces membership in the allowed role set after
// authentication.
func (a *API) requireRole(w http.ResponseWriter, r *http.Request, allowed ...auth.Role) (auth.Principal, bool) {
	principal, ok := a.requirePrincipal(w, r)
	if !ok {
		return auth.Principal{}, false
	}
	for _, role := range allowed {
		if principal.Role == role {
			return principal, true
		}
	}
	writeError(w, r, http.StatusForbidden, "forbidden")
	return auth.Principal{}, false
}

// extractBearerToken requires the header to be exactly scheme plus token.
func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errors.New("missing bearer token")
	}
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	return parts[1], nil
}

func isPublicPath(path string) bool {
	for _, p := range publicPaths {
		if path == p {
			return true
		}
	}
	return false
}
