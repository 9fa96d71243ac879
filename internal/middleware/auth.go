package middleware

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/vyrodovalexey/basket-sync/internal/auth"
)

// publicPaths don't require authentication.
var publicPaths = map[string]bool{
	"/health":           true,
	"/ready":            true,
	"/metrics":          true,
	"/api/users/login":  true,
	"/api/users/logout": true,
}

// Auth authenticates every request except public paths and CORS preflight.
// The result is stored in the request context for handlers.
func Auth(authenticator auth.Authenticator, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublicPath(r.URL.Path) || r.Method == http.MethodOptions {
				next.ServeHTTP(w, r)
				return
			}

			info, err := authenticator.Authenticate(r)
			if err != nil {
				logger.Warn("authentication failed",
					zap.String("path", r.URL.Path),
					zap.String("method", r.Method),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeAuthError(w, err)
				return
			}

			recordUser(r.Context(), info)
			next.ServeHTTP(w, r.WithContext(auth.WithAuthInfo(r.Context(), info)))
		})
	}
}

// isPublicPath matches public paths and their sub-paths, but not paths that
// merely share a prefix (/healthz is not public).
func isPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}

	for p := range publicPaths {
		if strings.HasPrefix(path, p+"/") {
			return true
		}
	}

	return false
}

// writeAuthError writes a 401 with a WWW-Authenticate challenge.
func writeAuthError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUnauthenticated) {
		w.Header().Set("WWW-Authenticate", `Basic realm="basket"`)
	}

	message := "authentication required"
	if errors.Is(err, auth.ErrInvalidSession) {
		message = "session expired, please log in again"
	} else if errors.Is(err, auth.ErrInvalidCredentials) {
		message = "invalid credentials"
	}

	writeError(w, http.StatusUnauthorized, message)
}
