// Package auth authenticates shoppers of the collection service.
package auth

import (
	"context"
	"errors"
	"net/http"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// AuthMethod represents the authentication method used.
type AuthMethod string

const (
	// AuthMethodSession indicates a cookie session opened by login.
	AuthMethodSession AuthMethod = "session"
	// AuthMethodBasic indicates HTTP Basic authentication.
	AuthMethodBasic AuthMethod = "basic"
	// AuthMethodMulti indicates multi-method authentication.
	AuthMethodMulti AuthMethod = "multi"
)

// AuthInfo holds authenticated identity information.
type AuthInfo struct {
	Method AuthMethod
	User   *model.User
}

// Subject returns the authenticated user id.
func (i *AuthInfo) Subject() string {
	if i == nil || i.User == nil {
		return ""
	}
	return i.User.ID
}

// Authenticator validates a request and returns auth info.
type Authenticator interface {
	Authenticate(r *http.Request) (*AuthInfo, error)
	Method() AuthMethod
}

// Sentinel errors for authentication failures.
var (
	ErrUnauthenticated    = errors.New("unauthenticated: no credentials provided")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidSession     = errors.New("invalid or expired session")
)

// contextKey is the type for context keys in this package.
type contextKey string

// authInfoKey is the context key for AuthInfo.
const authInfoKey contextKey = "auth_info"

// FromContext retrieves AuthInfo from the context.
func FromContext(ctx context.Context) (*AuthInfo, bool) {
	info, ok := ctx.Value(authInfoKey).(*AuthInfo)
	return info, ok
}

// WithAuthInfo stores AuthInfo in the context.
func WithAuthInfo(ctx context.Context, info *AuthInfo) context.Context {
	return context.WithValue(ctx, authInfoKey, info)
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*model.User, bool) {
	info, ok := FromContext(ctx)
	if !ok || info.User == nil {
		return nil, false
	}
	return info.User, true
}
