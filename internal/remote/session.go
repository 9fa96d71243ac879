package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// ErrNoUser is returned when the service accepted a login but sent no user.
var ErrNoUser = errors.New("login response carried no user")

// SessionClient opens and closes the cookie session the collection clients ride on.
type SessionClient struct {
	t *Transport
}

// NewSessionClient creates a session client over t.
func NewSessionClient(t *Transport) *SessionClient {
	return &SessionClient{t: t}
}

// Login exchanges credentials for a session cookie and returns the user.
func (s *SessionClient) Login(ctx context.Context, email, password string) (*model.User, error) {
	body := model.Credentials{Email: email, Password: password}

	data, err := s.t.do(ctx, http.MethodPost, body, "users", "login")
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	return decodeUser(data)
}

// Logout ends the session server-side. The cookie is expired by the response.
func (s *SessionClient) Logout(ctx context.Context) error {
	if _, err := s.t.do(ctx, http.MethodPost, nil, "users", "logout"); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Me returns the user of the current session.
func (s *SessionClient) Me(ctx context.Context) (*model.User, error) {
	data, err := s.t.do(ctx, http.MethodGet, nil, "users", "me")
	if err != nil {
		return nil, fmt.Errorf("current user: %w", err)
	}

	return decodeUser(data)
}

func decodeUser(data json.RawMessage) (*model.User, error) {
	if len(data) == 0 || string(data) == "null" {
		return nil, ErrNoUser
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("decode user: %w", err)
	}
	return &user, nil
}
