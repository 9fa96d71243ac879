package auth

import (
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

// CookieName is the session cookie set by login.
const CookieName = "sid"

// DefaultSessionTTL is how long a session lives without being renewed.
const DefaultSessionTTL = 24 * time.Hour

type session struct {
	user    model.User
	expires time.Time
}

// SessionManager keeps login sessions in memory.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]session
	ttl      time.Duration
	secure   bool
	now      func() time.Time
}

// NewSessionManager creates a manager. secure marks cookies Secure.
func NewSessionManager(ttl time.Duration, secure bool) *SessionManager {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}

	return &SessionManager{
		sessions: make(map[string]session),
		ttl:      ttl,
		secure:   secure,
		now:      time.Now,
	}
}

// Create opens a session for user and returns its token and expiry.
func (m *SessionManager) Create(user model.User) (string, time.Time) {
	token := uuid.NewString()
	expires := m.now().Add(m.ttl)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[token] = session{user: user, expires: expires}
	return token, expires
}

// Lookup returns the user of a live session.
func (m *SessionManager) Lookup(token string) (*model.User, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return nil, false
	}
	if !m.now().Before(s.expires) {
		delete(m.sessions, token)
		return nil, false
	}

	user := s.user
	return &user, true
}

// Delete ends a session. Unknown tokens are ignored.
func (m *SessionManager) Delete(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
}

// Sweep drops expired sessions and returns how many were removed.
func (m *SessionManager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	removed := 0
	for token, s := range m.sessions {
		if !now.Before(s.expires) {
			delete(m.sessions, token)
			removed++
		}
	}
	return removed
}

// Len returns the number of stored sessions.
func (m *SessionManager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.sessions)
}

// SetCookie writes the session cookie.
func (m *SessionManager) SetCookie(w http.ResponseWriter, token string, expires time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		Expires:  expires,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ClearCookie expires the session cookie.
func (m *SessionManager) ClearCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Token returns the session token carried by r, if any.
func Token(r *http.Request) (string, bool) {
	c, err := r.Cookie(CookieName)
	if err != nil || c.Value == "" {
		return "", false
	}
	return c.Value, true
}

// SessionAuthenticator authenticates requests by their session cookie.
type SessionAuthenticator struct {
	sessions *SessionManager
}

// NewSessionAuthenticator creates an authenticator over sessions.
func NewSessionAuthenticator(sessions *SessionManager) *SessionAuthenticator {
	return &SessionAuthenticator{sessions: sessions}
}

// Authenticate resolves the session cookie of r.
func (a *SessionAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	token, ok := Token(r)
	if !ok {
		return nil, ErrUnauthenticated
	}

	user, ok := a.sessions.Lookup(token)
	if !ok {
		return nil, ErrInvalidSession
	}

	return &AuthInfo{Method: AuthMethodSession, User: user}, nil
}

// Method returns the authentication method type.
func (a *SessionAuthenticator) Method() AuthMethod {
	return AuthMethodSession
}
