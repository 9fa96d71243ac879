package auth

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/basket-sync/internal/model"
)

type account struct {
	user model.User
	hash []byte
}

// Directory holds the shoppers allowed to log in, keyed by email.
type Directory struct {
	accounts map[string]account
	byID     map[string]model.User
}

// NewDirectory parses "email1:hash1,email2:hash2" where each hash is a
// bcrypt hash of the password. Emails are matched case-insensitively.
func NewDirectory(usersConfig string) (*Directory, error) {
	trimmed := strings.TrimSpace(usersConfig)
	if trimmed == "" {
		return nil, fmt.Errorf("users: config must not be empty")
	}

	d := &Directory{
		accounts: make(map[string]account),
		byID:     make(map[string]model.User),
	}

	for _, entry := range strings.Split(trimmed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		// Bcrypt hashes contain '$' but never ':'.
		idx := strings.Index(entry, ":")
		if idx < 0 {
			return nil, fmt.Errorf("users: invalid entry format, expected email:hash")
		}

		email := strings.ToLower(strings.TrimSpace(entry[:idx]))
		hash := strings.TrimSpace(entry[idx+1:])
		if email == "" || hash == "" {
			return nil, fmt.Errorf("users: email and hash must not be empty")
		}

		user := newUser(email)
		d.accounts[email] = account{user: user, hash: []byte(hash)}
		d.byID[user.ID] = user
	}

	if len(d.accounts) == 0 {
		return nil, fmt.Errorf("users: no valid entries found")
	}

	return d, nil
}

// newUser derives a stable id from the email so sessions survive restarts
// of the user list.
func newUser(email string) model.User {
	name := email
	if at := strings.Index(email, "@"); at > 0 {
		name = email[:at]
	}

	return model.User{
		ID:    uuid.NewSHA1(uuid.NameSpaceURL, []byte("mailto:"+email)).String(),
		Email: email,
		Name:  name,
	}
}

// Verify checks a password and returns the matching user.
func (d *Directory) Verify(email, password string) (*model.User, error) {
	acc, exists := d.accounts[strings.ToLower(strings.TrimSpace(email))]
	if !exists {
		return nil, fmt.Errorf("%w: unknown user", ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(acc.hash, []byte(password)); err != nil {
		return nil, fmt.Errorf("%w: wrong password", ErrInvalidCredentials)
	}

	user := acc.user
	return &user, nil
}

// Lookup returns the user with id.
func (d *Directory) Lookup(id string) (*model.User, bool) {
	user, ok := d.byID[id]
	if !ok {
		return nil, false
	}
	return &user, true
}

// Len returns the number of known users.
func (d *Directory) Len() int {
	return len(d.accounts)
}

// BasicAuthenticator authenticates requests using HTTP Basic authentication
// against a Directory. It lets scripts call the API without a login round trip.
type BasicAuthenticator struct {
	dir *Directory
}

// NewBasicAuthenticator creates a Basic authenticator over dir.
func NewBasicAuthenticator(dir *Directory) *BasicAuthenticator {
	return &BasicAuthenticator{dir: dir}
}

// Authenticate verifies the Basic credentials of r.
func (a *BasicAuthenticator) Authenticate(r *http.Request) (*AuthInfo, error) {
	email, password, ok := r.BasicAuth()
	if !ok {
		return nil, ErrUnauthenticated
	}

	user, err := a.dir.Verify(email, password)
	if err != nil {
		return nil, err
	}

	return &AuthInfo{Method: AuthMethodBasic, User: user}, nil
}

// Method returns the authentication method type.
func (a *BasicAuthenticator) Method() AuthMethod {
	return AuthMethodBasic
}
