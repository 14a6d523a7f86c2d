// Package auth guards the frame routes with a single viewer account and
// short-lived JWTs.
package auth

import (
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthDisabled       = errors.New("authentication is disabled")
	ErrNoPassword         = errors.New("authentication enabled without a password")
)

// DefaultUsername is the viewer account name when none is configured
const DefaultUsername = "admin"

// Options configures the authenticator
type Options struct {
	Enabled  bool
	Username string
	// Password is plaintext or an existing bcrypt hash
	Password  string
	JWTSecret string
	JWTExpiry time.Duration
}

// Authenticator checks viewer credentials and tokens. A nil or disabled
// Authenticator lets everything through.
type Authenticator struct {
	enabled      bool
	username     string
	passwordHash []byte
	tokens       *JWTManager
}

// NewAuthenticator creates an authenticator. Enabling auth without a
// password is an error.
func NewAuthenticator(opts Options) (*Authenticator, error) {
	a := &Authenticator{
		enabled:  opts.Enabled,
		username: opts.Username,
		tokens:   NewJWTManager(opts.JWTSecret, opts.JWTExpiry),
	}
	if a.username == "" {
		a.username = DefaultUsername
	}
	if !opts.Enabled {
		return a, nil
	}

	switch {
	case opts.Password == "":
		return nil, ErrNoPassword
	case isBcryptHash(opts.Password):
		if _, err := bcrypt.Cost([]byte(opts.Password)); err != nil {
			return nil, err
		}
		a.passwordHash = []byte(opts.Password)
	default:
		hash, err := bcrypt.GenerateFromPassword([]byte(opts.Password), bcrypt.DefaultCost)
		if err != nil {
			return nil, err
		}
		a.passwordHash = hash
	}
	return a, nil
}

func isBcryptHash(s string) bool {
	return len(s) == 60 && (strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$"))
}

// IsEnabled returns whether authentication is enabled
func (a *Authenticator) IsEnabled() bool {
	return a != nil && a.enabled
}

// Authenticate checks credentials and issues a token. It returns the
// token and its expiry as a Unix time.
func (a *Authenticator) Authenticate(username, password string) (string, int64, error) {
	if !a.IsEnabled() {
		return "", 0, ErrAuthDisabled
	}

	// Always run bcrypt so a wrong username costs the same as a wrong password
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(a.username)) == 1
	passErr := bcrypt.CompareHashAndPassword(a.passwordHash, []byte(password))
	if !userOK || passErr != nil {
		return "", 0, ErrInvalidCredentials
	}

	token, expiresAt, err := a.tokens.GenerateToken(a.username)
	if err != nil {
		return "", 0, err
	}
	return token, expiresAt.Unix(), nil
}

// ValidateToken validates a JWT token
func (a *Authenticator) ValidateToken(token string) (*Claims, error) {
	if a == nil {
		return nil, ErrAuthDisabled
	}
	return a.tokens.ValidateToken(token)
}

// HashPassword creates a bcrypt hash for the auth.password setting
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
