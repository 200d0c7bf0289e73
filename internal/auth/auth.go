// Package auth issues and verifies the gateway's Bearer tokens.
//
// Tokens are HS256 JWTs carrying the subject id, display name, and role.
// The role is opaque to the proxy core — authorization-by-role is an admin
// surface concern, not enforced here.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"nvrgate/internal/config"
)

// Rejection reasons. Exactly one of these is returned for every failed
// verification so callers can report the cause without parsing messages.
// The texts are part of the client-facing API and are served verbatim.
var (
	ErrMissing            = errors.New("No token provided")
	ErrMalformed          = errors.New("Invalid token format")
	ErrExpired            = errors.New("Token expired")
	ErrInvalid            = errors.New("Invalid token")
	ErrInvalidCredentials = errors.New("Invalid credentials")
)

// Claims is the verified identity carried by a token.
type Claims struct {
	Subject  string
	Username string
	Role     string
}

type tokenClaims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// Service verifies credentials and signs/verifies tokens. Safe for
// concurrent use; the user set is fixed at construction (a reload builds a
// new Service).
type Service struct {
	key   []byte
	ttl   time.Duration
	users map[string]config.UserCfg
}

// New builds a Service from the auth configuration.
func New(cfg config.AuthCfg) *Service {
	users := make(map[string]config.UserCfg, len(cfg.Users))
	for _, u := range cfg.Users {
		users[u.Username] = u
	}
	return &Service{
		key:   []byte(cfg.Secret),
		ttl:   cfg.ParsedTokenTTL(),
		users: users,
	}
}

// Login checks the credentials against the configured user set and returns
// a signed token plus the claims it carries. Unknown users and wrong
// passwords are indistinguishable to the caller.
func (s *Service) Login(username, password string) (string, Claims, error) {
	u, ok := s.users[username]
	if !ok {
		return "", Claims{}, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return "", Claims{}, ErrInvalidCredentials
	}

	now := time.Now()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, tokenClaims{
		Username: u.Username,
		Role:     u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	signed, err := tok.SignedString(s.key)
	if err != nil {
		return "", Claims{}, fmt.Errorf("auth: signing token: %w", err)
	}
	return signed, Claims{Subject: u.Username, Username: u.Username, Role: u.Role}, nil
}

// Verify parses and validates a raw token string. The error, when non-nil,
// is one of ErrMissing, ErrMalformed, ErrExpired, or ErrInvalid.
func (s *Service) Verify(tokenStr string) (Claims, error) {
	if tokenStr == "" {
		return Claims{}, ErrMissing
	}

	var tc tokenClaims
	token, err := jwt.ParseWithClaims(tokenStr, &tc, func(t *jwt.Token) (interface{}, error) {
		// Reject any algorithm that is not HMAC to prevent the "alg:none" attack.
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return s.key, nil
	})
	switch {
	case err == nil && token.Valid:
		return Claims{Subject: tc.Subject, Username: tc.Username, Role: tc.Role}, nil
	case errors.Is(err, jwt.ErrTokenExpired):
		return Claims{}, ErrExpired
	case errors.Is(err, jwt.ErrTokenMalformed):
		return Claims{}, ErrMalformed
	default:
		return Claims{}, ErrInvalid
	}
}

// HashPassword produces a bcrypt hash suitable for the users section of
// gateway.yaml.
func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(b), nil
}
