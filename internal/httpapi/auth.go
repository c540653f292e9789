package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/roach88/spacesync/internal/protocol"
)

var (
	ErrNotBearer      = errors.New("invalid or unsupported Authorization header (expected 'Bearer')")
	ErrAuthNotEnabled = errors.New("bearer tokens are not accepted: no signing key is configured")
	ErrMissingSubject = errors.New("token has no subject")
)

const tokenLeeway = 5 * time.Second

// Authenticator verifies HS256 bearer tokens. The token subject is the
// user id of the principal.
type Authenticator struct {
	key []byte
}

// NewAuthenticator returns an Authenticator for key. An empty key rejects
// every presented token; requests without one stay anonymous.
func NewAuthenticator(key []byte) *Authenticator {
	return &Authenticator{key: key}
}

// Principal returns the caller of r, or nil when no Authorization header is
// present.
func (a *Authenticator) Principal(r *http.Request) (*protocol.Principal, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return nil, nil
	}
	bearer, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return nil, ErrNotBearer
	}
	if len(a.key) == 0 {
		return nil, ErrAuthNotEnabled
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(bearer, &claims,
		func(*jwt.Token) (interface{}, error) { return a.key, nil },
		jwt.WithLeeway(tokenLeeway),
		jwt.WithValidMethods([]string{"HS256"}),
	)
	if err != nil {
		return nil, fmt.Errorf("verifying Authorization: %w", err)
	}
	if claims.Subject == "" {
		return nil, ErrMissingSubject
	}
	return &protocol.Principal{UserID: claims.Subject}, nil
}

// Sign issues a token for userID that expires after ttl.
func (a *Authenticator) Sign(userID string, ttl time.Duration) (string, error) {
	if len(a.key) == 0 {
		return "", ErrAuthNotEnabled
	}
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.key)
}
