// Package identity issues and verifies access tokens and exposes the
// authenticated caller to gin handlers as a Principal.
package identity

import (
	"errors"
	"fmt"
	"time"

	"donatenow/models"

	"github.com/golang-jwt/jwt/v5"
)

// ErrInvalidToken is returned for malformed, expired or wrongly signed tokens.
var ErrInvalidToken = errors.New("invalid token")

// Principal is an authenticated caller. A nil *Principal means anonymous.
type Principal struct {
	ID   uint
	Role string
	Name string
}

// IsAdmin reports whether the principal carries the admin role.
func (p *Principal) IsAdmin() bool {
	return p != nil && p.Role == models.RoleAdmin
}

// Claims are the access token claims.
type Claims struct {
	UserID uint   `json:"id"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Provider signs and verifies HS256 access tokens.
type Provider struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewProvider returns a provider signing with secret; tokens live for ttl.
func NewProvider(secret string, ttl time.Duration) *Provider {
	return &Provider{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue creates a signed access token for p.
func (pr *Provider) Issue(p Principal) (string, error) {
	now := pr.now()
	claims := Claims{
		UserID: p.ID,
		Role:   p.Role,
		Name:   p.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(pr.ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(pr.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Authenticate verifies raw and returns the principal it names. An empty
// token yields (nil, nil): the caller is anonymous.
func (pr *Provider) Authenticate(raw string) (*Principal, error) {
	if raw == "" {
		return nil, nil
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
		return pr.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(pr.now))
	if err != nil || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.UserID == 0 {
		return nil, ErrInvalidToken
	}
	return &Principal{ID: claims.UserID, Role: claims.Role, Name: claims.Name}, nil
}
