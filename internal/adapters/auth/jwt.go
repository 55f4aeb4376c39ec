// Package auth verifies and issues HS256 capability tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/samber/lo"
)

const (
	Issuer     = "callrelay"
	DefaultTTL = time.Hour
)

var ErrEmptySecret = errors.New("jwt secret is empty")

// CapabilityClaims is the token payload. Field names match what the
// signaling clients already send.
type CapabilityClaims struct {
	UserID         string   `json:"userId"`
	Role           string   `json:"role"`
	AllowedDomains []string `json:"allowed_domains"`
	Rooms          []string `json:"rooms,omitempty"`
	jwt.RegisteredClaims
}

type JWT struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewJWT(secret string, ttl time.Duration) (*JWT, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWT{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Verify checks signature and expiry and returns the carried capability.
func (j *JWT) Verify(_ context.Context, token string) (domain.Capability, error) {
	claims := &CapabilityClaims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return j.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(j.now),
	)
	if err != nil {
		return domain.Capability{}, fmt.Errorf("parse token: %w", err)
	}
	if !parsed.Valid {
		return domain.Capability{}, jwt.ErrTokenSignatureInvalid
	}
	c := domain.Capability{
		UserID:         domain.UserID(claims.UserID),
		Role:           domain.Role(claims.Role),
		AllowedDomains: claims.AllowedDomains,
	}
	if len(claims.Rooms) > 0 {
		c.Rooms = lo.Map(claims.Rooms, func(k string, _ int) domain.RoomKey { return domain.RoomKey(k) })
	}
	return c, nil
}

// Issue signs c with the configured ttl.
func (j *JWT) Issue(c domain.Capability) (string, error) {
	if err := c.Validate(); err != nil {
		return "", fmt.Errorf("invalid capability: %w", err)
	}
	now := j.now()
	claims := &CapabilityClaims{
		UserID:         string(c.UserID),
		Role:           string(c.Role),
		AllowedDomains: c.AllowedDomains,
		Rooms:          lo.Map(c.Rooms, func(k domain.RoomKey, _ int) string { return string(k) }),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   string(c.UserID),
			Issuer:    Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}
