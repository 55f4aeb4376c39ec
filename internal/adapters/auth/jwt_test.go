package auth

import (
	"context"
	"testing"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueThenVerify(t *testing.T) {
	req := require.New(t)
	j, err := NewJWT("test-secret", time.Minute)
	req.NoError(err)

	in := domain.Capability{UserID: "agent-1", Role: domain.RoleAgent, AllowedDomains: []string{"acme", "shop"}}
	token, err := j.Issue(in)
	req.NoError(err)

	out, err := j.Verify(context.Background(), token)
	req.NoError(err)
	req.Equal(in, out)

	visitor := domain.Capability{UserID: "v", Role: domain.RoleVisitor, Rooms: []domain.RoomKey{"acme__s1"}}
	token, err = j.Issue(visitor)
	req.NoError(err)
	out, err = j.Verify(context.Background(), token)
	req.NoError(err)
	req.Equal(visitor, out)
}

func TestVerifyRejectsWrongSecretAndExpired(t *testing.T) {
	req := require.New(t)
	a, _ := NewJWT("secret-a", time.Minute)
	b, _ := NewJWT("secret-b", time.Minute)

	token, err := a.Issue(domain.Capability{UserID: "u", Role: domain.RoleVisitor})
	req.NoError(err)
	_, err = b.Verify(context.Background(), token)
	req.ErrorIs(err, jwt.ErrTokenSignatureInvalid)

	a.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := a.Issue(domain.Capability{UserID: "u", Role: domain.RoleVisitor})
	req.NoError(err)
	a.now = time.Now
	_, err = a.Verify(context.Background(), old)
	req.ErrorIs(err, jwt.ErrTokenExpired)

	_, err = a.Verify(context.Background(), "not-a-token")
	req.Error(err)
}

func TestVerifyRequiresExpiryAndHS256(t *testing.T) {
	req := require.New(t)
	j, _ := NewJWT("s", time.Minute)

	noExp, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &CapabilityClaims{UserID: "u", Role: "agent"}).SignedString([]byte("s"))
	req.NoError(err)
	_, err = j.Verify(context.Background(), noExp)
	req.Error(err)

	hs512, err := jwt.NewWithClaims(jwt.SigningMethodHS512, &CapabilityClaims{
		UserID: "u", Role: "agent",
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Minute))},
	}).SignedString([]byte("s"))
	req.NoError(err)
	_, err = j.Verify(context.Background(), hs512)
	req.Error(err)
}

func TestNewRequiresSecret(t *testing.T) {
	_, err := NewJWT("", time.Minute)
	require.ErrorIs(t, err, ErrEmptySecret)
}
