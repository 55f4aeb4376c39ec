package app

import (
	"context"
	"fmt"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// AccessGate decides whether a connect attempt may proceed to a room.
// It never touches room state.
type AccessGate struct {
	verifier core.TokenVerifier
}

func NewAccessGate(v core.TokenVerifier) *AccessGate {
	return &AccessGate{verifier: v}
}

// Authorize verifies token, parses rawKey and checks the caller's domain rights.
func (g *AccessGate) Authorize(ctx context.Context, token, rawKey string, mode domain.Mode) (domain.Capability, domain.RoomKey, error) {
	if token == "" {
		return domain.Capability{}, "", domain.NewError(domain.CodeAuthenticationFailed,
			fmt.Errorf("%w: missing token", domain.ErrAuthenticationFailed))
	}
	capab, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return domain.Capability{}, "", domain.NewError(domain.CodeAuthenticationFailed,
			fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err))
	}
	if err := capab.Validate(); err != nil {
		return domain.Capability{}, "", domain.NewError(domain.CodeAuthenticationFailed,
			fmt.Errorf("%w: %v", domain.ErrAuthenticationFailed, err))
	}

	domainID, _, err := domain.ParseRoomKey(rawKey)
	if err != nil {
		return domain.Capability{}, "", err
	}
	key := domain.RoomKey(rawKey)

	if !allowed(capab, key, domainID, mode) {
		log.Info().Str("module", "app.gate").Str("room", rawKey).Str("user", string(capab.UserID)).
			Str("role", string(capab.Role)).Msg("access denied")
		return domain.Capability{}, "", domain.NewError(domain.CodeAccessDenied,
			fmt.Errorf("%w: %s may not join %s as %s", domain.ErrAccessDenied, capab.Role, rawKey, mode))
	}
	return capab, key, nil
}

// allowed applies the role rules. Observer mode is reserved for supervisors
// and superadmins; visitors only reach the rooms their capability names.
func allowed(c domain.Capability, key domain.RoomKey, domainID string, mode domain.Mode) bool {
	switch c.Role {
	case domain.RoleSuperAdmin:
		return true
	case domain.RoleSupervisor:
		return mode == domain.ModeObserver || lo.Contains(c.AllowedDomains, domainID)
	case domain.RoleVisitor:
		return mode == domain.ModeParticipant && lo.Contains(c.Rooms, key)
	}
	return mode == domain.ModeParticipant && lo.Contains(c.AllowedDomains, domainID)
}
