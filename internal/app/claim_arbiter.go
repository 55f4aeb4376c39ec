package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
)

const DefaultClaimTimeout = 3 * time.Second

// ClaimArbiter enforces that each side of a call is held by one identity.
// It is only called from a room's coordinator goroutine.
type ClaimArbiter struct {
	store   core.CallStore
	hooks   core.Hooks
	timeout time.Duration
}

func NewClaimArbiter(store core.CallStore, hooks core.Hooks, timeout time.Duration) *ClaimArbiter {
	if timeout <= 0 {
		timeout = DefaultClaimTimeout
	}
	return &ClaimArbiter{store: store, hooks: hooks, timeout: timeout}
}

// Arbitrate admits observers unconditionally and binds participants to
// their side of the call.
func (a *ClaimArbiter) Arbitrate(ctx context.Context, key domain.RoomKey, m *domain.Member) error {
	if m.IsObserver() {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	side := m.Side()
	owner, ok, err := a.store.Owner(ctx, key, side)
	if err != nil && !errors.Is(err, domain.ErrCallNotFound) {
		return domain.NewError(domain.CodePersistenceUnavailable,
			fmt.Errorf("%w: read owner: %v", domain.ErrPersistenceUnavailable, err))
	}
	if ok {
		if owner != m.UserID {
			return conflict(key, side, owner)
		}
		return nil
	}

	first, err := a.store.Claim(ctx, key, side, m.UserID)
	switch {
	case errors.Is(err, domain.ErrConflictingOwner):
		return conflict(key, side, "")
	case err != nil:
		return domain.NewError(domain.CodePersistenceUnavailable,
			fmt.Errorf("%w: claim: %v", domain.ErrPersistenceUnavailable, err))
	}
	if first {
		log.Info().Str("module", "app.arbiter").Str("room", string(key)).Str("side", string(side)).
			Str("user", string(m.UserID)).Msg("side claimed")
		if side == domain.SideAgent {
			_ = a.hooks.LogCallStart(context.WithoutCancel(ctx), key, key.DomainID(), m.UserID)
		}
	}
	return nil
}

func conflict(key domain.RoomKey, side domain.Side, owner domain.UserID) error {
	log.Info().Str("module", "app.arbiter").Str("room", string(key)).Str("side", string(side)).
		Str("owner", string(owner)).Msg("conflicting owner")
	return domain.NewError(domain.CodeConflictingOwner,
		fmt.Errorf("%w: %s side of %s", domain.ErrConflictingOwner, side, key))
}
