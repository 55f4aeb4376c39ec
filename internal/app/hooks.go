package app

import (
	"context"
	"fmt"
	"time"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc"
)

const DefaultHookTimeout = 5 * time.Second

// AsyncHooks runs every persistence call on its own goroutine so a slow or
// failing store never stalls a room. Errors are logged, never returned.
type AsyncHooks struct {
	inner   core.Hooks
	timeout time.Duration
	wg      conc.WaitGroup
}

func NewAsyncHooks(inner core.Hooks, timeout time.Duration) *AsyncHooks {
	if timeout <= 0 {
		timeout = DefaultHookTimeout
	}
	return &AsyncHooks{inner: inner, timeout: timeout}
}

func (h *AsyncHooks) LogCallStart(ctx context.Context, key domain.RoomKey, domainID string, agentID domain.UserID) error {
	h.spawn(ctx, "call_start", key, func(ctx context.Context) error {
		return h.inner.LogCallStart(ctx, key, domainID, agentID)
	})
	return nil
}

func (h *AsyncHooks) LogCallEnd(ctx context.Context, key domain.RoomKey) error {
	h.spawn(ctx, "call_end", key, func(ctx context.Context) error {
		return h.inner.LogCallEnd(ctx, key)
	})
	return nil
}

func (h *AsyncHooks) LogMessage(ctx context.Context, key domain.RoomKey, senderID domain.UserID, content string) error {
	h.spawn(ctx, "message", key, func(ctx context.Context) error {
		return h.inner.LogMessage(ctx, key, senderID, content)
	})
	return nil
}

// Wait blocks until every in-flight call has returned.
func (h *AsyncHooks) Wait() { h.wg.Wait() }

func (h *AsyncHooks) spawn(parent context.Context, op string, key domain.RoomKey, fn func(context.Context) error) {
	base := context.WithoutCancel(parent)
	h.wg.Go(func() {
		ctx, cancel := context.WithTimeout(base, h.timeout)
		defer cancel()
		if err := fn(ctx); err != nil {
			err = domain.NewError(domain.CodePersistenceUnavailable,
				fmt.Errorf("%w: %s: %v", domain.ErrPersistenceUnavailable, op, err))
			log.Warn().Err(err).Str("module", "app.hooks").Str("op", op).Str("room", string(key)).Msg("persistence hook failed")
		}
	})
}
