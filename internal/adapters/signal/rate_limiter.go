package signal

import (
	"sync"

	"github.com/dkeye/CallRelay/internal/domain"
	"golang.org/x/time/rate"
)

const joinLimiterPruneAt = 4096

// JoinLimiter throttles connect attempts per identity.
type JoinLimiter struct {
	mu       sync.Mutex
	limiters map[domain.UserID]*rate.Limiter
	limit    rate.Limit
	burst    int
}

func NewJoinLimiter(limit rate.Limit, burst int) *JoinLimiter {
	return &JoinLimiter{
		limiters: make(map[domain.UserID]*rate.Limiter),
		limit:    limit,
		burst:    burst,
	}
}

func (jl *JoinLimiter) Allow(uid domain.UserID) bool {
	jl.mu.Lock()
	defer jl.mu.Unlock()

	if len(jl.limiters) >= joinLimiterPruneAt {
		jl.prune()
	}
	lim, ok := jl.limiters[uid]
	if !ok {
		lim = rate.NewLimiter(jl.limit, jl.burst)
		jl.limiters[uid] = lim
	}
	return lim.Allow()
}

// prune forgets identities whose bucket has refilled.
func (jl *JoinLimiter) prune() {
	for uid, lim := range jl.limiters {
		if lim.Tokens() >= float64(jl.burst) {
			delete(jl.limiters, uid)
		}
	}
}
