package app

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/sourcegraph/conc"
)

// RoomManager keeps at most one live coordinator per room key.
type RoomManager struct {
	mu     sync.Mutex
	rooms  map[domain.RoomKey]*Room
	closed bool
	wg     conc.WaitGroup

	arbiter *ClaimArbiter
	hooks   core.Hooks
	policy  Policy
	buffer  int
}

func NewRoomManager(arbiter *ClaimArbiter, hooks core.Hooks, policy Policy, buffer int) *RoomManager {
	return &RoomManager{
		rooms:   make(map[domain.RoomKey]*Room),
		arbiter: arbiter,
		hooks:   hooks,
		policy:  policy,
		buffer:  buffer,
	}
}

// Acquire returns the live coordinator for key, starting one if needed.
// The room cannot retire until the matching Release.
func (m *RoomManager) Acquire(key domain.RoomKey) (*Room, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrRoomClosed
	}
	r, ok := m.rooms[key]
	if !ok {
		r = newRoom(key, m.arbiter, m.hooks, m.policy, m.buffer, m.retireRoom)
		m.rooms[key] = r
		m.wg.Go(r.run)
		log.Info().Str("module", "app.rooms").Str("room", string(key)).Msg("room started")
	}
	r.pending.Add(1)
	return r, nil
}

func (m *RoomManager) Release(r *Room) {
	if r.pending.Add(-1) == 0 {
		r.poke()
	}
}

// Join admits s into the room named by its key and returns that room.
func (m *RoomManager) Join(ctx context.Context, s *core.Session) (*Room, error) {
	r, err := m.Acquire(s.RoomKey())
	if err != nil {
		return nil, err
	}
	defer m.Release(r)
	if err := r.Admit(ctx, s); err != nil {
		return nil, err
	}
	return r, nil
}

// retireRoom runs on the room's goroutine.
func (m *RoomManager) retireRoom(r *Room) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !r.idle() {
		return false
	}
	if cur, ok := m.rooms[r.key]; ok && cur == r {
		delete(m.rooms, r.key)
	}
	log.Info().Str("module", "app.rooms").Str("room", string(r.key)).Msg("room retired")
	return true
}

func (m *RoomManager) Get(key domain.RoomKey) (*Room, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.rooms[key]
	return r, ok
}

// Evict disconnects everyone in key's room; false if no such room is live.
func (m *RoomManager) Evict(key domain.RoomKey) bool {
	r, ok := m.Get(key)
	if !ok {
		return false
	}
	log.Info().Str("module", "app.rooms").Str("room", string(key)).Msg("evicting room")
	r.Evict()
	return true
}

func (m *RoomManager) List() []core.RoomInfo {
	m.mu.Lock()
	rooms := lo.Values(m.rooms)
	m.mu.Unlock()

	out := lo.Map(rooms, func(r *Room, _ int) core.RoomInfo {
		return core.RoomInfo{Key: r.key, MemberCount: r.reg.MemberCount()}
	})
	slices.SortFunc(out, func(a, b core.RoomInfo) int { return strings.Compare(string(a.Key), string(b.Key)) })
	return out
}

// Shutdown stops every coordinator, closing all sessions, and waits for
// them to exit or ctx to expire.
func (m *RoomManager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		for _, r := range m.rooms {
			close(r.quit)
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Str("module", "app.rooms").Msg("all rooms stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
