package core

import (
	"sync"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Registry is the per-room session set.
// Mutations come from the room's coordinator only; the lock lets other
// goroutines take snapshots. It never closes adapter-owned resources.
type Registry struct {
	key    domain.RoomKey
	mu     sync.RWMutex
	bySID  map[SessionID]MemberSession
	joined []SessionID
}

func NewRegistry(key domain.RoomKey) *Registry {
	return &Registry{
		key:   key,
		bySID: make(map[SessionID]MemberSession),
	}
}

func (r *Registry) Key() domain.RoomKey { return r.key }

func (r *Registry) MemberCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySID)
}

func (r *Registry) Get(sid SessionID) (MemberSession, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ms, ok := r.bySID[sid]
	return ms, ok
}

func (r *Registry) AddMember(ms MemberSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.bySID[ms.ID()] = ms
	r.joined = append(r.joined, ms.ID())
	log.Info().Str("module", "core.registry").Str("room", string(r.key)).Str("sid", string(ms.ID())).
		Str("user", string(ms.Meta().UserID)).Str("mode", string(ms.Meta().Mode)).Msg("member added")
}

// RemoveMember reports whether sid was present.
func (r *Registry) RemoveMember(sid SessionID) (MemberSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms, ok := r.bySID[sid]
	if !ok {
		return nil, false
	}
	delete(r.bySID, sid)
	r.joined = lo.Without(r.joined, sid)
	log.Info().Str("module", "core.registry").Str("room", string(r.key)).Str("sid", string(sid)).Msg("member removed")
	return ms, true
}

// Participants counts non-observer sessions.
func (r *Registry) Participants() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.CountBy(lo.Values(r.bySID), func(ms MemberSession) bool {
		return !ms.Meta().IsObserver()
	})
}

// ordered returns sessions in join order so fan-out is deterministic.
func (r *Registry) ordered() []MemberSession {
	return lo.FilterMap(r.joined, func(sid SessionID, _ int) (MemberSession, bool) {
		ms, ok := r.bySID[sid]
		return ms, ok
	})
}

// Broadcast sends data to every OPEN session except from. An empty from
// reaches everyone.
func (r *Registry) Broadcast(from SessionID, data Frame) PublishResult {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res := PublishResult{}
	for _, m := range r.ordered() {
		if m.ID() == from || m.State() != StateOpen {
			continue
		}
		if err := m.Signal().TrySend(data); err != nil {
			res.Dropped = append(res.Dropped, m)
			continue
		}
		res.SendTo++
	}
	log.Debug().Str("module", "core.registry").Str("from", string(from)).Int("sent_to", res.SendTo).Int("dropped", len(res.Dropped)).Msg("broadcast result")
	return res
}

func (r *Registry) Sessions() []MemberSession {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ordered()
}

func (r *Registry) MembersSnapshot() []MemberDTO {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Map(r.ordered(), func(ms MemberSession, _ int) MemberDTO {
		m := ms.Meta()
		return MemberDTO{SessionID: ms.ID(), UserID: m.UserID, Role: m.Role, Mode: m.Mode}
	})
}
