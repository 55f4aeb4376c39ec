package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/protocol"
	"github.com/rs/zerolog/log"
)

const DefaultRoomBuffer = 64

// ErrRoomClosed is returned to submitters racing a shutdown.
var ErrRoomClosed = errors.New("room closed")

type eventKind int

const (
	evAdmit eventKind = iota
	evRelay
	evLeave
	evOpen
	evEvict
	evAbandon
	evIdle
)

type event struct {
	kind    eventKind
	ctx     context.Context
	session *core.Session
	frame   core.Frame
	reply   chan error
}

// Room is the coordinator of one room key. A single goroutine owns the
// registry writes, the ownership claim and the call-end decision.
type Room struct {
	key     domain.RoomKey
	reg     *core.Registry
	arbiter *ClaimArbiter
	hooks   core.Hooks
	policy  Policy

	events  chan event
	quit    chan struct{}
	done    chan struct{}
	pending atomic.Int32

	// retire is consulted when the room looks idle; true stops the loop.
	retire func(*Room) bool
}

func newRoom(key domain.RoomKey, arbiter *ClaimArbiter, hooks core.Hooks, policy Policy, buffer int, retire func(*Room) bool) *Room {
	if buffer <= 0 {
		buffer = DefaultRoomBuffer
	}
	if policy == nil {
		policy = SimplePolicy{}
	}
	return &Room{
		key:     key,
		reg:     core.NewRegistry(key),
		arbiter: arbiter,
		hooks:   hooks,
		policy:  policy,
		events:  make(chan event, buffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		retire:  retire,
	}
}

func (r *Room) Key() domain.RoomKey      { return r.key }
func (r *Room) Registry() *core.Registry { return r.reg }

// Done is closed once the coordinator goroutine has exited.
func (r *Room) Done() <-chan struct{} { return r.done }

// Admit runs ownership arbitration and registers s in CONNECTING state.
func (r *Room) Admit(ctx context.Context, s *core.Session) error {
	reply := make(chan error, 1)
	if err := r.submit(ctx, event{kind: evAdmit, ctx: ctx, session: s, reply: reply}); err != nil {
		return err
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		// the admit may still land; make sure it is undone
		r.Abandon(s)
		return ctx.Err()
	case <-r.done:
		return ErrRoomClosed
	}
}

// Opened marks s OPEN once its transport is live.
func (r *Room) Opened(s *core.Session) {
	_ = r.submit(context.Background(), event{kind: evOpen, session: s})
}

// Relay hands an inbound frame from s to the coordinator.
func (r *Room) Relay(ctx context.Context, s *core.Session, f core.Frame) error {
	return r.submit(ctx, event{kind: evRelay, session: s, frame: f})
}

// Evict runs the leave path for every session in the room.
func (r *Room) Evict() {
	_ = r.submit(context.Background(), event{kind: evEvict})
}

// Abandon undoes an admission whose transport never opened. Peers never
// saw s, so nothing is broadcast and the call is not ended.
func (r *Room) Abandon(s *core.Session) {
	_ = r.submit(context.Background(), event{kind: evAbandon, session: s})
}

// Leave removes s. Calling it more than once is harmless.
func (r *Room) Leave(s *core.Session) {
	_ = r.submit(context.Background(), event{kind: evLeave, session: s})
}

func (r *Room) submit(ctx context.Context, ev event) error {
	select {
	case r.events <- ev:
		return nil
	case <-r.done:
		return ErrRoomClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// poke wakes the loop so it can re-check idleness. Dropped when the
// buffer is full since the loop checks after every event anyway.
func (r *Room) poke() {
	select {
	case r.events <- event{kind: evIdle}:
	default:
	}
}

func (r *Room) run() {
	defer close(r.done)
	log.Debug().Str("module", "app.room").Str("room", string(r.key)).Msg("coordinator started")
	for {
		select {
		case ev := <-r.events:
			r.handle(ev)
			if r.idle() && r.retire != nil && r.retire(r) {
				log.Debug().Str("module", "app.room").Str("room", string(r.key)).Msg("coordinator retired")
				return
			}
		case <-r.quit:
			r.closeAll()
			return
		}
	}
}

func (r *Room) idle() bool {
	return r.pending.Load() == 0 && len(r.events) == 0 && r.reg.MemberCount() == 0
}

func (r *Room) handle(ev event) {
	switch ev.kind {
	case evAdmit:
		ev.reply <- r.admit(ev.ctx, ev.session)
	case evOpen:
		if _, ok := r.reg.Get(ev.session.ID()); ok {
			ev.session.Open()
		}
	case evRelay:
		r.relay(ev.session, ev.frame)
	case evLeave:
		r.leave(ev.session)
	case evEvict:
		r.closeAll()
	case evAbandon:
		r.abandon(ev.session)
	case evIdle:
	}
}

func (r *Room) admit(ctx context.Context, s *core.Session) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := r.arbiter.Arbitrate(ctx, r.key, s.Meta()); err != nil {
		return err
	}
	r.reg.AddMember(s)
	return nil
}

func (r *Room) relay(s *core.Session, f core.Frame) {
	if _, ok := r.reg.Get(s.ID()); !ok || s.State() != core.StateOpen {
		return
	}
	env, err := protocol.Peek(f)
	if err != nil {
		log.Warn().Err(err).Str("module", "app.room").Str("sid", string(s.ID())).Msg("dropping unparsable frame")
		return
	}

	switch env.Type {
	case protocol.TypePing:
		r.pong(s)
		return
	case protocol.TypeChat:
		if text, ok := env.ChatText(); ok && !s.Meta().IsObserver() {
			_ = r.hooks.LogMessage(context.Background(), r.key, s.Meta().UserID, text)
		}
	}

	r.fanout(s.ID(), f)

	if env.Type == protocol.TypeHangup {
		r.leave(s)
	}
}

func (r *Room) pong(s *core.Session) {
	b, _ := json.Marshal(protocol.Pong{Type: protocol.TypePong})
	if err := s.Signal().TrySend(b); err != nil {
		r.backpressure(s)
	}
}

func (r *Room) fanout(from core.SessionID, f core.Frame) {
	res := r.reg.Broadcast(from, f)
	for _, slow := range res.Dropped {
		r.backpressure(slow)
	}
}

func (r *Room) backpressure(ms core.MemberSession) {
	switch r.policy.OnBackPressure(r.reg, ms) {
	case KickMember:
		log.Warn().Str("module", "app.room").Str("room", string(r.key)).Str("sid", string(ms.ID())).Msg("kicking slow session")
		if s, ok := ms.(*core.Session); ok {
			r.leave(s)
		}
	case MarkSlow, DropFrame, NoAction:
	}
}

func (r *Room) leave(s *core.Session) {
	if _, ok := r.reg.RemoveMember(s.ID()); !ok {
		return
	}
	s.Close()
	s.Signal().Close()

	meta := s.Meta()
	if !meta.IsObserver() && r.reg.Participants() == 0 {
		_ = r.hooks.LogCallEnd(context.Background(), r.key)
	}

	b, _ := json.Marshal(protocol.NewPeerLeft(meta.UserID, meta.Role))
	r.fanout("", b)
}

func (r *Room) abandon(s *core.Session) {
	if s.State() == core.StateOpen {
		r.leave(s)
		return
	}
	if _, ok := r.reg.RemoveMember(s.ID()); !ok {
		return
	}
	s.Close()
	s.Signal().Close()
	log.Debug().Str("module", "app.room").Str("room", string(r.key)).Str("sid", string(s.ID())).Msg("abandoned unopened session")
}

func (r *Room) closeAll() {
	for _, ms := range r.reg.Sessions() {
		if s, ok := ms.(*core.Session); ok {
			r.leave(s)
		}
	}
}
