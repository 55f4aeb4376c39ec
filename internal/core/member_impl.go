package core

import (
	"sync/atomic"

	"github.com/dkeye/CallRelay/internal/domain"
)

// Session implements MemberSession by pairing meta + transport.
// Only the owning room coordinator changes its state.
type Session struct {
	id    SessionID
	key   domain.RoomKey
	meta  *domain.Member
	conn  SignalConnection
	state atomic.Int32
}

func NewSession(key domain.RoomKey, meta *domain.Member, conn SignalConnection) *Session {
	return &Session{id: NewSessionID(), key: key, meta: meta, conn: conn}
}

func (s *Session) ID() SessionID            { return s.id }
func (s *Session) RoomKey() domain.RoomKey  { return s.key }
func (s *Session) Meta() *domain.Member     { return s.meta }
func (s *Session) Signal() SignalConnection { return s.conn }
func (s *Session) State() SessionState      { return SessionState(s.state.Load()) }

// Open moves CONNECTING -> OPEN.
func (s *Session) Open() bool {
	return s.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// Close moves the session to CLOSED and reports whether this call did it.
func (s *Session) Close() bool {
	for {
		cur := s.state.Load()
		if SessionState(cur) == StateClosed {
			return false
		}
		if s.state.CompareAndSwap(cur, int32(StateClosed)) {
			return true
		}
	}
}
