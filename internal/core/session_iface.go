package core

import (
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/google/uuid"
)

type SessionID string

func NewSessionID() SessionID { return SessionID(uuid.NewString()) }

// SessionState is the lifecycle of one admitted connection.
type SessionState int32

const (
	StateConnecting SessionState = iota
	StateOpen
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

// MemberSession binds domain.Member and its transport endpoint.
// This is what a room stores and fans out to.
type MemberSession interface {
	ID() SessionID
	RoomKey() domain.RoomKey
	Meta() *domain.Member
	Signal() SignalConnection
	State() SessionState
}
