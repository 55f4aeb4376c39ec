package client

import "time"

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateFailed
	StateReconnectScheduled
	StateGivenUp
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	case StateReconnectScheduled:
		return "reconnect_scheduled"
	case StateGivenUp:
		return "given_up"
	case StateStopped:
		return "stopped"
	}
	return "unknown"
}

// Listener receives engine events. Callbacks run on engine goroutines and
// must not block for long.
type Listener interface {
	OnOpen()
	OnMessage(raw []byte)
	OnClosed()
	OnError(err error)
	OnReconnecting(attempt int, delay time.Duration)
	OnReconnectFailed()
}

// NopListener can be embedded to implement only some callbacks.
type NopListener struct{}

func (NopListener) OnOpen()                           {}
func (NopListener) OnMessage([]byte)                  {}
func (NopListener) OnClosed()                         {}
func (NopListener) OnError(error)                     {}
func (NopListener) OnReconnecting(int, time.Duration) {}
func (NopListener) OnReconnectFailed()                {}
