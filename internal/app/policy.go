package app

import "github.com/dkeye/CallRelay/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	MarkSlow
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose send buffer is full.
type Policy interface {
	OnBackPressure(room *core.Registry, member core.MemberSession) BackpressureAction
}

type SimplePolicy struct{}

func (SimplePolicy) OnBackPressure(room *core.Registry, member core.MemberSession) BackpressureAction {
	return KickMember
}

// TolerantPolicy drops frames for observers and kicks slow participants.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(room *core.Registry, member core.MemberSession) BackpressureAction {
	if member.Meta().IsObserver() {
		return DropFrame
	}
	return KickMember
}
