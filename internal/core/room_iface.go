package core

import (
	"github.com/dkeye/CallRelay/internal/domain"
)

// PublishResult reports delivery stats/backpressure to the coordinator.
type PublishResult struct {
	SendTo  int
	Dropped []MemberSession
}

// MemberDTO is a read-only view for APIs (no transport fields).
type MemberDTO struct {
	SessionID SessionID     `json:"sessionId"`
	UserID    domain.UserID `json:"userId"`
	Role      domain.Role   `json:"role"`
	Mode      domain.Mode   `json:"mode"`
}

type RoomInfo struct {
	Key         domain.RoomKey `json:"key"`
	MemberCount int            `json:"client_count"`
}
