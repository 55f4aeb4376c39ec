package domain

import "time"

// Side is one of the two ownership slots of a call.
type Side string

const (
	SideAgent   Side = "agent"
	SideVisitor Side = "visitor"
)

// SideOf maps a role onto the slot it competes for.
func SideOf(r Role) Side {
	if r == RoleVisitor {
		return SideVisitor
	}
	return SideAgent
}

// CallRecord is the durable record of one call.
type CallRecord struct {
	RoomKey   RoomKey    `json:"roomKey"`
	DomainID  string     `json:"domainId"`
	AgentID   *UserID    `json:"agentId,omitempty"`
	VisitorID *UserID    `json:"visitorId,omitempty"`
	StartTime time.Time  `json:"startTime"`
	EndTime   *time.Time `json:"endTime,omitempty"`
}

// Owner returns the identity bound to side, if any.
func (r CallRecord) Owner(side Side) (UserID, bool) {
	var p *UserID
	switch side {
	case SideAgent:
		p = r.AgentID
	case SideVisitor:
		p = r.VisitorID
	}
	if p == nil || *p == "" {
		return "", false
	}
	return *p, true
}

// ChatAuditRecord is appended once per chat message from a non-observer.
type ChatAuditRecord struct {
	ID        string    `json:"id"`
	RoomKey   RoomKey   `json:"roomKey"`
	SenderID  UserID    `json:"senderId"`
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
}
