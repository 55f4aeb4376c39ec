package domain

// Member represents a connection's participation meta for a room.
// No transport or lifecycle logic here.
type Member struct {
	UserID UserID `json:"userId"`
	Role   Role   `json:"role"`
	Mode   Mode   `json:"mode"`
}

// NewMember avoids raw literals in adapters and keeps construction obvious.
func NewMember(c Capability, mode Mode) *Member {
	return &Member{UserID: c.UserID, Role: c.Role, Mode: mode}
}

func (m *Member) IsObserver() bool { return m.Mode == ModeObserver }

// Side is the ownership slot a participant claims.
func (m *Member) Side() Side { return SideOf(m.Role) }
