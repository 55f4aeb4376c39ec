package core

import (
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recConn struct {
	mu     sync.Mutex
	frames []Frame
	full   bool
}

func (c *recConn) TrySend(f Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.full {
		return errors.New("full")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *recConn) Close() {}

func (c *recConn) got() []Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Frame(nil), c.frames...)
}

func openSession(t *testing.T, user string, role domain.Role, mode domain.Mode) (*Session, *recConn) {
	t.Helper()
	conn := &recConn{}
	s := NewSession("acme__s1", &domain.Member{UserID: domain.UserID(user), Role: role, Mode: mode}, conn)
	require.True(t, s.Open())
	return s, conn
}

func TestRegistryBroadcastSkipsSender(t *testing.T) {
	req := require.New(t)
	reg := NewRegistry("acme__s1")
	v, vc := openSession(t, "v", domain.RoleVisitor, domain.ModeParticipant)
	a, ac := openSession(t, "a", domain.RoleAgent, domain.ModeParticipant)
	su, suc := openSession(t, "su", domain.RoleSupervisor, domain.ModeObserver)
	reg.AddMember(v)
	reg.AddMember(a)
	reg.AddMember(su)

	res := reg.Broadcast(v.ID(), Frame(`{"type":"offer"}`))
	req.Equal(2, res.SendTo)
	req.Empty(res.Dropped)
	req.Empty(vc.got())
	req.Len(ac.got(), 1)
	req.Len(suc.got(), 1)
	req.Equal(`{"type":"offer"}`, string(ac.got()[0]))
}

func TestRegistryBroadcastSkipsClosedAndReportsDropped(t *testing.T) {
	reg := NewRegistry("acme__s1")
	v, _ := openSession(t, "v", domain.RoleVisitor, domain.ModeParticipant)
	a, ac := openSession(t, "a", domain.RoleAgent, domain.ModeParticipant)
	slow, sc := openSession(t, "slow", domain.RoleSupervisor, domain.ModeObserver)
	sc.full = true
	reg.AddMember(v)
	reg.AddMember(a)
	reg.AddMember(slow)

	require.True(t, a.Close())
	require.False(t, a.Close())

	res := reg.Broadcast(v.ID(), Frame("x"))
	assert.Equal(t, 0, res.SendTo)
	require.Len(t, res.Dropped, 1)
	assert.Equal(t, slow.ID(), res.Dropped[0].ID())
	assert.Empty(t, ac.got())
}

func TestRegistryParticipantsAndRemove(t *testing.T) {
	reg := NewRegistry("acme__s1")
	v, _ := openSession(t, "v", domain.RoleVisitor, domain.ModeParticipant)
	su, _ := openSession(t, "su", domain.RoleSupervisor, domain.ModeObserver)
	reg.AddMember(v)
	reg.AddMember(su)
	assert.Equal(t, 1, reg.Participants())
	assert.Equal(t, 2, reg.MemberCount())

	_, ok := reg.RemoveMember(v.ID())
	assert.True(t, ok)
	_, ok = reg.RemoveMember(v.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, reg.Participants())

	snap := reg.MembersSnapshot()
	require.Len(t, snap, 1)
	assert.Equal(t, domain.ModeObserver, snap[0].Mode)
}
