package app

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dkeye/CallRelay/internal/adapters/store"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/stretchr/testify/require"
)

const wait = 2 * time.Second

type fakeConn struct {
	mu     sync.Mutex
	frames []core.Frame
	closed bool
	full   bool
}

func (c *fakeConn) TrySend(f core.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("closed")
	}
	if c.full {
		return errors.New("backpressure")
	}
	c.frames = append(c.frames, f)
	return nil
}

func (c *fakeConn) Close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeConn) got() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.frames))
	for _, f := range c.frames {
		out = append(out, string(f))
	}
	return out
}

// recHooks records persistence calls synchronously.
type recHooks struct {
	mu     sync.Mutex
	starts []domain.UserID
	ends   int
	msgs   []string
}

func (h *recHooks) LogCallStart(_ context.Context, _ domain.RoomKey, _ string, agentID domain.UserID) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.starts = append(h.starts, agentID)
	return nil
}

func (h *recHooks) LogCallEnd(context.Context, domain.RoomKey) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ends++
	return nil
}

func (h *recHooks) LogMessage(_ context.Context, _ domain.RoomKey, _ domain.UserID, content string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.msgs = append(h.msgs, content)
	return nil
}

func (h *recHooks) snapshot() (starts []domain.UserID, ends int, msgs []string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]domain.UserID(nil), h.starts...), h.ends, append([]string(nil), h.msgs...)
}

type fixture struct {
	t     *testing.T
	rooms *RoomManager
	hooks *recHooks
	store *store.CallStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	hooks := &recHooks{}
	rooms := NewRoomManager(NewClaimArbiter(s, hooks, time.Second), hooks, SimplePolicy{}, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = rooms.Shutdown(ctx)
		_ = s.Close()
	})
	return &fixture{t: t, rooms: rooms, hooks: hooks, store: s}
}

type peer struct {
	s    *core.Session
	conn *fakeConn
	room *Room
}

func (f *fixture) join(user string, role domain.Role, mode domain.Mode) (*peer, error) {
	conn := &fakeConn{}
	s := core.NewSession(testKey, member(user, role, mode), conn)
	r, err := f.rooms.Join(context.Background(), s)
	if err != nil {
		return nil, err
	}
	r.Opened(s)
	require.Eventually(f.t, func() bool { return s.State() == core.StateOpen }, wait, time.Millisecond)
	return &peer{s: s, conn: conn, room: r}, nil
}

func (f *fixture) mustJoin(user string, role domain.Role, mode domain.Mode) *peer {
	p, err := f.join(user, role, mode)
	require.NoError(f.t, err)
	return p
}

func (p *peer) send(t *testing.T, raw string) {
	require.NoError(t, p.room.Relay(context.Background(), p.s, core.Frame(raw)))
}

func eventuallyGot(t *testing.T, c *fakeConn, n int) []string {
	t.Helper()
	require.Eventually(t, func() bool { return len(c.got()) >= n }, wait, time.Millisecond)
	return c.got()
}

func peerLeft(user string, role domain.Role) string {
	b, _ := json.Marshal(map[string]string{"type": "system", "action": "peer_left", "userId": user, "role": string(role)})
	return string(b)
}

func TestRelayIsReflectionFree(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)

	offer := `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"}}`
	v.send(t, offer)

	req.Equal([]string{offer}, eventuallyGot(t, a.conn, 1))
	req.Equal([]string{offer}, eventuallyGot(t, sup.conn, 1))

	// a round trip from the agent proves the visitor's own frame was never queued
	answer := `{"type":"answer","sdp":{"type":"answer","sdp":"v=0"}}`
	a.send(t, answer)
	req.Equal([]string{answer}, eventuallyGot(t, v.conn, 1))
}

func TestFirstAgentStartsCallOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	a.room.Leave(a.s)
	f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	starts, _, _ := f.hooks.snapshot()
	req.Equal([]domain.UserID{"agent-a"}, starts)
}

func TestConflictingOwnerAndSameIdentity(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	_, err := f.join("agent-b", domain.RoleAgent, domain.ModeParticipant)
	req.ErrorIs(err, domain.ErrConflictingOwner)

	// a second connection of the owner is fine
	f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	// observers are never arbitrated
	f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)

	r, ok := f.rooms.Get(testKey)
	req.True(ok)
	req.Equal(3, r.Registry().MemberCount())
}

func TestCallEndFiresExactlyOnce(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)

	a.room.Leave(a.s)
	req.Equal([]string{peerLeft("agent-a", domain.RoleAgent)}, eventuallyGot(t, v.conn, 1))
	_, ends, _ := f.hooks.snapshot()
	req.Equal(0, ends)

	v.room.Leave(v.s)
	v.room.Leave(v.s)
	eventuallyGot(t, sup.conn, 2)
	req.Eventually(func() bool { _, e, _ := f.hooks.snapshot(); return e == 1 }, wait, time.Millisecond)

	sup.room.Leave(sup.s)
	require.Eventually(t, func() bool { return len(f.rooms.List()) == 0 }, wait, time.Millisecond)
	_, ends, _ = f.hooks.snapshot()
	req.Equal(1, ends)
	req.True(v.conn.isClosed())
}

func TestObserverLeavingNeverEndsCall(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)
	sup.room.Leave(sup.s)
	require.Eventually(t, func() bool { return len(f.rooms.List()) == 0 }, wait, time.Millisecond)
	_, ends, _ := f.hooks.snapshot()
	req.Equal(0, ends)
}

func TestChatAuditSkipsObservers(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)

	v.send(t, `{"type":"chat","text":"hello"}`)
	sup.send(t, `{"type":"chat","text":"psst"}`)

	req.Equal([]string{`{"type":"chat","text":"hello"}`}, eventuallyGot(t, sup.conn, 1))
	req.Equal([]string{`{"type":"chat","text":"psst"}`}, eventuallyGot(t, v.conn, 1))
	_, _, msgs := f.hooks.snapshot()
	req.Equal([]string{"hello"}, msgs)
}

func TestPingIsAnsweredNotRelayed(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	v.send(t, `{"type":"ping","timestamp":1}`)
	v.send(t, `not json`)
	a.send(t, `{"type":"chat","text":"after"}`)

	req.Equal([]string{`{"type":"pong"}`, `{"type":"chat","text":"after"}`}, eventuallyGot(t, v.conn, 2))
	req.Empty(a.conn.got())
}

func TestHangupRelaysThenLeaves(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	a.send(t, `{"type":"hangup"}`)
	req.Equal([]string{`{"type":"hangup"}`, peerLeft("agent-a", domain.RoleAgent)}, eventuallyGot(t, v.conn, 2))
	req.Eventually(a.conn.isClosed, wait, time.Millisecond)
	req.Equal(core.StateClosed, a.s.State())

	// frames after hangup go nowhere
	a.send(t, `{"type":"chat","text":"ghost"}`)
	v.send(t, `{"type":"ping"}`)
	eventuallyGot(t, v.conn, 3)
	req.Len(v.conn.got(), 3)
}

func TestSlowSessionIsKicked(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)
	sup.conn.mu.Lock()
	sup.conn.full = true
	sup.conn.mu.Unlock()

	v.send(t, `{"type":"candidate","candidate":"c"}`)
	req.Equal([]string{`{"type":"candidate","candidate":"c"}`, peerLeft("sup", domain.RoleSupervisor)}, eventuallyGot(t, a.conn, 2))
	req.True(sup.conn.isClosed())
	req.Equal([]string{peerLeft("sup", domain.RoleSupervisor)}, eventuallyGot(t, v.conn, 1))
}

type stuckHooks struct {
	release chan struct{}
}

func (h stuckHooks) LogCallStart(ctx context.Context, _ domain.RoomKey, _ string, _ domain.UserID) error {
	<-h.release
	return errors.New("db down")
}
func (h stuckHooks) LogCallEnd(context.Context, domain.RoomKey) error { <-h.release; return errors.New("db down") }
func (h stuckHooks) LogMessage(context.Context, domain.RoomKey, domain.UserID, string) error {
	<-h.release
	return errors.New("db down")
}

func TestFailingHooksDoNotBlockRelay(t *testing.T) {
	req := require.New(t)
	s, err := store.Open("")
	req.NoError(err)
	defer s.Close()

	stuck := stuckHooks{release: make(chan struct{})}
	hooks := NewAsyncHooks(stuck, time.Minute)
	rooms := NewRoomManager(NewClaimArbiter(s, hooks, time.Second), hooks, nil, 0)
	f := &fixture{t: t, rooms: rooms, store: s}

	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	v.send(t, `{"type":"chat","text":"one"}`)
	v.send(t, `{"type":"chat","text":"two"}`)
	req.Len(eventuallyGot(t, a.conn, 2), 2)

	close(stuck.release)
	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	req.NoError(rooms.Shutdown(ctx))
	hooks.Wait()
}

func TestManagerRetiresAndRestartsRooms(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	empty := func() bool { return len(f.rooms.List()) == 0 }

	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	req.Equal(1, len(f.rooms.List()))
	a.room.Leave(a.s)
	req.Eventually(empty, wait, time.Millisecond)
	req.Eventually(func() bool { return isDone(a.room) }, wait, time.Millisecond)

	// the claim outlives the room, and a rejected admission leaves nothing behind
	_, err := f.join("agent-b", domain.RoleAgent, domain.ModeParticipant)
	req.ErrorIs(err, domain.ErrConflictingOwner)
	req.Eventually(empty, wait, time.Millisecond)

	again := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)
	req.NotSame(a.room, again.room)
	rooms := f.rooms.List()
	req.Len(rooms, 1)
	req.Equal(testKey, rooms[0].Key)
	req.Equal(1, rooms[0].MemberCount)

	ctx, cancel := context.WithTimeout(context.Background(), wait)
	defer cancel()
	req.NoError(f.rooms.Shutdown(ctx))
	req.True(again.conn.isClosed())
	_, err = f.rooms.Acquire(testKey)
	req.ErrorIs(err, ErrRoomClosed)
}

func isDone(r *Room) bool {
	select {
	case <-r.Done():
		return true
	default:
		return false
	}
}

func TestEvictClosesEveryone(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	req.True(f.rooms.Evict(testKey))
	req.Eventually(func() bool { return v.conn.isClosed() && a.conn.isClosed() }, wait, time.Millisecond)
	req.Eventually(func() bool { return len(f.rooms.List()) == 0 }, wait, time.Millisecond)
	req.False(f.rooms.Evict(testKey))
	_, ends, _ := f.hooks.snapshot()
	req.Equal(1, ends)
}

func TestRelayIgnoresFieldTypesAndDropsUntyped(t *testing.T) {
	req := require.New(t)
	f := newFixture(t)
	v := f.mustJoin("visitor-1", domain.RoleVisitor, domain.ModeParticipant)
	a := f.mustJoin("agent-a", domain.RoleAgent, domain.ModeParticipant)

	offer := `{"type":"offer","sdp":{"type":"offer","sdp":"v=0"},"text":{"nested":true}}`
	v.send(t, offer)
	v.send(t, `{"foo":"bar"}`)
	v.send(t, `{"type":7}`)
	v.send(t, `{"type":"chat","text":123}`)

	req.Equal([]string{offer, `{"type":"chat","text":123}`}, eventuallyGot(t, a.conn, 2))
	req.Eventually(func() bool { _, _, m := f.hooks.snapshot(); return len(m) == 1 }, wait, time.Millisecond)
	_, _, msgs := f.hooks.snapshot()
	req.Equal([]string{"123"}, msgs)
}

// stallStore finishes Claim only after the caller has stopped waiting.
type stallStore struct {
	*store.CallStore
	stall time.Duration
}

func (s stallStore) Claim(_ context.Context, key domain.RoomKey, side domain.Side, user domain.UserID) (bool, error) {
	time.Sleep(s.stall)
	return s.CallStore.Claim(context.Background(), key, side, user)
}

func TestTimedOutAdmissionIsUndoneSilently(t *testing.T) {
	req := require.New(t)
	s, err := store.Open("")
	req.NoError(err)
	hooks := &recHooks{}
	rooms := NewRoomManager(NewClaimArbiter(stallStore{CallStore: s, stall: 300 * time.Millisecond}, hooks, time.Second), hooks, SimplePolicy{}, 16)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), wait)
		defer cancel()
		_ = rooms.Shutdown(ctx)
		_ = s.Close()
	})
	f := &fixture{t: t, rooms: rooms, hooks: hooks, store: s}
	sup := f.mustJoin("sup", domain.RoleSupervisor, domain.ModeObserver)

	conn := &fakeConn{}
	late := core.NewSession(testKey, member("agent-a", domain.RoleAgent, domain.ModeParticipant), conn)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = rooms.Join(ctx, late)
	req.ErrorIs(err, context.DeadlineExceeded)

	// the claim still lands, then the admission is rolled back
	req.Eventually(func() bool { st, _, _ := hooks.snapshot(); return len(st) == 1 }, wait, time.Millisecond)
	req.Eventually(conn.isClosed, wait, time.Millisecond)
	req.Equal(1, sup.room.Registry().MemberCount())

	sup.send(t, `{"type":"ping"}`)
	req.Equal([]string{`{"type":"pong"}`}, eventuallyGot(t, sup.conn, 1))
	req.Len(sup.conn.got(), 1)
	_, ends, _ := hooks.snapshot()
	req.Equal(0, ends)
	req.Equal(core.StateClosed, late.State())
}
