// Package signal is the WebSocket edge of a call: admission before the
// upgrade, then read and write pumps feeding the room coordinator.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit    int64
	PingPeriod   time.Duration
	PongWait     time.Duration
	WriteWait    time.Duration
	SendBuffer   int
	ClaimTimeout time.Duration
	MessageRate  rate.Limit
	MessageBurst int
}

func DefaultOptions() Options {
	return Options{
		ReadLimit:    32768,
		PingPeriod:   54 * time.Second,
		PongWait:     60 * time.Second,
		WriteWait:    5 * time.Second,
		SendBuffer:   32,
		ClaimTimeout: app.DefaultClaimTimeout,
		MessageRate:  50,
		MessageBurst: 100,
	}
}

type SignalWSController struct {
	ctx   context.Context
	gate  *app.AccessGate
	rooms *app.RoomManager
	joins *JoinLimiter
	opts  Options
}

// NewSignalWSController serves calls until ctx is done. joins may be nil.
func NewSignalWSController(ctx context.Context, gate *app.AccessGate, rooms *app.RoomManager, joins *JoinLimiter, opts Options) *SignalWSController {
	return &SignalWSController{ctx: ctx, gate: gate, rooms: rooms, joins: joins, opts: opts}
}

// WsSignalConn queues frames for the write pump. It is usable before the
// socket exists so a session can be admitted ahead of the upgrade.
type WsSignalConn struct {
	send chan core.Frame

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool
}

func NewWsSignalConn(buffer int) *WsSignalConn {
	return &WsSignalConn{send: make(chan core.Frame, buffer)}
}

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

// Close stops accepting frames; the write pump flushes what is queued and
// then closes the socket.
func (c *WsSignalConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	if c.conn == nil {
		return
	}
	// unblock a reader that is parked in ReadMessage
	_ = c.conn.SetReadDeadline(time.Now())
}

// attach binds the upgraded socket; false if Close already happened.
func (c *WsSignalConn) attach(ws *websocket.Conn) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn = ws
	return !c.closed
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Bearer pulls the capability token from ?token= or Authorization.
func Bearer(c *gin.Context) string {
	if t := c.Query("token"); t != "" {
		return t
	}
	h := c.GetHeader("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return ""
}

// HandleCall serves GET /call/:roomKey.
func (ctl *SignalWSController) HandleCall(c *gin.Context) {
	if !websocket.IsWebSocketUpgrade(c.Request) {
		c.String(http.StatusUpgradeRequired, "Expected WebSocket")
		return
	}
	rawKey := c.Param("roomKey")
	mode, err := domain.ParseMode(c.Query("mode"))
	if err != nil {
		log.Warn().Str("module", "signal").Str("mode", c.Query("mode")).Msg("unknown mode, joining as participant")
		mode = domain.ModeParticipant
	}

	capab, key, err := ctl.gate.Authorize(c.Request.Context(), Bearer(c), rawKey, mode)
	if err != nil {
		reject(c, err)
		return
	}
	if ctl.joins != nil && !ctl.joins.Allow(capab.UserID) {
		reject(c, domain.NewError(domain.CodeRateLimited, domain.ErrRateLimited))
		return
	}

	conn := NewWsSignalConn(ctl.opts.SendBuffer)
	sess := core.NewSession(key, domain.NewMember(capab, mode), conn)

	ctx, cancel := context.WithTimeout(c.Request.Context(), ctl.opts.ClaimTimeout)
	room, err := ctl.rooms.Join(ctx, sess)
	cancel()
	if err != nil {
		reject(c, err)
		return
	}

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("ws upgrade")
		room.Abandon(sess)
		return
	}
	if !conn.attach(ws) {
		_ = ws.Close()
		room.Abandon(sess)
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Str("room", string(key)).
		Str("user", string(capab.UserID)).Str("mode", string(mode)).Msg("new WS connection")

	room.Opened(sess)
	go ctl.writePump(sess, conn, ws)
	go ctl.readPump(room, sess, ws)
}
