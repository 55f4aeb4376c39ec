// Package client keeps a participant connected to a call: identify on
// open, heartbeat while open, jittered exponential reconnect otherwise.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/CallRelay/internal/domain"
	"github.com/dkeye/CallRelay/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultRestoreDebounce   = 10 * time.Second
	DefaultDialTimeout       = 10 * time.Second
)

var ErrNotOpen = errors.New("connection not open")

type Config struct {
	// Host is "host[:port]" or a URL with http, https, ws or wss scheme.
	// A bare host means wss.
	Host        string
	Role        domain.Role
	DisplayName string

	Backoff           Backoff
	HeartbeatInterval time.Duration
	RestoreDebounce   time.Duration
	DialTimeout       time.Duration
	Dialer            Dialer
}

func (c *Config) setDefaults() {
	if c.Backoff.Base <= 0 {
		c.Backoff = DefaultBackoff()
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.RestoreDebounce <= 0 {
		c.RestoreDebounce = DefaultRestoreDebounce
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = DefaultDialTimeout
	}
	if c.Dialer == nil {
		c.Dialer = NewWSDialer(c.DialTimeout)
	}
}

type params struct {
	roomKey string
	token   string
	mode    domain.Mode
}

// Engine owns one outbound call connection. Every timer and goroutine is
// tagged with the generation it was started in; anything from an older
// generation is ignored.
type Engine struct {
	cfg      Config
	listener Listener

	mu          sync.Mutex
	state       State
	gen         uint64
	params      *params
	attempts    int
	conn        Conn
	retry       *time.Timer
	beat        chan struct{}
	lastRestore time.Time

	// writeMu serialises writes and makes Disconnect wait for in-flight ones.
	writeMu sync.Mutex
}

func NewEngine(cfg Config, l Listener) *Engine {
	cfg.setDefaults()
	if l == nil {
		l = NopListener{}
	}
	return &Engine{cfg: cfg, listener: l}
}

func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// Attempts is the current reconnect attempt counter.
func (e *Engine) Attempts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attempts
}

// Connect stores the call parameters and dials. A previous connection is
// dropped without triggering a reconnect.
func (e *Engine) Connect(roomKey, token string, mode domain.Mode) {
	e.mu.Lock()
	old := e.resetLocked()
	e.params = &params{roomKey: roomKey, token: token, mode: mode}
	e.attempts = 0
	e.state = StateConnecting
	g := e.gen
	e.mu.Unlock()

	e.closeConn(old)
	go e.dial(g)
}

// Disconnect stops everything. Once it returns nothing else is written and
// no reconnect will happen.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	old := e.resetLocked()
	e.params = nil
	e.state = StateStopped
	e.mu.Unlock()

	e.closeConn(old)
	log.Info().Str("module", "client").Msg("disconnected")
}

// NetworkRestored fires a scheduled retry now. Calls within the debounce
// window of the last accepted one are ignored.
func (e *Engine) NetworkRestored() {
	e.mu.Lock()
	now := time.Now()
	if e.state != StateReconnectScheduled || now.Sub(e.lastRestore) < e.cfg.RestoreDebounce {
		e.mu.Unlock()
		return
	}
	e.lastRestore = now
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	g := e.gen
	e.mu.Unlock()

	log.Info().Str("module", "client").Msg("network restored, retrying now")
	go e.fire(g)
}

// Send marshals v and writes it if the connection is open.
func (e *Engine) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	e.mu.Lock()
	g := e.gen
	e.mu.Unlock()
	return e.write(g, data)
}

// resetLocked bumps the generation, stops timers and detaches the conn.
func (e *Engine) resetLocked() Conn {
	e.gen++
	if e.retry != nil {
		e.retry.Stop()
		e.retry = nil
	}
	e.stopHeartbeatLocked()
	c := e.conn
	e.conn = nil
	return c
}

func (e *Engine) closeConn(c Conn) {
	if c == nil {
		return
	}
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	_ = c.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "client disconnected"))
	_ = c.Close()
}

func (e *Engine) write(g uint64, data []byte) error {
	e.writeMu.Lock()
	defer e.writeMu.Unlock()
	e.mu.Lock()
	if g != e.gen || e.state != StateOpen || e.conn == nil {
		e.mu.Unlock()
		return ErrNotOpen
	}
	c := e.conn
	e.mu.Unlock()
	return c.WriteMessage(websocket.TextMessage, data)
}

func (e *Engine) callURL(p *params) string {
	host := e.cfg.Host
	scheme := "wss"
	if i := strings.Index(host, "://"); i >= 0 {
		switch host[:i] {
		case "http", "ws":
			scheme = "ws"
		}
		host = host[i+3:]
	}
	host = strings.TrimSuffix(host, "/")
	q := url.Values{}
	q.Set("token", p.token)
	q.Set("mode", string(p.mode))
	u := url.URL{Scheme: scheme, Host: host, Path: "/call/" + p.roomKey, RawQuery: q.Encode()}
	return u.String()
}

func (e *Engine) dial(g uint64) {
	e.mu.Lock()
	if g != e.gen {
		e.mu.Unlock()
		return
	}
	p := e.params
	e.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.DialTimeout)
	conn, err := e.cfg.Dialer.Dial(ctx, e.callURL(p))
	cancel()

	e.mu.Lock()
	if g != e.gen {
		e.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return
	}
	if err != nil {
		e.failLocked(g, err)
		return
	}
	e.conn = conn
	e.state = StateOpen
	e.attempts = 0
	mode := p.mode
	e.mu.Unlock()

	log.Info().Str("module", "client").Str("room", p.roomKey).Str("mode", string(mode)).Msg("connected")
	e.listener.OnOpen()
	if err := e.sendGen(g, protocol.NewIdentify(e.cfg.Role, mode, e.cfg.DisplayName)); err != nil {
		log.Warn().Err(err).Str("module", "client").Msg("identify not sent")
	}

	e.mu.Lock()
	if g == e.gen && e.state == StateOpen {
		e.startHeartbeatLocked(g)
	}
	e.mu.Unlock()
	go e.readLoop(g, conn)
}

// failLocked handles a failed dial. It releases e.mu.
func (e *Engine) failLocked(g uint64, err error) {
	if domain.Terminal(err) {
		e.params = nil
		e.state = StateGivenUp
		e.mu.Unlock()
		log.Warn().Err(err).Str("module", "client").Msg("connect rejected, giving up")
		e.listener.OnError(err)
		return
	}
	e.state = StateFailed
	e.mu.Unlock()
	log.Warn().Err(err).Str("module", "client").Msg("connect failed")
	e.listener.OnError(err)
	e.schedule(g)
}

func (e *Engine) readLoop(g uint64, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			e.mu.Lock()
			if g != e.gen {
				e.mu.Unlock()
				return
			}
			e.state = StateClosing
			e.conn = nil
			e.stopHeartbeatLocked()
			e.mu.Unlock()

			_ = conn.Close()
			log.Info().Err(err).Str("module", "client").Msg("connection closed")
			e.listener.OnClosed()
			e.schedule(g)
			return
		}
		e.listener.OnMessage(data)
	}
}

// schedule arms the next retry, or gives up when there is nothing to
// reconnect to.
func (e *Engine) schedule(g uint64) {
	e.mu.Lock()
	if g != e.gen || e.state == StateStopped || e.state == StateGivenUp || e.state == StateReconnectScheduled {
		e.mu.Unlock()
		return
	}
	if e.params == nil || e.params.roomKey == "" || e.params.token == "" {
		e.params = nil
		e.state = StateGivenUp
		e.gen++
		e.mu.Unlock()
		log.Warn().Str("module", "client").Msg("no room or token to reconnect with")
		e.listener.OnReconnectFailed()
		return
	}

	var delay time.Duration
	b := e.cfg.Backoff
	if e.attempts >= b.MaxAttempts {
		e.attempts = b.MaxAttempts - 2
		delay = b.LongDelay
	} else {
		e.attempts++
		delay = b.Delay(e.attempts)
	}
	attempt := e.attempts
	e.gen++
	next := e.gen
	e.state = StateReconnectScheduled
	e.retry = time.AfterFunc(delay, func() { e.fire(next) })
	e.mu.Unlock()

	log.Info().Str("module", "client").Int("attempt", attempt).Dur("delay", delay).Msg("reconnect scheduled")
	e.listener.OnReconnecting(attempt, delay)
}

func (e *Engine) fire(g uint64) {
	e.mu.Lock()
	if g != e.gen || e.state != StateReconnectScheduled {
		e.mu.Unlock()
		return
	}
	e.retry = nil
	if e.params == nil || e.params.roomKey == "" || e.params.token == "" {
		e.params = nil
		e.state = StateGivenUp
		e.gen++
		e.mu.Unlock()
		e.listener.OnReconnectFailed()
		return
	}
	e.state = StateConnecting
	e.mu.Unlock()
	e.dial(g)
}

func (e *Engine) sendGen(g uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return e.write(g, data)
}

func (e *Engine) startHeartbeatLocked(g uint64) {
	e.stopHeartbeatLocked()
	stop := make(chan struct{})
	e.beat = stop
	interval := e.cfg.HeartbeatInterval
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-stop:
				return
			case now := <-t.C:
				if err := e.sendGen(g, protocol.NewPing(now)); err != nil {
					return
				}
			}
		}
	}()
}

func (e *Engine) stopHeartbeatLocked() {
	if e.beat != nil {
		close(e.beat)
		e.beat = nil
	}
}
