package signal

import (
	"time"

	"github.com/dkeye/CallRelay/internal/app"
	"github.com/dkeye/CallRelay/internal/core"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"
)

func (ctl *SignalWSController) writePump(sess *core.Session, c *WsSignalConn, ws *websocket.Conn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		_ = ws.Close()
	}()

	for {
		select {
		case <-ctl.ctx.Done():
			log.Info().Str("module", "signal").Str("sid", string(sess.ID())).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(ctl.opts.WriteWait))
			if !ok {
				_ = ws.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("writePump write error")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(ctl.opts.WriteWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("sid", string(sess.ID())).Msg("writePump ping failed")
				return
			}
		}
	}
}

func (ctl *SignalWSController) readPump(room *app.Room, sess *core.Session, ws *websocket.Conn) {
	sid := string(sess.ID())
	defer func() {
		log.Info().Str("module", "signal").Str("sid", sid).Msg("readPump closing")
		room.Leave(sess)
	}()

	ws.SetReadLimit(ctl.opts.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(ctl.opts.PongWait))
	})
	limiter := rate.NewLimiter(ctl.opts.MessageRate, ctl.opts.MessageBurst)

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "signal").Str("sid", sid).Msg("readPump read error")
			}
			return
		}
		if !limiter.Allow() {
			log.Warn().Str("module", "signal").Str("sid", sid).Msg("message rate exceeded, frame dropped")
			continue
		}
		if err := room.Relay(ctl.ctx, sess, core.Frame(data)); err != nil {
			return
		}
	}
}
