package signal

import (
	"context"
	"time"

	"github.com/dkeye/Dialtone/internal/app"
	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *SignalWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Str("conn", string(c.ID())).Msg("writePump ctx done")
			return
		case data, ok := <-c.send:
			if !ok {
				_ = c.conn.WriteControl(websocket.CloseMessage, nil, time.Now().Add(writeWait))
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.ID())).Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Str("conn", string(c.ID())).Msg("ping failed")
				c.Close()
				return
			}
		}
	}
}

// readPump owns the connection lifetime: when it returns the user is
// unregistered and their calls are ended on the other side.
func (ctl *SignalWSController) readPump(ctx context.Context, cancel context.CancelFunc, user domain.UserID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("user", string(user)).Str("conn", string(c.ID())).Msg("readPump closing")
		c.Close()
		cancel()
		ctl.Relay.Disconnect(user, c.ID())
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(ctx, user, c, data)
	}
}

func (ctl *SignalWSController) handleSignal(ctx context.Context, user domain.UserID, c *WsSignalConn, data []byte) {
	msg, err := protocol.Decode(data)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("user", string(user)).Msg("bad message")
		ctl.sendJSON(c, protocol.ErrorMessage("bad_payload"))
		return
	}

	switch {
	case msg.Type == protocol.KindPing:
		ctl.handlePing(c)
	case msg.Type == protocol.KindPresence:
		ctl.handlePresence(ctx, c, msg)
	case msg.Type == protocol.KindStartCall:
		ctl.handleStartCall(user, c, msg)
	case msg.Type.IsControl(), msg.Type.IsNegotiation():
		ctl.route(user, c, msg)
	default:
		log.Warn().Str("module", "signal").Str("user", string(user)).Str("kind", string(msg.Type)).Msg("unknown signal")
		ctl.sendJSON(c, protocol.ErrorMessage("unknown_type"))
	}
}

func (ctl *SignalWSController) route(user domain.UserID, c *WsSignalConn, msg *protocol.Message) {
	if out := ctl.Relay.Route(user, msg); out == app.OutcomeInvalid {
		resp := protocol.ErrorMessage("invalid_message")
		resp.RoomID = msg.RoomID
		ctl.sendJSON(c, resp)
	}
}

func (ctl *SignalWSController) sendJSON(c *WsSignalConn, m *protocol.Message) {
	b, err := protocol.Encode(m)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendJSON marshal")
		return
	}
	if err := c.TrySend(b); err != nil {
		log.Debug().Err(err).Str("module", "signal").Str("conn", string(c.ID())).Msg("reply dropped")
	}
}
