package signal

import (
	"context"

	"github.com/dkeye/Dialtone/internal/domain"
	"github.com/dkeye/Dialtone/internal/protocol"
	"github.com/rs/zerolog/log"
)

func (ctl *SignalWSController) handlePing(conn *WsSignalConn) {
	ctl.sendJSON(conn, &protocol.Message{Type: protocol.KindPong})
}

func (ctl *SignalWSController) handlePresence(ctx context.Context, conn *WsSignalConn, msg *protocol.Message) {
	user, err := domain.ParseUserID(string(msg.UserID))
	if err != nil {
		ctl.sendJSON(conn, protocol.ErrorMessage("bad_user_id"))
		return
	}
	ctl.sendJSON(conn, protocol.PresenceMessage(ctl.Relay.StatusOf(ctx, user)))
}

func (ctl *SignalWSController) handleStartCall(user domain.UserID, conn *WsSignalConn, msg *protocol.Message) {
	if ctl.Limiter != nil && !ctl.Limiter.Allow(user) {
		ctl.Metrics.RateLimited()
		log.Warn().Str("module", "signal").Str("user", string(user)).Str("room_id", string(msg.RoomID)).Msg("start-call rate limited")
		resp := protocol.ErrorMessage("rate_limited")
		resp.RoomID = msg.RoomID
		ctl.sendJSON(conn, resp)
		return
	}
	ctl.route(user, conn, msg)
}
