package gateway

import (
	"net"
	"time"

	"MentorLink/logger"
	"MentorLink/tools/ids"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 5 * time.Second
	pingEvery  = 25 * time.Second
	maxMsgSize = 64 << 10
)

// HandleWS upgrades the HTTP request and runs the session lifecycle:
// register unauth -> read loop dispatch -> unregister on exit.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[HandleWS] upgrade websocket error: %v", err)
		return
	}

	sessionID := ids.GenerateString()
	sess, err := s.connMgr.AddUnauth(sessionID, ws)
	if err != nil {
		logger.Infof("[HandleWS] register session error: %v", err)
		_ = ws.Close()
		return
	}
	s.connMgr.AttachPongHandler(ws, sessionID)
	ws.SetReadLimit(maxMsgSize)

	// write pump: the only goroutine allowed to write this conn
	done := make(chan struct{})
	go s.writePump(sess, done)

	s.readLoop(c, sess)

	// read loop exited: tear the session down; hooks resolve phantom
	// call participants and presence.
	s.connMgr.Unregister(sessionID)
	<-done
}

func (s *Server) writePump(sess *Session, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(pingEvery)
	defer t.Stop()
	for {
		select {
		case data, ok := <-sess.Send:
			if !ok {
				return
			}
			_ = sess.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logger.Debugf("[writePump] send failed session=%s err=%v", sess.ID, err)
				return
			}
		case <-t.C:
			_ = sess.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sess.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) readLoop(c *gin.Context, sess *Session) {
	for {
		mt, data, rerr := sess.Conn.ReadMessage()
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Infof("[WS] peer closed session=%s err=%v", sess.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Infof("[WS] read timeout session=%s err=%v", sess.ID, rerr)
			} else {
				logger.Infof("[WS] read err session=%s err=%v", sess.ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrameJSON(data)
		if perr != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			logger.Infof("[WS] parse frame err session=%s err=%v sample=%q", sess.ID, perr, sample)
			s.Reply(sess, BuildError(nil, perr))
			continue
		}
		// never trust a client-supplied sender identity
		f.From = sess.UserID

		ctx := &Context{Ctx: c.Request.Context(), S: s}
		if err := s.disp.Dispatch(ctx, f, sess); err != nil {
			// validation errors go back to the sender only (never to
			// other participants)
			s.Reply(sess, BuildError(f, err))
			continue
		}
		if f.EventID != "" && f.Type != FramePing {
			s.Reply(sess, BuildAck(f))
		}
	}
}
