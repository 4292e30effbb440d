package handlers

import (
	"MentorLink/service/gateway"
	"MentorLink/service/presence"
)

// PingHandler answers application-level pings and refreshes the
// session's TTL (the transport pong handler covers protocol pings).
type PingHandler struct {
	Announcer *presence.Announcer
}

func (h *PingHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{gateway.FramePing}
}

func (h *PingHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	if err := ctx.S.ConnMgr().HeartbeatSession(sess.ID); err != nil {
		return err
	}
	if sess.Authorized && h.Announcer != nil {
		h.Announcer.HandleHeartbeat(ctx.Ctx, sess.UserID)
	}
	ctx.S.Reply(sess, &gateway.Frame{Type: gateway.FramePong, EventID: f.EventID})
	return nil
}
