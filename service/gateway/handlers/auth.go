package handlers

import (
	"context"

	"MentorLink/logger"
	"MentorLink/service/gateway"
	"MentorLink/service/presence"
	"MentorLink/tools/decode"
	"MentorLink/tools/errs"
	"MentorLink/tools/safe"
	"MentorLink/tools/security"
)

type authPayload struct {
	Token string `json:"token"`
}

// AuthHandler binds a fresh connection to a user after verifying its
// JWT. First-session binds trigger the presence announcer.
type AuthHandler struct {
	Announcer *presence.Announcer
}

func (h *AuthHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{gateway.FrameAuth}
}

func (h *AuthHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	p, err := decode.DecodeMap[authPayload](f.Payload)
	if err != nil {
		return err
	}
	if p.Token == "" {
		return errs.ErrArgs.WithDetail("auth needs a token")
	}
	claims, err := security.Verify(ctx.S.TokenOpts, p.Token)
	if err != nil {
		return errs.ErrTokenInvalid.WithDetail(err.Error())
	}
	userID := claims.Subject()
	if userID == "" {
		return errs.ErrTokenInvalid.WithDetail("token has no subject")
	}

	first, err := ctx.S.ConnMgr().BindUser(sess.ID, userID)
	if err != nil {
		return err
	}
	logger.Infof("[auth] bound session=%s user=%s first=%v", sess.ID, userID, first)
	if first && h.Announcer != nil {
		safe.Go(func() { h.Announcer.HandleOnline(context.Background(), userID) })
	}
	return nil
}
