package handlers

import (
	"MentorLink/service/delivery"
	"MentorLink/service/gateway"
	"MentorLink/service/notify"
	"MentorLink/service/room"
	"MentorLink/tools/decode"
	"MentorLink/tools/errs"
)

type sendPayload struct {
	Kind string `json:"kind"`
	Body string `json:"body"`
}

type notificationReadPayload struct {
	NotificationID string `json:"notification_id"`
}

// ChatHandler fronts the delivery coordinator for message, typing and
// read-state frames.
type ChatHandler struct {
	Delivery *delivery.Coordinator
	Notify   *notify.Fanout
}

func (h *ChatHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{
		gateway.FrameSendMessage,
		gateway.FrameTyping,
		gateway.FrameStopTyping,
		gateway.FrameMarkAsRead,
		gateway.FrameNotificationRead,
	}
}

func (h *ChatHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	if f.Type == gateway.FrameNotificationRead {
		return h.notificationRead(ctx, f)
	}

	key, err := room.Parse(f.ConvID)
	if err != nil {
		return err
	}
	switch f.Type {
	case gateway.FrameSendMessage:
		p, perr := decode.DecodeMap[sendPayload](f.Payload)
		if perr != nil {
			return perr
		}
		msg, serr := h.Delivery.SendMessage(ctx.Ctx, delivery.SendInput{
			ConvKey:         key,
			SenderID:        sess.UserID,
			SenderSessionID: sess.ID,
			Kind:            p.Kind,
			Body:            p.Body,
			EventID:         f.EventID,
		})
		if serr != nil {
			return serr
		}
		// echo the server-assigned id so the sender can reconcile its
		// optimistic bubble
		ctx.S.Reply(sess, &gateway.Frame{
			Type:    gateway.FrameMessage,
			EventID: f.EventID,
			ConvID:  f.ConvID,
			From:    sess.UserID,
			Payload: map[string]any{"message_id": msg.ID, "ts": msg.SentAt.UnixMilli()},
		})
		return nil
	case gateway.FrameTyping:
		return h.Delivery.Typing(ctx.Ctx, sess.UserID, sess.ID, key, false)
	case gateway.FrameStopTyping:
		return h.Delivery.Typing(ctx.Ctx, sess.UserID, sess.ID, key, true)
	case gateway.FrameMarkAsRead:
		_, merr := h.Delivery.MarkAsRead(ctx.Ctx, sess.UserID, sess.ID, key)
		return merr
	}
	return errs.ErrArgs.WithDetail("unexpected frame type " + string(f.Type))
}

func (h *ChatHandler) notificationRead(ctx *gateway.Context, f *gateway.Frame) error {
	p, err := decode.DecodeMap[notificationReadPayload](f.Payload)
	if err != nil {
		return err
	}
	if p.NotificationID == "" {
		return errs.ErrArgs.WithDetail("notificationRead needs notification_id")
	}
	return h.Notify.Store().MarkRead(ctx.Ctx, p.NotificationID)
}
