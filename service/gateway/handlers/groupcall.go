package handlers

import (
	"MentorLink/service/call"
	"MentorLink/service/gateway"
	"MentorLink/service/groupcall"
	"MentorLink/tools/decode"
	"MentorLink/tools/errs"
)

// GroupCallHandler fronts the presence tracker for N-party calls.
type GroupCallHandler struct {
	Tracker *groupcall.Tracker
}

func (h *GroupCallHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{
		gateway.FrameGroupCallJoin,
		gateway.FrameGroupOffer,
		gateway.FrameGroupAnswer,
		gateway.FrameGroupIce,
		gateway.FrameGroupEnded,
	}
}

func (h *GroupCallHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	if f.CallID == "" {
		return errs.ErrArgs.WithDetail("group call frames need call_id")
	}

	switch f.Type {
	case gateway.FrameGroupCallJoin:
		p, perr := decode.DecodeMap[offerPayload](f.Payload)
		if perr != nil {
			return perr
		}
		kind := call.Kind(p.Kind)
		if kind != call.KindVideo {
			kind = call.KindAudio
		}
		res, jerr := h.Tracker.Join(ctx.Ctx, sess.UserID, sess.ID, f.CallID, f.GroupID, kind)
		if jerr != nil {
			return jerr
		}
		// the joiner gets the current roster; it opens one peer
		// connection per listed participant
		ctx.S.Reply(sess, &gateway.Frame{
			Type:    gateway.FrameGroupCallList,
			EventID: f.EventID,
			CallID:  f.CallID,
			ConvID:  string(res.RoomKey),
			Payload: map[string]any{"participants": res.Participants},
		})
		if len(res.PendingOffer) > 0 {
			sess.TrySend(res.PendingOffer)
		}
		return nil
	case gateway.FrameGroupOffer, gateway.FrameGroupAnswer, gateway.FrameGroupIce:
		raw := gateway.MarshalFrame(f)
		isOffer := f.Type == gateway.FrameGroupOffer
		return h.Tracker.Relay(ctx.Ctx, sess.UserID, f.To, f.CallID, isOffer, raw)
	case gateway.FrameGroupEnded:
		return h.Tracker.Leave(ctx.Ctx, sess.UserID, sess.ID, f.CallID)
	}
	return errs.ErrArgs.WithDetail("unexpected frame type " + string(f.Type))
}
