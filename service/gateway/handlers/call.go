package handlers

import (
	"MentorLink/service/call"
	"MentorLink/service/gateway"
	"MentorLink/service/room"
	"MentorLink/tools/decode"
	"MentorLink/tools/errs"
)

type offerPayload struct {
	Kind string `json:"kind"` // audio | video
}

// CallHandler routes 1:1 signaling frames into the state machine. SDP
// and candidate payloads are relayed verbatim; only the envelope is
// inspected.
type CallHandler struct {
	Machine *call.Machine
}

func (h *CallHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{
		gateway.FrameCallOffer,
		gateway.FrameCallAnswer,
		gateway.FrameIceCandidate,
		gateway.FrameCallEnded,
	}
}

func (h *CallHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	key, err := room.Parse(f.ConvID)
	if err != nil {
		return err
	}
	raw := gateway.MarshalFrame(f)

	switch f.Type {
	case gateway.FrameCallOffer:
		if f.CallID == "" {
			return errs.ErrArgs.WithDetail("callOffer needs call_id")
		}
		if !key.IsDirect() {
			return errs.ErrRoomInvalid.WithDetail("callOffer targets a direct conversation")
		}
		target, ok := key.DirectOther(sess.UserID)
		if !ok {
			return errs.ErrRoomInvalid.WithDetail("sender is not part of " + string(key))
		}
		p, perr := decode.DecodeMap[offerPayload](f.Payload)
		if perr != nil {
			return perr
		}
		kind := call.Kind(p.Kind)
		if kind != call.KindVideo {
			kind = call.KindAudio
		}
		return h.Machine.Offer(ctx.Ctx, sess.UserID, f.CallID, key, kind, []string{target}, raw)
	case gateway.FrameCallAnswer:
		return h.Machine.Answer(ctx.Ctx, sess.UserID, f.CallID, key, raw)
	case gateway.FrameIceCandidate:
		return h.Machine.Candidate(ctx.Ctx, sess.UserID, f.To, f.CallID, key, raw)
	case gateway.FrameCallEnded:
		return h.Machine.End(ctx.Ctx, sess.UserID, f.CallID, key, raw)
	}
	return errs.ErrArgs.WithDetail("unexpected frame type " + string(f.Type))
}
