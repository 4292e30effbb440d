package gateway

import (
	"encoding/json"
	"time"

	"MentorLink/tools/errs"
)

// FrameType discriminates the JSON event frames on the wire.
type FrameType string

const (
	// client -> server
	FrameAuth              FrameType = "auth"
	FramePing              FrameType = "ping"
	FrameJoinConversations FrameType = "joinConversations"
	FrameJoinPresence      FrameType = "joinPresenceChannel"
	FrameSendMessage       FrameType = "sendMessage"
	FrameTyping            FrameType = "typing"
	FrameStopTyping        FrameType = "stopTyping"
	FrameMarkAsRead        FrameType = "markAsRead"
	FrameNotificationRead  FrameType = "notificationRead"

	FrameCallOffer     FrameType = "callOffer"
	FrameCallAnswer    FrameType = "callAnswer"
	FrameIceCandidate  FrameType = "iceCandidate"
	FrameCallEnded     FrameType = "callEnded"
	FrameGroupCallJoin FrameType = "groupCallJoin"
	FrameGroupOffer    FrameType = "groupCallOffer"
	FrameGroupAnswer   FrameType = "groupCallAnswer"
	FrameGroupIce      FrameType = "groupCallIceCandidate"
	FrameGroupEnded    FrameType = "groupCallEnded"

	// server -> client
	FrameAck           FrameType = "ack"
	FrameError         FrameType = "error"
	FramePong          FrameType = "pong"
	FrameMessage       FrameType = "message"
	FrameReadReceipt   FrameType = "readReceipt"
	FrameNotification  FrameType = "notification"
	FrameUserOnline    FrameType = "userOnline"
	FrameUserOffline   FrameType = "userOffline"
	FrameUserJoined    FrameType = "userJoinedCall"
	FrameUserLeft      FrameType = "userLeftCall"
	FrameCallInvite    FrameType = "incomingCall"
	FrameGroupCallList FrameType = "groupCallParticipants"
)

// Frame is the wire envelope. Payload stays an opaque map until the
// handler decodes it (signaling bodies are relayed verbatim).
type Frame struct {
	Type    FrameType      `json:"type"`
	EventID string         `json:"event_id,omitempty"`
	Ts      int64          `json:"ts,omitempty"`
	From    string         `json:"from,omitempty"` // server-filled, never trusted from clients
	To      string         `json:"to,omitempty"`
	ConvID  string         `json:"conv_id,omitempty"`
	CallID  string         `json:"call_id,omitempty"`
	GroupID string         `json:"group_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func ParseFrameJSON(raw []byte) (*Frame, error) {
	f := &Frame{}
	if err := json.Unmarshal(raw, f); err != nil {
		return nil, errs.ErrArgs.WithDetail("bad frame json").WrapMsg(err.Error())
	}
	if f.Type == "" {
		return nil, errs.ErrArgs.WithDetail("missing frame type")
	}
	return f, nil
}

func MarshalFrame(f *Frame) []byte {
	if f.Ts == 0 {
		f.Ts = time.Now().UnixMilli()
	}
	data, err := json.Marshal(f)
	if err != nil {
		// a frame we built ourselves should always marshal
		return []byte(`{"type":"error","payload":{"code":1001,"msg":"marshal frame"}}`)
	}
	return data
}

// ---- server-built reply frames ----

func BuildAck(req *Frame) *Frame {
	return &Frame{
		Type:    FrameAck,
		EventID: req.EventID,
		Ts:      time.Now().UnixMilli(),
		Payload: map[string]any{"of": string(req.Type)},
	}
}

func BuildError(req *Frame, err error) *Frame {
	ce := errs.AsCodeError(err)
	f := &Frame{
		Type: FrameError,
		Ts:   time.Now().UnixMilli(),
		Payload: map[string]any{
			"code": ce.Code,
			"msg":  ce.Msg,
		},
	}
	if ce.Detail != "" {
		f.Payload["detail"] = ce.Detail
	}
	if req != nil {
		f.EventID = req.EventID
		f.Payload["of"] = string(req.Type)
	}
	return f
}
