package gateway

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MentorLink/tools/errs"
)

func TestParseFrameJSON(t *testing.T) {
	f, err := ParseFrameJSON([]byte(`{"type":"sendMessage","event_id":"e1","conv_id":"d:a:b","payload":{"body":"hi"}}`))
	require.NoError(t, err)
	assert.Equal(t, FrameSendMessage, f.Type)
	assert.Equal(t, "e1", f.EventID)
	assert.Equal(t, "d:a:b", f.ConvID)
	assert.Equal(t, "hi", f.Payload["body"])

	_, err = ParseFrameJSON([]byte(`not json`))
	assert.Error(t, err)
	_, err = ParseFrameJSON([]byte(`{"event_id":"e1"}`))
	assert.Error(t, err, "missing type")
}

func TestBuildErrorCarriesCode(t *testing.T) {
	req := &Frame{Type: FrameCallOffer, EventID: "e9"}
	f := BuildError(req, errs.ErrCallNotFound.WithDetail("c42"))

	assert.Equal(t, FrameError, f.Type)
	assert.Equal(t, "e9", f.EventID)
	assert.Equal(t, errs.CallNotFoundError, f.Payload["code"])
	assert.Equal(t, "c42", f.Payload["detail"])
	assert.Equal(t, string(FrameCallOffer), f.Payload["of"])

	// non-coded errors surface as internal
	f = BuildError(nil, assert.AnError)
	assert.Equal(t, errs.ServerInternalError, f.Payload["code"])
}

func TestBuildAckRoundTrips(t *testing.T) {
	req := &Frame{Type: FrameMarkAsRead, EventID: "e3"}
	ack := BuildAck(req)
	data := MarshalFrame(ack)

	var got Frame
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, FrameAck, got.Type)
	assert.Equal(t, "e3", got.EventID)
	assert.Equal(t, string(FrameMarkAsRead), got.Payload["of"])
	assert.NotZero(t, got.Ts)
}

// ===== dispatcher =====

type stubHandler struct {
	types  []FrameType
	called int
	err    error
	panics bool
}

func (h *stubHandler) Types() []FrameType { return h.types }

func (h *stubHandler) Handle(*Context, *Frame, *Session) error {
	h.called++
	if h.panics {
		panic("boom")
	}
	return h.err
}

func TestDispatchRequiresAuth(t *testing.T) {
	d := NewDispatcher()
	h := &stubHandler{types: []FrameType{FrameSendMessage, FramePing}}
	d.Register(h)

	ctx := &Context{Ctx: context.Background()}
	unauth := &Session{ID: "s1"}

	err := d.Dispatch(ctx, &Frame{Type: FrameSendMessage}, unauth)
	assert.True(t, errs.ErrNotAuthorized.Is(err))
	assert.Equal(t, 0, h.called)

	// ping is allowed before auth
	require.NoError(t, d.Dispatch(ctx, &Frame{Type: FramePing}, unauth))
	assert.Equal(t, 1, h.called)

	authed := &Session{ID: "s2", UserID: "alice", Authorized: true}
	require.NoError(t, d.Dispatch(ctx, &Frame{Type: FrameSendMessage}, authed))
	assert.Equal(t, 2, h.called)
}

func TestDispatchUnknownType(t *testing.T) {
	d := NewDispatcher()
	err := d.Dispatch(&Context{Ctx: context.Background()}, &Frame{Type: "bogus"}, &Session{Authorized: true})
	assert.True(t, errs.ErrArgs.Is(err))
}

func TestDispatchContainsPanics(t *testing.T) {
	d := NewDispatcher()
	h := &stubHandler{types: []FrameType{FrameTyping}, panics: true}
	d.Register(h)

	err := d.Dispatch(&Context{Ctx: context.Background()},
		&Frame{Type: FrameTyping}, &Session{ID: "s1", UserID: "alice", Authorized: true})
	require.Error(t, err)
	assert.Equal(t, 1, h.called)
}
