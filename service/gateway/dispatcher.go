package gateway

import (
	"context"

	"MentorLink/logger"
	"MentorLink/tools/errs"
)

// Context is handed to every handler invocation.
type Context struct {
	Ctx context.Context
	S   *Server
}

// Handler processes one or more frame types. Handlers live in the
// handlers subpackage and are registered from main.
type Handler interface {
	Types() []FrameType
	Handle(ctx *Context, f *Frame, sess *Session) error
}

type Dispatcher struct {
	handlers map[FrameType]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[FrameType]Handler)}
}

func (d *Dispatcher) Register(h Handler) {
	for _, t := range h.Types() {
		d.handlers[t] = h
	}
}

func (d *Dispatcher) Get(t FrameType) Handler {
	return d.handlers[t]
}

// Dispatch runs the handler for f. Panics are contained here so one bad
// event never corrupts unrelated rooms or kills the read loop; the
// sender gets a coded error reply either way.
func (d *Dispatcher) Dispatch(ctx *Context, f *Frame, sess *Session) (err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("[dispatch] panic type=%s session=%s: %v", f.Type, sess.ID, r)
			err = errs.ErrPanic(r)
		}
	}()

	h, ok := d.handlers[f.Type]
	if !ok {
		return errs.ErrArgs.WithDetail("no handler for type " + string(f.Type))
	}
	// everything except auth and ping requires a bound user
	if f.Type != FrameAuth && f.Type != FramePing && !sess.Authorized {
		return errs.ErrNotAuthorized
	}
	return h.Handle(ctx, f, sess)
}
