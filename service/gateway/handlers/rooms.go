package handlers

import (
	"context"

	"MentorLink/service/gateway"
	"MentorLink/service/room"
	"MentorLink/tools/decode"
	"MentorLink/tools/errs"
)

// ContactChecker validates 1:1 relationships before a direct room join.
type ContactChecker interface {
	IsContact(ctx context.Context, userID, otherID string) (bool, error)
}

// Membership validates group relationships before a group room join.
type Membership interface {
	IsUserMember(ctx context.Context, groupID, userID string) (bool, error)
}

type joinPayload struct {
	Peers  []string `json:"peers"`
	Groups []string `json:"groups"`
}

// RoomsHandler subscribes sessions to conversation rooms and the
// presence channel. Every join is validated against the relationship
// stores; one bad entry fails the whole frame so the client re-sends a
// corrected list.
type RoomsHandler struct {
	Contacts ContactChecker
	Members  Membership
}

func (h *RoomsHandler) Types() []gateway.FrameType {
	return []gateway.FrameType{gateway.FrameJoinConversations, gateway.FrameJoinPresence}
}

func (h *RoomsHandler) Handle(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	switch f.Type {
	case gateway.FrameJoinPresence:
		key, err := room.Presence(sess.UserID)
		if err != nil {
			return err
		}
		return ctx.S.JoinRoom(sess.ID, key)
	case gateway.FrameJoinConversations:
		return h.joinConversations(ctx, f, sess)
	}
	return errs.ErrArgs.WithDetail("unexpected frame type " + string(f.Type))
}

func (h *RoomsHandler) joinConversations(ctx *gateway.Context, f *gateway.Frame, sess *gateway.Session) error {
	p, err := decode.DecodeMap[joinPayload](f.Payload)
	if err != nil {
		return err
	}
	if len(p.Peers) == 0 && len(p.Groups) == 0 {
		return errs.ErrArgs.WithDetail("joinConversations needs peers or groups")
	}

	// validate everything before joining anything, so a rejected frame
	// leaves no partial subscriptions
	keys := make([]room.Key, 0, len(p.Peers)+len(p.Groups))
	for _, peer := range p.Peers {
		ok, cerr := h.Contacts.IsContact(ctx.Ctx, sess.UserID, peer)
		if cerr != nil {
			return errs.WrapMsg(cerr, "contact lookup", "peer", peer)
		}
		if !ok {
			return errs.ErrNotMember.WithDetail("not a contact: " + peer)
		}
		key, kerr := room.Direct(sess.UserID, peer)
		if kerr != nil {
			return kerr
		}
		keys = append(keys, key)
	}
	for _, gid := range p.Groups {
		ok, merr := h.Members.IsUserMember(ctx.Ctx, gid, sess.UserID)
		if merr != nil {
			return errs.WrapMsg(merr, "membership lookup", "group", gid)
		}
		if !ok {
			return errs.ErrNotMember.WithDetail("not a member of group " + gid)
		}
		key, kerr := room.Group(gid)
		if kerr != nil {
			return kerr
		}
		keys = append(keys, key)
	}

	for _, key := range keys {
		if jerr := ctx.S.JoinRoom(sess.ID, key); jerr != nil {
			return jerr
		}
	}
	return nil
}
