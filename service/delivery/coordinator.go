package delivery

import (
	"context"
	"encoding/json"
	"time"

	"MentorLink/logger"
	"MentorLink/service/notify"
	"MentorLink/service/room"
	"MentorLink/tools/errs"
	"MentorLink/tools/ids"
)

// Message is the persisted chat record.
type Message struct {
	ID       string
	ConvKey  room.Key
	SenderID string
	Kind     string // text | image | file
	Body     string
	SentAt   time.Time
	ReadBy   []string
}

// MessageStore persists chat history (module/chat/model).
type MessageStore interface {
	Save(ctx context.Context, msg *Message) error
	// MarkRead flags every message in the conversation not yet read by
	// readerID and returns the affected message ids.
	MarkRead(ctx context.Context, convKey room.Key, readerID string) ([]string, error)
}

// Membership resolves group recipients for notification fan-out.
type Membership interface {
	MembersOf(ctx context.Context, groupID string) ([]string, error)
}

// Presence is the registry slice the coordinator needs.
type Presence interface {
	UserInRoom(userID string, key room.Key) bool
	BroadcastRoom(key room.Key, data []byte, exceptSessionID string) int
}

type Conf struct {
	Clock func() time.Time
}

// Coordinator runs the persist, broadcast, notify pipeline for chat
// messages and the ephemeral typing/read-receipt traffic around them.
type Coordinator struct {
	conf       Conf
	store      MessageStore
	membership Membership
	presence   Presence
	fan        *notify.Fanout
}

func NewCoordinator(conf Conf, store MessageStore, membership Membership, presence Presence, fan *notify.Fanout) *Coordinator {
	if conf.Clock == nil {
		conf.Clock = time.Now
	}
	return &Coordinator{conf: conf, store: store, membership: membership, presence: presence, fan: fan}
}

type SendInput struct {
	ConvKey         room.Key
	SenderID        string
	SenderSessionID string
	Kind            string
	Body            string
	EventID         string
}

// SendMessage persists first, then broadcasts to the room excluding the
// sender's own session, then raises a notification for every recipient
// without a live session in the room. Persistence failure stops the
// pipeline so clients can retry with the same event id.
func (c *Coordinator) SendMessage(ctx context.Context, in SendInput) (*Message, error) {
	if in.Body == "" {
		return nil, errs.ErrArgs.WithDetail("empty message body")
	}
	if !c.presence.UserInRoom(in.SenderID, in.ConvKey) {
		return nil, errs.ErrRoomNotJoined.WithDetail(string(in.ConvKey))
	}

	msg := &Message{
		ID:       ids.GenerateString(),
		ConvKey:  in.ConvKey,
		SenderID: in.SenderID,
		Kind:     in.Kind,
		Body:     in.Body,
		SentAt:   c.conf.Clock(),
	}
	if msg.Kind == "" {
		msg.Kind = "text"
	}
	if err := c.store.Save(ctx, msg); err != nil {
		return nil, errs.WrapMsg(err, "persist message", "conv", string(in.ConvKey))
	}

	c.presence.BroadcastRoom(in.ConvKey, messageFrame(msg), in.SenderSessionID)

	recipients, err := c.recipients(ctx, in.ConvKey, in.SenderID)
	if err != nil {
		// message is already stored and broadcast; notification loss
		// only affects users without history sync
		logger.Warnf("[delivery] recipient resolution failed conv=%s err=%v", in.ConvKey, err)
		return msg, nil
	}
	eventID := in.EventID
	if eventID == "" {
		eventID = msg.ID
	}
	for _, r := range recipients {
		// a recipient with a session in the room already received the
		// message broadcast; no notification on top of it
		if c.presence.UserInRoom(r, in.ConvKey) {
			continue
		}
		derr := c.fan.Deliver(ctx, notify.Event{
			EventID: eventID,
			UserID:  r,
			Kind:    notify.KindMessage,
			RoomKey: in.ConvKey,
			Title:   "New message",
			Body:    preview(msg.Body),
			Payload: map[string]any{"message_id": msg.ID, "sender_id": msg.SenderID},
		})
		if derr != nil {
			logger.Warnf("[delivery] notify failed user=%s msg=%s err=%v", r, msg.ID, derr)
		}
	}
	return msg, nil
}

// Typing relays a typing indicator to the room; nothing is persisted or
// notified, offline users simply never see it.
func (c *Coordinator) Typing(_ context.Context, userID, sessionID string, key room.Key, stopped bool) error {
	if !c.presence.UserInRoom(userID, key) {
		return errs.ErrRoomNotJoined.WithDetail(string(key))
	}
	typ := "typing"
	if stopped {
		typ = "stopTyping"
	}
	data, _ := json.Marshal(map[string]any{
		"type":    typ,
		"conv_id": string(key),
		"from":    userID,
	})
	c.presence.BroadcastRoom(key, data, sessionID)
	return nil
}

// MarkAsRead flips unread messages, broadcasts a read receipt carrying
// the affected ids, and clears the reader's pending message
// notifications for the conversation.
func (c *Coordinator) MarkAsRead(ctx context.Context, readerID, sessionID string, key room.Key) ([]string, error) {
	if !c.presence.UserInRoom(readerID, key) {
		return nil, errs.ErrRoomNotJoined.WithDetail(string(key))
	}
	msgIDs, err := c.store.MarkRead(ctx, key, readerID)
	if err != nil {
		return nil, errs.WrapMsg(err, "mark read", "conv", string(key))
	}
	if len(msgIDs) > 0 {
		data, _ := json.Marshal(map[string]any{
			"type":    "readReceipt",
			"conv_id": string(key),
			"from":    readerID,
			"payload": map[string]any{"message_ids": msgIDs},
		})
		c.presence.BroadcastRoom(key, data, sessionID)
	}
	c.fan.ClearConversation(ctx, readerID, key)
	return msgIDs, nil
}

func (c *Coordinator) recipients(ctx context.Context, key room.Key, sender string) ([]string, error) {
	if key.IsDirect() {
		other, ok := key.DirectOther(sender)
		if !ok {
			return nil, errs.ErrRoomInvalid.WithDetail(string(key))
		}
		return []string{other}, nil
	}
	if key.IsGroup() {
		gid, _ := key.GroupID()
		members, err := c.membership.MembersOf(ctx, gid)
		if err != nil {
			return nil, err
		}
		out := members[:0]
		for _, m := range members {
			if m != sender {
				out = append(out, m)
			}
		}
		return out, nil
	}
	return nil, errs.ErrRoomInvalid.WithDetail(string(key))
}

func messageFrame(m *Message) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    "message",
		"conv_id": string(m.ConvKey),
		"from":    m.SenderID,
		"ts":      m.SentAt.UnixMilli(),
		"payload": map[string]any{
			"message_id": m.ID,
			"kind":       m.Kind,
			"body":       m.Body,
		},
	})
	return data
}

func preview(body string) string {
	const max = 80
	r := []rune(body)
	if len(r) <= max {
		return body
	}
	return string(r[:max]) + "…"
}
