package notify

import (
	"context"
	"time"

	"MentorLink/service/room"
)

// Kind labels a stored/pushed notification.
type Kind string

const (
	KindMessage      Kind = "message"
	KindIncomingCall Kind = "incoming_call"
	KindMissedCall   Kind = "missed_call"
	KindGroupInvite  Kind = "group_call_invite"
)

// Event is one logical notification for one user. EventID is the dedup
// identity: two events with the same id inside the window collapse to
// one delivery.
type Event struct {
	EventID string
	UserID  string
	Kind    Kind
	RoomKey room.Key // scope for live push; empty = all of the user's sessions
	CallID  string   // set for call kinds
	Title   string
	Body    string
	Payload map[string]any
}

// Stored is the persisted shape the offline store hands back.
type Stored struct {
	ID         string
	UserID     string
	Kind       Kind
	ConvKey    string
	CallID     string
	Title      string
	Body       string
	IsRead     bool
	CreateTime time.Time
}

// Store is the notification persistence collaborator; the mongo
// adapter under module/notify/model is the default implementation.
type Store interface {
	Create(ctx context.Context, n *Stored) (*Stored, error)
	// UpdateToMissed flips the user's incoming-call notification for
	// callID to missed; returns ErrNotFound when it was already
	// deleted/read and the caller must create a fresh one.
	UpdateToMissed(ctx context.Context, userID, callID, body string) (*Stored, error)
	MarkRead(ctx context.Context, notificationID string) error
	// MarkConversationRead flips the user's unread message
	// notifications for one conversation; returns the flipped ids.
	MarkConversationRead(ctx context.Context, userID, convKey string) ([]string, error)
}

// LivePusher is the transport side (the gateway server).
type LivePusher interface {
	IsUserOnline(userID string) bool
	PushToUser(userID string, data []byte) int
	PushToUserInRoom(userID string, key room.Key, data []byte) int
}

// OfflinePublisher hands persisted offline notifications to downstream
// push workers (NATS adapter); nil disables the hand-off.
type OfflinePublisher interface {
	PublishOffline(ctx context.Context, eventID string, data []byte) error
}
