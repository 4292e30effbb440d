package presence

import (
	"context"
	"encoding/json"
	"time"

	"MentorLink/logger"
	"MentorLink/service/room"
	"MentorLink/service/storage"
)

// Contacts resolves who should hear about a user's presence changes.
type Contacts interface {
	ContactsOf(ctx context.Context, userID string) ([]string, error)
}

// Pusher is the targeted-delivery slice of the gateway server.
type Pusher interface {
	PushToUserInRoom(userID string, key room.Key, data []byte) int
}

// Announcer fans userOnline/userOffline events to the user's contacts'
// presence channels and writes the state through to the redis mirror.
type Announcer struct {
	contacts Contacts
	pusher   Pusher
	mirror   *storage.Mirror // nil disables the write-through
}

func NewAnnouncer(contacts Contacts, pusher Pusher, mirror *storage.Mirror) *Announcer {
	return &Announcer{contacts: contacts, pusher: pusher, mirror: mirror}
}

// HandleOnline runs on a user's first live session.
func (a *Announcer) HandleOnline(ctx context.Context, userID string) {
	if err := a.mirror.SetOnline(ctx, userID); err != nil {
		logger.Warnf("[presence] mirror online failed user=%s err=%v", userID, err)
	}
	a.broadcast(ctx, userID, "userOnline")
}

// HandleHeartbeat keeps the mirrored TTL alive.
func (a *Announcer) HandleHeartbeat(ctx context.Context, userID string) {
	if err := a.mirror.Refresh(ctx, userID); err != nil {
		logger.Debugf("[presence] mirror refresh failed user=%s err=%v", userID, err)
	}
}

// HandleOffline runs when a user's last session unregisters.
func (a *Announcer) HandleOffline(ctx context.Context, userID string) {
	if err := a.mirror.SetOffline(ctx, userID); err != nil {
		logger.Warnf("[presence] mirror offline failed user=%s err=%v", userID, err)
	}
	a.broadcast(ctx, userID, "userOffline")
}

func (a *Announcer) broadcast(ctx context.Context, userID, typ string) {
	contacts, err := a.contacts.ContactsOf(ctx, userID)
	if err != nil {
		logger.Warnf("[presence] contacts lookup failed user=%s err=%v", userID, err)
		return
	}
	data, _ := json.Marshal(map[string]any{
		"type": typ,
		"ts":   time.Now().UnixMilli(),
		"payload": map[string]any{
			"user_id": userID,
		},
	})
	for _, c := range contacts {
		key, kerr := room.Presence(c)
		if kerr != nil {
			continue
		}
		a.pusher.PushToUserInRoom(c, key, data)
	}
}
