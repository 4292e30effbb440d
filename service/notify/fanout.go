package notify

import (
	"context"
	"encoding/json"
	"time"

	"MentorLink/logger"
	"MentorLink/service/room"
	"MentorLink/tools/errs"
	"MentorLink/tools/expiring"
)

// Conf controls dedup behavior.
type Conf struct {
	DedupTTL time.Duration    // window in which a repeated eventId is absorbed
	Clock    func() time.Time // injectable for tests
}

func (c *Conf) norm() {
	if c.DedupTTL <= 0 {
		c.DedupTTL = 2 * time.Minute
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
}

// Fanout routes one notification event to either the user's live
// sessions or the offline store, at most once per eventId per window.
type Fanout struct {
	conf   Conf
	dedup  *expiring.Cache
	store  Store
	pusher LivePusher
	pub    OfflinePublisher // may be nil
}

func NewFanout(conf Conf, store Store, pusher LivePusher, pub OfflinePublisher) *Fanout {
	conf.norm()
	return &Fanout{
		conf:   conf,
		dedup:  expiring.NewCache(conf.DedupTTL, expiring.WithClock(conf.Clock)),
		store:  store,
		pusher: pusher,
		pub:    pub,
	}
}

func (f *Fanout) Close() { f.dedup.Close() }

// Store exposes the underlying persistence for read-state sweeps.
func (f *Fanout) Store() Store { return f.store }

// Deliver pushes live when the user has at least one session (scoped to
// the event's room when set), otherwise persists for later retrieval.
// A duplicate eventId inside the window is absorbed, which is what
// keeps the "create" and "fallback create" paths from double-firing.
func (f *Fanout) Deliver(ctx context.Context, ev Event) error {
	if ev.EventID == "" || ev.UserID == "" {
		return errs.ErrArgs.WithDetail("notification needs eventId and userId")
	}
	if f.dedup.SeenOnce(dedupKey(ev), 0) {
		logger.Debugf("[notify] duplicate event absorbed event=%s user=%s", ev.EventID, ev.UserID)
		return nil
	}

	if f.pusher.IsUserOnline(ev.UserID) {
		data := f.marshalPush(ev)
		var sent int
		if ev.RoomKey != "" {
			sent = f.pusher.PushToUserInRoom(ev.UserID, ev.RoomKey, data)
		}
		if sent == 0 {
			// user online but not in the room (other device/screen):
			// fall through to every session so the badge still shows
			sent = f.pusher.PushToUser(ev.UserID, data)
		}
		if sent > 0 {
			return nil
		}
		// online flag raced a disconnect; treat as offline
	}
	return f.persist(ctx, ev)
}

// RaiseStored persists the notification regardless of presence and
// additionally pushes it to any live session. Call-ring notifications
// use this: the record must exist so a timeout can flip it to missed
// even if the target never connected.
func (f *Fanout) RaiseStored(ctx context.Context, ev Event) error {
	if ev.EventID == "" || ev.UserID == "" {
		return errs.ErrArgs.WithDetail("notification needs eventId and userId")
	}
	if f.dedup.SeenOnce(dedupKey(ev), 0) {
		logger.Debugf("[notify] duplicate event absorbed event=%s user=%s", ev.EventID, ev.UserID)
		return nil
	}
	if err := f.persist(ctx, ev); err != nil {
		return err
	}
	if f.pusher.IsUserOnline(ev.UserID) {
		f.pusher.PushToUser(ev.UserID, f.marshalPush(ev))
	}
	return nil
}

// FlipToMissed transitions an incoming-call notification to missed.
// When the original record is gone (already read/deleted) a fresh
// missed-call notification is created instead; the dedup window keyed
// on callId+user guarantees the two paths produce exactly one record.
func (f *Fanout) FlipToMissed(ctx context.Context, userID, callID, body string) error {
	if f.dedup.SeenOnce("missed:"+callID+":"+userID, 0) {
		return nil
	}
	_, err := f.store.UpdateToMissed(ctx, userID, callID, body)
	if err == nil {
		return nil
	}
	if !errs.ErrRecordNotFound.Is(err) {
		return errs.WrapMsg(err, "update to missed", "user", userID, "call", callID)
	}
	// fallback: the original notification no longer exists
	_, err = f.store.Create(ctx, &Stored{
		UserID:     userID,
		Kind:       KindMissedCall,
		CallID:     callID,
		Body:       body,
		CreateTime: f.conf.Clock(),
	})
	return errs.WrapMsg(err, "create missed fallback", "user", userID, "call", callID)
}

// ClearConversation marks the user's stored message notifications for
// one conversation as read, returning how many were flipped. Used by
// the markAsRead flow so badges drop together with the receipts.
func (f *Fanout) ClearConversation(ctx context.Context, userID string, key room.Key) int {
	ids, err := f.store.MarkConversationRead(ctx, userID, string(key))
	if err != nil {
		logger.Warnf("[notify] clear conversation failed user=%s conv=%s err=%v", userID, key, err)
		return 0
	}
	return len(ids)
}

func (f *Fanout) persist(ctx context.Context, ev Event) error {
	// one logical event fans out to many users; the stored id must be
	// unique per user yet stable across retries
	stored, err := f.store.Create(ctx, &Stored{
		ID:         ev.EventID + ":" + ev.UserID,
		UserID:     ev.UserID,
		Kind:       ev.Kind,
		ConvKey:    string(ev.RoomKey),
		CallID:     ev.CallID,
		Title:      ev.Title,
		Body:       ev.Body,
		CreateTime: f.conf.Clock(),
	})
	if err != nil {
		return errs.WrapMsg(err, "persist notification", "event", ev.EventID)
	}
	if f.pub != nil {
		data, _ := json.Marshal(map[string]any{
			"notification_id": stored.ID,
			"user_id":         stored.UserID,
			"kind":            stored.Kind,
			"title":           stored.Title,
			"body":            stored.Body,
		})
		if perr := f.pub.PublishOffline(ctx, ev.EventID, data); perr != nil {
			// push hand-off is best effort; the record is durable
			logger.Warnf("[notify] offline publish failed event=%s err=%v", ev.EventID, perr)
		}
	}
	return nil
}

func (f *Fanout) marshalPush(ev Event) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":     "notification",
		"event_id": ev.EventID,
		"conv_id":  string(ev.RoomKey),
		"payload": map[string]any{
			"kind":    string(ev.Kind),
			"call_id": ev.CallID,
			"title":   ev.Title,
			"body":    ev.Body,
			"extra":   ev.Payload,
		},
	})
	return data
}

func dedupKey(ev Event) string {
	return string(ev.Kind) + ":" + ev.EventID + ":" + ev.UserID
}
