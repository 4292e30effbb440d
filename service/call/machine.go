package call

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"MentorLink/logger"
	"MentorLink/service/room"
	"MentorLink/tools/errs"
	"MentorLink/tools/expiring"
)

// Kind of media the call attempt negotiates. The gateway never inspects
// the SDP; the kind only rides along for notification text.
type Kind string

const (
	KindAudio Kind = "audio"
	KindVideo Kind = "video"
)

// Timer is the cancellable handle an armed offer timeout carries.
// *time.Timer satisfies it; tests inject manual triggers.
type Timer interface {
	Stop() bool
}

type Conf struct {
	OfferTimeout time.Duration // ring window before a call counts as missed
	EndedTTL     time.Duration // how long duplicate callEnded signals are absorbed
	Clock        func() time.Time
	AfterFunc    func(d time.Duration, f func()) Timer
}

func (c *Conf) norm() {
	if c.OfferTimeout <= 0 {
		c.OfferTimeout = 30 * time.Second
	}
	if c.EndedTTL <= 0 {
		c.EndedTTL = 60 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}
}

// Presence is the slice of the session registry the machine consults.
// The registry's room-membership view is the single authority for
// "did this target ever show up".
type Presence interface {
	UserInRoom(userID string, key room.Key) bool
	PushToUserInRoom(userID string, key room.Key, data []byte) int
	BroadcastRoom(key room.Key, data []byte, exceptSessionID string) int
}

// Notifier raises ring/missed notifications (adapter over the
// notification fan-out).
type Notifier interface {
	Ring(ctx context.Context, target string, off OfferInfo)
	Missed(ctx context.Context, target string, off OfferInfo)
}

// OfferInfo is the identifying slice of a pending offer shared with the
// notifier.
type OfferInfo struct {
	CallID    string
	Initiator string
	RoomKey   room.Key
	Kind      Kind
}

// pendingOffer: one in-flight call attempt. Absent from the table means
// Idle; present means OfferSent. Answer, explicit end and timeout all
// race to remove it; whoever wins under the lock performs the
// transition, the others see an empty slot.
type pendingOffer struct {
	OfferInfo
	Targets   map[string]struct{}
	CreatedAt time.Time
	timer     Timer
}

// Machine owns the pending-offer table for 1:1 (and broadcast-style)
// call attempts.
type Machine struct {
	mu     sync.Mutex
	conf   Conf
	offers map[string]*pendingOffer

	ended    *expiring.Cache // recently ended callIds, absorbs duplicate end signals
	presence Presence
	notifier Notifier
}

func NewMachine(conf Conf, presence Presence, notifier Notifier) *Machine {
	conf.norm()
	return &Machine{
		conf:     conf,
		offers:   make(map[string]*pendingOffer),
		ended:    expiring.NewCache(conf.EndedTTL, expiring.WithClock(conf.Clock)),
		presence: presence,
		notifier: notifier,
	}
}

// Close cancels every armed timeout; used on shutdown and in tests.
func (m *Machine) Close() {
	m.mu.Lock()
	for id, off := range m.offers {
		off.timer.Stop()
		delete(m.offers, id)
	}
	m.mu.Unlock()
	m.ended.Close()
}

// HasPending reports whether a call attempt is still in OfferSent.
func (m *Machine) HasPending(callID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.offers[callID]
	return ok
}

// Offer relays the initiator's offer to every target's sessions in the
// room, raises incoming-call notifications whether or not the targets
// are connected, and arms the miss timeout. Duplicate retransmissions
// of the same callId are absorbed.
func (m *Machine) Offer(ctx context.Context, from, callID string, key room.Key, kind Kind, targets []string, raw []byte) error {
	if callID == "" || len(targets) == 0 {
		return errs.ErrArgs.WithDetail("offer needs call_id and targets")
	}
	if !m.presence.UserInRoom(from, key) {
		return errs.ErrRoomNotJoined.WithDetail(string(key))
	}
	for _, t := range targets {
		if t == from {
			return errs.ErrArgs.WithDetail("cannot call yourself")
		}
		if key.IsDirect() {
			if other, ok := key.DirectOther(from); !ok || other != t {
				return errs.ErrNotMember.WithDetail("target does not share room " + string(key))
			}
		}
	}
	if m.ended.Contains(callID) {
		// stale retransmission of an already-ended attempt
		return nil
	}

	now := m.conf.Clock()
	off := &pendingOffer{
		OfferInfo: OfferInfo{CallID: callID, Initiator: from, RoomKey: key, Kind: kind},
		Targets:   make(map[string]struct{}, len(targets)),
		CreatedAt: now,
	}
	for _, t := range targets {
		off.Targets[t] = struct{}{}
	}

	m.mu.Lock()
	if _, exists := m.offers[callID]; exists {
		m.mu.Unlock()
		logger.Debugf("[call] duplicate offer absorbed call=%s", callID)
		return nil
	}
	off.timer = m.conf.AfterFunc(m.conf.OfferTimeout, func() { m.timeout(callID) })
	m.offers[callID] = off
	m.mu.Unlock()

	for t := range off.Targets {
		m.presence.PushToUserInRoom(t, key, raw)
		m.notifier.Ring(ctx, t, off.OfferInfo)
	}
	logger.Infof("[call] offer relayed call=%s from=%s room=%s targets=%d", callID, from, key, len(targets))
	return nil
}

// Answer cancels the pending timeout, destroys the offer and relays the
// answer payload to the initiator. An answer for an attempt that just
// ended is absorbed, not an error.
func (m *Machine) Answer(_ context.Context, from, callID string, key room.Key, raw []byte) error {
	if !m.presence.UserInRoom(from, key) {
		return errs.ErrRoomNotJoined.WithDetail(string(key))
	}

	m.mu.Lock()
	off, ok := m.offers[callID]
	if ok {
		if _, isTarget := off.Targets[from]; !isTarget {
			m.mu.Unlock()
			return errs.ErrNotMember.WithDetail("answer from non-target")
		}
		delete(m.offers, callID)
	}
	m.mu.Unlock()

	if !ok {
		if m.ended.Contains(callID) {
			return nil
		}
		return errs.ErrCallNotFound.WithDetail(callID)
	}
	off.timer.Stop() // cancelling twice is fine

	if n := m.presence.PushToUserInRoom(off.Initiator, key, raw); n == 0 {
		logger.Warnf("[call] answer relayed to nobody call=%s initiator=%s", callID, off.Initiator)
	}
	return nil
}

// Candidate relays an ICE candidate verbatim. Candidates may arrive
// before the answer or after the offer entry is gone (mid-call
// trickle), so a missing offer is not an error as long as the sender
// and recipient share the room.
func (m *Machine) Candidate(_ context.Context, from, to, callID string, key room.Key, raw []byte) error {
	if !m.presence.UserInRoom(from, key) {
		return errs.ErrRoomNotJoined.WithDetail(string(key))
	}

	recipient := to
	m.mu.Lock()
	off, ok := m.offers[callID]
	if ok && recipient == "" {
		if from == off.Initiator {
			for t := range off.Targets {
				recipient = t
			}
		} else {
			recipient = off.Initiator
		}
	}
	m.mu.Unlock()

	if recipient == "" {
		if other, okD := key.DirectOther(from); okD {
			recipient = other
		} else {
			return errs.ErrArgs.WithDetail("candidate needs a recipient")
		}
	}
	if key.IsDirect() {
		if other, okD := key.DirectOther(from); !okD || other != recipient {
			return errs.ErrNotMember.WithDetail("recipient does not share room " + string(key))
		}
	}
	m.presence.PushToUserInRoom(recipient, key, raw)
	return nil
}

// End terminates an attempt. Matched by callId, or by {room, initiator}
// for older in-flight offers that predate client callId support. The
// recently-ended guard absorbs the duplicate end both participants
// send for the same call.
func (m *Machine) End(_ context.Context, from, callID string, key room.Key, raw []byte) error {
	if !m.presence.UserInRoom(from, key) {
		return errs.ErrRoomNotJoined.WithDetail(string(key))
	}

	m.mu.Lock()
	off, ok := m.offers[callID]
	if !ok && callID == "" {
		// fallback: oldest pending offer this user initiated in the room
		for id, cand := range m.offers {
			if cand.RoomKey == key && cand.Initiator == from {
				if off == nil || cand.CreatedAt.Before(off.CreatedAt) {
					off, ok = cand, true
					callID = id
				}
			}
		}
	}
	if ok {
		delete(m.offers, off.CallID)
	}
	m.mu.Unlock()

	if callID == "" {
		return errs.ErrCallNotFound.WithDetail("no call to end")
	}
	if ok {
		off.timer.Stop()
	}
	if m.ended.SeenOnce(callID, 0) {
		// second participant's end signal for the same call
		return nil
	}
	if raw == nil {
		raw = endedFrame(callID, key)
	}
	m.presence.BroadcastRoom(key, raw, "")
	logger.Infof("[call] ended call=%s by=%s room=%s", callID, from, key)
	return nil
}

// timeout fires when no answer arrived inside the window. Targets that
// never joined the room get their ring notification flipped to missed;
// the room gets a callEnded broadcast so connected UIs tear down.
func (m *Machine) timeout(callID string) {
	m.mu.Lock()
	off, ok := m.offers[callID]
	if ok {
		delete(m.offers, callID)
	}
	m.mu.Unlock()
	if !ok {
		// answered or ended first; cancel lost the race, nothing to do
		return
	}

	m.ended.SeenOnce(callID, 0)
	ctx := context.Background()
	for t := range off.Targets {
		if m.presence.UserInRoom(t, off.RoomKey) {
			continue
		}
		m.notifier.Missed(ctx, t, off.OfferInfo)
	}
	m.presence.BroadcastRoom(off.RoomKey, endedFrame(callID, off.RoomKey), "")
	logger.Infof("[call] offer timed out call=%s room=%s", callID, off.RoomKey)
}

func endedFrame(callID string, key room.Key) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    "callEnded",
		"call_id": callID,
		"conv_id": string(key),
		"payload": map[string]any{"reason": "ended"},
	})
	return data
}
