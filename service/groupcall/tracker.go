package groupcall

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"MentorLink/logger"
	"MentorLink/service/call"
	"MentorLink/service/room"
	"MentorLink/tools/errs"
	"MentorLink/tools/expiring"
)

// Membership is the group-membership collaborator (mongo adapter under
// module/group/model by default).
type Membership interface {
	IsUserMember(ctx context.Context, groupID, userID string) (bool, error)
	MembersOf(ctx context.Context, groupID string) ([]string, error)
}

// Presence is the session-registry slice the tracker consults; note it
// also joins/leaves sessions on the call room.
type Presence interface {
	UserInRoom(userID string, key room.Key) bool
	PushToUserInRoom(userID string, key room.Key, data []byte) int
	BroadcastRoom(key room.Key, data []byte, exceptSessionID string) int
	JoinRoom(sessionID string, key room.Key) error
	LeaveRoom(sessionID string, key room.Key)
}

// Notifier raises invite/missed notifications, same contract as the 1:1
// machine.
type Notifier interface {
	Ring(ctx context.Context, target string, off call.OfferInfo)
	Missed(ctx context.Context, target string, off call.OfferInfo)
}

type Conf struct {
	RingTimeout time.Duration // window before never-joined members count as missed
	EndedTTL    time.Duration
	Clock       func() time.Time
	AfterFunc   func(d time.Duration, f func()) call.Timer
}

func (c *Conf) norm() {
	if c.RingTimeout <= 0 {
		c.RingTimeout = 30 * time.Second
	}
	if c.EndedTTL <= 0 {
		c.EndedTTL = 60 * time.Second
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.AfterFunc == nil {
		c.AfterFunc = func(d time.Duration, f func()) call.Timer { return time.AfterFunc(d, f) }
	}
}

// state is one live group call. Created on first join, destroyed when
// the last participant leaves.
type state struct {
	GroupCallID string
	GroupID     string
	RoomKey     room.Key
	Kind        call.Kind
	Initiator   string
	Joined      map[string]struct{}
	// last pair-offer each participant sent, replayed to late joiners
	// that the offer was addressed to
	lastOfferByUser map[string]json.RawMessage
	ringTimer       call.Timer
	CreatedAt       time.Time
}

// Tracker generalizes call signaling to N parties sharing a
// groupCallId.
type Tracker struct {
	mu    sync.Mutex
	conf  Conf
	calls map[string]*state    // groupCallID -> state
	byKey map[room.Key]string  // call room key -> groupCallID (disconnect discovery)

	ended      *expiring.Cache
	presence   Presence
	membership Membership
	notifier   Notifier
}

func NewTracker(conf Conf, presence Presence, membership Membership, notifier Notifier) *Tracker {
	conf.norm()
	return &Tracker{
		conf:       conf,
		calls:      make(map[string]*state),
		byKey:      make(map[room.Key]string),
		ended:      expiring.NewCache(conf.EndedTTL, expiring.WithClock(conf.Clock)),
		presence:   presence,
		membership: membership,
		notifier:   notifier,
	}
}

func (t *Tracker) Close() {
	t.mu.Lock()
	for id, st := range t.calls {
		if st.ringTimer != nil {
			st.ringTimer.Stop()
		}
		delete(t.calls, id)
		delete(t.byKey, st.RoomKey)
	}
	t.mu.Unlock()
	t.ended.Close()
}

// Participants returns the current joined set, sorted; empty slice when
// the call does not exist.
func (t *Tracker) Participants(groupCallID string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.calls[groupCallID]
	if !ok {
		return nil
	}
	return sortedSet(st.Joined)
}

// JoinResult is what the joining client needs to establish pairwise
// media connections.
type JoinResult struct {
	RoomKey      room.Key
	Participants []string // everyone already in, excluding the joiner
	PendingOffer json.RawMessage
}

// Join validates group membership, adds the user to the call, returns
// the prior participant list, invites members who have not joined yet
// and broadcasts the presence change. The first join creates the call
// state and arms the ring timeout.
func (t *Tracker) Join(ctx context.Context, userID, sessionID, groupCallID, groupID string, kind call.Kind) (*JoinResult, error) {
	if groupCallID == "" || groupID == "" {
		return nil, errs.ErrArgs.WithDetail("join needs group_call_id and group_id")
	}
	key, err := room.GroupCall(groupCallID)
	if err != nil {
		return nil, err
	}

	// membership check is an await point: validate before any mutation
	// so a lookup failure leaves no partial state
	member, err := t.membership.IsUserMember(ctx, groupID, userID)
	if err != nil {
		return nil, errs.WrapMsg(err, "membership lookup", "group", groupID)
	}
	if !member {
		return nil, errs.ErrNotMember.WithDetail("not a member of group " + groupID)
	}

	var (
		created bool
		prior   []string
		pending json.RawMessage
	)
	t.mu.Lock()
	st, ok := t.calls[groupCallID]
	if !ok {
		// check-and-set: we are first only if the slot is still empty
		st = &state{
			GroupCallID:     groupCallID,
			GroupID:         groupID,
			RoomKey:         key,
			Kind:            kind,
			Initiator:       userID,
			Joined:          make(map[string]struct{}),
			lastOfferByUser: make(map[string]json.RawMessage),
			CreatedAt:       t.conf.Clock(),
		}
		st.ringTimer = t.conf.AfterFunc(t.conf.RingTimeout, func() { t.ringTimeout(groupCallID) })
		t.calls[groupCallID] = st
		t.byKey[key] = groupCallID
		created = true
	}
	_, wasJoined := st.Joined[userID]
	// a rejoin must not list the joiner among its own peers
	delete(st.Joined, userID)
	prior = sortedSet(st.Joined)
	st.Joined[userID] = struct{}{}
	pending = st.lastOfferByUser[userID]
	t.mu.Unlock()

	if err := t.presence.JoinRoom(sessionID, key); err != nil {
		// the registry refused the session (it raced a disconnect);
		// undo the mutation so nobody stays phantom-joined
		t.rollbackJoin(groupCallID, userID, wasJoined)
		return nil, err
	}

	t.presence.BroadcastRoom(key, presenceFrame("userJoinedCall", groupCallID, key, userID), sessionID)

	if created {
		// invite every other group member; Ring dedups per callId+user
		members, merr := t.membership.MembersOf(ctx, groupID)
		if merr != nil {
			logger.Warnf("[groupcall] members lookup failed group=%s err=%v", groupID, merr)
		}
		info := call.OfferInfo{CallID: groupCallID, Initiator: userID, RoomKey: key, Kind: kind}
		for _, m := range members {
			if m == userID {
				continue
			}
			t.notifier.Ring(ctx, m, info)
		}
	}

	logger.Infof("[groupcall] joined call=%s user=%s participants=%d", groupCallID, userID, len(prior)+1)
	return &JoinResult{RoomKey: key, Participants: prior, PendingOffer: pending}, nil
}

// rollbackJoin reverses a Join whose registry room-join failed. A user
// who was already in the call through another session keeps their slot;
// otherwise they are removed and an emptied state is destroyed.
func (t *Tracker) rollbackJoin(groupCallID, userID string, wasJoined bool) {
	if wasJoined {
		return
	}
	t.mu.Lock()
	st, ok := t.calls[groupCallID]
	if !ok {
		t.mu.Unlock()
		return
	}
	delete(st.Joined, userID)
	delete(st.lastOfferByUser, userID)
	if len(st.Joined) > 0 {
		t.mu.Unlock()
		return
	}
	if st.ringTimer != nil {
		st.ringTimer.Stop()
	}
	delete(t.calls, groupCallID)
	delete(t.byKey, st.RoomKey)
	t.mu.Unlock()
	logger.Warnf("[groupcall] join rolled back, destroyed call=%s user=%s", groupCallID, userID)
}

// Relay forwards a pair-addressed offer/answer/candidate to exactly one
// recipient, validating both ends against the joined set.
func (t *Tracker) Relay(_ context.Context, from, to, groupCallID string, isOffer bool, raw []byte) error {
	if to == "" {
		return errs.ErrArgs.WithDetail("group call signaling must name a recipient")
	}
	t.mu.Lock()
	st, ok := t.calls[groupCallID]
	if !ok {
		t.mu.Unlock()
		return errs.ErrCallNotFound.WithDetail(groupCallID)
	}
	if _, in := st.Joined[from]; !in {
		t.mu.Unlock()
		return errs.ErrNotMember.WithDetail("sender has not joined call " + groupCallID)
	}
	if _, in := st.Joined[to]; !in {
		t.mu.Unlock()
		return errs.ErrNotMember.WithDetail("recipient has not joined call " + groupCallID)
	}
	if isOffer {
		st.lastOfferByUser[to] = append(json.RawMessage(nil), raw...)
	}
	key := st.RoomKey
	t.mu.Unlock()

	if n := t.presence.PushToUserInRoom(to, key, raw); n == 0 {
		logger.Debugf("[groupcall] relay reached nobody call=%s to=%s", groupCallID, to)
	}
	return nil
}

// Leave removes the user; when the joined set empties the state and its
// timer are destroyed. Broadcast happens regardless so remaining
// participants drop the peer connection.
func (t *Tracker) Leave(_ context.Context, userID, sessionID, groupCallID string) error {
	t.mu.Lock()
	st, ok := t.calls[groupCallID]
	if !ok {
		t.mu.Unlock()
		// duplicate leave after cleanup; absorbed
		return nil
	}
	if _, in := st.Joined[userID]; !in {
		t.mu.Unlock()
		return nil
	}
	delete(st.Joined, userID)
	delete(st.lastOfferByUser, userID)
	empty := len(st.Joined) == 0
	key := st.RoomKey
	if empty {
		if st.ringTimer != nil {
			st.ringTimer.Stop()
		}
		delete(t.calls, groupCallID)
		delete(t.byKey, key)
	}
	t.mu.Unlock()

	if sessionID != "" {
		t.presence.LeaveRoom(sessionID, key)
	}
	t.presence.BroadcastRoom(key, presenceFrame("userLeftCall", groupCallID, key, userID), sessionID)
	if empty {
		t.ended.SeenOnce(groupCallID, 0)
		logger.Infof("[groupcall] last participant left, destroyed call=%s", groupCallID)
	}
	return nil
}

// HandleDisconnect applies leave semantics for every group-call room an
// ungracefully dropped session had joined, so no participant stays
// phantom-joined.
func (t *Tracker) HandleDisconnect(userID, sessionID string, rooms []room.Key) {
	for _, k := range rooms {
		if !k.IsGroupCall() {
			continue
		}
		t.mu.Lock()
		groupCallID, ok := t.byKey[k]
		t.mu.Unlock()
		if !ok {
			continue
		}
		// the session is already unregistered; pass no sessionID so
		// Leave only fixes the joined set and broadcasts
		if err := t.Leave(context.Background(), userID, "", groupCallID); err != nil {
			logger.Warnf("[groupcall] disconnect cleanup failed call=%s user=%s err=%v", groupCallID, userID, err)
		}
	}
}

// ringTimeout mirrors the 1:1 missed-call flow: group members who never
// became present in the call room inside the window get their invite
// flipped to missed. The call itself keeps running for whoever joined.
func (t *Tracker) ringTimeout(groupCallID string) {
	t.mu.Lock()
	st, ok := t.calls[groupCallID]
	var (
		groupID string
		key     room.Key
		info    call.OfferInfo
	)
	if ok {
		groupID = st.GroupID
		key = st.RoomKey
		info = call.OfferInfo{CallID: groupCallID, Initiator: st.Initiator, RoomKey: key, Kind: st.Kind}
	}
	t.mu.Unlock()
	if !ok {
		return
	}

	ctx := context.Background()
	members, err := t.membership.MembersOf(ctx, groupID)
	if err != nil {
		logger.Warnf("[groupcall] ring timeout members lookup failed group=%s err=%v", groupID, err)
		return
	}
	for _, m := range members {
		if m == info.Initiator {
			continue
		}
		// room membership is the authority, per the session registry
		if t.presence.UserInRoom(m, key) {
			continue
		}
		t.notifier.Missed(ctx, m, info)
	}
}

func presenceFrame(typ, groupCallID string, key room.Key, userID string) []byte {
	data, _ := json.Marshal(map[string]any{
		"type":    typ,
		"call_id": groupCallID,
		"conv_id": string(key),
		"payload": map[string]any{"user_id": userID},
	})
	return data
}

func sortedSet(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
