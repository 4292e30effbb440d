package notify

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MentorLink/service/room"
	"MentorLink/tools/errs"
)

type fakeStore struct {
	mu      sync.Mutex
	created []*Stored
	missed  map[string]string // userID|callID -> body
	read    []string
	convRed [][2]string

	missedNotFound bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{missed: make(map[string]string)}
}

func (s *fakeStore) Create(_ context.Context, n *Stored) (*Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *n
	s.created = append(s.created, &cp)
	return &cp, nil
}

func (s *fakeStore) UpdateToMissed(_ context.Context, userID, callID, body string) (*Stored, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.missedNotFound {
		return nil, errs.ErrRecordNotFound
	}
	s.missed[userID+"|"+callID] = body
	return &Stored{UserID: userID, CallID: callID, Kind: KindMissedCall, Body: body}, nil
}

func (s *fakeStore) MarkRead(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.read = append(s.read, id)
	return nil
}

func (s *fakeStore) MarkConversationRead(_ context.Context, userID, convKey string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.convRed = append(s.convRed, [2]string{userID, convKey})
	return []string{"n1", "n2"}, nil
}

func (s *fakeStore) createdCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.created)
}

type fakePusher struct {
	mu        sync.Mutex
	online    map[string]bool
	inRoom    map[string]bool // userID|roomKey
	roomPush  int
	userPush  int
}

func newFakePusher() *fakePusher {
	return &fakePusher{online: make(map[string]bool), inRoom: make(map[string]bool)}
}

func (p *fakePusher) IsUserOnline(userID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.online[userID]
}

func (p *fakePusher) PushToUser(userID string, _ []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.online[userID] {
		return 0
	}
	p.userPush++
	return 1
}

func (p *fakePusher) PushToUserInRoom(userID string, key room.Key, _ []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.inRoom[userID+"|"+string(key)] {
		return 0
	}
	p.roomPush++
	return 1
}

type fakePub struct {
	mu     sync.Mutex
	events []string
}

func (p *fakePub) PublishOffline(_ context.Context, eventID string, _ []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, eventID)
	return nil
}

func testEvent(eventID, userID string) Event {
	key, _ := room.Direct("mentor", "student")
	return Event{
		EventID: eventID,
		UserID:  userID,
		Kind:    KindMessage,
		RoomKey: key,
		Title:   "New message",
		Body:    "hi",
	}
}

func TestDeliverLivePushSkipsStore(t *testing.T) {
	store, pusher := newFakeStore(), newFakePusher()
	key, _ := room.Direct("mentor", "student")
	pusher.online["student"] = true
	pusher.inRoom["student|"+string(key)] = true

	f := NewFanout(Conf{}, store, pusher, nil)
	defer f.Close()

	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "student")))
	assert.Equal(t, 1, pusher.roomPush)
	assert.Equal(t, 0, pusher.userPush)
	assert.Equal(t, 0, store.createdCount())
}

func TestDeliverFallsBackToAllSessions(t *testing.T) {
	store, pusher := newFakeStore(), newFakePusher()
	pusher.online["student"] = true // online but not in the room

	f := NewFanout(Conf{}, store, pusher, nil)
	defer f.Close()

	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "student")))
	assert.Equal(t, 0, pusher.roomPush)
	assert.Equal(t, 1, pusher.userPush)
	assert.Equal(t, 0, store.createdCount())
}

func TestDeliverOfflinePersistsAndPublishes(t *testing.T) {
	store, pusher, pub := newFakeStore(), newFakePusher(), &fakePub{}

	f := NewFanout(Conf{}, store, pusher, pub)
	defer f.Close()

	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "student")))
	require.Equal(t, 1, store.createdCount())
	assert.Equal(t, "e1:student", store.created[0].ID)
	assert.Equal(t, []string{"e1"}, pub.events)
}

func TestDeliverDedupsInsideWindow(t *testing.T) {
	store, pusher := newFakeStore(), newFakePusher()

	f := NewFanout(Conf{DedupTTL: time.Minute}, store, pusher, nil)
	defer f.Close()

	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "student")))
	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "student")))
	assert.Equal(t, 1, store.createdCount())

	// same event for a different user is a distinct delivery
	require.NoError(t, f.Deliver(context.Background(), testEvent("e1", "mentor")))
	assert.Equal(t, 2, store.createdCount())
}

func TestDeliverRejectsIncompleteEvent(t *testing.T) {
	f := NewFanout(Conf{}, newFakeStore(), newFakePusher(), nil)
	defer f.Close()

	assert.Error(t, f.Deliver(context.Background(), Event{UserID: "u"}))
	assert.Error(t, f.Deliver(context.Background(), Event{EventID: "e"}))
}

func TestRaiseStoredPersistsEvenWhenOnline(t *testing.T) {
	store, pusher := newFakeStore(), newFakePusher()
	pusher.online["student"] = true

	f := NewFanout(Conf{}, store, pusher, nil)
	defer f.Close()

	ev := testEvent("ring1", "student")
	ev.Kind = KindIncomingCall
	require.NoError(t, f.RaiseStored(context.Background(), ev))
	assert.Equal(t, 1, store.createdCount())
	assert.Equal(t, 1, pusher.userPush)
}

func TestFlipToMissedUpdatesExisting(t *testing.T) {
	store := newFakeStore()
	f := NewFanout(Conf{}, store, newFakePusher(), nil)
	defer f.Close()

	require.NoError(t, f.FlipToMissed(context.Background(), "student", "call1", "missed"))
	assert.Equal(t, "missed", store.missed["student|call1"])
	assert.Equal(t, 0, store.createdCount())
}

func TestFlipToMissedCreatesWhenRecordGone(t *testing.T) {
	store := newFakeStore()
	store.missedNotFound = true
	f := NewFanout(Conf{}, store, newFakePusher(), nil)
	defer f.Close()

	require.NoError(t, f.FlipToMissed(context.Background(), "student", "call1", "missed"))
	require.Equal(t, 1, store.createdCount())
	assert.Equal(t, KindMissedCall, store.created[0].Kind)
	assert.Equal(t, "call1", store.created[0].CallID)
}

func TestFlipToMissedDedups(t *testing.T) {
	store := newFakeStore()
	f := NewFanout(Conf{DedupTTL: time.Minute}, store, newFakePusher(), nil)
	defer f.Close()

	require.NoError(t, f.FlipToMissed(context.Background(), "student", "call1", "missed"))
	require.NoError(t, f.FlipToMissed(context.Background(), "student", "call1", "missed"))
	assert.Len(t, store.missed, 1)
	assert.Equal(t, 0, store.createdCount())
}

func TestClearConversation(t *testing.T) {
	store := newFakeStore()
	f := NewFanout(Conf{}, store, newFakePusher(), nil)
	defer f.Close()

	key, _ := room.Direct("mentor", "student")
	n := f.ClearConversation(context.Background(), "student", key)
	assert.Equal(t, 2, n)
	require.Len(t, store.convRed, 1)
	assert.Equal(t, [2]string{"student", string(key)}, store.convRed[0])
}
