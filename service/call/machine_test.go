package call

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

// ===== fakes =====

type fakeTimer struct {
	mu      sync.Mutex
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	was := t.stopped
	t.stopped = true
	return !was
}

// timerBox captures armed timeouts so tests fire them deterministically.
type timerBox struct {
	mu     sync.Mutex
	fns    []func()
	timers []*fakeTimer
}

func (b *timerBox) AfterFunc(_ time.Duration, f func()) Timer {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := &fakeTimer{}
	b.fns = append(b.fns, f)
	b.timers = append(b.timers, t)
	return t
}

// fire runs the i-th armed timeout unless it was stopped, mimicking a
// real timer expiring.
func (b *timerBox) fire(i int) {
	b.mu.Lock()
	fn := b.fns[i]
	stopped := func() bool {
		b.timers[i].mu.Lock()
		defer b.timers[i].mu.Unlock()
		return b.timers[i].stopped
	}()
	b.mu.Unlock()
	if !stopped {
		fn()
	}
}

type fakePresence struct {
	mu         sync.Mutex
	inRoom     map[string]bool // user|key
	pushes     []string        // user|key
	broadcasts []room.Key
}

func newFakePresence() *fakePresence {
	return &fakePresence{inRoom: make(map[string]bool)}
}

func (p *fakePresence) join(userID string, key room.Key) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inRoom[userID+"|"+string(key)] = true
}

func (p *fakePresence) UserInRoom(userID string, key room.Key) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.inRoom[userID+"|"+string(key)]
}

func (p *fakePresence) PushToUserInRoom(userID string, key room.Key, _ []byte) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pushes = append(p.pushes, userID+"|"+string(key))
	if p.inRoom[userID+"|"+string(key)] {
		return 1
	}
	return 0
}

func (p *fakePresence) BroadcastRoom(key room.Key, _ []byte, _ string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.broadcasts = append(p.broadcasts, key)
	return 1
}

func (p *fakePresence) broadcastCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.broadcasts)
}

type fakeNotifier struct {
	mu     sync.Mutex
	rings  []string
	missed []string
}

func (n *fakeNotifier) Ring(_ context.Context, target string, _ OfferInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.rings = append(n.rings, target)
}

func (n *fakeNotifier) Missed(_ context.Context, target string, _ OfferInfo) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.missed = append(n.missed, target)
}

func (n *fakeNotifier) missedList() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]string(nil), n.missed...)
}

// ===== helpers =====

func setupMachine(t *testing.T) (*Machine, *fakePresence, *fakeNotifier, *timerBox, room.Key) {
	t.Helper()
	pres := newFakePresence()
	not := &fakeNotifier{}
	box := &timerBox{}
	m := NewMachine(Conf{
		OfferTimeout: 30 * time.Second,
		EndedTTL:     time.Minute,
		AfterFunc:    box.AfterFunc,
	}, pres, not)
	t.Cleanup(m.Close)

	key, err := room.Direct("mentor", "student")
	require.NoError(t, err)
	return m, pres, not, box, key
}

func offer(t *testing.T, m *Machine, key room.Key) {
	t.Helper()
	err := m.Offer(context.Background(), "mentor", "c1", key, KindVideo, []string{"student"}, []byte(`{"type":"callOffer"}`))
	require.NoError(t, err)
}

// ===== tests =====

func TestOfferRelaysAndRings(t *testing.T) {
	m, pres, not, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)

	offer(t, m, key)
	assert.True(t, m.HasPending("c1"))
	assert.Contains(t, pres.pushes, "student|"+string(key))
	assert.Equal(t, []string{"student"}, not.rings)
}

func TestOfferRequiresSenderInRoom(t *testing.T) {
	m, _, _, _, key := setupMachine(t)
	err := m.Offer(context.Background(), "mentor", "c1", key, KindAudio, []string{"student"}, nil)
	assert.True(t, errs.ErrRoomNotJoined.Is(err))
}

func TestOfferRejectsStrangerTarget(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	err := m.Offer(context.Background(), "mentor", "c1", key, KindAudio, []string{"charlie"}, nil)
	assert.True(t, errs.ErrNotMember.Is(err))
}

func TestDuplicateOfferAbsorbed(t *testing.T) {
	m, pres, not, box, key := setupMachine(t)
	pres.join("mentor", key)

	offer(t, m, key)
	offer(t, m, key)
	assert.Len(t, not.rings, 1)
	box.mu.Lock()
	armed := len(box.fns)
	box.mu.Unlock()
	assert.Equal(t, 1, armed)
}

func TestAnswerCancelsTimeout(t *testing.T) {
	m, pres, not, box, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)

	offer(t, m, key)
	require.NoError(t, m.Answer(context.Background(), "student", "c1", key, []byte(`{"type":"callAnswer"}`)))
	assert.False(t, m.HasPending("c1"))
	assert.Contains(t, pres.pushes, "mentor|"+string(key))

	// a late timer expiry must not produce a missed call
	box.fire(0)
	assert.Empty(t, not.missedList())
}

func TestAnswerFromNonTargetRejected(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)
	offer(t, m, key)

	err := m.Answer(context.Background(), "mentor", "c1", key, nil)
	assert.True(t, errs.ErrNotMember.Is(err))
	assert.True(t, m.HasPending("c1"))
}

func TestAnswerUnknownCall(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("student", key)
	err := m.Answer(context.Background(), "student", "nope", key, nil)
	assert.True(t, errs.ErrCallNotFound.Is(err))
}

func TestTimeoutFlipsAbsentTargetsToMissed(t *testing.T) {
	m, pres, not, box, key := setupMachine(t)
	pres.join("mentor", key) // student never joins

	offer(t, m, key)
	box.fire(0)

	assert.False(t, m.HasPending("c1"))
	assert.Equal(t, []string{"student"}, not.missedList())
	assert.Equal(t, 1, pres.broadcastCount())

	// firing again must be a no-op
	box.fire(0)
	assert.Equal(t, []string{"student"}, not.missedList())
}

func TestTimeoutSkipsTargetsPresentInRoom(t *testing.T) {
	m, pres, not, box, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key) // ringing on screen, just never answered

	offer(t, m, key)
	box.fire(0)

	assert.Empty(t, not.missedList())
	assert.Equal(t, 1, pres.broadcastCount())
}

func TestAnswerAfterTimeoutAbsorbed(t *testing.T) {
	m, pres, _, box, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)

	offer(t, m, key)
	box.fire(0)
	assert.NoError(t, m.Answer(context.Background(), "student", "c1", key, nil))
}

func TestEndByCallID(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)

	offer(t, m, key)
	require.NoError(t, m.End(context.Background(), "mentor", "c1", key, nil))
	assert.False(t, m.HasPending("c1"))
	assert.Equal(t, 1, pres.broadcastCount())

	// the other side hangs up too; absorbed, no second broadcast
	require.NoError(t, m.End(context.Background(), "student", "c1", key, nil))
	assert.Equal(t, 1, pres.broadcastCount())
}

func TestEndByRoomFallback(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)

	offer(t, m, key)
	require.NoError(t, m.End(context.Background(), "mentor", "", key, nil))
	assert.False(t, m.HasPending("c1"))
}

func TestEndNothingPending(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	err := m.End(context.Background(), "mentor", "", key, nil)
	assert.True(t, errs.ErrCallNotFound.Is(err))
}

func TestOfferAfterEndAbsorbed(t *testing.T) {
	m, pres, not, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)

	offer(t, m, key)
	require.NoError(t, m.End(context.Background(), "mentor", "c1", key, nil))

	// stale retransmission of the ended attempt
	err := m.Offer(context.Background(), "mentor", "c1", key, KindVideo, []string{"student"}, nil)
	require.NoError(t, err)
	assert.False(t, m.HasPending("c1"))
	assert.Len(t, not.rings, 1)
}

func TestCandidateResolvesRecipientFromOffer(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)
	offer(t, m, key)

	pres.mu.Lock()
	pres.pushes = nil
	pres.mu.Unlock()

	// initiator trickle reaches the target, target trickle the initiator
	require.NoError(t, m.Candidate(context.Background(), "mentor", "", "c1", key, []byte(`{}`)))
	require.NoError(t, m.Candidate(context.Background(), "student", "", "c1", key, []byte(`{}`)))
	assert.Equal(t, []string{"student|" + string(key), "mentor|" + string(key)}, pres.pushes)
}

func TestCandidateAfterAnswerStillRelays(t *testing.T) {
	m, pres, _, _, key := setupMachine(t)
	pres.join("mentor", key)
	pres.join("student", key)
	offer(t, m, key)
	require.NoError(t, m.Answer(context.Background(), "student", "c1", key, nil))

	// mid-call trickle: offer entry is gone, relay by room counterpart
	require.NoError(t, m.Candidate(context.Background(), "mentor", "", "c1", key, []byte(`{}`)))
	assert.Contains(t, pres.pushes, "student|"+string(key))
}
