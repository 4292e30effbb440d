package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"MentorLink/service/room"
)

// wsPair dials a real websocket against a throwaway upgrade handler so
// sessions carry live conns.
type wsPair struct {
	srv   *httptest.Server
	mu    sync.Mutex
	conns []*websocket.Conn
}

func newWSPair(t *testing.T) *wsPair {
	t.Helper()
	p := &wsPair{}
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		p.mu.Lock()
		p.conns = append(p.conns, c)
		p.mu.Unlock()
	}))
	t.Cleanup(func() {
		p.mu.Lock()
		for _, c := range p.conns {
			_ = c.Close()
		}
		p.mu.Unlock()
		p.srv.Close()
	})
	return p
}

func (p *wsPair) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(p.srv.URL, "http")
	c, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	p.mu.Lock()
	p.conns = append(p.conns, c)
	p.mu.Unlock()
	return c
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, conf ManagerConf) (*ConnManager, *wsPair) {
	t.Helper()
	m := NewConnManager(conf, "test-node")
	t.Cleanup(m.Close)
	return m, newWSPair(t)
}

func TestBindUserFirstSessionFlag(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{})

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.AddUnauth("s2", p.dial(t))
	require.NoError(t, err)

	first, err := m.BindUser("s1", "alice")
	require.NoError(t, err)
	assert.True(t, first)

	first, err = m.BindUser("s2", "alice")
	require.NoError(t, err)
	assert.False(t, first, "second device is not the first session")

	// rebinding the same user is a no-op
	first, err = m.BindUser("s1", "alice")
	require.NoError(t, err)
	assert.False(t, first)

	assert.True(t, m.IsUserOnline("alice"))
	assert.Len(t, m.LiveSessionsForUser("alice"), 2)
}

func TestDuplicateSessionRejected(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{})
	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.AddUnauth("s1", p.dial(t))
	assert.Error(t, err)
}

func TestRoomMembership(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{})
	key, _ := room.Direct("alice", "bob")

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s1", "alice")
	require.NoError(t, err)

	require.NoError(t, m.JoinRoom("s1", key))
	assert.True(t, m.UserInRoom("alice", key))
	assert.False(t, m.UserInRoom("bob", key))
	assert.Len(t, m.SessionsInRoom(key), 1)
	assert.Equal(t, []room.Key{key}, m.RoomsOfSession("s1"))

	m.LeaveRoom("s1", key)
	assert.False(t, m.UserInRoom("alice", key))
	assert.Empty(t, m.SessionsInRoom(key))
}

func TestUnregisterRunsHooksWithRooms(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{})
	key, _ := room.GroupCall("call1")

	var (
		hookRooms []room.Key
		hookLast  bool
		hookUser  string
	)
	m.OnUnregister(func(s *Session, rooms []room.Key, lastOfUser bool) {
		hookUser, hookRooms, hookLast = s.UserID, rooms, lastOfUser
	})

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s1", "alice")
	require.NoError(t, err)
	require.NoError(t, m.JoinRoom("s1", key))

	m.Unregister("s1")
	assert.Equal(t, "alice", hookUser)
	assert.Equal(t, []room.Key{key}, hookRooms)
	assert.True(t, hookLast)
	assert.False(t, m.IsUserOnline("alice"))

	// idempotent
	m.Unregister("s1")
}

func TestEvictOldestCarriesRoomsToHooks(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{MaxPerUser: 1, EvictOldest: true})
	key, _ := room.GroupCall("call1")

	var evictedRooms []room.Key
	m.OnUnregister(func(_ *Session, rooms []room.Key, _ bool) {
		evictedRooms = rooms
	})

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s1", "alice")
	require.NoError(t, err)
	require.NoError(t, m.JoinRoom("s1", key))

	_, err = m.AddUnauth("s2", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s2", "alice")
	require.NoError(t, err)

	_, gone := m.GetSession("s1")
	assert.False(t, gone, "oldest session evicted")
	assert.Equal(t, []room.Key{key}, evictedRooms)
	assert.True(t, m.IsUserOnline("alice"))
}

func TestSweepExpiresUnauthSessions(t *testing.T) {
	clk := &manualClock{now: time.Unix(5000, 0)}
	m, p := newTestManager(t, ManagerConf{
		UnauthTTL: 30 * time.Second,
		AuthTTL:   time.Hour,
		Clock:     clk.Now,
	})

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.AddUnauth("s2", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s2", "alice")
	require.NoError(t, err)

	clk.Advance(31 * time.Second)
	n := m.SweepOnce(clk.Now())
	assert.Equal(t, 1, n, "only the unauth session expires")

	_, ok := m.GetSession("s1")
	assert.False(t, ok)
	assert.True(t, m.IsUserOnline("alice"))
}

func TestHeartbeatExtendsTTL(t *testing.T) {
	clk := &manualClock{now: time.Unix(5000, 0)}
	m, p := newTestManager(t, ManagerConf{
		UnauthTTL: 30 * time.Second,
		AuthTTL:   time.Minute,
		Clock:     clk.Now,
	})

	_, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)
	_, err = m.BindUser("s1", "alice")
	require.NoError(t, err)

	clk.Advance(50 * time.Second)
	require.NoError(t, m.HeartbeatSession("s1"))

	clk.Advance(30 * time.Second)
	assert.Equal(t, 0, m.SweepOnce(clk.Now()))

	clk.Advance(40 * time.Second)
	assert.Equal(t, 1, m.SweepOnce(clk.Now()))
}

func TestTrySendDropsWhenQueueFull(t *testing.T) {
	m, p := newTestManager(t, ManagerConf{SendBuffer: 2})
	s, err := m.AddUnauth("s1", p.dial(t))
	require.NoError(t, err)

	assert.True(t, s.TrySend([]byte("a")))
	assert.True(t, s.TrySend([]byte("b")))
	assert.False(t, s.TrySend([]byte("c")), "full queue drops instead of blocking")
}
