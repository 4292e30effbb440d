package gateway

import (
	"net"
	"sync"
	"time"

	"MentorLink/service/room"
	"MentorLink/tools/errs"

	"github.com/gorilla/websocket"
)

// ===== configuration =====

type ManagerConf struct {
	UnauthTTL   time.Duration    // TTL for connections that have not authed yet (e.g. 30s)
	AuthTTL     time.Duration    // TTL for authed connections, refreshed by heartbeat (e.g. 2h)
	SweepEvery  time.Duration    // sweep period (e.g. 10s)
	MaxPerUser  int              // max live sessions per user (<=0 unlimited)
	EvictOldest bool             // evict the oldest session when over the cap
	SendBuffer  int              // per-session send queue length
	Clock       func() time.Time // injectable clock for tests; nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.UnauthTTL <= 0 {
		c.UnauthTTL = 30 * time.Second
	}
	if c.AuthTTL <= 0 {
		c.AuthTTL = 2 * time.Hour
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// ===== data structures =====

// Session is one live transport connection bound to at most one user.
// Created on connect, destroyed on disconnect; the registry owns it.
type Session struct {
	ID         string // opaque per-connection handle (snowflake)
	UserID     string // empty until authed
	Authorized bool

	Conn   *websocket.Conn
	Remote net.Addr
	Send   chan []byte // write pump queue, drained by the ws writer goroutine

	CreatedAt time.Time
	UpdatedAt time.Time
	Heartbeat time.Time
	TTL       time.Duration
	ExpireAt  time.Time
}

// TrySend enqueues without blocking; a full queue means a slow client
// and the frame is dropped (delivery is best-effort, session-scoped).
func (s *Session) TrySend(data []byte) bool {
	select {
	case s.Send <- data:
		return true
	default:
		return false
	}
}

// ConnManager is the session registry: the single source of truth for
// "is user X reachable right now" and "who has joined room R". Every
// other component consults it instead of keeping its own presence maps.
type ConnManager struct {
	mu        sync.RWMutex
	bySession map[string]*Session                 // session id -> session
	byUser    map[string]map[string]*Session      // user id -> (session id -> session)
	byRoom    map[room.Key]map[string]*Session    // room key -> (session id -> session)
	roomsOf   map[string]map[room.Key]struct{}    // session id -> joined rooms

	conf     ManagerConf
	nodeID   string
	stopOnce sync.Once
	stopCh   chan struct{}

	// disconnect hooks, registered at boot, invoked outside the lock
	onUnregister []func(sess *Session, rooms []room.Key, lastOfUser bool)
}

func NewConnManager(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySession: make(map[string]*Session),
		byUser:    make(map[string]map[string]*Session),
		byRoom:    make(map[room.Key]map[string]*Session),
		roomsOf:   make(map[string]map[room.Key]struct{}),
		conf:      conf,
		nodeID:    nodeID,
		stopCh:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) NodeID() string { return m.nodeID }

// OnUnregister registers a cleanup hook that runs after a session is
// removed; hooks receive the rooms the session had joined so call/group
// trackers can resolve phantom participants.
func (m *ConnManager) OnUnregister(f func(sess *Session, rooms []room.Key, lastOfUser bool)) {
	m.onUnregister = append(m.onUnregister, f)
}

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.bySession {
		closeQuiet(s.Conn)
	}
	m.bySession = map[string]*Session{}
	m.byUser = map[string]map[string]*Session{}
	m.byRoom = map[room.Key]map[string]*Session{}
	m.roomsOf = map[string]map[room.Key]struct{}{}
}

// ===== register / bind / unregister =====

// AddUnauth registers a fresh connection that has not authed yet. It
// only exists in the session index until BindUser promotes it.
func (m *ConnManager) AddUnauth(sessionID string, conn *websocket.Conn) (*Session, error) {
	if sessionID == "" || conn == nil {
		return nil, errs.ErrArgs.WithDetail("sessionID/conn empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[sessionID]; exists {
		return nil, errs.ErrDuplicate.WithDetail("session already registered")
	}
	s := &Session{
		ID:        sessionID,
		Conn:      conn,
		Send:      make(chan []byte, m.conf.SendBuffer),
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		TTL:       m.conf.UnauthTTL,
		ExpireAt:  now.Add(m.conf.UnauthTTL),
	}
	if ra := conn.RemoteAddr(); ra != nil {
		s.Remote = ra
	}
	m.bySession[sessionID] = s
	return s, nil
}

// BindUser binds an unauth session to a user and switches it to the
// auth TTL. Idempotent per session: rebinding the same user is a no-op.
// Returns true when this is the user's first live session.
func (m *ConnManager) BindUser(sessionID, userID string) (first bool, err error) {
	if sessionID == "" || userID == "" {
		return false, errs.ErrArgs.WithDetail("sessionID/userID empty")
	}
	now := m.conf.Clock()

	var evicted *Session
	m.mu.Lock()
	s, ok := m.bySession[sessionID]
	if !ok || s.Conn == nil {
		m.mu.Unlock()
		return false, errs.ErrRecordNotFound.WithDetail("session not found")
	}
	if s.Authorized && s.UserID == userID {
		m.mu.Unlock()
		return false, nil
	}
	if s.Authorized && s.UserID != "" && s.UserID != userID {
		m.detachUserLocked(s)
	}

	first = len(m.byUser[userID]) == 0
	var evictedRooms []room.Key
	if m.conf.MaxPerUser > 0 {
		evicted, evictedRooms = m.enforceCapLocked(userID)
	}

	if m.byUser[userID] == nil {
		m.byUser[userID] = make(map[string]*Session)
	}
	m.byUser[userID][s.ID] = s

	s.UserID = userID
	s.Authorized = true
	s.TTL = m.conf.AuthTTL
	s.ExpireAt = now.Add(m.conf.AuthTTL)
	s.UpdatedAt = now
	s.Heartbeat = now
	m.mu.Unlock()

	if evicted != nil {
		closeQuiet(evicted.Conn)
		for _, f := range m.onUnregister {
			f(evicted, evictedRooms, false)
		}
	}
	return first, nil
}

// Unregister removes the session from every room it joined and from the
// user's live set, then runs the disconnect hooks. Idempotent.
func (m *ConnManager) Unregister(sessionID string) {
	if sessionID == "" {
		return
	}
	m.mu.Lock()
	s, ok := m.bySession[sessionID]
	if !ok {
		m.mu.Unlock()
		return
	}
	rooms, lastOfUser := m.removeLocked(s)
	m.mu.Unlock()

	closeQuiet(s.Conn)
	for _, f := range m.onUnregister {
		f(s, rooms, lastOfUser)
	}
}

// GetSession returns the live session for an id.
func (m *ConnManager) GetSession(sessionID string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.bySession[sessionID]
	return s, ok
}

// ===== room membership =====

func (m *ConnManager) JoinRoom(sessionID string, key room.Key) error {
	if sessionID == "" || key == "" {
		return errs.ErrArgs.WithDetail("sessionID/room empty")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySession[sessionID]
	if !ok {
		return errs.ErrRecordNotFound.WithDetail("session not found")
	}
	if m.byRoom[key] == nil {
		m.byRoom[key] = make(map[string]*Session)
	}
	m.byRoom[key][sessionID] = s
	if m.roomsOf[sessionID] == nil {
		m.roomsOf[sessionID] = make(map[room.Key]struct{})
	}
	m.roomsOf[sessionID][key] = struct{}{}
	return nil
}

func (m *ConnManager) LeaveRoom(sessionID string, key room.Key) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if mm := m.byRoom[key]; mm != nil {
		delete(mm, sessionID)
		if len(mm) == 0 {
			delete(m.byRoom, key)
		}
	}
	if rr := m.roomsOf[sessionID]; rr != nil {
		delete(rr, key)
		if len(rr) == 0 {
			delete(m.roomsOf, sessionID)
		}
	}
}

// ===== presence queries =====

func (m *ConnManager) IsUserOnline(userID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byUser[userID]) > 0
}

func (m *ConnManager) LiveSessionsForUser(userID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byUser[userID]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

func (m *ConnManager) SessionsInRoom(key room.Key) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mm := m.byRoom[key]
	if len(mm) == 0 {
		return nil
	}
	out := make([]*Session, 0, len(mm))
	for _, s := range mm {
		out = append(out, s)
	}
	return out
}

// UserInRoom reports whether at least one of the user's sessions has
// joined the room. This is the authority the missed-call path consults.
func (m *ConnManager) UserInRoom(userID string, key room.Key) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.byRoom[key] {
		if s.UserID == userID {
			return true
		}
	}
	return false
}

func (m *ConnManager) RoomsOfSession(sessionID string) []room.Key {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rr := m.roomsOf[sessionID]
	if len(rr) == 0 {
		return nil
	}
	out := make([]room.Key, 0, len(rr))
	for k := range rr {
		out = append(out, k)
	}
	return out
}

// ===== heartbeat / TTL =====

func (m *ConnManager) HeartbeatSession(sessionID string) error {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.bySession[sessionID]
	if !ok {
		return errs.ErrRecordNotFound.WithDetail("session not found")
	}
	s.Heartbeat = now
	s.ExpireAt = now.Add(s.TTL)
	s.UpdatedAt = now
	return nil
}

// AttachPongHandler renews the heartbeat on websocket pongs.
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, sessionID string) {
	if conn == nil || sessionID == "" {
		return
	}
	conn.SetPongHandler(func(string) error {
		_ = m.HeartbeatSession(sessionID) // session may have just been swept
		return nil
	})
}

// ===== sweeper =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.SweepOnce(now)
		}
	}
}

// SweepOnce expires sessions whose TTL elapsed. Exported for tests.
func (m *ConnManager) SweepOnce(now time.Time) int {
	type victim struct {
		s          *Session
		rooms      []room.Key
		lastOfUser bool
	}
	var victims []victim

	m.mu.Lock()
	for _, s := range m.bySession {
		if now.After(s.ExpireAt) {
			rooms, last := m.removeLocked(s)
			victims = append(victims, victim{s, rooms, last})
		}
	}
	m.mu.Unlock()

	// close sockets and run hooks outside the lock
	for _, v := range victims {
		closeQuiet(v.s.Conn)
		for _, f := range m.onUnregister {
			f(v.s, v.rooms, v.lastOfUser)
		}
	}
	return len(victims)
}

// ===== internals (must hold m.mu) =====

func (m *ConnManager) removeLocked(s *Session) (rooms []room.Key, lastOfUser bool) {
	delete(m.bySession, s.ID)
	for k := range m.roomsOf[s.ID] {
		rooms = append(rooms, k)
		if mm := m.byRoom[k]; mm != nil {
			delete(mm, s.ID)
			if len(mm) == 0 {
				delete(m.byRoom, k)
			}
		}
	}
	delete(m.roomsOf, s.ID)
	if s.Authorized && s.UserID != "" {
		if mm := m.byUser[s.UserID]; mm != nil {
			delete(mm, s.ID)
			if len(mm) == 0 {
				delete(m.byUser, s.UserID)
				lastOfUser = true
			}
		}
	}
	return rooms, lastOfUser
}

func (m *ConnManager) detachUserLocked(s *Session) {
	if mm := m.byUser[s.UserID]; mm != nil {
		delete(mm, s.ID)
		if len(mm) == 0 {
			delete(m.byUser, s.UserID)
		}
	}
}

// enforceCapLocked enforces MaxPerUser; returns the evicted
// session (and its rooms) so the caller can close it outside the lock.
func (m *ConnManager) enforceCapLocked(userID string) (*Session, []room.Key) {
	mm := m.byUser[userID]
	if len(mm) < m.conf.MaxPerUser {
		return nil, nil
	}
	if !m.conf.EvictOldest {
		return nil, nil
	}
	var oldest *Session
	for _, s := range mm {
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return nil, nil
	}
	rooms, _ := m.removeLocked(oldest)
	return oldest, rooms
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
