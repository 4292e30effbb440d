package gateway

import (
	"net/http"

	"github.com/gorilla/websocket"

	"MentorLink/service/room"
	"MentorLink/tools/security"
)

// Server ties the connection manager, dispatcher and fanout pool
// together and exposes the transport operations the signaling services
// need (they depend on small interfaces, satisfied here).
type Server struct {
	nodeID   string
	connMgr  *ConnManager
	disp     *Dispatcher
	fanout   *Fanout
	upgrader websocket.Upgrader

	TokenOpts security.Options
}

func NewServer(nodeID string, connMgr *ConnManager, tokenOpts security.Options) *Server {
	return &Server{
		nodeID:  nodeID,
		connMgr: connMgr,
		disp:    NewDispatcher(),
		fanout:  NewFanout(8, 4096),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		TokenOpts: tokenOpts,
	}
}

// SetCheckOrigin installs the origin allowlist on the upgrader; the
// default (nil) admits same-origin browser requests only.
func (s *Server) SetCheckOrigin(f func(r *http.Request) bool) {
	s.upgrader.CheckOrigin = f
}

func (s *Server) NodeID() string        { return s.nodeID }
func (s *Server) ConnMgr() *ConnManager { return s.connMgr }
func (s *Server) Disp() *Dispatcher     { return s.disp }

func (s *Server) Close() {
	s.fanout.Close()
	s.connMgr.Close()
}

// ---- transport operations (the interfaces call/notify/delivery use) ----

// PushToUser sends to every live session the user owns; returns the
// number of sessions reached.
func (s *Server) PushToUser(userID string, data []byte) int {
	sessions := s.connMgr.LiveSessionsForUser(userID)
	n := 0
	for _, sess := range sessions {
		if sess.TrySend(data) {
			n++
		}
	}
	return n
}

// PushToUserInRoom sends to the user's sessions that joined the room
// (the multi-device path for targeted signaling).
func (s *Server) PushToUserInRoom(userID string, key room.Key, data []byte) int {
	n := 0
	for _, sess := range s.connMgr.SessionsInRoom(key) {
		if sess.UserID == userID && sess.TrySend(data) {
			n++
		}
	}
	return n
}

// BroadcastRoom fans a frame out to every session in the room except
// the named one (pass "" to include everyone).
func (s *Server) BroadcastRoom(key room.Key, data []byte, exceptSessionID string) int {
	sessions := s.connMgr.SessionsInRoom(key)
	if exceptSessionID != "" {
		filtered := sessions[:0]
		for _, sess := range sessions {
			if sess.ID != exceptSessionID {
				filtered = append(filtered, sess)
			}
		}
		sessions = filtered
	}
	s.fanout.Broadcast(sessions, data)
	return len(sessions)
}

func (s *Server) IsUserOnline(userID string) bool {
	return s.connMgr.IsUserOnline(userID)
}

func (s *Server) UserInRoom(userID string, key room.Key) bool {
	return s.connMgr.UserInRoom(userID, key)
}

func (s *Server) JoinRoom(sessionID string, key room.Key) error {
	return s.connMgr.JoinRoom(sessionID, key)
}

func (s *Server) LeaveRoom(sessionID string, key room.Key) {
	s.connMgr.LeaveRoom(sessionID, key)
}

// Reply sends a frame straight back to the originating session.
func (s *Server) Reply(sess *Session, f *Frame) {
	if sess == nil || f == nil {
		return
	}
	sess.TrySend(MarshalFrame(f))
}
