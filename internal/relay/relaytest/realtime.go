package relaytest

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/transport"
)

const peerBuffer = 64

// peer is one real-time client, over WebSocket or a polling session. All
// fields except send are guarded by Server.mu.
type peer struct {
	identity domain.IdentityID
	rooms    map[domain.RoomID]bool
	send     chan transport.Frame
	closed   bool
	session  string
	ws       *websocket.Conn
}

func newPeer() *peer {
	return &peer{
		rooms: make(map[domain.RoomID]bool),
		send:  make(chan transport.Frame, peerBuffer),
	}
}

func (s *Server) register(p *peer) {
	s.mu.Lock()
	s.peers[p] = struct{}{}
	if p.session != "" {
		s.sessions[p.session] = p
	}
	s.mu.Unlock()
}

func (s *Server) unregister(p *peer) {
	s.mu.Lock()
	s.unregisterLocked(p)
	s.mu.Unlock()
}

func (s *Server) unregisterLocked(p *peer) {
	if p.closed {
		return
	}
	p.closed = true
	delete(s.peers, p)
	if p.session != "" {
		delete(s.sessions, p.session)
	}
	close(p.send)
	if p.ws != nil {
		_ = p.ws.Close()
	}
}

// deliverLocked queues f for p, dropping the peer when its buffer is full.
func (s *Server) deliverLocked(p *peer, f transport.Frame) {
	if p.closed {
		return
	}
	select {
	case p.send <- f:
	default:
		s.log.WithField("identity", p.identity.Short()).Warn("peer too slow, dropping")
		s.unregisterLocked(p)
	}
}

func (s *Server) broadcastLocked(room domain.RoomID, f transport.Frame) {
	for p := range s.peers {
		if p.identity != "" && p.rooms[room] {
			s.deliverLocked(p, f)
		}
	}
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	if s.rejectWebSocket.Load() {
		writeError(w, http.StatusServiceUnavailable, "websocket disabled")
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	p := newPeer()
	p.ws = ws
	s.register(p)

	go s.writePump(p, ws)
	s.readPump(p, ws)
}

func (s *Server) readPump(p *peer, ws *websocket.Conn) {
	defer s.unregister(p)
	for {
		var f transport.Frame
		if err := ws.ReadJSON(&f); err != nil {
			return
		}
		s.handleFrame(p, f)
	}
}

func (s *Server) writePump(p *peer, ws *websocket.Conn) {
	for f := range p.send {
		_ = ws.SetWriteDeadline(time.Now().Add(10 * time.Second))
		if err := ws.WriteJSON(f); err != nil {
			s.unregister(p)
			for range p.send {
			}
			return
		}
	}
}

func (s *Server) openSession(w http.ResponseWriter, r *http.Request) {
	p := newPeer()
	p.session = uuid.NewString()
	s.register(p)
	writeJSON(w, http.StatusCreated, transport.SessionResponse{Session: p.session})
}

func (s *Server) session(r *http.Request) (*peer, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.sessions[mux.Vars(r)["id"]]
	return p, ok
}

func (s *Server) uploadFrame(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	var f transport.Frame
	if err := json.NewDecoder(r.Body).Decode(&f); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.handleFrame(p, f)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) pollFrames(w http.ResponseWriter, r *http.Request) {
	p, ok := s.session(r)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown session")
		return
	}
	wait := 25 * time.Second
	if v := r.URL.Query().Get("wait"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil && ms >= 0 {
			wait = time.Duration(ms) * time.Millisecond
		}
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	out := []transport.Frame{}
	select {
	case f, ok := <-p.send:
		if !ok {
			writeError(w, http.StatusNotFound, "session closed")
			return
		}
		out = append(out, f)
	case <-timer.C:
	case <-r.Context().Done():
		return
	}
drain:
	for len(out) < peerBuffer {
		select {
		case f, ok := <-p.send:
			if !ok {
				break drain
			}
			out = append(out, f)
		default:
			break drain
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) closeSession(w http.ResponseWriter, r *http.Request) {
	if p, ok := s.session(r); ok {
		s.unregister(p)
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleFrame applies one client frame.
func (s *Server) handleFrame(p *peer, f transport.Frame) {
	if f.Type == domain.EventAuthenticate {
		s.authenticate(p, f)
		return
	}

	s.mu.Lock()
	id := p.identity
	s.mu.Unlock()
	if id == "" {
		s.reply(p, domain.EventAuthError, transport.AuthErrorPayload{Reason: "not authenticated"})
		return
	}
	log := s.log.WithFields(logrus.Fields{"identity": id.Short(), "room": f.Room, "type": f.Type})

	switch f.Type {
	case domain.EventJoinRoom:
		s.mu.Lock()
		p.rooms[f.Room] = true
		s.mu.Unlock()
	case domain.EventLeaveRoom:
		s.mu.Lock()
		delete(p.rooms, f.Room)
		s.mu.Unlock()
	case domain.EventSendMessage:
		var item domain.SyncItem
		if err := json.Unmarshal(f.Payload, &item); err != nil || item.ID == "" {
			log.Warn("malformed message frame")
			return
		}
		item.Channel = f.Room
		item.Kind = domain.KindMessage
		item.Sender = id
		s.mu.Lock()
		item = s.putItemLocked(f.Room, item)
		out, err := transport.NewFrame(domain.EventNewMessage, f.Room, item)
		if err == nil {
			out.ID, out.Sender = item.ID, id
			s.broadcastLocked(f.Room, out)
		}
		s.mu.Unlock()
	case domain.EventSendPost:
		var post domain.CommunityPost
		if err := json.Unmarshal(f.Payload, &post); err != nil {
			log.Warn("malformed post frame")
			return
		}
		if post.Author != id {
			log.Warn("post author does not match session identity")
			return
		}
		if _, status, msg := s.storePost(post); status != http.StatusCreated {
			log.WithField("status", status).Warn(msg)
		}
	case domain.EventUserTyping:
		out := f
		out.Sender = id
		s.mu.Lock()
		s.broadcastLocked(f.Room, out)
		s.mu.Unlock()
	default:
		log.Debug("ignoring frame")
	}
}

func (s *Server) authenticate(p *peer, f transport.Frame) {
	var req transport.AuthenticatePayload
	if err := json.Unmarshal(f.Payload, &req); err != nil || req.Identity == "" {
		s.reply(p, domain.EventAuthError, transport.AuthErrorPayload{Reason: "missing identity"})
		return
	}
	if _, err := crypto.SigningKeyOf(req.Identity); err != nil {
		s.reply(p, domain.EventAuthError, transport.AuthErrorPayload{Reason: "malformed identity"})
		return
	}
	s.mu.Lock()
	p.identity = req.Identity
	s.mu.Unlock()
	s.log.WithField("identity", req.Identity.Short()).Info("peer authenticated")
	s.reply(p, domain.EventAuthenticated, nil)
}

func (s *Server) reply(p *peer, t domain.EventType, payload any) {
	f, err := transport.NewFrame(t, "", payload)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.deliverLocked(p, f)
	s.mu.Unlock()
}
