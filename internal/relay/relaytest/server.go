package relaytest

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/relay"
)

type postState struct {
	post    domain.CommunityPost
	likes   map[domain.IdentityID]bool
	reposts map[domain.IdentityID]bool
}

// Server is an in-memory relay.
type Server struct {
	log      logrus.FieldLogger
	router   *mux.Router
	upgrader websocket.Upgrader

	mu          sync.Mutex
	keys        map[domain.IdentityID]relay.KeyRecord
	communities map[domain.CommunityID]domain.Community
	posts       map[domain.PostID]*postState
	items       map[domain.RoomID][]domain.SyncItem
	seq         int64
	peers       map[*peer]struct{}
	sessions    map[string]*peer

	rejectWebSocket atomic.Bool
}

// New returns an empty relay.
func New(log logrus.FieldLogger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	s := &Server{
		log: log.WithField("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		keys:        make(map[domain.IdentityID]relay.KeyRecord),
		communities: make(map[domain.CommunityID]domain.Community),
		posts:       make(map[domain.PostID]*postState),
		items:       make(map[domain.RoomID][]domain.SyncItem),
		peers:       make(map[*peer]struct{}),
		sessions:    make(map[string]*peer),
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.accessLog)

	r.HandleFunc("/channels/{room}/items", s.listItems).Methods(http.MethodGet)
	r.HandleFunc("/channels/{room}/items/{id}", s.getItem).Methods(http.MethodGet)
	r.HandleFunc("/keys/{identity}", s.putKey).Methods(http.MethodPut)
	r.HandleFunc("/keys/{identity}", s.getKey).Methods(http.MethodGet)
	r.HandleFunc("/communities", s.createCommunity).Methods(http.MethodPost)
	r.HandleFunc("/posts", s.createPost).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/engagement", s.engage).Methods(http.MethodPost)
	r.HandleFunc("/posts/{id}/moderation", s.moderate).Methods(http.MethodPost)

	r.HandleFunc("/rt/ws", s.serveWS).Methods(http.MethodGet)
	r.HandleFunc("/rt/sessions", s.openSession).Methods(http.MethodPost)
	r.HandleFunc("/rt/sessions/{id}/frames", s.uploadFrame).Methods(http.MethodPost)
	r.HandleFunc("/rt/sessions/{id}/frames", s.pollFrames).Methods(http.MethodGet)
	r.HandleFunc("/rt/sessions/{id}", s.closeSession).Methods(http.MethodDelete)
	return r
}

// RejectWebSocket makes the WebSocket endpoint answer 503 so clients
// degrade to long-polling.
func (s *Server) RejectWebSocket(reject bool) { s.rejectWebSocket.Store(reject) }

// DropConnections closes every real-time connection and polling session.
func (s *Server) DropConnections() {
	s.mu.Lock()
	peers := make([]*peer, 0, len(s.peers))
	for p := range s.peers {
		peers = append(peers, p)
	}
	s.mu.Unlock()
	for _, p := range peers {
		s.unregister(p)
	}
}

// AddItem stores item in room as if a client had sent it and returns the
// stored copy with its sequence number.
func (s *Server) AddItem(room domain.RoomID, item domain.SyncItem) domain.SyncItem {
	s.mu.Lock()
	defer s.mu.Unlock()
	item.Channel = room
	return s.putItemLocked(room, item)
}

// Post returns the relay's copy of a post.
func (s *Server) Post(id domain.PostID) (domain.CommunityPost, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.posts[id]
	if !ok {
		return domain.CommunityPost{}, false
	}
	return ps.view(""), true
}

// Peers returns the identities of connected, authenticated peers.
func (s *Server) Peers() []domain.IdentityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.IdentityID
	for p := range s.peers {
		if p.identity != "" {
			out = append(out, p.identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Members returns the authenticated identities subscribed to room.
func (s *Server) Members(room domain.RoomID) []domain.IdentityID {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.IdentityID
	for p := range s.peers {
		if p.identity != "" && p.rooms[room] {
			out = append(out, p.identity)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// putItemLocked stores item under the next sequence number, replacing any
// earlier copy with the same id. Room items stay in sequence order.
func (s *Server) putItemLocked(room domain.RoomID, item domain.SyncItem) domain.SyncItem {
	s.deleteItemLocked(room, item.ID)
	s.seq++
	item.Seq = s.seq
	s.items[room] = append(s.items[room], item)
	return item
}

func (s *Server) deleteItemLocked(room domain.RoomID, id string) {
	items := s.items[room]
	for i := range items {
		if items[i].ID == id {
			s.items[room] = append(items[:i:i], items[i+1:]...)
			return
		}
	}
}

// view renders the post as seen by viewer.
func (ps *postState) view(viewer domain.IdentityID) domain.CommunityPost {
	p := ps.post
	p.LikeCount = int64(len(ps.likes))
	p.RepostCount = int64(len(ps.reposts))
	p.Liked = ps.likes[viewer]
	p.Reposted = ps.reposts[viewer]
	return p
}

// itemViewLocked refreshes post items with current counters.
func (s *Server) itemViewLocked(item domain.SyncItem) domain.SyncItem {
	if item.Kind != domain.KindPost || item.Post == nil {
		return item
	}
	if ps, ok := s.posts[domain.PostID(item.ID)]; ok {
		p := ps.view("")
		item.Post = &p
	}
	return item
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter { return r.ResponseWriter }

// Hijack hands the connection to the WebSocket upgrader.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"remote":   r.RemoteAddr,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
