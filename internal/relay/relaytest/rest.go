package relaytest

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/relay"
	"courier/internal/transport"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, relay.ErrorResponse{Error: msg})
}

func (s *Server) listItems(w http.ResponseWriter, r *http.Request) {
	room := domain.RoomID(mux.Vars(r)["room"])
	var q domain.ItemQuery
	for name, dst := range map[string]*int64{"since": &q.Since, "after": &q.After} {
		v := r.URL.Query().Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = n
	}

	s.mu.Lock()
	out := []domain.SyncItem{}
	for _, item := range s.items[room] {
		if q.After > 0 && item.Seq <= q.After {
			continue
		}
		if q.After == 0 && item.Timestamp <= q.Since {
			continue
		}
		out = append(out, s.itemViewLocked(item))
	}
	s.mu.Unlock()
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) getItem(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	room := domain.RoomID(vars["room"])

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, item := range s.items[room] {
		if item.ID == vars["id"] {
			writeJSON(w, http.StatusOK, s.itemViewLocked(item))
			return
		}
	}
	writeError(w, http.StatusNotFound, "item not found")
}

func (s *Server) putKey(w http.ResponseWriter, r *http.Request) {
	id := domain.IdentityID(mux.Vars(r)["identity"])
	var rec relay.KeyRecord
	if err := json.NewDecoder(r.Body).Decode(&rec); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	pub, err := crypto.ParseAgreementPublic(rec.Public)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !crypto.VerifyIdentity(id, crypto.AgreementKeyMessage(id, pub), rec.Signature) {
		writeError(w, http.StatusUnauthorized, "bad key signature")
		return
	}
	rec.Identity = id

	s.mu.Lock()
	s.keys[id] = rec
	s.mu.Unlock()
	s.log.WithField("identity", id.Short()).Info("agreement key published")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) getKey(w http.ResponseWriter, r *http.Request) {
	id := domain.IdentityID(mux.Vars(r)["identity"])
	s.mu.Lock()
	rec, ok := s.keys[id]
	s.mu.Unlock()
	if !ok {
		writeError(w, http.StatusNotFound, "no agreement key")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) createCommunity(w http.ResponseWriter, r *http.Request) {
	var req relay.CreateCommunityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	c := req.Community
	if err := c.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !crypto.VerifyIdentity(c.Creator, crypto.CommunityMessage(c), req.Signature) {
		writeError(w, http.StatusUnauthorized, "bad community signature")
		return
	}
	c.IsMember = false

	s.mu.Lock()
	if _, exists := s.communities[c.ID]; exists {
		s.mu.Unlock()
		writeError(w, http.StatusConflict, "community exists")
		return
	}
	s.communities[c.ID] = c
	s.mu.Unlock()
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) createPost(w http.ResponseWriter, r *http.Request) {
	var p domain.CommunityPost
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	out, status, msg := s.storePost(p)
	if status != http.StatusCreated {
		writeError(w, status, msg)
		return
	}
	writeJSON(w, status, out)
}

// storePost verifies and stores p, then broadcasts it to the community room.
// Storing an already known post id is idempotent.
func (s *Server) storePost(p domain.CommunityPost) (domain.CommunityPost, int, string) {
	if p.ID == "" {
		return p, http.StatusBadRequest, "post without id"
	}
	if !crypto.VerifyIdentity(p.Author, crypto.PostMessage(p), p.Signature) {
		return p, http.StatusUnauthorized, "bad post signature"
	}

	s.mu.Lock()
	if _, ok := s.communities[p.CommunityID]; !ok {
		s.mu.Unlock()
		return p, http.StatusNotFound, "unknown community"
	}
	ps, ok := s.posts[p.ID]
	if !ok {
		p.LikeCount, p.RepostCount, p.Liked, p.Reposted = 0, 0, false, false
		p.Moderation = domain.ModerationNone
		ps = &postState{
			post:    p,
			likes:   make(map[domain.IdentityID]bool),
			reposts: make(map[domain.IdentityID]bool),
		}
		s.posts[p.ID] = ps
	}
	view := ps.view("")
	room := p.CommunityID.Room()
	item := domain.SyncItem{
		ID:        string(p.ID),
		Channel:   room,
		Kind:      domain.KindPost,
		Sender:    p.Author,
		Timestamp: p.Timestamp,
		Post:      &view,
	}
	item = s.putItemLocked(room, item)
	f, err := transport.NewFrame(domain.EventPostReceived, room, item)
	if err == nil {
		f.ID = item.ID
		f.Sender = p.Author
		s.broadcastLocked(room, f)
	}
	s.mu.Unlock()
	return view, http.StatusCreated, ""
}

func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request) (domain.PostID, relay.ActionRequest, bool) {
	post := domain.PostID(mux.Vars(r)["id"])
	var req relay.ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return post, req, false
	}
	if !crypto.VerifyIdentity(req.Identity, crypto.ActionMessage(post, req.Action), req.Signature) {
		writeError(w, http.StatusUnauthorized, "bad action signature")
		return post, req, false
	}
	return post, req, true
}

func (s *Server) engage(w http.ResponseWriter, r *http.Request) {
	post, req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.posts[post]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown post")
		return
	}
	switch domain.EngagementAction(req.Action) {
	case domain.ActionLike:
		ps.likes[req.Identity] = true
	case domain.ActionUnlike:
		delete(ps.likes, req.Identity)
	case domain.ActionRepost:
		ps.reposts[req.Identity] = true
	case domain.ActionUnrepost:
		delete(ps.reposts, req.Identity)
	default:
		writeError(w, http.StatusBadRequest, "unknown engagement action")
		return
	}
	v := ps.view(req.Identity)
	writeJSON(w, http.StatusOK, domain.Engagement{
		LikeCount:   v.LikeCount,
		RepostCount: v.RepostCount,
		Liked:       v.Liked,
		Reposted:    v.Reposted,
	})
}

func (s *Server) moderate(w http.ResponseWriter, r *http.Request) {
	post, req, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	ps, ok := s.posts[post]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown post")
		return
	}
	if s.communities[ps.post.CommunityID].Creator != req.Identity {
		writeError(w, http.StatusForbidden, "only the community creator moderates")
		return
	}
	switch domain.ModerationAction(req.Action) {
	case domain.ModerateHide:
		ps.post.Moderation = domain.ModerationHidden
	case domain.ModerateFlag:
		ps.post.Moderation = domain.ModerationFlagged
	case domain.ModerateDelete:
		delete(s.posts, post)
		s.deleteItemLocked(ps.post.CommunityID.Room(), string(post))
	default:
		writeError(w, http.StatusBadRequest, "unknown moderation action")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
