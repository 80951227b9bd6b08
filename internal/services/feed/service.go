package feed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// IdentitySource returns the local signing identity.
type IdentitySource interface {
	LoadIdentity() (domain.Identity, error)
}

// Service carries out community intents.
type Service struct {
	ids   IdentitySource
	cache domain.LocalCache
	relay domain.RelayClient
	conn  domain.Connection
	log   logrus.FieldLogger
	now   func() time.Time
}

// New returns a feed service.
func New(
	ids IdentitySource,
	cache domain.LocalCache,
	relay domain.RelayClient,
	conn domain.Connection,
	log logrus.FieldLogger,
) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		ids:   ids,
		cache: cache,
		relay: relay,
		conn:  conn,
		log:   log.WithField("component", "feed"),
		now:   time.Now,
	}
}

func newID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// CreateCommunity registers a new community with the relay, caches it and
// joins its room. Private communities require a gating token.
func (s *Service) CreateCommunity(
	ctx context.Context,
	name string,
	visibility domain.Visibility,
	gatingToken string,
) (domain.Community, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.Community{}, err
	}
	id, err := newID()
	if err != nil {
		return domain.Community{}, err
	}
	c := domain.Community{
		ID:          domain.CommunityID(id),
		Creator:     me.ID(),
		Name:        strings.TrimSpace(name),
		Visibility:  visibility,
		GatingToken: gatingToken,
		CreatedAt:   s.now().UnixMilli(),
	}
	if err := c.Validate(); err != nil {
		return domain.Community{}, err
	}

	sig := crypto.Sign(me.SignPriv, crypto.CommunityMessage(c))
	created, err := s.relay.CreateCommunity(ctx, c, sig)
	if err != nil {
		return domain.Community{}, fmt.Errorf("create community: %w", err)
	}
	created.IsMember = true
	if err := s.cache.UpsertCommunity(ctx, created); err != nil {
		return domain.Community{}, err
	}
	if err := s.conn.JoinRoom(created.ID.Room()); err != nil {
		s.log.WithError(err).Warn("join room of new community failed")
	}
	return created, nil
}

// AddCommunity caches a community learned out of band, e.g. from an invite.
func (s *Service) AddCommunity(ctx context.Context, c domain.Community) error {
	return s.cache.UpsertCommunity(ctx, c)
}

// JoinCommunity marks a cached community as joined and subscribes to its room.
func (s *Service) JoinCommunity(ctx context.Context, id domain.CommunityID) error {
	if err := s.cache.SetMembership(ctx, id, true); err != nil {
		return err
	}
	return s.conn.JoinRoom(id.Room())
}

// LeaveCommunity clears membership and unsubscribes from the room. Cached
// posts are kept.
func (s *Service) LeaveCommunity(ctx context.Context, id domain.CommunityID) error {
	if err := s.cache.SetMembership(ctx, id, false); err != nil {
		return err
	}
	return s.conn.LeaveRoom(id.Room())
}

// PublishPost signs content, writes the post to the cache and sends it to the
// community room. The cached post stays pending until catch-up finds the
// relay's copy. When not connected the error wraps domain.ErrNotConnected and
// FlushPending sends the post later.
func (s *Service) PublishPost(ctx context.Context, community domain.CommunityID, content string) (domain.CommunityPost, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.CommunityPost{}, err
	}
	if strings.TrimSpace(content) == "" {
		return domain.CommunityPost{}, errors.New("publish post: empty content")
	}
	id, err := newID()
	if err != nil {
		return domain.CommunityPost{}, err
	}
	ts := s.now().UnixMilli()
	p := domain.CommunityPost{
		ID:          domain.PostID(id),
		CommunityID: community,
		Author:      me.ID(),
		Content:     content,
		Timestamp:   ts,
		Pending:     true,
	}
	p.Signature = crypto.Sign(me.SignPriv, crypto.PostMessage(p))
	if err := s.cache.UpsertPost(ctx, p); err != nil {
		return domain.CommunityPost{}, err
	}

	if err := s.conn.Send(community.Room(), domain.EventSendPost, p); err != nil {
		s.log.WithFields(logrus.Fields{"post": p.ID, "community": community}).WithError(err).Warn("post kept locally")
		return p, fmt.Errorf("publish post %s: %w", p.ID, err)
	}
	return p, nil
}

// FlushPending resends every post the relay has not confirmed, oldest first,
// and returns how many were sent. It stops at the first send failure.
func (s *Service) FlushPending(ctx context.Context) (int, error) {
	posts, err := s.cache.PendingPosts(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, p := range posts {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		if err := s.conn.Send(p.CommunityID.Room(), domain.EventSendPost, p); err != nil {
			return sent, fmt.Errorf("flush post %s: %w", p.ID, err)
		}
		sent++
	}
	if sent > 0 {
		s.log.WithField("count", sent).Info("pending posts resent")
	}
	return sent, nil
}

// Like toggles the local identity's like on a post.
func (s *Service) Like(ctx context.Context, post domain.PostID) (domain.Engagement, error) {
	return s.toggle(ctx, post, false)
}

// Repost toggles the local identity's repost of a post.
func (s *Service) Repost(ctx context.Context, post domain.PostID) (domain.Engagement, error) {
	return s.toggle(ctx, post, true)
}

func (s *Service) toggle(ctx context.Context, id domain.PostID, repost bool) (domain.Engagement, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.Engagement{}, err
	}
	p, err := s.cache.GetPost(ctx, id)
	if err != nil {
		return domain.Engagement{}, err
	}
	before := engagementOf(p)
	after := before

	var action domain.EngagementAction
	switch {
	case !repost && !before.Liked:
		action, after.Liked, after.LikeCount = domain.ActionLike, true, before.LikeCount+1
	case !repost:
		action, after.Liked, after.LikeCount = domain.ActionUnlike, false, max(before.LikeCount-1, 0)
	case !before.Reposted:
		action, after.Reposted, after.RepostCount = domain.ActionRepost, true, before.RepostCount+1
	default:
		action, after.Reposted, after.RepostCount = domain.ActionUnrepost, false, max(before.RepostCount-1, 0)
	}

	if err := s.cache.UpdateEngagement(ctx, id, after); err != nil {
		return domain.Engagement{}, err
	}
	sig := crypto.Sign(me.SignPriv, crypto.ActionMessage(id, string(action)))
	server, err := s.relay.Engage(ctx, id, action, me.ID(), sig)
	if err != nil {
		if rerr := s.cache.UpdateEngagement(context.WithoutCancel(ctx), id, before); rerr != nil {
			s.log.WithField("post", id).WithError(rerr).Error("engagement rollback failed")
		}
		return before, fmt.Errorf("%s %s: %w", action, id, err)
	}
	if err := s.cache.UpdateEngagement(ctx, id, server); err != nil {
		return server, err
	}
	return server, nil
}

func engagementOf(p domain.CommunityPost) domain.Engagement {
	return domain.Engagement{
		LikeCount:   p.LikeCount,
		RepostCount: p.RepostCount,
		Liked:       p.Liked,
		Reposted:    p.Reposted,
	}
}

// Moderate asks the relay to hide, flag or delete a post and mirrors the
// outcome in the cache.
func (s *Service) Moderate(ctx context.Context, post domain.PostID, action domain.ModerationAction) error {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}
	sig := crypto.Sign(me.SignPriv, crypto.ActionMessage(post, string(action)))
	if err := s.relay.Moderate(ctx, post, action, me.ID(), sig); err != nil {
		return fmt.Errorf("moderate %s: %w", post, err)
	}
	switch action {
	case domain.ModerateHide:
		return s.cache.SetModeration(ctx, post, domain.ModerationHidden)
	case domain.ModerateFlag:
		return s.cache.SetModeration(ctx, post, domain.ModerationFlagged)
	case domain.ModerateDelete:
		return s.cache.DeletePost(ctx, post)
	default:
		return fmt.Errorf("moderate %s: unknown action %q", post, action)
	}
}

// Typing broadcasts a typing indicator into room.
func (s *Service) Typing(room domain.RoomID, typing bool) error {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return err
	}
	return s.conn.Send(room, domain.EventUserTyping, domain.TypingNotice{Sender: me.ID(), Typing: typing})
}

// Communities returns the cached communities, newest first.
func (s *Service) Communities(ctx context.Context) ([]domain.Community, error) {
	return s.cache.ListCommunities(ctx)
}

// Posts returns the cached posts of a community, newest first.
func (s *Service) Posts(ctx context.Context, id domain.CommunityID) ([]domain.CommunityPost, error) {
	return s.cache.ListPosts(ctx, id)
}
