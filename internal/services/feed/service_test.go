package feed_test

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/cache"
	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/relay"
	"courier/internal/relay/relaytest"
	"courier/internal/services/feed"
)

type staticIdentity struct{ id domain.Identity }

func (s staticIdentity) LoadIdentity() (domain.Identity, error) { return s.id, nil }

type sent struct {
	room    domain.RoomID
	typ     domain.EventType
	payload any
}

// fakeConn records intents; when offline, Send fails like a disconnected
// manager.
type fakeConn struct {
	mu      sync.Mutex
	offline bool
	rooms   map[domain.RoomID]bool
	sent    []sent
}

func newFakeConn() *fakeConn { return &fakeConn{rooms: map[domain.RoomID]bool{}} }

func (c *fakeConn) Subscribe(domain.EventType, func(domain.Event)) func() { return func() {} }

func (c *fakeConn) JoinRoom(room domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rooms[room] = true
	return nil
}

func (c *fakeConn) LeaveRoom(room domain.RoomID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.rooms, room)
	return nil
}

func (c *fakeConn) Send(room domain.RoomID, t domain.EventType, payload any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.offline {
		return domain.ErrNotConnected
	}
	c.sent = append(c.sent, sent{room: room, typ: t, payload: payload})
	return nil
}

type fixture struct {
	svc   *feed.Service
	cache *cache.Cache
	conn  *fakeConn
	relay *relay.HTTP
	srv   *relaytest.Server
	me    domain.Identity
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv := relaytest.New(log)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	me, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	rc := relay.NewHTTP(ts.URL)
	conn := newFakeConn()
	return &fixture{
		svc:   feed.New(staticIdentity{me}, c, rc, conn, log),
		cache: c,
		conn:  conn,
		relay: rc,
		srv:   srv,
		me:    me,
	}
}

func TestCreateCommunity_CachesAndJoins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	com, err := f.svc.CreateCommunity(ctx, "  Gophers ", domain.VisibilityPublic, "")
	require.NoError(t, err)
	assert.Equal(t, "Gophers", com.Name)
	assert.True(t, com.IsMember)
	assert.Equal(t, f.me.ID(), com.Creator)

	got, err := f.cache.GetCommunity(ctx, com.ID)
	require.NoError(t, err)
	assert.True(t, got.IsMember)
	assert.True(t, f.conn.rooms[com.ID.Room()])

	_, err = f.svc.CreateCommunity(ctx, "secret", domain.VisibilityPrivate, "")
	assert.Error(t, err)
}

func TestPublishPost_Optimistic(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)

	p, err := f.svc.PublishPost(ctx, com.ID, "hello")
	require.NoError(t, err)
	assert.True(t, crypto.VerifyIdentity(p.Author, crypto.PostMessage(p), p.Signature))

	posts, err := f.svc.Posts(ctx, com.ID)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, p.ID, posts[0].ID)

	require.Len(t, f.conn.sent, 1)
	assert.Equal(t, domain.EventSendPost, f.conn.sent[0].typ)
	assert.Equal(t, com.ID.Room(), f.conn.sent[0].room)
}

func TestPublishPost_OfflineKeepsCachedPost(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	f.conn.offline = true

	p, err := f.svc.PublishPost(ctx, com.ID, "draft")
	assert.ErrorIs(t, err, domain.ErrNotConnected)

	got, err := f.cache.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Content)
	assert.True(t, got.Pending)
}

func TestFlushPending_DeliversAfterReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	f.conn.offline = true

	p, err := f.svc.PublishPost(ctx, com.ID, "written on a train")
	require.ErrorIs(t, err, domain.ErrNotConnected)

	n, err := f.svc.FlushPending(ctx)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, n)

	f.conn.offline = false
	n, err = f.svc.FlushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	require.Len(t, f.conn.sent, 1)
	assert.Equal(t, domain.EventSendPost, f.conn.sent[0].typ)
	assert.Equal(t, com.ID.Room(), f.conn.sent[0].room)
	resent, ok := f.conn.sent[0].payload.(domain.CommunityPost)
	require.True(t, ok)
	assert.Equal(t, p.ID, resent.ID)
	assert.True(t, crypto.VerifyIdentity(resent.Author, crypto.PostMessage(resent), resent.Signature))

	// Once the relay's copy is merged the post is no longer pending.
	_, err = f.relay.CreatePost(ctx, resent)
	require.NoError(t, err)
	item, err := f.relay.FetchItem(ctx, com.ID.Room(), string(p.ID))
	require.NoError(t, err)
	require.NoError(t, f.cache.UpsertPost(ctx, *item.Post))
	pending, err := f.cache.PendingPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

// publishRemote stores a post on the relay and mirrors it locally, the way it
// would arrive through catch-up.
func publishRemote(t *testing.T, f *fixture, com domain.CommunityID) domain.CommunityPost {
	t.Helper()
	ts := int64(1000)
	p := domain.CommunityPost{
		ID:          "p1",
		CommunityID: com,
		Author:      f.me.ID(),
		Content:     "hi",
		Timestamp:   ts,
	}
	p.Signature = crypto.Sign(f.me.SignPriv, crypto.PostMessage(p))
	out, err := f.relay.CreatePost(context.Background(), p)
	require.NoError(t, err)
	require.NoError(t, f.cache.UpsertPost(context.Background(), out))
	return out
}

func TestLikeRepost_AppliesServerCounts(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	p := publishRemote(t, f, com.ID)

	e, err := f.svc.Like(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Engagement{LikeCount: 1, Liked: true}, e)

	e, err = f.svc.Repost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Engagement{LikeCount: 1, RepostCount: 1, Liked: true, Reposted: true}, e)

	e, err = f.svc.Like(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Engagement{RepostCount: 1, Reposted: true}, e)

	got, err := f.cache.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, got.Liked)
	assert.True(t, got.Reposted)
	assert.Equal(t, int64(1), got.RepostCount)
}

func TestLike_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)

	// Cached locally but unknown to the relay.
	local := domain.CommunityPost{ID: "ghost", CommunityID: com.ID, Author: f.me.ID(), Content: "x", Timestamp: 1}
	require.NoError(t, f.cache.UpsertPost(ctx, local))

	_, err = f.svc.Like(ctx, "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	got, err := f.cache.GetPost(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, got.Liked)
	assert.Zero(t, got.LikeCount)
}

func TestModerate(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	com, err := f.svc.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	p := publishRemote(t, f, com.ID)

	require.NoError(t, f.svc.Moderate(ctx, p.ID, domain.ModerateFlag))
	got, err := f.cache.GetPost(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ModerationFlagged, got.Moderation)

	require.NoError(t, f.svc.Moderate(ctx, p.ID, domain.ModerateDelete))
	_, err = f.cache.GetPost(ctx, p.ID)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestJoinLeaveCommunity(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	c := domain.Community{ID: "ext", Creator: "someone", Name: "ext", Visibility: domain.VisibilityPublic, CreatedAt: 1}
	require.NoError(t, f.svc.AddCommunity(ctx, c))

	require.NoError(t, f.svc.JoinCommunity(ctx, "ext"))
	rooms, err := f.cache.SyncRooms(ctx)
	require.NoError(t, err)
	assert.Contains(t, rooms, domain.RoomID("ext"))
	assert.True(t, f.conn.rooms["ext"])

	require.NoError(t, f.svc.LeaveCommunity(ctx, "ext"))
	rooms, err = f.cache.SyncRooms(ctx)
	require.NoError(t, err)
	assert.NotContains(t, rooms, domain.RoomID("ext"))
	assert.False(t, f.conn.rooms["ext"])

	assert.ErrorIs(t, f.svc.JoinCommunity(ctx, "missing"), domain.ErrNotFound)
}
