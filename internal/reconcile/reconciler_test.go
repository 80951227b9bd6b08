package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/cache"
	"courier/internal/connection"
	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/keystore"
	"courier/internal/reconcile"
	"courier/internal/store"
)

type fakeFetcher struct {
	mu    sync.Mutex
	seq   int64
	items map[domain.RoomID][]domain.SyncItem
	fail  map[domain.RoomID]error
	calls map[domain.RoomID][]domain.ItemQuery
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		items: map[domain.RoomID][]domain.SyncItem{},
		fail:  map[domain.RoomID]error{},
		calls: map[domain.RoomID][]domain.ItemQuery{},
	}
}

// put stores items the way the relay does: each store takes the next
// sequence number and replaces any earlier copy.
func (f *fakeFetcher) put(room domain.RoomID, items ...domain.SyncItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range items {
		kept := f.items[room][:0:0]
		for _, old := range f.items[room] {
			if old.ID != it.ID {
				kept = append(kept, old)
			}
		}
		f.seq++
		it.Seq = f.seq
		f.items[room] = append(kept, it)
	}
}

func (f *fakeFetcher) FetchItems(_ context.Context, room domain.RoomID, q domain.ItemQuery) ([]domain.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[room] = append(f.calls[room], q)
	if err := f.fail[room]; err != nil {
		return nil, err
	}
	var out []domain.SyncItem
	for _, it := range f.items[room] {
		if (q.After > 0 && it.Seq > q.After) || (q.After == 0 && it.Timestamp > q.Since) {
			out = append(out, it)
		}
	}
	return out, nil
}

func (f *fakeFetcher) FetchItem(_ context.Context, room domain.RoomID, id string) (domain.SyncItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, it := range f.items[room] {
		if it.ID == id {
			return it, nil
		}
	}
	return domain.SyncItem{}, domain.ErrNotFound
}

type mapResolver map[domain.IdentityID]domain.X25519Public

func (m mapResolver) FetchAgreementKey(_ context.Context, id domain.IdentityID) (domain.X25519Public, error) {
	pub, ok := m[id]
	if !ok {
		return pub, domain.ErrNotFound
	}
	return pub, nil
}

// gatedSecrets holds every Secret call until release is closed.
type gatedSecrets struct {
	reconcile.SecretSource
	entered chan struct{}
	release chan struct{}
}

func (g gatedSecrets) Secret(ctx context.Context, local, remote domain.IdentityID) (domain.SharedSecret, error) {
	select {
	case g.entered <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
	case <-ctx.Done():
		return domain.SharedSecret{}, ctx.Err()
	}
	return g.SecretSource.Secret(ctx, local, remote)
}

func (h *harness) gated() (*reconcile.Reconciler, gatedSecrets) {
	g := gatedSecrets{
		SecretSource: keystore.NewSecrets(h.aliceKeys, h.resolver, h.log),
		entered:      make(chan struct{}, 1),
		release:      make(chan struct{}),
	}
	return reconcile.New(h.cache, h.fetch, h.aliceKeys, g, h.log), g
}

type brokenStorage struct{}

var errLocked = errors.New("keychain locked")

func (brokenStorage) Get(string) ([]byte, bool, error) { return nil, false, errLocked }
func (brokenStorage) Set(string, []byte) error { return errLocked }
func (brokenStorage) Create(string, []byte) error { return errLocked }
func (brokenStorage) Delete(string) error { return errLocked }

const community = domain.CommunityID("c1")

type harness struct {
	cache      *cache.Cache
	fetch      *fakeFetcher
	alice, bob domain.Identity
	dm         domain.RoomID
	aliceKeys  *keystore.KeyStore
	bobSecrets *keystore.Secrets
	resolver   mapResolver
	rec        *reconcile.Reconciler
	log        logrus.FieldLogger
}

func keyStore(t *testing.T) *keystore.KeyStore {
	t.Helper()
	v, err := store.OpenVault(t.TempDir(), "pass", store.WithScryptParams(1<<10, 8, 1))
	require.NoError(t, err)
	t.Cleanup(v.Close)
	log, _ := test.NewNullLogger()
	return keystore.New(v, log)
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	ctx := context.Background()
	log, _ := test.NewNullLogger()

	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	alice, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	bob, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	aliceKeys, bobKeys := keyStore(t), keyStore(t)
	akp, err := aliceKeys.LoadOrCreate(ctx, alice.ID())
	require.NoError(t, err)
	bkp, err := bobKeys.LoadOrCreate(ctx, bob.ID())
	require.NoError(t, err)
	resolver := mapResolver{alice.ID(): akp.Public, bob.ID(): bkp.Public}

	h := &harness{
		cache:      c,
		fetch:      newFakeFetcher(),
		alice:      alice,
		bob:        bob,
		dm:         domain.DirectChannel(alice.ID(), bob.ID()),
		aliceKeys:  aliceKeys,
		bobSecrets: keystore.NewSecrets(bobKeys, resolver, log),
		resolver:   resolver,
		log:        log,
	}
	h.rec = reconcile.New(c, h.fetch, aliceKeys, keystore.NewSecrets(aliceKeys, resolver, log), log)

	require.NoError(t, c.UpsertCommunity(ctx, domain.Community{
		ID: community, Creator: bob.ID(), Name: "c", Visibility: domain.VisibilityPublic, CreatedAt: 1, IsMember: true,
	}))
	require.NoError(t, c.TrackRoom(ctx, h.dm))
	return h
}

func (h *harness) post(t *testing.T, id string, ts int64) domain.SyncItem {
	t.Helper()
	content := "post " + id
	p := domain.CommunityPost{
		ID:          domain.PostID(id),
		CommunityID: community,
		Author:      h.bob.ID(),
		Content:     content,
		Timestamp:   ts,
	}
	p.Signature = crypto.Sign(h.bob.SignPriv, crypto.PostMessage(p))
	return domain.SyncItem{ID: id, Channel: community.Room(), Kind: domain.KindPost, Sender: h.bob.ID(), Timestamp: ts, Post: &p}
}

func (h *harness) message(t *testing.T, id string, ts int64, text string) domain.SyncItem {
	t.Helper()
	secret, err := h.bobSecrets.Secret(context.Background(), h.bob.ID(), h.alice.ID())
	require.NoError(t, err)
	env, err := crypto.Encrypt(secret, []byte(text))
	require.NoError(t, err)
	return domain.SyncItem{
		ID: id, Channel: h.dm, Kind: domain.KindMessage, Sender: h.bob.ID(),
		Timestamp: ts, Encrypted: true, Envelope: &env,
	}
}

func TestRunCatchUp_MergesAndAdvancesCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetch.put(community.Room(), h.post(t, "p1", 10), h.post(t, "p2", 20))
	h.fetch.put(h.dm, h.message(t, "m1", 15, "hello alice"))

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, reconcile.Report{Rooms: 2, Applied: 3}, rep)

	posts, err := h.cache.ListPosts(ctx, community)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
	msgs, err := h.cache.ListMessages(ctx, h.dm)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "hello alice", msgs[0].Content)
	assert.Equal(t, h.bob.ID(), msgs[0].Sender)

	seq, ok, err := h.cache.Cursor(ctx, community.Room())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2), seq)

	rep, err = h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Applied)
	assert.Equal(t, []domain.ItemQuery{{}, {After: 2}}, h.fetch.calls[community.Room()])
}

func TestRunCatchUp_SinceUsedWithoutCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetch.put(community.Room(), h.post(t, "old", 5), h.post(t, "new", 50))

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 10)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)
	_, err = h.cache.GetPost(ctx, "old")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRunCatchUp_TamperedTagNotWritten(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	good := h.message(t, "m1", 10, "first")
	bad := h.message(t, "m2", 20, "second")
	intact := *bad.Envelope
	tampered := intact
	tampered.AuthTag = append([]byte(nil), intact.AuthTag...)
	tampered.AuthTag[0] ^= 0x01
	bad.Envelope = &tampered
	later := h.message(t, "m3", 30, "third")
	h.fetch.put(h.dm, good, bad, later)

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Applied)
	assert.Equal(t, 1, rep.Failed)

	msgs, err := h.cache.ListMessages(ctx, h.dm)
	require.NoError(t, err)
	ids := []domain.MessageID{}
	for _, m := range msgs {
		ids = append(ids, m.ID)
	}
	assert.ElementsMatch(t, []domain.MessageID{"m1", "m3"}, ids)

	// The envelope fails under a freshly resolved key too, so the cursor
	// moves past it.
	seq, _, err := h.cache.Cursor(ctx, h.dm)
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	// A corrected copy stored by the relay is picked up on the next pass.
	bad.Envelope = &intact
	h.fetch.put(h.dm, bad)
	rep, err = h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 1, rep.Applied)
	msgs, err = h.cache.ListMessages(ctx, h.dm)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
	seq, _, err = h.cache.Cursor(ctx, h.dm)
	require.NoError(t, err)
	assert.Equal(t, int64(4), seq)
}

func TestRunCatchUp_LateArrivalMerged(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetch.put(community.Room(), h.post(t, "p2", 20))

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)

	// Stamped earlier by its author, stored by the relay afterwards.
	h.fetch.put(community.Room(), h.post(t, "p1", 10))
	rep, err = h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Applied)

	posts, err := h.cache.ListPosts(ctx, community)
	require.NoError(t, err)
	assert.Len(t, posts, 2)
}

func TestRunCatchUp_RejectedItemDoesNotHoldCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	forged := h.post(t, "forged", 5)
	forged.Post.Content = "rewritten by relay"
	h.fetch.put(community.Room(), forged)
	for i := 0; i < 50; i++ {
		h.fetch.put(community.Room(), h.post(t, fmt.Sprintf("p%02d", i), int64(10+i)))
	}

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 50, rep.Applied)
	assert.Equal(t, 1, rep.Failed)

	seq, ok, err := h.cache.Cursor(ctx, community.Room())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(51), seq)

	rep, err = h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Applied)
	assert.Zero(t, rep.Failed)
	calls := h.fetch.calls[community.Room()]
	assert.Equal(t, domain.ItemQuery{After: 51}, calls[len(calls)-1])
}

func TestRunCatchUp_UnresolvedPeerHoldsCursor(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	carol, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	carolKeys := keyStore(t)
	ckp, err := carolKeys.LoadOrCreate(ctx, carol.ID())
	require.NoError(t, err)
	secret, err := keystore.NewSecrets(carolKeys, h.resolver, h.log).Secret(ctx, carol.ID(), h.alice.ID())
	require.NoError(t, err)
	env, err := crypto.Encrypt(secret, []byte("from carol"))
	require.NoError(t, err)

	room := domain.DirectChannel(h.alice.ID(), carol.ID())
	require.NoError(t, h.cache.TrackRoom(ctx, room))
	h.fetch.put(room, domain.SyncItem{
		ID: "c1", Channel: room, Kind: domain.KindMessage, Sender: carol.ID(),
		Timestamp: 10, Encrypted: true, Envelope: &env,
	})

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.Failed)
	_, ok, err := h.cache.Cursor(ctx, room)
	require.NoError(t, err)
	assert.False(t, ok)

	// Carol publishes her key; the held item merges on the next pass.
	h.resolver[carol.ID()] = ckp.Public
	rep, err = h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Zero(t, rep.Failed)
	assert.Equal(t, 1, rep.Applied)
	msgs, err := h.cache.ListMessages(ctx, room)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "from carol", msgs[0].Content)
}

func TestPermanent(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"malformed", fmt.Errorf("apply x: %w", reconcile.ErrMalformed), true},
		{"forged signature", fmt.Errorf("apply x: %w", domain.ErrSignatureInvalid), true},
		{"undecryptable", domain.ErrAuthenticationFailed, true},
		{"id reuse", domain.ErrConflict, true},
		{"transport", domain.ErrTransport, false},
		{"key store", domain.ErrKeyStoreUnavailable, false},
		{"community not cached", domain.ErrNotFound, false},
		{"deadline", context.DeadlineExceeded, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconcile.Permanent(tt.err))
		})
	}
}

func TestRunCatchUp_KeyStoreUnavailable(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetch.put(community.Room(), h.post(t, "p1", 10))

	broken := keystore.New(brokenStorage{}, h.log)
	rec := reconcile.New(h.cache, h.fetch, broken, keystore.NewSecrets(broken, mapResolver{}, h.log), h.log)

	_, err := rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrKeyStoreUnavailable)

	posts, err := h.cache.ListPosts(ctx, community)
	require.NoError(t, err)
	assert.Empty(t, posts)
	assert.Empty(t, h.fetch.calls)
}

func TestRunCatchUp_RoomFailureSkipped(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	h.fetch.fail[h.dm] = domain.ErrTransport
	h.fetch.put(community.Room(), h.post(t, "p1", 10))

	rep, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	assert.Equal(t, 1, rep.RoomErrors)
	assert.Equal(t, 1, rep.Applied)
}

func TestRunCatchUp_Cancelled(t *testing.T) {
	h := newHarness(t)
	h.fetch.put(community.Room(), h.post(t, "p1", 10))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := h.rec.RunCatchUp(ctx, h.alice.ID(), 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestApply_ForgedPostRejected(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := h.post(t, "p1", 10)
	item.Post.Content = "rewritten by relay"

	err := h.rec.Apply(ctx, h.alice.ID(), item)
	assert.ErrorIs(t, err, domain.ErrSignatureInvalid)
	_, err = h.cache.GetPost(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestApply_PlaintextMessageRefused(t *testing.T) {
	h := newHarness(t)
	item := domain.SyncItem{ID: "m1", Channel: h.dm, Kind: domain.KindMessage, Sender: h.bob.ID(), Timestamp: 1, Content: "hi"}
	assert.ErrorIs(t, h.rec.Apply(context.Background(), h.alice.ID(), item), reconcile.ErrMalformed)
}

func TestApply_PostIDReuseRefused(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	require.NoError(t, h.rec.Apply(ctx, h.alice.ID(), h.post(t, "p1", 10)))

	// Alice signs her own post under bob's post id.
	p := domain.CommunityPost{ID: "p1", CommunityID: community, Author: h.alice.ID(), Content: "mine now", Timestamp: 11}
	p.Signature = crypto.Sign(h.alice.SignPriv, crypto.PostMessage(p))
	err := h.rec.Apply(ctx, h.alice.ID(), domain.SyncItem{
		ID: "p1", Channel: community.Room(), Kind: domain.KindPost, Sender: h.alice.ID(), Timestamp: 11, Post: &p,
	})
	assert.ErrorIs(t, err, domain.ErrConflict)

	got, err := h.cache.GetPost(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, h.bob.ID(), got.Author)
	assert.Equal(t, "post p1", got.Content)
}

func TestHandlePush_AfterOptimisticWrite(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	item := h.post(t, "p1", 10)

	optimistic := *item.Post
	optimistic.Liked = true
	optimistic.LikeCount = 1
	require.NoError(t, h.cache.UpsertPost(ctx, optimistic))

	h.fetch.put(community.Room(), item)
	err := h.rec.HandlePush(ctx, h.alice.ID(), domain.PushPayload{
		ChannelID: community.Room(), ItemID: "p1", Sender: h.bob.ID(), Kind: domain.KindPost,
	})
	require.NoError(t, err)

	posts, err := h.cache.ListPosts(ctx, community)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.True(t, posts[0].Liked)
	assert.Zero(t, posts[0].LikeCount)

	assert.Error(t, h.rec.HandlePush(ctx, h.alice.ID(), domain.PushPayload{ChannelID: community.Room()}))
	assert.ErrorIs(t, h.rec.HandlePush(ctx, h.alice.ID(), domain.PushPayload{
		ChannelID: community.Room(), ItemID: "missing",
	}), domain.ErrNotFound)
}

func TestAttach_LiveEvents(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	bus := connection.NewBus()
	var (
		mu   sync.Mutex
		live []string
	)
	h.rec.OnLive = func(item domain.SyncItem) {
		mu.Lock()
		defer mu.Unlock()
		live = append(live, item.ID)
	}
	detach := h.rec.Attach(bus, h.alice.ID())

	msg := h.message(t, "m1", 10, "live")
	msg.Channel = ""
	payload, err := jsonRaw(msg)
	require.NoError(t, err)
	bus.Publish(domain.Event{Type: domain.EventNewMessage, Room: h.dm, Sender: h.bob.ID(), Payload: payload})

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(live) == 1
	}, 5*time.Second, 10*time.Millisecond)
	msgs, err := h.cache.ListMessages(ctx, h.dm)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "live", msgs[0].Content)
	assert.Equal(t, []string{"m1"}, live)

	detach()
	detach()
	post, err := jsonRaw(h.post(t, "p1", 20))
	require.NoError(t, err)
	bus.Publish(domain.Event{Type: domain.EventPostReceived, Room: community.Room(), Payload: post})
	_, err = h.cache.GetPost(ctx, "p1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestAttach_SlowMergeDoesNotBlockBus(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec, gate := h.gated()
	bus := connection.NewBus()
	detach := rec.Attach(bus, h.alice.ID())
	defer detach()

	typing := make(chan struct{}, 1)
	bus.Subscribe(domain.EventUserTyping, func(domain.Event) { typing <- struct{}{} })

	payload, err := jsonRaw(h.message(t, "m1", 10, "slow"))
	require.NoError(t, err)
	published := make(chan struct{})
	go func() {
		defer close(published)
		bus.Publish(domain.Event{Type: domain.EventNewMessage, Room: h.dm, Sender: h.bob.ID(), Payload: payload})
		bus.Publish(domain.Event{Type: domain.EventUserTyping, Room: h.dm, Sender: h.bob.ID()})
	}()

	select {
	case <-gate.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("merge never started")
	}
	select {
	case <-typing:
	case <-time.After(time.Second):
		t.Fatal("typing event held behind a slow merge")
	}
	<-published

	close(gate.release)
	require.Eventually(t, func() bool {
		msgs, err := h.cache.ListMessages(ctx, h.dm)
		return err == nil && len(msgs) == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestAttach_FullQueueLeavesItemForCatchUp(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)
	rec, gate := h.gated()
	rec.LiveQueue = 1
	bus := connection.NewBus()
	detach := rec.Attach(bus, h.alice.ID())
	defer detach()

	publish := func(item domain.SyncItem) {
		payload, err := jsonRaw(item)
		require.NoError(t, err)
		bus.Publish(domain.Event{Type: domain.EventNewMessage, Room: h.dm, Sender: h.bob.ID(), Payload: payload})
	}
	first := h.message(t, "m1", 10, "one")
	publish(first)
	<-gate.entered
	second, third := h.message(t, "m2", 20, "two"), h.message(t, "m3", 30, "three")
	publish(second)
	publish(third)

	close(gate.release)
	require.Eventually(t, func() bool {
		msgs, err := h.cache.ListMessages(ctx, h.dm)
		return err == nil && len(msgs) == 2
	}, 5*time.Second, 10*time.Millisecond)

	h.fetch.put(h.dm, first, second, third)
	_, err := rec.RunCatchUp(ctx, h.alice.ID(), 0)
	require.NoError(t, err)
	msgs, err := h.cache.ListMessages(ctx, h.dm)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)
}

func TestAttach_DetachStopsBlockedMerge(t *testing.T) {
	h := newHarness(t)
	rec, gate := h.gated()
	bus := connection.NewBus()
	detach := rec.Attach(bus, h.alice.ID())

	payload, err := jsonRaw(h.message(t, "m1", 10, "never"))
	require.NoError(t, err)
	bus.Publish(domain.Event{Type: domain.EventNewMessage, Room: h.dm, Sender: h.bob.ID(), Payload: payload})
	<-gate.entered

	stopped := make(chan struct{})
	go func() {
		detach()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("detach waited on a blocked merge")
	}
}
