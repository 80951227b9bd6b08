package app_test

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/app"
	"courier/internal/domain"
	"courier/internal/relay/relaytest"
	"courier/internal/store"
)

const passphrase = "Correct-Horse-9"

func newRelay(t *testing.T) (*relaytest.Server, string) {
	t.Helper()
	log, _ := test.NewNullLogger()
	srv := relaytest.New(log)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts.URL
}

// newClient builds a wire with a fresh identity and published agreement key.
func newClient(t *testing.T, relayURL string) (*app.Wire, domain.Identity) {
	t.Helper()
	t.Setenv(app.EnvHome, t.TempDir())
	t.Setenv(app.EnvRelayURL, relayURL)
	cfg, err := app.LoadConfig("")
	require.NoError(t, err)
	cfg.Connection = app.ConnectionConfig{
		MaxAttempts:    2,
		InitialBackoff: 10 * time.Millisecond,
		MaxBackoff:     50 * time.Millisecond,
		AuthTimeout:    time.Second,
	}
	cfg.Vault = []store.VaultOption{store.WithScryptParams(1<<10, 8, 1)}

	log, _ := test.NewNullLogger()
	w, err := app.NewWire(cfg, passphrase, log)
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	id, _, err := w.Identity.GenerateIdentity()
	require.NoError(t, err)
	_, err = w.Identity.PublishAgreementKey(context.Background())
	require.NoError(t, err)
	return w, id
}

func TestTwoClients_LivePostAndDirectMessage(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	alice, aliceID := newClient(t, url)
	bob, bobID := newClient(t, url)

	require.NoError(t, alice.Foreground(ctx))
	require.NoError(t, bob.Foreground(ctx))
	assert.Equal(t, domain.StateConnected, bob.Conn.State())
	joined := func(room domain.RoomID) func() bool {
		return func() bool {
			for _, id := range srv.Members(room) {
				if id == bobID.ID() {
					return true
				}
			}
			return false
		}
	}

	com, err := alice.Feed.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	com.IsMember = false
	require.NoError(t, bob.Feed.AddCommunity(ctx, com))
	require.NoError(t, bob.Feed.JoinCommunity(ctx, com.ID))
	require.Eventually(t, joined(com.ID.Room()), 5*time.Second, 10*time.Millisecond)

	post, err := alice.Feed.PublishPost(ctx, com.ID, "hello gophers")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		got, err := bob.Cache.GetPost(ctx, post.ID)
		return err == nil && got.Content == "hello gophers"
	}, 5*time.Second, 20*time.Millisecond)

	dm, err := bob.Messages.Open(ctx, aliceID.ID())
	require.NoError(t, err)
	require.Eventually(t, joined(dm), 5*time.Second, 10*time.Millisecond)
	msg, err := alice.Messages.Send(ctx, bobID.ID(), "psst")
	require.NoError(t, err)
	require.Eventually(t, func() bool {
		conv, err := bob.Messages.Conversation(ctx, aliceID.ID())
		return err == nil && len(conv) == 1 && conv[0].ID == msg.ID && conv[0].Content == "psst"
	}, 5*time.Second, 20*time.Millisecond)
}

func TestCatchUpAfterBackground(t *testing.T) {
	ctx := context.Background()
	_, url := newRelay(t)
	alice, aliceID := newClient(t, url)
	bob, bobID := newClient(t, url)

	require.NoError(t, alice.Foreground(ctx))
	require.NoError(t, bob.Foreground(ctx))
	com, err := alice.Feed.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	require.NoError(t, bob.Feed.AddCommunity(ctx, com))
	_, err = bob.Messages.Open(ctx, aliceID.ID())
	require.NoError(t, err)

	bob.Background()
	assert.Equal(t, domain.StatePaused, bob.Conn.State())

	post, err := alice.Feed.PublishPost(ctx, com.ID, "while you were away")
	require.NoError(t, err)
	msg, err := alice.Messages.Send(ctx, bobID.ID(), "call me")
	require.NoError(t, err)

	// Frames are stored asynchronously by the relay.
	require.Eventually(t, func() bool {
		items, err := bob.Relay.FetchItems(ctx, domain.DirectChannel(aliceID.ID(), bobID.ID()), domain.ItemQuery{})
		return err == nil && len(items) == 1
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		items, err := bob.Relay.FetchItems(ctx, com.ID.Room(), domain.ItemQuery{})
		return err == nil && len(items) == 1
	}, 5*time.Second, 20*time.Millisecond)

	rep, err := bob.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Rooms)
	assert.Equal(t, 2, rep.Applied)
	assert.Zero(t, rep.Failed)

	got, err := bob.Cache.GetPost(ctx, post.ID)
	require.NoError(t, err)
	assert.Equal(t, "while you were away", got.Content)
	conv, err := bob.Messages.Conversation(ctx, aliceID.ID())
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, msg.ID, conv[0].ID)
	assert.Equal(t, "call me", conv[0].Content)
}

func TestPendingDeliveredOnReconnect(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	alice, aliceID := newClient(t, url)
	bob, bobID := newClient(t, url)

	require.NoError(t, alice.Foreground(ctx))
	com, err := alice.Feed.CreateCommunity(ctx, "Gophers", domain.VisibilityPublic, "")
	require.NoError(t, err)
	require.NoError(t, bob.Feed.AddCommunity(ctx, com))
	_, err = bob.Messages.Open(ctx, aliceID.ID())
	require.NoError(t, err)

	alice.Background()
	post, err := alice.Feed.PublishPost(ctx, com.ID, "composed offline")
	require.ErrorIs(t, err, domain.ErrNotConnected)
	msg, err := alice.Messages.Send(ctx, bobID.ID(), "sent from a tunnel")
	require.ErrorIs(t, err, domain.ErrNotConnected)
	_, ok := srv.Post(post.ID)
	assert.False(t, ok)

	require.NoError(t, alice.Foreground(ctx))
	require.Eventually(t, func() bool {
		_, ok := srv.Post(post.ID)
		return ok
	}, 5*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		items, err := bob.Relay.FetchItems(ctx, domain.DirectChannel(aliceID.ID(), bobID.ID()), domain.ItemQuery{})
		return err == nil && len(items) == 1
	}, 5*time.Second, 20*time.Millisecond)

	rep, err := bob.CatchUp(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rep.Applied)
	conv, err := bob.Messages.Conversation(ctx, aliceID.ID())
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, msg.ID, conv[0].ID)
	assert.Equal(t, "sent from a tunnel", conv[0].Content)

	// Alice's own catch-up sees the relay's copies and clears the flags.
	_, err = alice.CatchUp(ctx)
	require.NoError(t, err)
	posts, err := alice.Cache.PendingPosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, posts)
	msgs, err := alice.Cache.PendingMessages(ctx)
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestForeground_DegradesToPolling(t *testing.T) {
	ctx := context.Background()
	srv, url := newRelay(t)
	w, _ := newClient(t, url)
	srv.RejectWebSocket(true)

	// Polling still reaches the relay, so the client degrades and connects.
	require.NoError(t, w.Foreground(ctx))
	assert.Equal(t, domain.StateConnected, w.Conn.State())
	assert.Equal(t, "polling", w.Conn.Status().Transport)
}
