package message_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courier/internal/cache"
	"courier/internal/crypto"
	"courier/internal/domain"
	"courier/internal/services/message"
)

type staticIdentity struct{ id domain.Identity }

func (s staticIdentity) LoadIdentity() (domain.Identity, error) { return s.id, nil }

type fixedSecret struct {
	secret domain.SharedSecret
	err    error
}

func (f fixedSecret) Secret(context.Context, domain.IdentityID, domain.IdentityID) (domain.SharedSecret, error) {
	return f.secret, f.err
}

type outbound struct {
	room    domain.RoomID
	typ     domain.EventType
	payload any
}

type fakeConn struct {
	offline bool
	joined  []domain.RoomID
	sent    []outbound
}

func (c *fakeConn) Subscribe(domain.EventType, func(domain.Event)) func() { return func() {} }
func (c *fakeConn) JoinRoom(room domain.RoomID) error {
	c.joined = append(c.joined, room)
	return nil
}
func (c *fakeConn) LeaveRoom(domain.RoomID) error { return nil }
func (c *fakeConn) Send(room domain.RoomID, t domain.EventType, payload any) error {
	if c.offline {
		return domain.ErrNotConnected
	}
	c.sent = append(c.sent, outbound{room: room, typ: t, payload: payload})
	return nil
}

type fixture struct {
	svc    *message.Service
	cache  *cache.Cache
	conn   *fakeConn
	me     domain.Identity
	peer   domain.IdentityID
	secret domain.SharedSecret
}

func newFixture(t *testing.T, secretErr error) *fixture {
	t.Helper()
	log, _ := test.NewNullLogger()
	c, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })

	me, err := crypto.GenerateIdentity()
	require.NoError(t, err)
	peer, err := crypto.GenerateIdentity()
	require.NoError(t, err)

	var secret domain.SharedSecret
	secret[0], secret[31] = 7, 9
	conn := &fakeConn{}
	return &fixture{
		svc:    message.New(staticIdentity{me}, fixedSecret{secret: secret, err: secretErr}, c, conn, log),
		cache:  c,
		conn:   conn,
		me:     me,
		peer:   peer.ID(),
		secret: secret,
	}
}

func TestSend_EncryptsOnTheWire(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	msg, err := f.svc.Send(ctx, f.peer, "meet at noon")
	require.NoError(t, err)
	room := domain.DirectChannel(f.me.ID(), f.peer)
	assert.Equal(t, room, msg.ChannelID)

	require.Len(t, f.conn.sent, 1)
	out := f.conn.sent[0]
	assert.Equal(t, domain.EventSendMessage, out.typ)
	assert.Equal(t, room, out.room)

	item, ok := out.payload.(domain.SyncItem)
	require.True(t, ok)
	assert.True(t, item.Encrypted)
	assert.Empty(t, item.Content)
	require.NotNil(t, item.Envelope)
	assert.NotContains(t, string(item.Envelope.Ciphertext), "noon")

	plain, err := crypto.Decrypt(f.secret, *item.Envelope)
	require.NoError(t, err)
	assert.Equal(t, "meet at noon", string(plain))

	conv, err := f.svc.Conversation(ctx, f.peer)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, "meet at noon", conv[0].Content)

	rooms, err := f.cache.SyncRooms(ctx)
	require.NoError(t, err)
	assert.Contains(t, rooms, room)
}

func TestSend_OfflineKeepsMessage(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.conn.offline = true

	msg, err := f.svc.Send(ctx, f.peer, "later")
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.NotEmpty(t, msg.ID)

	conv, err := f.svc.Conversation(ctx, f.peer)
	require.NoError(t, err)
	require.Len(t, conv, 1)
	assert.Equal(t, msg.ID, conv[0].ID)
	assert.True(t, conv[0].Pending)
}

func TestFlushPending_ResendsAfterReconnect(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)
	f.conn.offline = true

	first, err := f.svc.Send(ctx, f.peer, "one")
	require.ErrorIs(t, err, domain.ErrNotConnected)
	second, err := f.svc.Send(ctx, f.peer, "two")
	require.ErrorIs(t, err, domain.ErrNotConnected)

	n, err := f.svc.FlushPending(ctx)
	assert.ErrorIs(t, err, domain.ErrNotConnected)
	assert.Zero(t, n)

	f.conn.offline = false
	n, err = f.svc.FlushPending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, f.conn.sent, 2)
	for i, want := range []domain.ChannelMessage{first, second} {
		item, ok := f.conn.sent[i].payload.(domain.SyncItem)
		require.True(t, ok)
		assert.Equal(t, string(want.ID), item.ID)
		assert.Equal(t, want.Timestamp, item.Timestamp)
		require.NotNil(t, item.Envelope)
		plain, err := crypto.Decrypt(f.secret, *item.Envelope)
		require.NoError(t, err)
		assert.Equal(t, want.Content, string(plain))
	}

	// The relay's copy confirms the message; nothing is resent after that.
	confirmed := first
	confirmed.Pending = false
	require.NoError(t, f.cache.UpsertMessage(ctx, confirmed))
	pending, err := f.cache.PendingMessages(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.ID, pending[0].ID)
}

func TestSend_SecretFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, domain.ErrKeyStoreUnavailable)

	_, err := f.svc.Send(ctx, f.peer, "x")
	assert.ErrorIs(t, err, domain.ErrKeyStoreUnavailable)
	assert.Empty(t, f.conn.sent)

	conv, err := f.svc.Conversation(ctx, f.peer)
	require.NoError(t, err)
	assert.Empty(t, conv)
}

func TestSelfMessageRejected(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	_, err := f.svc.Send(ctx, f.me.ID(), "hi me")
	assert.True(t, errors.Is(err, message.ErrSelfMessage))
	_, err = f.svc.Open(ctx, f.me.ID())
	assert.ErrorIs(t, err, message.ErrSelfMessage)
}

func TestOpen_TracksAndJoins(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, nil)

	room, err := f.svc.Open(ctx, f.peer)
	require.NoError(t, err)
	assert.Equal(t, []domain.RoomID{room}, f.conn.joined)

	rooms, err := f.cache.SyncRooms(ctx)
	require.NoError(t, err)
	assert.Equal(t, []domain.RoomID{room}, rooms)
}
