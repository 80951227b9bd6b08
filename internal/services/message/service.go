package message

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// ErrSelfMessage is returned when the recipient is the local identity.
var ErrSelfMessage = errors.New("cannot message yourself")

// IdentitySource returns the local signing identity.
type IdentitySource interface {
	LoadIdentity() (domain.Identity, error)
}

// SecretSource derives the secret shared with a peer.
type SecretSource interface {
	Secret(ctx context.Context, local, remote domain.IdentityID) (domain.SharedSecret, error)
}

// Service sends direct messages.
type Service struct {
	ids     IdentitySource
	secrets SecretSource
	cache   domain.LocalCache
	conn    domain.Connection
	log     logrus.FieldLogger
	now     func() time.Time
}

// New constructs a message Service.
func New(
	ids IdentitySource,
	secrets SecretSource,
	cache domain.LocalCache,
	conn domain.Connection,
	log logrus.FieldLogger,
) *Service {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Service{
		ids:     ids,
		secrets: secrets,
		cache:   cache,
		conn:    conn,
		log:     log.WithField("component", "message"),
		now:     time.Now,
	}
}

// Open tracks the direct channel with peer for catch-up and joins its room so
// messages arrive live.
func (s *Service) Open(ctx context.Context, peer domain.IdentityID) (domain.RoomID, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return "", err
	}
	if peer == me.ID() {
		return "", ErrSelfMessage
	}
	room := domain.DirectChannel(me.ID(), peer)
	if err := s.cache.TrackRoom(ctx, room); err != nil {
		return "", err
	}
	return room, s.conn.JoinRoom(room)
}

// Send encrypts text for peer and sends it.
//
// The cache is written before the network send and the message stays pending
// until catch-up finds the relay's copy. A message composed while
// disconnected is kept locally, the returned error wraps
// domain.ErrNotConnected, and FlushPending sends it later. The cached copy is
// plaintext; only the envelope leaves the device.
func (s *Service) Send(ctx context.Context, peer domain.IdentityID, text string) (domain.ChannelMessage, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return domain.ChannelMessage{}, err
	}
	if peer == me.ID() {
		return domain.ChannelMessage{}, ErrSelfMessage
	}
	room := domain.DirectChannel(me.ID(), peer)

	uid, err := uuid.NewV7()
	if err != nil {
		return domain.ChannelMessage{}, err
	}
	msg := domain.ChannelMessage{
		ID:        domain.MessageID(uid.String()),
		ChannelID: room,
		Sender:    me.ID(),
		Content:   text,
		Timestamp: s.now().UnixMilli(),
		Pending:   true,
	}
	item, err := s.seal(ctx, me.ID(), peer, msg)
	if err != nil {
		return domain.ChannelMessage{}, err
	}
	if err := s.cache.TrackRoom(ctx, room); err != nil {
		return domain.ChannelMessage{}, err
	}
	if err := s.cache.UpsertMessage(ctx, msg); err != nil {
		return domain.ChannelMessage{}, err
	}

	if err := s.conn.Send(room, domain.EventSendMessage, item); err != nil {
		s.log.WithFields(logrus.Fields{"message": msg.ID, "peer": peer.Short()}).WithError(err).Warn("message kept locally")
		return msg, fmt.Errorf("send message %s: %w", msg.ID, err)
	}
	return msg, nil
}

// FlushPending re-encrypts and resends every message the relay has not
// confirmed, oldest first, and returns how many were sent. A message whose
// peer key cannot be resolved is left pending; a send failure stops the
// flush.
func (s *Service) FlushPending(ctx context.Context) (int, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return 0, err
	}
	msgs, err := s.cache.PendingMessages(ctx)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		peer, ok := msg.ChannelID.Counterpart(me.ID())
		if !ok || msg.Sender != me.ID() {
			continue
		}
		item, err := s.seal(ctx, me.ID(), peer, msg)
		if err != nil {
			s.log.WithFields(logrus.Fields{"message": msg.ID, "peer": peer.Short()}).WithError(err).Warn("pending message not resent")
			continue
		}
		if err := s.conn.Send(msg.ChannelID, domain.EventSendMessage, item); err != nil {
			return sent, fmt.Errorf("flush message %s: %w", msg.ID, err)
		}
		sent++
	}
	if sent > 0 {
		s.log.WithField("count", sent).Info("pending messages resent")
	}
	return sent, nil
}

// seal encrypts msg for peer into the item sent on the wire.
func (s *Service) seal(ctx context.Context, me, peer domain.IdentityID, msg domain.ChannelMessage) (domain.SyncItem, error) {
	secret, err := s.secrets.Secret(ctx, me, peer)
	if err != nil {
		return domain.SyncItem{}, fmt.Errorf("send to %s: %w", peer.Short(), err)
	}
	env, err := crypto.Encrypt(secret, []byte(msg.Content))
	if err != nil {
		return domain.SyncItem{}, err
	}
	return domain.SyncItem{
		ID:        string(msg.ID),
		Channel:   msg.ChannelID,
		Kind:      domain.KindMessage,
		Sender:    me,
		Timestamp: msg.Timestamp,
		Encrypted: true,
		Envelope:  &env,
	}, nil
}

// Conversation returns the cached messages exchanged with peer, newest first.
func (s *Service) Conversation(ctx context.Context, peer domain.IdentityID) ([]domain.ChannelMessage, error) {
	me, err := s.ids.LoadIdentity()
	if err != nil {
		return nil, err
	}
	return s.cache.ListMessages(ctx, domain.DirectChannel(me.ID(), peer))
}
