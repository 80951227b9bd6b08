package reconcile

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/crypto"
	"courier/internal/domain"
)

// ErrMalformed marks an item that can never be merged as served: an unknown
// kind, a missing body or a plaintext direct message. Catch-up moves its
// cursor past such items.
var ErrMalformed = errors.New("malformed item")

// errPeerKey marks a failure to obtain the peer's key, which a later pass may
// not hit.
var errPeerKey = errors.New("peer key unavailable")

const defaultLiveQueue = 256

// SecretSource derives and caches shared secrets with peers.
type SecretSource interface {
	Secret(ctx context.Context, local, remote domain.IdentityID) (domain.SharedSecret, error)
	Invalidate(remote domain.IdentityID)
}

// Report summarises one catch-up pass.
type Report struct {
	Rooms      int
	Applied    int
	Failed     int
	RoomErrors int
}

// Reconciler owns the single merge path into the cache.
type Reconciler struct {
	cache   domain.LocalCache
	fetcher domain.ItemFetcher
	keys    domain.KeyStore
	secrets SecretSource
	log     logrus.FieldLogger

	// LiveTimeout bounds Apply for one live event.
	LiveTimeout time.Duration
	// LiveQueue bounds the live events waiting to be merged. Events arriving
	// while it is full are left for the next catch-up.
	LiveQueue int
	// OnLive, when set before Attach, is called after a live item has been
	// merged into the cache.
	OnLive func(domain.SyncItem)
}

// New returns a Reconciler.
func New(
	cache domain.LocalCache,
	fetcher domain.ItemFetcher,
	keys domain.KeyStore,
	secrets SecretSource,
	log logrus.FieldLogger,
) *Reconciler {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Reconciler{
		cache:       cache,
		fetcher:     fetcher,
		keys:        keys,
		secrets:     secrets,
		log:         log.WithField("component", "reconcile"),
		LiveTimeout: 30 * time.Second,
		LiveQueue:   defaultLiveQueue,
	}
}

// RunCatchUp fetches and merges every item the relay stored for the sync
// rooms after each room's cursor. A room without a cursor starts from the
// items timestamped after since.
//
// A key store failure aborts the pass before any room is touched. Per-item
// and per-room failures are logged and counted, never returned. Cancellation
// stops between items and returns ctx.Err().
func (r *Reconciler) RunCatchUp(ctx context.Context, id domain.IdentityID, since int64) (Report, error) {
	var rep Report
	if _, err := r.keys.LoadOrCreate(ctx, id); err != nil {
		return rep, fmt.Errorf("catch-up: secure channel unavailable: %w", err)
	}
	rooms, err := r.cache.SyncRooms(ctx)
	if err != nil {
		return rep, fmt.Errorf("catch-up: %w", err)
	}

	start := time.Now()
	for _, room := range rooms {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.Rooms++
		if err := r.catchUpRoom(ctx, id, room, since, &rep); err != nil {
			return rep, err
		}
	}

	r.log.WithFields(logrus.Fields{
		"rooms":    rep.Rooms,
		"applied":  rep.Applied,
		"failed":   rep.Failed,
		"duration": time.Since(start),
	}).Info("catch-up complete")
	return rep, nil
}

// catchUpRoom returns an error only on cancellation.
//
// The cursor is the relay sequence number, so an item the relay stores late
// is still fetched however old its sender timestamp. It moves past every item
// that merged or failed permanently and stops before the first item that
// failed for a reason a later pass may not hit.
func (r *Reconciler) catchUpRoom(ctx context.Context, id domain.IdentityID, room domain.RoomID, since int64, rep *Report) error {
	log := r.log.WithField("room", room)

	q := domain.ItemQuery{Since: since}
	cur, ok, err := r.cache.Cursor(ctx, room)
	if err != nil {
		log.WithError(err).Warn("read cursor failed")
		rep.RoomErrors++
		return nil
	}
	if ok {
		q.After = cur
	}

	items, err := r.fetcher.FetchItems(ctx, room, q)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.WithError(err).Warn("fetch items failed")
		rep.RoomErrors++
		return nil
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })

	var (
		target    int64
		held      bool
		cancelled error
	)
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			cancelled = err
			break
		}
		if item.Channel == "" {
			item.Channel = room
		}
		if err := r.Apply(ctx, id, item); err != nil {
			rep.Failed++
			entry := log.WithFields(logrus.Fields{"item": item.ID, "kind": item.Kind, "seq": item.Seq}).WithError(err)
			if Permanent(err) {
				entry.Warn("item rejected")
			} else {
				entry.Warn("item deferred")
				held = true
			}
		} else {
			rep.Applied++
		}
		if !held && item.Seq > target {
			target = item.Seq
		}
	}

	if target > 0 {
		if err := r.cache.AdvanceCursor(context.WithoutCancel(ctx), room, target); err != nil {
			log.WithError(err).Warn("advance cursor failed")
		}
	}
	return cancelled
}

// Permanent reports whether an Apply error means the item can never merge as
// served. Everything else, such as an unreachable relay, a locked key store
// or a cache error, is worth retrying.
func Permanent(err error) bool {
	if errors.Is(err, errPeerKey) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return errors.Is(err, ErrMalformed) ||
		errors.Is(err, domain.ErrSignatureInvalid) ||
		errors.Is(err, domain.ErrAuthenticationFailed) ||
		errors.Is(err, domain.ErrConflict)
}

// Apply merges one item into the cache. It is idempotent: applying the same
// item again leaves one row.
func (r *Reconciler) Apply(ctx context.Context, id domain.IdentityID, item domain.SyncItem) error {
	switch item.Kind {
	case domain.KindPost:
		return r.applyPost(ctx, id, item)
	case domain.KindMessage:
		return r.applyMessage(ctx, id, item)
	default:
		return fmt.Errorf("apply %s: %w: unknown kind %q", item.ID, ErrMalformed, item.Kind)
	}
}

func (r *Reconciler) applyPost(ctx context.Context, id domain.IdentityID, item domain.SyncItem) error {
	if item.Post == nil {
		return fmt.Errorf("apply post %s: %w: missing body", item.ID, ErrMalformed)
	}
	p := *item.Post
	if item.Encrypted {
		content, err := r.open(ctx, id, item)
		if err != nil {
			return fmt.Errorf("apply post %s: %w", item.ID, err)
		}
		p.Content = content
	}
	if !crypto.VerifyIdentity(p.Author, crypto.PostMessage(p), p.Signature) {
		return fmt.Errorf("apply post %s: %w", item.ID, domain.ErrSignatureInvalid)
	}

	// Liked/Reposted are per-viewer flags the relay does not echo back.
	existing, err := r.cache.GetPost(ctx, p.ID)
	switch {
	case err == nil:
		p.Liked, p.Reposted = existing.Liked, existing.Reposted
	case !errors.Is(err, domain.ErrNotFound):
		return fmt.Errorf("apply post %s: %w", item.ID, err)
	}
	return r.cache.UpsertPost(ctx, p)
}

func (r *Reconciler) applyMessage(ctx context.Context, id domain.IdentityID, item domain.SyncItem) error {
	if !item.Encrypted || item.Envelope == nil {
		return fmt.Errorf("apply message %s: %w: refusing plaintext direct message", item.ID, ErrMalformed)
	}
	content, err := r.open(ctx, id, item)
	if err != nil {
		return fmt.Errorf("apply message %s: %w", item.ID, err)
	}
	return r.cache.UpsertMessage(ctx, domain.ChannelMessage{
		ID:        domain.MessageID(item.ID),
		ChannelID: item.Channel,
		Sender:    item.Sender,
		Content:   content,
		Timestamp: item.Timestamp,
	})
}

// open decrypts the item's envelope under the secret shared with the other
// side of its channel. A tag failure is retried once with a freshly resolved
// peer key, since the peer may have rotated it.
func (r *Reconciler) open(ctx context.Context, id domain.IdentityID, item domain.SyncItem) (string, error) {
	if item.Envelope == nil {
		return "", fmt.Errorf("%w: missing envelope", domain.ErrAuthenticationFailed)
	}
	peer := item.Sender
	if other, ok := item.Channel.Counterpart(id); ok {
		peer = other
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		secret, err := r.secrets.Secret(ctx, id, peer)
		if err != nil {
			return "", fmt.Errorf("%w: %w", errPeerKey, err)
		}
		plaintext, err := crypto.Decrypt(secret, *item.Envelope)
		if err == nil {
			defer crypto.Wipe(plaintext)
			return string(plaintext), nil
		}
		r.secrets.Invalidate(peer)
		lastErr = err
	}
	return "", lastErr
}

// Attach routes live message and post events from bus to a merge worker. The
// bus handlers only decode and enqueue, so a slow merge never holds up the
// publisher or other subscribers. The returned function detaches the
// handlers and waits for the worker to stop.
func (r *Reconciler) Attach(bus domain.EventSubscriber, id domain.IdentityID) func() {
	onLive := r.OnLive
	size := r.LiveQueue
	if size <= 0 {
		size = defaultLiveQueue
	}
	ctx, cancel := context.WithCancel(context.Background())
	queue := make(chan domain.SyncItem, size)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for item := range queue {
			if ctx.Err() != nil {
				continue
			}
			r.applyLive(ctx, id, item, onLive)
		}
	}()

	var (
		mu     sync.Mutex
		closed bool
	)
	handle := func(ev domain.Event) {
		var item domain.SyncItem
		if err := ev.Decode(&item); err != nil {
			r.log.WithField("type", ev.Type).WithError(err).Warn("malformed live event")
			return
		}
		if item.Channel == "" {
			item.Channel = ev.Room
		}
		if item.Sender == "" {
			item.Sender = ev.Sender
		}

		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		select {
		case queue <- item:
		default:
			r.log.WithFields(logrus.Fields{
				"type": ev.Type,
				"room": ev.Room,
				"item": item.ID,
			}).Warn("live queue full; left for catch-up")
		}
	}
	offMsg := bus.Subscribe(domain.EventNewMessage, handle)
	offPost := bus.Subscribe(domain.EventPostReceived, handle)

	var once sync.Once
	return func() {
		once.Do(func() {
			offMsg()
			offPost()
			mu.Lock()
			closed = true
			close(queue)
			mu.Unlock()
			cancel()
			<-done
		})
	}
}

func (r *Reconciler) applyLive(ctx context.Context, id domain.IdentityID, item domain.SyncItem, onLive func(domain.SyncItem)) {
	ctx, cancel := context.WithTimeout(ctx, r.LiveTimeout)
	defer cancel()
	if err := r.Apply(ctx, id, item); err != nil {
		r.log.WithFields(logrus.Fields{
			"room": item.Channel,
			"item": item.ID,
			"kind": item.Kind,
		}).WithError(err).Warn("live event dropped")
		return
	}
	if onLive != nil {
		onLive(item)
	}
}

// HandlePush fetches the item a push notification names and merges it. The
// payload never carries content.
func (r *Reconciler) HandlePush(ctx context.Context, id domain.IdentityID, push domain.PushPayload) error {
	if push.ChannelID == "" || push.ItemID == "" {
		return fmt.Errorf("push: missing channel or item id")
	}
	item, err := r.fetcher.FetchItem(ctx, push.ChannelID, push.ItemID)
	if err != nil {
		return fmt.Errorf("push %s/%s: %w", push.ChannelID, push.ItemID, err)
	}
	if item.Channel == "" {
		item.Channel = push.ChannelID
	}
	return r.Apply(ctx, id, item)
}
