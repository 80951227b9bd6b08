package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/cache"
	"courier/internal/connection"
	"courier/internal/domain"
	"courier/internal/keystore"
	"courier/internal/reconcile"
	"courier/internal/relay"
	"courier/internal/services/feed"
	identitysvc "courier/internal/services/identity"
	messagesvc "courier/internal/services/message"
	"courier/internal/store"
	"courier/internal/transport"
)

// Wire bundles all stores, services, and clients for the CLI.
type Wire struct {
	Config Config
	Log    logrus.FieldLogger

	Vault   *store.Vault
	Cache   *cache.Cache
	Keys    *keystore.KeyStore
	Secrets *keystore.Secrets
	Relay   *relay.HTTP

	Conn       *connection.Manager
	Reconciler *reconcile.Reconciler
	Scheduler  *reconcile.Scheduler

	Identity *identitysvc.Service
	Feed     *feed.Service
	Messages *messagesvc.Service

	mu      sync.Mutex
	detach  func()
	flushMu sync.Mutex
}

// NewWire constructs the dependency graph from cfg. The vault under
// cfg.Home is unlocked with passphrase.
func NewWire(cfg Config, passphrase string, log logrus.FieldLogger) (*Wire, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	if err := os.MkdirAll(cfg.Home, 0o700); err != nil {
		return nil, err
	}

	// Secure storage and local cache
	vault, err := store.OpenVault(filepath.Join(cfg.Home, "vault"), passphrase, cfg.Vault...)
	if err != nil {
		return nil, fmt.Errorf("open vault: %w", err)
	}
	c, err := cache.Open(filepath.Join(cfg.Home, "cache.db"))
	if err != nil {
		vault.Close()
		return nil, fmt.Errorf("open cache: %w", err)
	}

	// Ensure an HTTP client is available for outbound calls
	httpClient := cfg.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	rc := &relay.HTTP{Base: cfg.RelayURL, HTTP: httpClient}

	// Real-time transports: WebSocket first, long-polling as fallback
	primary := &transport.WebSocketDialer{URL: cfg.RealtimeURL}
	fallback := &transport.PollingDialer{BaseURL: cfg.PollURL, HTTP: httpClient}
	conn := connection.New(cfg.reconnectPolicy(), primary, fallback, log)

	keys := keystore.New(vault, log)
	secrets := keystore.NewSecrets(keys, rc, log)
	ids := store.NewIdentityVaultStore(vault)

	w := &Wire{
		Config:     cfg,
		Log:        log,
		Vault:      vault,
		Cache:      c,
		Keys:       keys,
		Secrets:    secrets,
		Relay:      rc,
		Conn:       conn,
		Reconciler: reconcile.New(c, rc, keys, secrets, log),
		Identity:   identitysvc.New(ids, keys, rc, log),
		Feed:       feed.New(ids, c, rc, conn, log),
		Messages:   messagesvc.New(ids, secrets, c, conn, log),
	}
	w.Scheduler = reconcile.NewScheduler(func(ctx context.Context) error {
		_, err := w.CatchUp(ctx)
		return err
	}, cfg.Sync.Interval, cfg.Sync.JitterPercent, log)
	return w, nil
}

// CatchUp runs one reconciliation pass for the local identity.
func (w *Wire) CatchUp(ctx context.Context) (reconcile.Report, error) {
	id, err := w.Identity.LoadIdentity()
	if err != nil {
		return reconcile.Report{}, err
	}
	var since int64
	if lb := w.Config.Sync.Lookback; lb > 0 {
		since = time.Now().Add(-lb).UnixMilli()
	}
	return w.Reconciler.RunCatchUp(ctx, id.ID(), since)
}

// Foreground attaches live ingestion, subscribes to every cached sync room,
// (re)connects the real-time channel and starts background catch-up with an
// immediate pass. Catch-up runs even when the connection cannot be
// established; that error is returned.
func (w *Wire) Foreground(ctx context.Context) error {
	id, err := w.Identity.LoadIdentity()
	if err != nil {
		return err
	}
	rooms, err := w.Cache.SyncRooms(ctx)
	if err != nil {
		return err
	}
	for _, room := range rooms {
		if err := w.Conn.JoinRoom(room); err != nil {
			return err
		}
	}

	w.mu.Lock()
	if w.detach == nil {
		offLive := w.Reconciler.Attach(w.Conn, id.ID())
		offFlush := w.flushOnConnect()
		w.detach = func() {
			offFlush()
			offLive()
		}
	}
	w.mu.Unlock()

	w.Scheduler.Start()
	w.Scheduler.Trigger()

	if err := w.Conn.Resume(ctx, id.ID()); err != nil {
		w.Log.WithError(err).Warn("real-time connection unavailable; relying on catch-up")
		return err
	}
	return nil
}

// Flush resends the posts and messages the relay has not confirmed.
func (w *Wire) Flush(ctx context.Context) error {
	w.flushMu.Lock()
	defer w.flushMu.Unlock()
	_, postErr := w.Feed.FlushPending(ctx)
	_, msgErr := w.Messages.FlushPending(ctx)
	return errors.Join(postErr, msgErr)
}

// flushOnConnect runs Flush on its own goroutine after every transition to
// Connected. The returned function stops it.
func (w *Wire) flushOnConnect() func() {
	ctx, cancel := context.WithCancel(context.Background())
	kick := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case <-kick:
				if err := w.Flush(ctx); err != nil && ctx.Err() == nil {
					w.Log.WithError(err).Warn("flush pending failed")
				}
			}
		}
	}()
	off := w.Conn.Subscribe(domain.EventStateChanged, func(ev domain.Event) {
		if ev.State != domain.StateConnected {
			return
		}
		select {
		case kick <- struct{}{}:
		default:
		}
	})
	return func() {
		off()
		cancel()
		<-done
	}
}

// Background pauses the connection and the catch-up schedule.
func (w *Wire) Background() {
	w.Conn.Pause()
	w.Scheduler.Stop()
}

// Close releases every resource held by the wire.
func (w *Wire) Close() error {
	w.Scheduler.Stop()

	w.mu.Lock()
	if w.detach != nil {
		w.detach()
		w.detach = nil
	}
	w.mu.Unlock()

	err := errors.Join(w.Conn.Close(), w.Cache.Close())
	w.Vault.Close()
	return err
}
