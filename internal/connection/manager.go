package connection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"courier/internal/domain"
	"courier/internal/transport"
)

// errAuthRejected marks an auth_error reply; retrying cannot help.
var errAuthRejected = errors.New("authentication rejected")

// Manager is the single owner of the real-time connection.
type Manager struct {
	cfg      Config
	primary  transport.Dialer
	fallback transport.Dialer
	log      logrus.FieldLogger
	bus      *Bus

	mu        sync.Mutex
	state     domain.ConnectionState
	identity  domain.IdentityID
	rooms     map[domain.RoomID]struct{}
	conn      transport.Conn
	via       string
	attempts  int
	degraded  bool
	run       uint64
	runCtx    context.Context
	runCancel context.CancelFunc
	closed    bool
}

// New returns a Disconnected manager. fallback may be nil.
func New(cfg Config, primary, fallback transport.Dialer, log logrus.FieldLogger) *Manager {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Manager{
		cfg:      cfg.withDefaults(),
		primary:  primary,
		fallback: fallback,
		log:      log.WithField("component", "connection"),
		bus:      NewBus(),
		state:    domain.StateDisconnected,
		rooms:    make(map[domain.RoomID]struct{}),
	}
}

// Subscribe registers handler for events of type t.
func (m *Manager) Subscribe(t domain.EventType, handler func(domain.Event)) func() {
	return m.bus.Subscribe(t, handler)
}

// Connect establishes an authenticated connection for id. It returns nil once
// Connected, an error wrapping domain.ErrTransport when every attempt failed,
// or the context error when ctx is cancelled or the manager is paused
// meanwhile.
func (m *Manager) Connect(ctx context.Context, id domain.IdentityID) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return fmt.Errorf("%w: manager closed", domain.ErrNotConnected)
	}
	if m.state == domain.StateConnected && m.identity == id {
		m.mu.Unlock()
		return nil
	}
	if m.runCancel != nil {
		m.runCancel()
	}
	old := m.conn
	m.conn = nil
	m.identity = id
	m.run++
	run := m.run
	m.runCtx, m.runCancel = context.WithCancel(context.Background())
	runCtx := m.runCtx
	m.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(runCtx, cancel)
	defer stop()

	return m.establish(ctx, run, id)
}

// Resume reconnects after Pause; membership is replayed on success.
func (m *Manager) Resume(ctx context.Context, id domain.IdentityID) error {
	return m.Connect(ctx, id)
}

// Pause cancels any in-flight attempt, closes the transport and enters
// Paused. Room membership is kept. No automatic reconnection happens until
// Resume.
func (m *Manager) Pause() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.stopRunLocked()
	conn := m.conn
	m.conn = nil
	changed := m.setStateLocked(domain.StatePaused)
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	m.log.Info("connection paused")
	m.publishState(changed)
}

// Close stops reconnection and closes the transport. The manager cannot be
// reused.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.stopRunLocked()
	conn := m.conn
	m.conn = nil
	changed := m.setStateLocked(domain.StateDisconnected)
	m.mu.Unlock()

	m.publishState(changed)
	if conn != nil {
		return conn.Close()
	}
	return nil
}

// JoinRoom adds room to the membership set. When Connected the join is
// transmitted immediately; otherwise it is replayed on the next connect.
func (m *Manager) JoinRoom(room domain.RoomID) error {
	m.mu.Lock()
	_, member := m.rooms[room]
	m.rooms[room] = struct{}{}
	conn := m.liveConnLocked()
	m.mu.Unlock()

	if member || conn == nil {
		return nil
	}
	return m.transmit(conn, domain.EventJoinRoom, room, nil)
}

// LeaveRoom removes room from the membership set.
func (m *Manager) LeaveRoom(room domain.RoomID) error {
	m.mu.Lock()
	_, member := m.rooms[room]
	delete(m.rooms, room)
	conn := m.liveConnLocked()
	m.mu.Unlock()

	if !member || conn == nil {
		return nil
	}
	return m.transmit(conn, domain.EventLeaveRoom, room, nil)
}

// Send transmits an event into room. It fails with domain.ErrNotConnected
// unless Connected. A room that is not yet joined is joined first.
func (m *Manager) Send(room domain.RoomID, t domain.EventType, payload any) error {
	m.mu.Lock()
	conn := m.liveConnLocked()
	if conn == nil {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("%w: send %s while %s", domain.ErrNotConnected, t, state)
	}
	_, member := m.rooms[room]
	m.rooms[room] = struct{}{}
	m.mu.Unlock()

	if !member {
		if err := m.transmit(conn, domain.EventJoinRoom, room, nil); err != nil {
			return err
		}
	}
	return m.transmit(conn, t, room, payload)
}

// Status returns a snapshot of the connection.
func (m *Manager) Status() domain.ConnectionStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.ConnectionStatus{
		State:     m.state,
		Identity:  m.identity,
		Rooms:     m.roomsLocked(),
		Attempts:  m.attempts,
		Degraded:  m.degraded,
		Transport: m.via,
	}
}

// State returns the current connection state.
func (m *Manager) State() domain.ConnectionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// establish runs the attempt budget for run. It is used both by Connect and
// by automatic reconnection.
func (m *Manager) establish(ctx context.Context, run uint64, id domain.IdentityID) error {
	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		m.noteAttempt(run, attempt)
		err := m.attempt(ctx, run, id, m.primary, false)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if errors.Is(err, errAuthRejected) {
			m.fail(run)
			return fmt.Errorf("%w: %v", domain.ErrTransport, err)
		}
		lastErr = err
		m.log.WithFields(logrus.Fields{
			"transport": m.primary.Name(),
			"attempt":   attempt,
		}).WithError(err).Warn("connection attempt failed")

		if attempt == m.cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(m.cfg.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	if m.fallback != nil {
		m.log.WithField("transport", m.fallback.Name()).Warn("primary transport exhausted, degrading")
		m.bus.Publish(domain.Event{Type: domain.EventTransportDegraded, At: time.Now()})
		m.noteAttempt(run, m.cfg.MaxAttempts+1)
		err := m.attempt(ctx, run, id, m.fallback, true)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		lastErr = err
	}

	m.fail(run)
	return fmt.Errorf("%w: connect failed after %d attempts: %v", domain.ErrTransport, m.cfg.MaxAttempts, lastErr)
}

// attempt dials once and waits for the authenticated ack within AuthTimeout.
func (m *Manager) attempt(ctx context.Context, run uint64, id domain.IdentityID, d transport.Dialer, degraded bool) error {
	actx, cancel := context.WithTimeout(ctx, m.cfg.AuthTimeout)
	defer cancel()

	m.transition(run, domain.StateConnecting)
	conn, err := d.Dial(actx)
	if err != nil {
		return err
	}

	m.transition(run, domain.StateAuthenticating)
	if err := m.transmit(conn, domain.EventAuthenticate, "", transport.AuthenticatePayload{Identity: id}); err != nil {
		_ = conn.Close()
		return err
	}

	ack := make(chan error, 1)
	go func() { ack <- awaitAuthenticated(conn) }()
	select {
	case err = <-ack:
	case <-actx.Done():
		_ = conn.Close()
		<-ack
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: no authenticated ack within %s", domain.ErrTransport, m.cfg.AuthTimeout)
	}
	if err != nil {
		_ = conn.Close()
		return err
	}

	m.mu.Lock()
	if m.run != run || m.closed {
		m.mu.Unlock()
		_ = conn.Close()
		return context.Canceled
	}
	m.conn = conn
	m.via = d.Name()
	m.degraded = degraded
	m.attempts = 0
	changed := m.setStateLocked(domain.StateConnected)
	rooms := m.roomsLocked()
	m.mu.Unlock()

	m.log.WithFields(logrus.Fields{
		"transport": d.Name(),
		"identity":  id.Short(),
		"rooms":     len(rooms),
	}).Info("connected")
	m.publishState(changed)

	for _, room := range rooms {
		if err := m.transmit(conn, domain.EventJoinRoom, room, nil); err != nil {
			m.log.WithField("room", room).WithError(err).Warn("replay join failed")
			break
		}
	}
	go m.readLoop(conn)
	return nil
}

// awaitAuthenticated reads frames until the relay accepts or rejects the
// authenticate frame.
func awaitAuthenticated(conn transport.Conn) error {
	for {
		f, err := conn.Receive()
		if err != nil {
			return err
		}
		switch f.Type {
		case domain.EventAuthenticated:
			return nil
		case domain.EventAuthError:
			var reason transport.AuthErrorPayload
			if len(f.Payload) > 0 {
				_ = json.Unmarshal(f.Payload, &reason)
			}
			return fmt.Errorf("%w: %s", errAuthRejected, reason.Reason)
		}
	}
}

func (m *Manager) readLoop(conn transport.Conn) {
	for {
		f, err := conn.Receive()
		if err != nil {
			m.lost(conn, err)
			return
		}
		m.dispatch(f)
	}
}

func (m *Manager) dispatch(f transport.Frame) {
	switch f.Type {
	case domain.EventNewMessage, domain.EventPostReceived, domain.EventUserTyping:
	default:
		m.log.WithField("type", f.Type).Debug("ignoring frame")
		return
	}

	m.mu.Lock()
	self := m.identity
	m.mu.Unlock()
	if f.Sender != "" && f.Sender == self {
		m.log.WithFields(logrus.Fields{"type": f.Type, "room": f.Room}).Debug("dropping self echo")
		return
	}
	m.bus.Publish(domain.Event{
		Type:    f.Type,
		Room:    f.Room,
		Sender:  f.Sender,
		Payload: f.Payload,
		At:      time.Now(),
	})
}

// lost handles an unexpected read failure on conn. Only the current
// connection triggers a reconnect; a connection closed by Pause, Close or a
// newer Connect is ignored.
func (m *Manager) lost(conn transport.Conn, err error) {
	m.mu.Lock()
	if m.conn != conn || m.closed || m.state == domain.StatePaused {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	changed := m.setStateLocked(domain.StateDisconnected)
	run, runCtx, id := m.run, m.runCtx, m.identity
	m.mu.Unlock()

	_ = conn.Close()
	m.log.WithError(err).Warn("connection lost, reconnecting")
	m.publishState(changed)

	go func() {
		if err := m.establish(runCtx, run, id); err != nil && runCtx.Err() == nil {
			m.log.WithError(err).Error("reconnect failed")
		}
	}()
}

func (m *Manager) transmit(conn transport.Conn, t domain.EventType, room domain.RoomID, payload any) error {
	f, err := transport.NewFrame(t, room, payload)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", t, err)
	}
	return conn.Send(f)
}

// transition moves to s if run is still current.
func (m *Manager) transition(run uint64, s domain.ConnectionState) {
	m.mu.Lock()
	if m.run != run || m.closed {
		m.mu.Unlock()
		return
	}
	changed := m.setStateLocked(s)
	m.mu.Unlock()
	m.publishState(changed)
}

func (m *Manager) fail(run uint64) {
	m.transition(run, domain.StateDisconnected)
}

func (m *Manager) noteAttempt(run uint64, attempt int) {
	m.mu.Lock()
	if m.run == run {
		m.attempts = attempt
	}
	m.mu.Unlock()
}

func (m *Manager) stopRunLocked() {
	if m.runCancel != nil {
		m.runCancel()
		m.runCancel = nil
	}
	m.run++
}

// setStateLocked returns the new state when it differs from the old one.
func (m *Manager) setStateLocked(s domain.ConnectionState) *domain.ConnectionState {
	if m.state == s {
		return nil
	}
	m.state = s
	return &s
}

func (m *Manager) publishState(s *domain.ConnectionState) {
	if s == nil {
		return
	}
	m.bus.Publish(domain.Event{Type: domain.EventStateChanged, State: *s, At: time.Now()})
}

func (m *Manager) liveConnLocked() transport.Conn {
	if m.state != domain.StateConnected {
		return nil
	}
	return m.conn
}

func (m *Manager) roomsLocked() []domain.RoomID {
	out := make([]domain.RoomID, 0, len(m.rooms))
	for r := range m.rooms {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var _ domain.Connection = (*Manager)(nil)
