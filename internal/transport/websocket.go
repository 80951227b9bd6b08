package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"courier/internal/domain"
)

const (
	defaultWriteWait = 10 * time.Second
	defaultPongWait  = 60 * time.Second
	maxFrameBytes    = 1 << 20
)

// WebSocketDialer dials the relay's WebSocket endpoint.
type WebSocketDialer struct {
	URL    string
	Header http.Header

	// Zero values fall back to the package defaults.
	HandshakeTimeout time.Duration
	WriteWait        time.Duration
	PongWait         time.Duration
}

// Name implements Dialer.
func (d *WebSocketDialer) Name() string { return "websocket" }

// Dial implements Dialer.
func (d *WebSocketDialer) Dial(ctx context.Context) (Conn, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}
	if dialer.HandshakeTimeout == 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	ws, resp, err := dialer.DialContext(ctx, d.URL, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("%w: websocket dial %s: %s", domain.ErrTransport, d.URL, resp.Status)
		}
		return nil, fmt.Errorf("%w: websocket dial %s: %v", domain.ErrTransport, d.URL, err)
	}
	return newWSConn(ws, d.WriteWait, d.PongWait), nil
}

// wsConn adapts a gorilla connection to Conn. gorilla allows one concurrent
// writer, so Send and the ping loop share writeMu.
type wsConn struct {
	ws        *websocket.Conn
	writeWait time.Duration
	pongWait  time.Duration

	writeMu   sync.Mutex
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, writeWait, pongWait time.Duration) *wsConn {
	if writeWait == 0 {
		writeWait = defaultWriteWait
	}
	if pongWait == 0 {
		pongWait = defaultPongWait
	}
	c := &wsConn{
		ws:        ws,
		writeWait: writeWait,
		pongWait:  pongWait,
		done:      make(chan struct{}),
	}
	ws.SetReadLimit(maxFrameBytes)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})
	go c.pingLoop()
	return c
}

func (c *wsConn) pingLoop() {
	ticker := time.NewTicker((c.pongWait * 9) / 10)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (c *wsConn) Send(f Frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	select {
	case <-c.done:
		return fmt.Errorf("%w: websocket closed", domain.ErrTransport)
	default:
	}
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	if err := c.ws.WriteJSON(f); err != nil {
		return fmt.Errorf("%w: websocket write: %v", domain.ErrTransport, err)
	}
	return nil
}

func (c *wsConn) Receive() (Frame, error) {
	var f Frame
	if err := c.ws.ReadJSON(&f); err != nil {
		var closeErr *websocket.CloseError
		if errors.As(err, &closeErr) {
			return Frame{}, fmt.Errorf("%w: websocket closed by peer: %d", domain.ErrTransport, closeErr.Code)
		}
		return Frame{}, fmt.Errorf("%w: websocket read: %v", domain.ErrTransport, err)
	}
	return f, nil
}

func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}
