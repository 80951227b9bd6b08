package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"courier/internal/domain"
)

const defaultPollWait = 25 * time.Second

// PollingDialer emulates a framed connection over plain HTTP: frames are
// uploaded one per request and downloaded by long-polling.
type PollingDialer struct {
	BaseURL string
	HTTP    *http.Client
	// PollWait is how long the relay may hold a download request open.
	PollWait time.Duration
}

// SessionResponse is the body returned when a polling session is opened.
type SessionResponse struct {
	Session string `json:"session"`
}

// Name implements Dialer.
func (d *PollingDialer) Name() string { return "polling" }

// Dial implements Dialer.
func (d *PollingDialer) Dial(ctx context.Context) (Conn, error) {
	client := d.HTTP
	if client == nil {
		client = http.DefaultClient
	}
	wait := d.PollWait
	if wait == 0 {
		wait = defaultPollWait
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.BaseURL+"/rt/sessions", nil)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: open polling session: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: open polling session: %s", domain.ErrTransport, resp.Status)
	}
	var sr SessionResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return nil, fmt.Errorf("%w: decode polling session: %v", domain.ErrTransport, err)
	}
	if sr.Session == "" {
		return nil, fmt.Errorf("%w: relay returned empty polling session", domain.ErrTransport)
	}

	connCtx, cancel := context.WithCancel(context.Background())
	return &pollConn{
		http:   client,
		base:   d.BaseURL + "/rt/sessions/" + url.PathEscape(sr.Session),
		wait:   wait,
		ctx:    connCtx,
		cancel: cancel,
	}, nil
}

type pollConn struct {
	http *http.Client
	base string
	wait time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// pending is only touched by the single reader goroutine.
	pending   []Frame
	closeOnce sync.Once
}

func (c *pollConn) Send(f Frame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.base+"/frames", bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: polling send: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("%w: polling send: %s", domain.ErrTransport, resp.Status)
	}
	return nil
}

func (c *pollConn) Receive() (Frame, error) {
	for len(c.pending) == 0 {
		frames, err := c.poll()
		if err != nil {
			return Frame{}, err
		}
		c.pending = frames
	}
	f := c.pending[0]
	c.pending = c.pending[1:]
	return f, nil
}

func (c *pollConn) poll() ([]Frame, error) {
	u := c.base + "/frames?wait=" + strconv.FormatInt(c.wait.Milliseconds(), 10)
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: polling receive: %v", domain.ErrTransport, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("%w: polling receive: %s", domain.ErrTransport, resp.Status)
	}
	var frames []Frame
	if err := json.NewDecoder(resp.Body).Decode(&frames); err != nil {
		return nil, fmt.Errorf("%w: decode polled frames: %v", domain.ErrTransport, err)
	}
	return frames, nil
}

func (c *pollConn) Close() error {
	c.closeOnce.Do(func() {
		c.cancel()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base, nil)
		if err != nil {
			return
		}
		if resp, err := c.http.Do(req); err == nil {
			resp.Body.Close()
		}
	})
	return nil
}
