// Package bustest runs an in-process event bus speaking the platform's
// websocket protocol. Tests drive it frame by frame; cmd/mockbus exposes it
// for local development.
package bustest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
)

type Config struct {
	// KeepaliveSeconds is announced in every welcome. Defaults to 10.
	KeepaliveSeconds int

	// KeepaliveEvery sends keepalives on every open connection. Zero
	// disables them.
	KeepaliveEvery time.Duration

	// ManualWelcome stops the bus from greeting new connections.
	ManualWelcome bool
}

// Bus accepts event bus connections and records them in order.
type Bus struct {
	log *slog.Logger
	cfg Config

	mu      sync.Mutex
	url     string
	conns   []*Conn
	changed chan struct{}
	seq     int
}

func New(log *slog.Logger, cfg Config) *Bus {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if cfg.KeepaliveSeconds <= 0 {
		cfg.KeepaliveSeconds = 10
	}
	return &Bus{log: log, cfg: cfg, changed: make(chan struct{})}
}

// Start serves a new Bus on a loopback listener for the duration of the
// test.
func Start(t testing.TB, cfg Config) *Bus {
	t.Helper()
	b := New(nil, cfg)
	srv := httptest.NewServer(b)
	b.SetURL("ws" + strings.TrimPrefix(srv.URL, "http") + "/ws")
	t.Cleanup(func() {
		b.CloseAll(websocket.StatusGoingAway, "test over")
		srv.Close()
	})
	return b
}

// SetURL sets the public websocket URL used in reconnect messages.
func (b *Bus) SetURL(u string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.url = u
}

func (b *Bus) URL() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.url
}

// Conns returns every connection accepted so far, oldest first.
func (b *Bus) Conns() []*Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*Conn(nil), b.conns...)
}

// WaitConn blocks until the n-th connection (zero based) has been accepted
// and greeted.
func (b *Bus) WaitConn(ctx context.Context, n int) (*Conn, error) {
	for {
		b.mu.Lock()
		if n < len(b.conns) {
			c := b.conns[n]
			b.mu.Unlock()
			return c, nil
		}
		changed := b.changed
		b.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for connection %d: %w", n, ctx.Err())
		}
	}
}

// Broadcast sends frame on every open connection.
func (b *Bus) Broadcast(ctx context.Context, frame []byte) error {
	var errs []error
	for _, c := range b.Conns() {
		if c.Closed() {
			continue
		}
		if err := c.SendRaw(ctx, frame); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CloseAll drops every open connection.
func (b *Bus) CloseAll(code websocket.StatusCode, reason string) {
	for _, c := range b.Conns() {
		c.Close(code, reason)
	}
}

func (b *Bus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		b.log.Error("bus.accept.fail", "err", err)
		return
	}

	b.mu.Lock()
	b.seq++
	c := &Conn{
		ID:         b.seq,
		SessionID:  fmt.Sprintf("session-%d", b.seq),
		RequestURI: r.URL.RequestURI(),
		bus:        b,
		ws:         ws,
		done:       make(chan struct{}),

		closeStatus: -1,
	}
	b.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if !b.cfg.ManualWelcome {
		if err := c.SendWelcome(ctx); err != nil {
			b.log.Info("bus.welcome.fail", "conn", c.ID, "err", err)
			c.Close(websocket.StatusInternalError, "welcome failed")
			return
		}
	}

	b.mu.Lock()
	b.conns = append(b.conns, c)
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()
	b.log.Info("bus.conn.open", "conn", c.ID, "session_id", c.SessionID, "uri", c.RequestURI)

	if b.cfg.KeepaliveEvery > 0 {
		go c.keepalive(ctx, b.cfg.KeepaliveEvery)
	}

	// The client never sends data frames; reading only services control
	// frames and notices the close.
	for {
		if _, _, err := ws.Read(ctx); err != nil {
			c.markClosed(websocket.CloseStatus(err))
			b.log.Info("bus.conn.closed", "conn", c.ID, "close_status", websocket.CloseStatus(err))
			return
		}
	}
}
