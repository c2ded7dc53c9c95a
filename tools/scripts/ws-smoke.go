// Package main provides a CI-friendly smoke test for an event bus endpoint.
//
// It validates:
//   - handshake and session_welcome with a keepalive budget
//   - liveness traffic (keepalive or notification) inside that budget
//   - optionally, a server-initiated reconnect handed over to a new socket
//     (requires -control pointing at cmd/mockbus)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type smokeClient struct {
	name      string
	conn      *websocket.Conn
	sessionID string
	keepalive time.Duration

	inbox chan v1.Message
	errCh chan error
}

func main() {
	var (
		wsURL   = flag.String("url", "ws://127.0.0.1:8090/ws", "Event bus WebSocket URL")
		control = flag.String("control", "", "mockbus base URL (e.g. http://127.0.0.1:8090); enables the reconnect check")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	if err := validateWSURL(*wsURL); err != nil {
		fatalf("invalid -url: %v", err)
	}

	root := context.Background()

	a := mustConnect(root, "A", *wsURL, *timeout)
	defer closeWS(a.conn)
	if *verbose {
		fmt.Printf("connected: A=%s keepalive=%s\n", a.sessionID, a.keepalive)
	}

	kind := mustSeeLiveness(root, a)
	if *verbose {
		fmt.Printf("liveness: A got %s\n", kind)
	}

	if *control == "" {
		fmt.Printf("OK: session=%s keepalive=%s\n", a.sessionID, a.keepalive)
		return
	}

	mustPost(root, strings.TrimRight(*control, "/")+"/control/reconnect", *timeout)
	reconnectURL := mustAwaitReconnect(root, a, *timeout)

	b := mustConnect(root, "B", reconnectURL, *timeout)
	defer closeWS(b.conn)
	if b.sessionID == "" {
		fatalf("reconnect: empty session id")
	}

	fmt.Printf("OK: session=%s handed over to %s via %s\n", a.sessionID, b.sessionID, reconnectURL)
}

func validateWSURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func mustConnect(parent context.Context, name, wsURL string, stepTimeout time.Duration) *smokeClient {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	conn, resp, err := websocket.Dial(ctx, wsURL, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("%s: dial %s: %v", name, wsURL, err)
	}
	conn.SetReadLimit(maxReadBytes)

	c := &smokeClient{
		name:  name,
		conn:  conn,
		inbox: make(chan v1.Message, 32),
		errCh: make(chan error, 1),
	}
	c.startReadLoop()

	msg := c.mustNext(parent, stepTimeout)
	w, ok := msg.(v1.Welcome)
	if !ok {
		fatalf("%s: first message is %s, want %s", name, msg.Meta().MessageType, v1.TypeSessionWelcome)
	}
	if w.Session.ID == "" {
		fatalf("%s: welcome without session id", name)
	}
	c.sessionID = w.Session.ID
	c.keepalive = w.KeepaliveTimeout()
	if c.keepalive <= 0 {
		fatalf("%s: welcome without keepalive timeout", name)
	}
	return c
}

func (c *smokeClient) startReadLoop() {
	go func() {
		defer close(c.inbox)

		for {
			mt, data, err := c.conn.Read(context.Background())
			if err != nil {
				c.fail(err)
				return
			}
			if mt != websocket.MessageText {
				c.fail(fmt.Errorf("unsupported message type: %v", mt))
				return
			}

			msg, err := v1.Decode(data)
			if err != nil {
				c.fail(err)
				return
			}

			select {
			case c.inbox <- msg:
			default:
				c.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (c *smokeClient) fail(err error) {
	select {
	case c.errCh <- err:
	default:
	}
}

func (c *smokeClient) mustNext(parent context.Context, wait time.Duration) v1.Message {
	ctx, cancel := context.WithTimeout(parent, wait)
	defer cancel()

	select {
	case msg, ok := <-c.inbox:
		if !ok {
			fatalf("%s: connection closed: %v", c.name, drainErr(c.errCh))
		}
		return msg
	case err := <-c.errCh:
		fatalf("%s: read: %v", c.name, err)
	case <-ctx.Done():
		fatalf("%s: no message within %s", c.name, wait)
	}
	return nil
}

// mustSeeLiveness waits one keepalive budget for any traffic that proves
// the session is alive.
func mustSeeLiveness(parent context.Context, c *smokeClient) string {
	budget := c.keepalive + time.Second
	msg := c.mustNext(parent, budget)
	switch msg.(type) {
	case v1.Keepalive, v1.Notification:
		return msg.Meta().MessageType
	default:
		fatalf("%s: unexpected %s while waiting for liveness", c.name, msg.Meta().MessageType)
	}
	return ""
}

func mustAwaitReconnect(parent context.Context, c *smokeClient, stepTimeout time.Duration) string {
	deadline := time.Now().Add(stepTimeout)
	for {
		left := time.Until(deadline)
		if left <= 0 {
			fatalf("%s: no %s within %s", c.name, v1.TypeSessionReconnect, stepTimeout)
		}
		switch m := c.mustNext(parent, left).(type) {
		case v1.Reconnect:
			u := m.URL()
			if err := validateWSURL(u); err != nil {
				fatalf("%s: bad reconnect url %q: %v", c.name, u, err)
			}
			return u
		case v1.Keepalive:
		default:
			fatalf("%s: unexpected %s while waiting for reconnect", c.name, m.Meta().MessageType)
		}
	}
}

func mustPost(parent context.Context, target string, stepTimeout time.Duration) {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		fatalf("control: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fatalf("control: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		fatalf("control: %s returned %d", target, resp.StatusCode)
	}
}

func drainErr(ch <-chan error) error {
	select {
	case err := <-ch:
		return err
	default:
		return errors.New("no error reported")
	}
}

func closeWS(c *websocket.Conn) {
	_ = c.Close(websocket.StatusNormalClosure, "smoke done")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
