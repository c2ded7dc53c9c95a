package bustest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

const writeTimeout = 5 * time.Second

// Conn is one accepted client connection.
type Conn struct {
	ID         int
	SessionID  string
	RequestURI string

	bus *Bus
	ws  *websocket.Conn

	mu          sync.Mutex
	seq         int
	done        chan struct{}
	closed      bool
	closeStatus websocket.StatusCode
}

// Done is closed once the client has gone away.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// CloseStatus is the status the connection ended with, or -1.
func (c *Conn) CloseStatus() websocket.StatusCode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeStatus
}

func (c *Conn) Close(code websocket.StatusCode, reason string) {
	_ = c.ws.Close(code, reason)
	c.markClosed(code)
}

func (c *Conn) SendRaw(ctx context.Context, frame []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return c.ws.Write(ctx, websocket.MessageText, frame)
}

func (c *Conn) SendWelcome(ctx context.Context) error {
	keepalive := c.bus.cfg.KeepaliveSeconds
	return c.send(ctx, c.metadata(v1.TypeSessionWelcome, ""), v1.SessionPayload{Session: v1.Session{
		ID:                      c.SessionID,
		Status:                  "connected",
		ConnectedAt:             time.Now().UTC(),
		KeepaliveTimeoutSeconds: &keepalive,
	}})
}

func (c *Conn) SendKeepalive(ctx context.Context) error {
	return c.send(ctx, c.metadata(v1.TypeSessionKeepalive, ""), struct{}{})
}

// SendReconnect asks the client to move to the bus URL. The reconnect URL
// carries this connection's id so the replacement can be told apart.
func (c *Conn) SendReconnect(ctx context.Context) (string, error) {
	url := fmt.Sprintf("%s?reconnect_from=%d", c.bus.URL(), c.ID)
	err := c.send(ctx, c.metadata(v1.TypeSessionReconnect, ""), v1.SessionPayload{Session: v1.Session{
		ID:           c.SessionID,
		Status:       "reconnecting",
		ConnectedAt:  time.Now().UTC(),
		ReconnectURL: &url,
	}})
	return url, err
}

func (c *Conn) SendNotification(ctx context.Context, subType, broadcasterID string, event any) error {
	return c.send(ctx, c.metadata(v1.TypeNotification, subType), struct {
		Subscription v1.Subscription `json:"subscription"`
		Event        any             `json:"event"`
	}{
		Subscription: c.subscription(subType, broadcasterID, "enabled"),
		Event:        event,
	})
}

func (c *Conn) SendRevocation(ctx context.Context, subType, broadcasterID string) error {
	return c.send(ctx, c.metadata(v1.TypeRevocation, subType), v1.RevocationPayload{
		Subscription: c.subscription(subType, broadcasterID, "authorization_revoked"),
	})
}

func (c *Conn) send(ctx context.Context, md v1.Metadata, payload any) error {
	frame, err := v1.Encode(md, payload)
	if err != nil {
		return err
	}
	return c.SendRaw(ctx, frame)
}

func (c *Conn) metadata(msgType, subType string) v1.Metadata {
	c.mu.Lock()
	c.seq++
	id := fmt.Sprintf("%d-%d", c.ID, c.seq)
	c.mu.Unlock()

	md := v1.Metadata{
		MessageID:        id,
		MessageType:      msgType,
		MessageTimestamp: time.Now().UTC(),
	}
	if subType != "" {
		md.SubscriptionType = subType
		md.SubscriptionVersion = subscriptionVersion(subType)
	}
	return md
}

func (c *Conn) subscription(subType, broadcasterID, status string) v1.Subscription {
	return v1.Subscription{
		ID:        fmt.Sprintf("bus-%s-%s", subType, broadcasterID),
		Status:    status,
		Type:      subType,
		Version:   subscriptionVersion(subType),
		Condition: v1.Condition{BroadcasterUserID: broadcasterID},
		Transport: v1.Transport{Method: "websocket", SessionID: c.SessionID},
		CreatedAt: time.Now().UTC(),
	}
}

func (c *Conn) keepalive(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			if err := c.SendKeepalive(ctx); err != nil {
				return
			}
		}
	}
}

func (c *Conn) markClosed(code websocket.StatusCode) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.closeStatus = code
	close(c.done)
}

func subscriptionVersion(subType string) string {
	if subType == v1.SubscriptionFollow {
		return "2"
	}
	return "1"
}
