package eventsub

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"

	"github.com/coder/websocket"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

// conn is one physical bus connection. Only the manager goroutine compares
// or replaces conns; the reader goroutine owns ws reads.
type conn struct {
	id  uint64
	url string
	ws  *websocket.Conn
	log *slog.Logger
}

func (m *Manager) dialConn(ctx context.Context, url string) (*conn, error) {
	dctx, cancel := context.WithTimeout(ctx, m.cfg.DialTimeout)
	defer cancel()

	ws, _, err := websocket.Dial(dctx, url, &websocket.DialOptions{HTTPClient: m.cfg.HTTPClient})
	if err != nil {
		return nil, err
	}
	ws.SetReadLimit(m.cfg.ReadLimit)

	id := m.connSeq.Add(1)
	return &conn{
		id:  id,
		url: url,
		ws:  ws,
		log: m.log.With("conn", id),
	}, nil
}

// close ends the connection without waiting for the peer's close frame.
func (c *conn) close(code websocket.StatusCode, reason string) {
	go func() { _ = c.ws.Close(code, reason) }()
}

// read forwards decoded frames to the manager until the connection ends.
func (m *Manager) read(ctx context.Context, c *conn) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			m.post(connClosedEvent{conn: c, err: err})
			return
		}

		msg, err := v1.Decode(data)
		if err != nil {
			m.metrics.MessageMalformed()
			c.log.Warn("eventsub.message.malformed", "err", err, "bytes", len(data))
			continue
		}
		if !m.post(inboundEvent{conn: c, msg: msg}) {
			return
		}
	}
}

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func (k readErrKind) String() string {
	switch k {
	case readErrClose:
		return "close"
	case readErrCtxDone:
		return "ctx_done"
	case readErrConnClosed:
		return "conn_closed"
	default:
		return "unknown"
	}
}

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}
