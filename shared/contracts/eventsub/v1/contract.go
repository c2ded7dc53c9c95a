// Package v1 holds the wire format of the platform event bus.
package v1

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	TypeSessionWelcome   = "session_welcome"
	TypeSessionKeepalive = "session_keepalive"
	TypeSessionReconnect = "session_reconnect"
	TypeNotification     = "notification"
	TypeRevocation       = "revocation"
)

const (
	SubscriptionFollow = "channel.follow"
	SubscriptionBan    = "channel.ban"
)

// ErrMalformed is returned for frames that fail structural validation.
var ErrMalformed = errors.New("malformed event bus message")

type Metadata struct {
	MessageID           string    `json:"message_id"`
	MessageType         string    `json:"message_type"`
	MessageTimestamp    time.Time `json:"message_timestamp"`
	SubscriptionType    string    `json:"subscription_type,omitempty"`
	SubscriptionVersion string    `json:"subscription_version,omitempty"`
}

type Envelope struct {
	Metadata Metadata        `json:"metadata"`
	Payload  json.RawMessage `json:"payload"`
}

func (e Envelope) Validate() error {
	if e.Metadata.MessageID == "" {
		return errors.New("missing metadata.message_id")
	}
	if e.Metadata.MessageType == "" {
		return errors.New("missing metadata.message_type")
	}
	if e.Metadata.MessageTimestamp.IsZero() {
		return errors.New("missing metadata.message_timestamp")
	}
	if len(e.Payload) == 0 || string(e.Payload) == "null" {
		return errors.New("missing payload")
	}
	return nil
}

// Message is one decoded frame. The concrete type is one of Welcome,
// Keepalive, Reconnect, Notification, Revocation or Unrecognized.
type Message interface {
	Meta() Metadata
	isMessage()
}

type Welcome struct {
	Metadata Metadata
	Session  Session
}

// KeepaliveTimeout is the negotiated silence budget.
func (w Welcome) KeepaliveTimeout() time.Duration {
	if w.Session.KeepaliveTimeoutSeconds == nil {
		return 0
	}
	return time.Duration(*w.Session.KeepaliveTimeoutSeconds) * time.Second
}

type Keepalive struct {
	Metadata Metadata
}

type Reconnect struct {
	Metadata Metadata
	Session  Session
}

// URL is where the replacement connection has to be opened.
func (r Reconnect) URL() string {
	if r.Session.ReconnectURL == nil {
		return ""
	}
	return *r.Session.ReconnectURL
}

type Notification struct {
	Metadata     Metadata
	Subscription Subscription
	Event        json.RawMessage
}

type Revocation struct {
	Metadata     Metadata
	Subscription Subscription
}

// Unrecognized is a well-formed frame of a type this package does not know.
type Unrecognized struct {
	Metadata Metadata
	Payload  json.RawMessage
}

func (m Welcome) Meta() Metadata      { return m.Metadata }
func (m Keepalive) Meta() Metadata    { return m.Metadata }
func (m Reconnect) Meta() Metadata    { return m.Metadata }
func (m Notification) Meta() Metadata { return m.Metadata }
func (m Revocation) Meta() Metadata   { return m.Metadata }
func (m Unrecognized) Meta() Metadata { return m.Metadata }

func (Welcome) isMessage()      {}
func (Keepalive) isMessage()    {}
func (Reconnect) isMessage()    {}
func (Notification) isMessage() {}
func (Revocation) isMessage()   {}
func (Unrecognized) isMessage() {}

// Decode parses and validates one frame. Validation failures wrap
// ErrMalformed; unknown message types are not an error.
func Decode(data []byte) (Message, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, malformed(err)
	}
	if err := env.Validate(); err != nil {
		return nil, malformed(err)
	}

	md := env.Metadata
	switch md.MessageType {
	case TypeSessionWelcome:
		var p SessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(err)
		}
		if p.Session.ID == "" {
			return nil, malformed(errors.New("welcome without session id"))
		}
		if p.Session.KeepaliveTimeoutSeconds == nil || *p.Session.KeepaliveTimeoutSeconds <= 0 {
			return nil, malformed(errors.New("welcome without keepalive_timeout_seconds"))
		}
		return Welcome{Metadata: md, Session: p.Session}, nil

	case TypeSessionKeepalive:
		return Keepalive{Metadata: md}, nil

	case TypeSessionReconnect:
		var p SessionPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(err)
		}
		if p.Session.ReconnectURL == nil || *p.Session.ReconnectURL == "" {
			return nil, malformed(errors.New("reconnect without reconnect_url"))
		}
		return Reconnect{Metadata: md, Session: p.Session}, nil

	case TypeNotification:
		var p NotificationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(err)
		}
		if p.Subscription.Type == "" {
			return nil, malformed(errors.New("notification without subscription type"))
		}
		if len(p.Event) == 0 || string(p.Event) == "null" {
			return nil, malformed(errors.New("notification without event"))
		}
		return Notification{Metadata: md, Subscription: p.Subscription, Event: p.Event}, nil

	case TypeRevocation:
		var p RevocationPayload
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return nil, malformed(err)
		}
		if p.Subscription.Type == "" {
			return nil, malformed(errors.New("revocation without subscription type"))
		}
		return Revocation{Metadata: md, Subscription: p.Subscription}, nil

	default:
		return Unrecognized{Metadata: md, Payload: env.Payload}, nil
	}
}

// Encode builds a frame. The bus test server and the mock bus tool use it.
func Encode(md Metadata, payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Metadata: md, Payload: raw})
}

func malformed(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformed, err)
}
