package v1

import (
	"encoding/json"
	"time"
)

type Session struct {
	ID                      string    `json:"id"`
	Status                  string    `json:"status"`
	ConnectedAt             time.Time `json:"connected_at"`
	KeepaliveTimeoutSeconds *int      `json:"keepalive_timeout_seconds"`
	ReconnectURL            *string   `json:"reconnect_url"`
}

type SessionPayload struct {
	Session Session `json:"session"`
}

type Transport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id,omitempty"`
}

type Condition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ModeratorUserID   string `json:"moderator_user_id,omitempty"`
}

type Subscription struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"`
	Type      string    `json:"type"`
	Version   string    `json:"version"`
	Cost      int       `json:"cost"`
	Condition Condition `json:"condition"`
	Transport Transport `json:"transport"`
	CreatedAt time.Time `json:"created_at"`
}

type NotificationPayload struct {
	Subscription Subscription    `json:"subscription"`
	Event        json.RawMessage `json:"event"`
}

type RevocationPayload struct {
	Subscription Subscription `json:"subscription"`
}

type FollowEvent struct {
	UserID               string    `json:"user_id"`
	UserLogin            string    `json:"user_login"`
	UserName             string    `json:"user_name"`
	BroadcasterUserID    string    `json:"broadcaster_user_id"`
	BroadcasterUserLogin string    `json:"broadcaster_user_login"`
	BroadcasterUserName  string    `json:"broadcaster_user_name"`
	FollowedAt           time.Time `json:"followed_at"`
}

type BanEvent struct {
	UserID               string     `json:"user_id"`
	UserLogin            string     `json:"user_login"`
	UserName             string     `json:"user_name"`
	BroadcasterUserID    string     `json:"broadcaster_user_id"`
	BroadcasterUserLogin string     `json:"broadcaster_user_login"`
	BroadcasterUserName  string     `json:"broadcaster_user_name"`
	ModeratorUserID      string     `json:"moderator_user_id"`
	ModeratorUserLogin   string     `json:"moderator_user_login"`
	ModeratorUserName    string     `json:"moderator_user_name"`
	Reason               string     `json:"reason"`
	BannedAt             time.Time  `json:"banned_at"`
	EndsAt               *time.Time `json:"ends_at"`
	IsPermanent          bool       `json:"is_permanent"`
}

// FollowEvent decodes the event of a channel.follow notification.
func (n Notification) FollowEvent() (FollowEvent, error) {
	var ev FollowEvent
	if err := json.Unmarshal(n.Event, &ev); err != nil {
		return ev, malformed(err)
	}
	return ev, nil
}

// BanEvent decodes the event of a channel.ban notification.
func (n Notification) BanEvent() (BanEvent, error) {
	var ev BanEvent
	if err := json.Unmarshal(n.Event, &ev); err != nil {
		return ev, malformed(err)
	}
	return ev, nil
}
