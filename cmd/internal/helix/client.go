package helix

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
)

const (
	SubscriptionTypeFollow = "channel.follow"
	SubscriptionTypeBan    = "channel.ban"
)

var ErrUnsupportedSubscription = errors.New("platform api: unsupported subscription type")

type User struct {
	ID              string    `json:"id"`
	Login           string    `json:"login"`
	DisplayName     string    `json:"display_name"`
	Type            string    `json:"type"`
	BroadcasterType string    `json:"broadcaster_type"`
	CreatedAt       time.Time `json:"created_at"`
}

type Subscription struct {
	ID        string            `json:"id"`
	Status    string            `json:"status"`
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Cost      int               `json:"cost"`
	Condition map[string]string `json:"condition"`
	CreatedAt time.Time         `json:"created_at"`
}

type Pagination struct {
	Cursor string `json:"cursor,omitempty"`
}

// Page is the common list envelope of the API.
type Page[T any] struct {
	Data         []T        `json:"data"`
	Total        int        `json:"total,omitempty"`
	TotalCost    int        `json:"total_cost,omitempty"`
	MaxTotalCost int        `json:"max_total_cost,omitempty"`
	Pagination   Pagination `json:"pagination"`
}

// DecodePage parses a list response body.
func DecodePage[T any](res *Response) (Page[T], error) {
	var p Page[T]
	if res == nil {
		return p, errors.New("platform api: nil response")
	}
	if err := json.Unmarshal(res.Body, &p); err != nil {
		return p, fmt.Errorf("platform api: decode response: %w", err)
	}
	return p, nil
}

// Client wraps Invoker with typed helpers for the calls the bot makes.
type Client struct {
	inv *Invoker
}

func NewClient(inv *Invoker) *Client { return &Client{inv: inv} }

func (c *Client) Invoker() *Invoker { return c.inv }

// Users looks up users by id or login. Without params it returns the owner
// of cred.
func (c *Client) Users(ctx context.Context, cred credential.Credential, params UsersParams, opts ...CallOption) ([]User, error) {
	res, err := c.inv.Call(ctx, GetUsers, params, cred, opts...)
	if err != nil {
		return nil, err
	}
	page, err := DecodePage[User](res)
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// EventSubClient manages event subscriptions as the bot account.
type EventSubClient struct {
	inv        *Invoker
	privileged *credential.Privileged
}

func NewEventSubClient(inv *Invoker, privileged *credential.Privileged) *EventSubClient {
	return &EventSubClient{inv: inv, privileged: privileged}
}

// CreateSubscription subscribes the bus session to subType events for
// broadcasterID and returns the subscription id assigned by the platform.
func (c *EventSubClient) CreateSubscription(ctx context.Context, subType, broadcasterID, sessionID string) (string, error) {
	bot, err := c.privileged.Current(ctx)
	if err != nil {
		return "", fmt.Errorf("create subscription: bot credential: %w", err)
	}

	var (
		ep     Endpoint
		params any
	)
	switch subType {
	case SubscriptionTypeFollow:
		ep = PostFollowSubscription
		params = FollowSubscriptionParams{BroadcasterUserID: broadcasterID, ModeratorUserID: bot.UserID, SessionID: sessionID}
	case SubscriptionTypeBan:
		ep = PostBanSubscription
		params = BanSubscriptionParams{BroadcasterUserID: broadcasterID, SessionID: sessionID}
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedSubscription, subType)
	}

	res, err := c.inv.Call(ctx, ep, params, bot)
	if err != nil {
		return "", err
	}
	page, err := DecodePage[Subscription](res)
	if err != nil {
		return "", err
	}
	if len(page.Data) == 0 || page.Data[0].ID == "" {
		return "", errors.New("platform api: create subscription: empty response")
	}
	return page.Data[0].ID, nil
}

// DeleteSubscription removes a subscription. A subscription the platform no
// longer knows about counts as deleted.
func (c *EventSubClient) DeleteSubscription(ctx context.Context, id string) error {
	bot, err := c.privileged.Current(ctx)
	if err != nil {
		return fmt.Errorf("delete subscription: bot credential: %w", err)
	}
	_, err = c.inv.Call(ctx, DeleteEventsubSubscription, DeleteSubscriptionParams{ID: id}, bot)
	if StatusCode(err) == http.StatusNotFound {
		return nil
	}
	return err
}
