package helix

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// Endpoint names one platform API operation.
type Endpoint string

const (
	GetUsers                   Endpoint = "getUsers"
	GetBannedUsers             Endpoint = "getBannedUsers"
	GetSearchCategories        Endpoint = "getSearchCategories"
	PatchChannels              Endpoint = "patchChannels"
	GetChannelsFollowers       Endpoint = "getChannelsFollowers"
	PostFollowSubscription     Endpoint = "postFollowEventsubSubscriptions"
	PostBanSubscription        Endpoint = "postBanEventsubSubscriptions"
	DeleteEventsubSubscription Endpoint = "deleteEventsubSubscriptions"
)

type UsersParams struct {
	IDs    []string
	Logins []string
}

type BannedUsersParams struct {
	BroadcasterID string
	UserIDs       []string
	First         int
	After         string
	Before        string
}

type SearchCategoriesParams struct {
	Query string
	First int
	After string
}

type PatchChannelParams struct {
	BroadcasterID string
	GameID        string
}

type ChannelFollowersParams struct {
	BroadcasterID string
	UserID        string
	First         int
	After         string
}

type FollowSubscriptionParams struct {
	BroadcasterUserID string
	ModeratorUserID   string
	SessionID         string
}

type BanSubscriptionParams struct {
	BroadcasterUserID string
	SessionID         string
}

type DeleteSubscriptionParams struct {
	ID string
}

const (
	contentTypeJSON = "application/json"
	contentTypeForm = "application/x-www-form-urlencoded"
)

// request is the transport-independent form of a call. It is built once
// and replayed verbatim if the call has to be retried.
type request struct {
	method      string
	path        string
	body        []byte
	contentType string
}

type builder func(params any) (request, error)

var endpoints = map[Endpoint]builder{
	GetUsers: typed(func(p UsersParams) (request, error) {
		q := url.Values{}
		for _, id := range p.IDs {
			q.Add("id", id)
		}
		for _, login := range p.Logins {
			q.Add("login", login)
		}
		return request{method: http.MethodGet, path: withQuery("/users", q)}, nil
	}),
	GetBannedUsers: typed(func(p BannedUsersParams) (request, error) {
		if p.BroadcasterID == "" {
			return request{}, missing("BroadcasterID")
		}
		q := url.Values{"broadcaster_id": {p.BroadcasterID}}
		for _, id := range p.UserIDs {
			q.Add("user_id", id)
		}
		setPaging(q, p.First, p.After)
		if p.Before != "" {
			q.Set("before", p.Before)
		}
		return request{method: http.MethodGet, path: withQuery("/moderation/banned", q)}, nil
	}),
	GetSearchCategories: typed(func(p SearchCategoriesParams) (request, error) {
		if p.Query == "" {
			return request{}, missing("Query")
		}
		q := url.Values{"query": {p.Query}}
		setPaging(q, p.First, p.After)
		return request{method: http.MethodGet, path: withQuery("/search/categories", q)}, nil
	}),
	PatchChannels: typed(func(p PatchChannelParams) (request, error) {
		if p.BroadcasterID == "" {
			return request{}, missing("BroadcasterID")
		}
		form := url.Values{"game_id": {p.GameID}}
		return request{
			method:      http.MethodPatch,
			path:        withQuery("/channels", url.Values{"broadcaster_id": {p.BroadcasterID}}),
			body:        []byte(form.Encode()),
			contentType: contentTypeForm,
		}, nil
	}),
	GetChannelsFollowers: typed(func(p ChannelFollowersParams) (request, error) {
		if p.BroadcasterID == "" {
			return request{}, missing("BroadcasterID")
		}
		q := url.Values{"broadcaster_id": {p.BroadcasterID}}
		if p.UserID != "" {
			q.Set("user_id", p.UserID)
		}
		setPaging(q, p.First, p.After)
		return request{method: http.MethodGet, path: withQuery("/channels/followers", q)}, nil
	}),
	PostFollowSubscription: typed(func(p FollowSubscriptionParams) (request, error) {
		if p.BroadcasterUserID == "" || p.ModeratorUserID == "" || p.SessionID == "" {
			return request{}, missing("BroadcasterUserID, ModeratorUserID and SessionID")
		}
		return subscriptionRequest(createSubscriptionBody{
			Type:    "channel.follow",
			Version: "2",
			Condition: subscriptionCondition{
				BroadcasterUserID: p.BroadcasterUserID,
				ModeratorUserID:   p.ModeratorUserID,
			},
			Transport: subscriptionTransport{Method: "websocket", SessionID: p.SessionID},
		})
	}),
	PostBanSubscription: typed(func(p BanSubscriptionParams) (request, error) {
		if p.BroadcasterUserID == "" || p.SessionID == "" {
			return request{}, missing("BroadcasterUserID and SessionID")
		}
		return subscriptionRequest(createSubscriptionBody{
			Type:      "channel.ban",
			Version:   "1",
			Condition: subscriptionCondition{BroadcasterUserID: p.BroadcasterUserID},
			Transport: subscriptionTransport{Method: "websocket", SessionID: p.SessionID},
		})
	}),
	DeleteEventsubSubscription: typed(func(p DeleteSubscriptionParams) (request, error) {
		if p.ID == "" {
			return request{}, missing("ID")
		}
		return request{
			method: http.MethodDelete,
			path:   withQuery("/eventsub/subscriptions", url.Values{"id": {p.ID}}),
		}, nil
	}),
}

type createSubscriptionBody struct {
	Type      string                `json:"type"`
	Version   string                `json:"version"`
	Condition subscriptionCondition `json:"condition"`
	Transport subscriptionTransport `json:"transport"`
}

type subscriptionCondition struct {
	BroadcasterUserID string `json:"broadcaster_user_id"`
	ModeratorUserID   string `json:"moderator_user_id,omitempty"`
}

type subscriptionTransport struct {
	Method    string `json:"method"`
	SessionID string `json:"session_id"`
}

func subscriptionRequest(body createSubscriptionBody) (request, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return request{}, err
	}
	return request{
		method:      http.MethodPost,
		path:        "/eventsub/subscriptions",
		body:        b,
		contentType: contentTypeJSON,
	}, nil
}

func buildRequest(ep Endpoint, params any) (request, error) {
	build, ok := endpoints[ep]
	if !ok {
		return request{}, fmt.Errorf("%w: %q", ErrUnknownEndpoint, ep)
	}
	req, err := build(params)
	if err != nil {
		return request{}, fmt.Errorf("%s: %w", ep, err)
	}
	return req, nil
}

// typed adapts a builder for one params struct. Both P and *P are
// accepted.
func typed[P any](fn func(P) (request, error)) builder {
	return func(params any) (request, error) {
		switch p := params.(type) {
		case P:
			return fn(p)
		case *P:
			if p != nil {
				return fn(*p)
			}
		}
		var want P
		return request{}, fmt.Errorf("%w: want %T, got %T", ErrBadParams, want, params)
	}
}

func missing(fields string) error {
	return fmt.Errorf("%w: %s required", ErrBadParams, fields)
}

func setPaging(q url.Values, first int, after string) {
	if first > 0 {
		q.Set("first", strconv.Itoa(first))
	}
	if after != "" {
		q.Set("after", after)
	}
}

func withQuery(path string, q url.Values) string {
	if len(q) == 0 {
		return path
	}
	return path + "?" + q.Encode()
}
