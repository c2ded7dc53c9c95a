package helix

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"
)

func TestBuildRequest(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name        string
		ep          Endpoint
		params      any
		method      string
		path        string
		contentType string
	}{
		{"users by id and login", GetUsers, UsersParams{IDs: []string{"1", "2"}, Logins: []string{"a"}}, http.MethodGet, "/users?id=1&id=2&login=a", ""},
		{"users self", GetUsers, UsersParams{}, http.MethodGet, "/users", ""},
		{"banned users", GetBannedUsers, BannedUsersParams{BroadcasterID: "9", UserIDs: []string{"5"}, First: 20, Before: "c"}, http.MethodGet, "/moderation/banned?before=c&broadcaster_id=9&first=20&user_id=5", ""},
		{"search categories", GetSearchCategories, &SearchCategoriesParams{Query: "just chatting", After: "x"}, http.MethodGet, "/search/categories?after=x&query=just+chatting", ""},
		{"patch channel", PatchChannels, PatchChannelParams{BroadcasterID: "9", GameID: "509658"}, http.MethodPatch, "/channels?broadcaster_id=9", contentTypeForm},
		{"followers", GetChannelsFollowers, ChannelFollowersParams{BroadcasterID: "9", UserID: "4", First: 1}, http.MethodGet, "/channels/followers?broadcaster_id=9&first=1&user_id=4", ""},
		{"follow subscription", PostFollowSubscription, FollowSubscriptionParams{BroadcasterUserID: "9", ModeratorUserID: "100", SessionID: "s"}, http.MethodPost, "/eventsub/subscriptions", contentTypeJSON},
		{"ban subscription", PostBanSubscription, BanSubscriptionParams{BroadcasterUserID: "9", SessionID: "s"}, http.MethodPost, "/eventsub/subscriptions", contentTypeJSON},
		{"delete subscription", DeleteEventsubSubscription, DeleteSubscriptionParams{ID: "abc"}, http.MethodDelete, "/eventsub/subscriptions?id=abc", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			req, err := buildRequest(tc.ep, tc.params)
			if err != nil {
				t.Fatalf("buildRequest: %v", err)
			}
			if req.method != tc.method || req.path != tc.path || req.contentType != tc.contentType {
				t.Fatalf("got %s %s (%s), want %s %s (%s)", req.method, req.path, req.contentType, tc.method, tc.path, tc.contentType)
			}
		})
	}
}

func TestBuildRequest_FollowSubscriptionBody(t *testing.T) {
	t.Parallel()

	req, err := buildRequest(PostFollowSubscription, FollowSubscriptionParams{BroadcasterUserID: "9", ModeratorUserID: "100", SessionID: "sess"})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	var body map[string]any
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body["type"] != "channel.follow" || body["version"] != "2" {
		t.Fatalf("type/version=%v/%v", body["type"], body["version"])
	}
	cond := body["condition"].(map[string]any)
	if cond["broadcaster_user_id"] != "9" || cond["moderator_user_id"] != "100" {
		t.Fatalf("condition=%v", cond)
	}
	transport := body["transport"].(map[string]any)
	if transport["method"] != "websocket" || transport["session_id"] != "sess" {
		t.Fatalf("transport=%v", transport)
	}
}

func TestBuildRequest_BanSubscriptionOmitsModerator(t *testing.T) {
	t.Parallel()

	req, err := buildRequest(PostBanSubscription, BanSubscriptionParams{BroadcasterUserID: "9", SessionID: "sess"})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	var body struct {
		Type      string            `json:"type"`
		Version   string            `json:"version"`
		Condition map[string]string `json:"condition"`
	}
	if err := json.Unmarshal(req.body, &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Type != "channel.ban" || body.Version != "1" {
		t.Fatalf("type/version=%s/%s", body.Type, body.Version)
	}
	if _, ok := body.Condition["moderator_user_id"]; ok {
		t.Fatalf("ban condition carries moderator: %v", body.Condition)
	}
}

func TestBuildRequest_Errors(t *testing.T) {
	t.Parallel()

	if _, err := buildRequest("nope", nil); !errors.Is(err, ErrUnknownEndpoint) {
		t.Fatalf("unknown endpoint err=%v", err)
	}
	if _, err := buildRequest(GetUsers, BannedUsersParams{}); !errors.Is(err, ErrBadParams) {
		t.Fatalf("wrong params type err=%v", err)
	}
	if _, err := buildRequest(DeleteEventsubSubscription, DeleteSubscriptionParams{}); !errors.Is(err, ErrBadParams) {
		t.Fatalf("missing id err=%v", err)
	}
	if _, err := buildRequest(GetUsers, (*UsersParams)(nil)); !errors.Is(err, ErrBadParams) {
		t.Fatalf("nil pointer err=%v", err)
	}
}
