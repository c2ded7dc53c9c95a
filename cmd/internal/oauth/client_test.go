package oauth

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"
)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func newTokenServer(t *testing.T, handle func(form url.Values) (int, string)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/token" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("ParseForm: %v", err)
		}
		status, body := handle(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func testClient(baseURL string) *Client {
	return NewClient(testLogger(), Config{
		BaseURL:      baseURL,
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURI:  "https://bot.example.com/auth/callback",
	}, nil)
}

func TestClient_ExchangeCode(t *testing.T) {
	t.Parallel()

	forms := make(chan url.Values, 1)
	srv := newTokenServer(t, func(form url.Values) (int, string) {
		forms <- form
		return http.StatusOK, `{"access_token":"A1","refresh_token":"R1","expires_in":3600,"scope":["chat:read"],"token_type":"bearer"}`
	})

	g, err := testClient(srv.URL).ExchangeCode(context.Background(), "the-code")
	if err != nil {
		t.Fatalf("ExchangeCode: %v", err)
	}
	if g.AccessToken != "A1" || g.RefreshToken != "R1" || g.ExpiresIn != time.Hour {
		t.Fatalf("grant=%+v", g)
	}

	seen := <-forms
	want := map[string]string{
		"grant_type":    "authorization_code",
		"code":          "the-code",
		"client_id":     "client-id",
		"client_secret": "client-secret",
		"redirect_uri":  "https://bot.example.com/auth/callback",
	}
	for k, v := range want {
		if got := seen.Get(k); got != v {
			t.Fatalf("form[%s]=%q want %q", k, got, v)
		}
	}
}

func TestClient_RefreshToken(t *testing.T) {
	t.Parallel()

	srv := newTokenServer(t, func(form url.Values) (int, string) {
		if form.Get("grant_type") != "refresh_token" || form.Get("refresh_token") != "R1" {
			return http.StatusBadRequest, `{"status":400,"message":"Invalid refresh token"}`
		}
		return http.StatusOK, `{"access_token":"A2","refresh_token":"R2","expires_in":14000,"scope":[],"token_type":"bearer"}`
	})

	g, err := testClient(srv.URL).RefreshToken(context.Background(), "R1")
	if err != nil {
		t.Fatalf("RefreshToken: %v", err)
	}
	if g.AccessToken != "A2" || g.RefreshToken != "R2" {
		t.Fatalf("grant=%+v", g)
	}
}

func TestClient_TokenErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"rejected", http.StatusBadRequest, `{"status":400,"message":"Invalid refresh token"}`, ErrTokenRejected},
		{"not json", http.StatusOK, `<html>`, ErrMalformedToken},
		{"missing refresh token", http.StatusOK, `{"access_token":"A","expires_in":10}`, ErrMalformedToken},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := newTokenServer(t, func(url.Values) (int, string) { return tc.status, tc.body })
			_, err := testClient(srv.URL).RefreshToken(context.Background(), "R")
			if !errors.Is(err, tc.want) {
				t.Fatalf("err=%v want %v", err, tc.want)
			}
		})
	}
}

func TestClient_AuthorizeURL(t *testing.T) {
	t.Parallel()

	raw := testClient("").AuthorizeURL("state-123")
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !strings.HasPrefix(raw, DefaultBaseURL+"/authorize?") {
		t.Fatalf("url=%q", raw)
	}
	q := u.Query()
	if q.Get("response_type") != "code" || q.Get("state") != "state-123" || q.Get("client_id") != "client-id" {
		t.Fatalf("query=%v", q)
	}
	if q.Get("scope") != strings.Join(DefaultScopes, " ") {
		t.Fatalf("scope=%q", q.Get("scope"))
	}
}
