package app

import (
	"net/http"
	"net/url"
	"testing"
)

func TestNew_RejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.ClientID = ""
	if _, err := New(cfg, testLogger()); err == nil {
		t.Fatal("New accepted config without client id")
	}
}

func TestNew_InMemoryHandler(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	cfg.OAuthBaseURL = "https://id.example.com/oauth2"
	a, err := New(cfg, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if a.stores.dbEnabled() {
		t.Fatal("db enabled without a database url")
	}
	h := a.Handler()

	if rr := serve(h, "/healthz"); rr.Code != http.StatusOK {
		t.Fatalf("healthz=%d", rr.Code)
	}
	if rr := serve(h, "/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before connect=%d want 503", rr.Code)
	}

	rr := serve(h, "/auth/start")
	if rr.Code != http.StatusFound {
		t.Fatalf("auth start=%d want 302", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	if loc.Host != "id.example.com" {
		t.Fatalf("redirect host=%q", loc.Host)
	}
	if got := loc.Query().Get("redirect_uri"); got != "https://bot.example.com/auth/callback" {
		t.Fatalf("redirect_uri=%q", got)
	}
}
