package app

import (
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, k := range []string{"BOT_HTTP_ADDR", "BOT_TWITCH_SCOPES", "BOT_CHANNELS", "BOT_EVENTSUB_URL", "BOT_SUBSCRIBE_FOLLOWS"} {
		t.Setenv(k, "")
	}

	cfg := LoadConfig()
	if cfg.HTTPAddr != "0.0.0.0:8080" {
		t.Fatalf("HTTPAddr=%q", cfg.HTTPAddr)
	}
	if !slices.Equal(cfg.Scopes, oauth.DefaultScopes) {
		t.Fatalf("Scopes=%v", cfg.Scopes)
	}
	if cfg.EventSubURL != eventsub.DefaultURL {
		t.Fatalf("EventSubURL=%q", cfg.EventSubURL)
	}
	if !cfg.SubscribeFollows || cfg.SubscribeBans {
		t.Fatalf("subscribe follows=%v bans=%v", cfg.SubscribeFollows, cfg.SubscribeBans)
	}
	if len(cfg.Channels) != 0 {
		t.Fatalf("Channels=%v", cfg.Channels)
	}
}

func TestLoadConfig_FromEnv(t *testing.T) {
	t.Setenv("BOT_PUBLIC_URL", "https://bot.example.com/")
	t.Setenv("BOT_TWITCH_LOGIN", "CoolBot")
	t.Setenv("BOT_CHANNELS", "one, two,,three")
	t.Setenv("BOT_KEEPALIVE_GRACE", "2s")
	t.Setenv("BOT_SUBSCRIBE_BANS", "true")

	cfg := LoadConfig()
	if cfg.PublicURL != "https://bot.example.com" {
		t.Fatalf("PublicURL=%q", cfg.PublicURL)
	}
	if cfg.RedirectURI() != "https://bot.example.com/auth/callback" {
		t.Fatalf("RedirectURI=%q", cfg.RedirectURI())
	}
	if cfg.BotLogin != "coolbot" {
		t.Fatalf("BotLogin=%q", cfg.BotLogin)
	}
	if want := []string{"one", "two", "three"}; !slices.Equal(cfg.Channels, want) {
		t.Fatalf("Channels=%v want %v", cfg.Channels, want)
	}
	if cfg.KeepaliveGrace != 2*time.Second {
		t.Fatalf("KeepaliveGrace=%v", cfg.KeepaliveGrace)
	}
	if !cfg.SubscribeBans {
		t.Fatal("SubscribeBans not read")
	}
}

func TestConfig_Validate(t *testing.T) {
	t.Parallel()

	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cases := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"missing_login", func(c *Config) { c.BotLogin = "" }, "BOT_TWITCH_LOGIN"},
		{"missing_secret", func(c *Config) { c.ClientSecret = " " }, "BOT_TWITCH_CLIENT_SECRET"},
		{"relative_public_url", func(c *Config) { c.PublicURL = "/bot" }, "absolute http(s) URL"},
		{"no_subscriptions", func(c *Config) { c.SubscribeFollows, c.SubscribeBans = false, false }, "both disabled"},
		{"bad_log_format", func(c *Config) { c.LogFormat = "xml" }, "BOT_LOG_FORMAT"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("err=%v want containing %q", err, tc.wantErr)
			}
		})
	}
}
