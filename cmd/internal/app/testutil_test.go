package app

import (
	"log/slog"
)

func testLogger() *slog.Logger { return slog.New(slog.DiscardHandler) }

func validConfig() Config {
	return Config{
		HTTPAddr:         "127.0.0.1:0",
		LogLevel:         "info",
		LogFormat:        "json",
		PublicURL:        "https://bot.example.com",
		BotLogin:         "coolbot",
		ClientID:         "cid",
		ClientSecret:     "secret",
		SubscribeFollows: true,
	}
}
