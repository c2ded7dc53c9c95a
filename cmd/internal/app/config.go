package app

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/helix"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/liveness"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

// Config contains all runtime configuration loaded from environment variables.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// If true:
	// - /readyz returns 503 unless DB is configured and reachable.
	ReadinessRequireDB bool

	// TrustProxy takes the client IP from X-Forwarded-For / X-Real-IP.
	TrustProxy     bool
	AuthRateLimit  int
	AuthRateWindow time.Duration

	// PublicURL is where users reach this process; the OAuth redirect URI
	// is derived from it.
	PublicURL string

	BotLogin     string
	ClientID     string
	ClientSecret string
	Scopes       []string

	// Channels are extra broadcaster logins to watch besides every
	// authorized user.
	Channels []string

	SubscribeFollows bool
	SubscribeBans    bool

	OAuthBaseURL string
	HelixBaseURL string
	EventSubURL  string

	KeepaliveGrace   time.Duration
	StateTTL         time.Duration
	BootstrapMaxWait time.Duration
	APITimeout       time.Duration
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("BOT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("BOT_LOG_LEVEL", "info"),
		LogFormat: EnvString("BOT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("BOT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("BOT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("BOT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("BOT_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("BOT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("BOT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("BOT_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("BOT_DB_MIN_CONNS", 0),

		ReadinessRequireDB: EnvBool("BOT_READINESS_REQUIRE_DB", false),

		TrustProxy:     EnvBool("BOT_TRUST_PROXY", false),
		AuthRateLimit:  EnvInt("BOT_AUTH_RATE_LIMIT", 20),
		AuthRateWindow: EnvDuration("BOT_AUTH_RATE_WINDOW", time.Minute),

		PublicURL: strings.TrimRight(EnvString("BOT_PUBLIC_URL", ""), "/"),

		BotLogin:     strings.ToLower(EnvString("BOT_TWITCH_LOGIN", "")),
		ClientID:     EnvString("BOT_TWITCH_CLIENT_ID", ""),
		ClientSecret: EnvString("BOT_TWITCH_CLIENT_SECRET", ""),
		Scopes:       EnvCSV("BOT_TWITCH_SCOPES", oauth.DefaultScopes),

		Channels: EnvCSV("BOT_CHANNELS", nil),

		SubscribeFollows: EnvBool("BOT_SUBSCRIBE_FOLLOWS", true),
		SubscribeBans:    EnvBool("BOT_SUBSCRIBE_BANS", false),

		OAuthBaseURL: EnvString("BOT_OAUTH_BASE_URL", oauth.DefaultBaseURL),
		HelixBaseURL: EnvString("BOT_HELIX_BASE_URL", helix.DefaultBaseURL),
		EventSubURL:  EnvString("BOT_EVENTSUB_URL", eventsub.DefaultURL),

		KeepaliveGrace:   EnvDuration("BOT_KEEPALIVE_GRACE", liveness.DefaultGrace),
		StateTTL:         EnvDuration("BOT_OAUTH_STATE_TTL", oauth.DefaultStateTTL),
		BootstrapMaxWait: EnvDuration("BOT_BOOTSTRAP_MAX_WAIT", 5*time.Minute),
		APITimeout:       EnvDuration("BOT_API_TIMEOUT", 10*time.Second),
	}
}

// RedirectURI is the OAuth callback registered with the platform.
func (c Config) RedirectURI() string { return c.PublicURL + "/auth/callback" }

// AuthStartURL is the link operators open to authorize an account.
func (c Config) AuthStartURL() string { return c.PublicURL + "/auth/start" }

// Validate fails fast on configuration the bot cannot run without.
func (c Config) Validate() error {
	var errs []error
	required := []struct{ key, val string }{
		{"BOT_TWITCH_LOGIN", c.BotLogin},
		{"BOT_TWITCH_CLIENT_ID", c.ClientID},
		{"BOT_TWITCH_CLIENT_SECRET", c.ClientSecret},
		{"BOT_PUBLIC_URL", c.PublicURL},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			errs = append(errs, fmt.Errorf("config: %s is required", r.key))
		}
	}

	if c.PublicURL != "" {
		u, err := url.Parse(c.PublicURL)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("config: BOT_PUBLIC_URL: %w", err))
		case u.Scheme != "http" && u.Scheme != "https", u.Host == "":
			errs = append(errs, fmt.Errorf("config: BOT_PUBLIC_URL must be an absolute http(s) URL, got %q", c.PublicURL))
		}
	}

	if !c.SubscribeFollows && !c.SubscribeBans {
		errs = append(errs, errors.New("config: BOT_SUBSCRIBE_FOLLOWS and BOT_SUBSCRIBE_BANS are both disabled"))
	}

	switch strings.ToLower(c.LogFormat) {
	case "json", "pretty", "text":
	default:
		errs = append(errs, fmt.Errorf("config: BOT_LOG_FORMAT must be json, text or pretty, got %q", c.LogFormat))
	}

	return errors.Join(errs...)
}
