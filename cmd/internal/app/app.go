// Package app wires the bot runtime: config, logging, persistence, the OAuth
// flow, the platform API client and the event bus manager.
package app

import (
	"context"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/helix"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/metrics"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

// App is the bot runtime. It owns the HTTP server, the stores and the event
// bus manager.
type App struct {
	cfg   Config
	log   Logger
	clock clock.Clock

	stores     stores
	registry   *prometheus.Registry
	privileged *credential.Privileged
	bus        *eventsub.Manager
	auth       *oauth.Handler
	channels   *channelSync
	limiter    *windowLimiter

	operatorIn io.Reader
}

type Option func(*App)

// WithOperatorInput makes every line read from r cut the bootstrap wait
// short.
func WithOperatorInput(r io.Reader) Option {
	return func(a *App) { a.operatorIn = r }
}

func WithClock(c clock.Clock) Option {
	return func(a *App) {
		if c != nil {
			a.clock = c
		}
	}
}

// New constructs a fully wired App instance from config and logger.
func New(cfg Config, log Logger, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}

	a := &App{cfg: cfg, log: log, clock: clock.Real()}
	for _, opt := range opts {
		opt(a)
	}

	st, err := newStores(context.Background(), cfg, log)
	if err != nil {
		return nil, err
	}
	a.stores = st

	a.registry = prometheus.NewRegistry()
	a.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(a.registry)

	httpClient := &http.Client{Timeout: nonZeroDuration(cfg.APITimeout, 10*time.Second)}

	a.privileged = credential.NewPrivileged(cfg.BotLogin, st.credentials)

	oauthClient := oauth.NewClient(log.With("component", "oauth"), oauth.Config{
		BaseURL:      cfg.OAuthBaseURL,
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		RedirectURI:  cfg.RedirectURI(),
		Scopes:       cfg.Scopes,
	}, httpClient)

	refresher := credential.NewRefresher(log.With("component", "credential"), st.credentials, oauthClient, a.privileged,
		credential.WithClock(a.clock),
		credential.WithMetrics(m),
	)

	inv := helix.NewInvoker(log.With("component", "helix"), helix.Config{
		BaseURL:  cfg.HelixBaseURL,
		ClientID: cfg.ClientID,
	}, httpClient, refresher, m)
	users := helix.NewClient(inv)

	a.bus = eventsub.NewManager(log.With("component", "eventsub"), eventsub.Config{
		URL:            cfg.EventSubURL,
		KeepaliveGrace: cfg.KeepaliveGrace,
		CreateTimeout:  cfg.APITimeout,
	}, helix.NewEventSubClient(inv, a.privileged),
		eventsub.WithClock(a.clock),
		eventsub.WithMetrics(m),
	)
	installListeners(log.With("component", "listeners"), a.bus.Listeners())

	a.limiter = newWindowLimiter(cfg.AuthRateLimit, cfg.AuthRateWindow, a.clock)
	a.channels = newChannelSync(log.With("component", "channels"), cfg, a.bus, users, st.credentials, a.privileged)

	a.auth = oauth.NewHandler(log.With("component", "oauth"), st.states, oauthClient, helixIdentifier{users: users}, st.credentials, a.privileged,
		oauth.WithAuthorizedHook(a.channels.onAuthorized),
		oauth.WithHandlerClock(a.clock),
	)

	return a, nil
}

// Handler is the full HTTP surface including request logging.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a.log, a.cfg, a.stores.pool, a.bus, a.auth, a.registry)
	return WithRequestLogging(withAuthRateLimit(mux, a.limiter, a.cfg.TrustProxy, a.log), a.log)
}

// Run starts the HTTP server and the bot, and blocks until context
// cancellation or a fatal error.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.stores.dbEnabled(), "auth_url", a.cfg.AuthStartURL())

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var wg sync.WaitGroup
	wg.Go(func() { oauth.RunStateCleanup(ctx, a.log, a.stores.states, a.cfg.StateTTL, a.clock) })

	botErr := make(chan error, 1)
	wg.Go(func() { botErr <- a.runBot(ctx) })

	var runErr error
	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		runErr = err
	case err := <-botErr:
		if err != nil {
			a.log.Error("bot.fail", "err", err)
			runErr = err
		}
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), 10*time.Second)
	defer stop()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		runErr = errors.Join(runErr, err)
	}
	wg.Wait()

	// Close store resources (pool etc).
	if err := a.stores.Close(shutdownCtx); err != nil {
		a.log.Error("store.close.fail", "err", err)
	}

	a.log.Info("server.stopped")
	return runErr
}

// runBot waits for the bot account, then connects to the event bus and
// subscribes every watched channel. It returns when the bus manager stops.
func (a *App) runBot(ctx context.Context) error {
	bot, err := waitForBotCredential(ctx, a.log, a.privileged, a.cfg.AuthStartURL(),
		operatorSignals(ctx, a.operatorIn), a.clock, newBootstrapBackOff(a.cfg.BootstrapMaxWait))
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	a.log.Info("bootstrap.bot.ready", "login", bot.Login, "user_id", bot.UserID)

	busErr := make(chan error, 1)
	go func() { busErr <- a.bus.Run(ctx) }()

	a.channels.activate(ctx)
	if err := a.channels.sync(ctx); err != nil && ctx.Err() == nil {
		a.log.Warn("channels.sync.failed", "err", err)
	}
	return <-busErr
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
