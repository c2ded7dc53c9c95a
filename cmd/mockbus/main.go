// Command mockbus runs a local stand-in for the platform event bus and the
// subscription endpoints of its REST API, so the bot can be exercised
// without a platform account.
//
// Point the bot at it with
//
//	BOT_EVENTSUB_URL=ws://127.0.0.1:8090/ws
//	BOT_HELIX_BASE_URL=http://127.0.0.1:8090/helix
//
// and drive it with POST /control/{follow,ban,reconnect,revoke,drop}.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	flags "github.com/jessevdk/go-flags"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/app"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub/bustest"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/helix"
	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

type options struct {
	Addr             string        `long:"addr" env:"MOCKBUS_ADDR" default:"127.0.0.1:8090" description:"listen address"`
	PublicURL        string        `long:"public-url" env:"MOCKBUS_PUBLIC_URL" description:"websocket URL announced in reconnect messages (default ws://<addr>/ws)"`
	KeepaliveSeconds int           `long:"keepalive-seconds" default:"10" description:"keepalive timeout announced in welcome messages"`
	KeepaliveEvery   time.Duration `long:"keepalive-every" default:"8s" description:"interval between keepalives, 0 disables them"`
	LogLevel         string        `long:"log-level" default:"info" description:"debug, info, warn or error"`
	LogFormat        string        `long:"log-format" default:"pretty" description:"json, text or pretty"`
}

func main() {
	var opts options
	if _, err := flags.Parse(&opts); err != nil {
		var flagErr *flags.Error
		if errors.As(err, &flagErr) && flagErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}

	log := app.NewLogger(opts.LogLevel, opts.LogFormat)
	if err := run(opts, log); err != nil {
		log.Error("mockbus.fail", "err", err)
		os.Exit(1)
	}
}

func run(opts options, log *slog.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	bus := bustest.New(log.With("component", "bus"), bustest.Config{
		KeepaliveSeconds: opts.KeepaliveSeconds,
		KeepaliveEvery:   opts.KeepaliveEvery,
	})
	public := opts.PublicURL
	if public == "" {
		public = "ws://" + opts.Addr + "/ws"
	}
	bus.SetURL(public)

	m := &mock{log: log, bus: bus, subs: make(map[string]helix.Subscription)}
	mux := http.NewServeMux()
	mux.Handle("/ws", bus)
	m.register(mux)

	srv := &http.Server{
		Addr:              opts.Addr,
		Handler:           app.WithRequestLogging(mux, log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	log.Info("mockbus.start", "addr", opts.Addr, "ws_url", public)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	bus.CloseAll(websocket.StatusGoingAway, "mockbus stopping")
	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	return srv.Shutdown(shutdownCtx)
}

type mock struct {
	log *slog.Logger
	bus *bustest.Bus

	mu   sync.Mutex
	subs map[string]helix.Subscription
}

func (m *mock) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /helix/eventsub/subscriptions", m.createSubscription)
	mux.HandleFunc("DELETE /helix/eventsub/subscriptions", m.deleteSubscription)
	mux.HandleFunc("GET /helix/eventsub/subscriptions", m.listSubscriptions)
	mux.HandleFunc("GET /helix/users", m.users)

	mux.HandleFunc("POST /control/follow", m.follow)
	mux.HandleFunc("POST /control/ban", m.ban)
	mux.HandleFunc("POST /control/revoke", m.revoke)
	mux.HandleFunc("POST /control/reconnect", m.reconnect)
	mux.HandleFunc("POST /control/drop", m.drop)
}

type createRequest struct {
	Type      string            `json:"type"`
	Version   string            `json:"version"`
	Condition map[string]string `json:"condition"`
	Transport struct {
		Method    string `json:"method"`
		SessionID string `json:"session_id"`
	} `json:"transport"`
}

func (m *mock) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request", "message": err.Error()})
		return
	}
	if req.Transport.SessionID == "" || req.Condition["broadcaster_user_id"] == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Bad Request", "message": "missing session or broadcaster"})
		return
	}

	sub := helix.Subscription{
		ID:        uuid.NewString(),
		Status:    "enabled",
		Type:      req.Type,
		Version:   req.Version,
		Condition: req.Condition,
		CreatedAt: time.Now().UTC(),
	}
	m.mu.Lock()
	m.subs[sub.ID] = sub
	total := len(m.subs)
	m.mu.Unlock()

	m.log.Info("mockbus.subscription.created", "id", sub.ID, "type", sub.Type, "broadcaster_id", req.Condition["broadcaster_user_id"], "session_id", req.Transport.SessionID)
	writeJSON(w, http.StatusAccepted, helix.Page[helix.Subscription]{Data: []helix.Subscription{sub}, Total: total})
}

func (m *mock) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	m.mu.Lock()
	_, ok := m.subs[id]
	delete(m.subs, id)
	m.mu.Unlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "Not Found", "message": "subscription not found"})
		return
	}
	m.log.Info("mockbus.subscription.deleted", "id", id)
	w.WriteHeader(http.StatusNoContent)
}

func (m *mock) listSubscriptions(w http.ResponseWriter, _ *http.Request) {
	m.mu.Lock()
	page := helix.Page[helix.Subscription]{Data: make([]helix.Subscription, 0, len(m.subs))}
	for _, s := range m.subs {
		page.Data = append(page.Data, s)
	}
	m.mu.Unlock()
	page.Total = len(page.Data)
	writeJSON(w, http.StatusOK, page)
}

// users answers lookups with synthetic ids derived from the login. Without
// parameters it describes the token owner as "mockbot".
func (m *mock) users(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	logins := q["login"]
	ids := q["id"]
	if len(logins) == 0 && len(ids) == 0 {
		logins = []string{"mockbot"}
	}

	page := helix.Page[helix.User]{Data: []helix.User{}}
	for _, l := range logins {
		page.Data = append(page.Data, helix.User{ID: syntheticID(l), Login: l, DisplayName: l})
	}
	for _, id := range ids {
		page.Data = append(page.Data, helix.User{ID: id, Login: "user" + id, DisplayName: "user" + id})
	}
	writeJSON(w, http.StatusOK, page)
}

func (m *mock) follow(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	broadcaster := q.Get("broadcaster_id")
	user := q.Get("user_login")
	if user == "" {
		user = "viewer"
	}
	ev := v1.FollowEvent{
		UserID:               syntheticID(user),
		UserLogin:            user,
		UserName:             user,
		BroadcasterUserID:    broadcaster,
		BroadcasterUserLogin: "user" + broadcaster,
		BroadcasterUserName:  "user" + broadcaster,
		FollowedAt:           time.Now().UTC(),
	}
	m.notify(w, r, v1.SubscriptionFollow, broadcaster, ev)
}

func (m *mock) ban(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	broadcaster := q.Get("broadcaster_id")
	user := q.Get("user_login")
	if user == "" {
		user = "troll"
	}
	ev := v1.BanEvent{
		UserID:               syntheticID(user),
		UserLogin:            user,
		UserName:             user,
		BroadcasterUserID:    broadcaster,
		BroadcasterUserLogin: "user" + broadcaster,
		BroadcasterUserName:  "user" + broadcaster,
		ModeratorUserID:      syntheticID("mockbot"),
		ModeratorUserLogin:   "mockbot",
		ModeratorUserName:    "mockbot",
		Reason:               q.Get("reason"),
		BannedAt:             time.Now().UTC(),
		IsPermanent:          true,
	}
	m.notify(w, r, v1.SubscriptionBan, broadcaster, ev)
}

func (m *mock) notify(w http.ResponseWriter, r *http.Request, subType, broadcaster string, ev any) {
	if broadcaster == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "broadcaster_id is required"})
		return
	}
	sent, err := m.eachOpen(r.Context(), func(ctx context.Context, c *bustest.Conn) error {
		return c.SendNotification(ctx, subType, broadcaster, ev)
	})
	m.reply(w, "notification", sent, err)
}

func (m *mock) revoke(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	subType, broadcaster := q.Get("type"), q.Get("broadcaster_id")
	if subType == "" || broadcaster == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "type and broadcaster_id are required"})
		return
	}
	sent, err := m.eachOpen(r.Context(), func(ctx context.Context, c *bustest.Conn) error {
		return c.SendRevocation(ctx, subType, broadcaster)
	})
	m.reply(w, "revocation", sent, err)
}

func (m *mock) reconnect(w http.ResponseWriter, r *http.Request) {
	sent, err := m.eachOpen(r.Context(), func(ctx context.Context, c *bustest.Conn) error {
		_, err := c.SendReconnect(ctx)
		return err
	})
	m.reply(w, "reconnect", sent, err)
}

func (m *mock) drop(w http.ResponseWriter, _ *http.Request) {
	m.bus.CloseAll(websocket.StatusGoingAway, "dropped by operator")
	writeJSON(w, http.StatusOK, map[string]string{"result": "dropped"})
}

func (m *mock) eachOpen(ctx context.Context, fn func(context.Context, *bustest.Conn) error) (int, error) {
	var errs []error
	sent := 0
	for _, c := range m.bus.Conns() {
		if c.Closed() {
			continue
		}
		if err := fn(ctx, c); err != nil {
			errs = append(errs, fmt.Errorf("conn %d: %w", c.ID, err))
			continue
		}
		sent++
	}
	return sent, errors.Join(errs...)
}

func (m *mock) reply(w http.ResponseWriter, kind string, sent int, err error) {
	if err != nil {
		m.log.Warn("mockbus.control.partial", "kind", kind, "sent", sent, "err", err)
		writeJSON(w, http.StatusBadGateway, map[string]any{"sent": sent, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sent": sent})
}

func syntheticID(login string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("mockbus:"+login)).String()[:8]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
