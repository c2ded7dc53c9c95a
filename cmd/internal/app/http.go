package app

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/oauth"
)

// busStatus is the read-only view of the event bus manager served over HTTP.
type busStatus interface {
	Connected() bool
	Subscriptions() []eventsub.Subscription
}

type subscriptionsResponse struct {
	Connected     bool                    `json:"connected"`
	Subscriptions []eventsub.Subscription `json:"subscriptions"`
}

func registerHTTP(
	mux *http.ServeMux,
	log Logger,
	cfg Config,
	dbPool *pgxpool.Pool,
	bus busStatus,
	auth *oauth.Handler,
	gatherer prometheus.Gatherer,
) {
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.ReadinessRequireDB && dbPool == nil {
			http.Error(w, "db not configured", http.StatusServiceUnavailable)
			return
		}

		if dbPool != nil {
			if err := PingDB(r.Context(), dbPool, 2*time.Second); err != nil {
				http.Error(w, "db not ready", http.StatusServiceUnavailable)
				log.Info("readyz.db.not_ready", "err", err)
				return
			}
		}

		if bus != nil && !bus.Connected() {
			http.Error(w, "event bus not connected", http.StatusServiceUnavailable)
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready\n"))
	})

	mux.HandleFunc("GET /subscriptions", func(w http.ResponseWriter, _ *http.Request) {
		resp := subscriptionsResponse{Subscriptions: []eventsub.Subscription{}}
		if bus != nil {
			resp.Connected = bus.Connected()
			if subs := bus.Subscriptions(); subs != nil {
				resp.Subscriptions = subs
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(resp)
	})

	if gatherer != nil {
		mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}

	if auth != nil {
		auth.Register(mux)
	}
}
