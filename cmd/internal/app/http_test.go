package app

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/metrics"
)

type stubBus struct {
	connected bool
	subs      []eventsub.Subscription
}

func (s stubBus) Connected() bool                        { return s.connected }
func (s stubBus) Subscriptions() []eventsub.Subscription { return s.subs }

func newTestMux(cfg Config, bus busStatus) *http.ServeMux {
	reg := prometheus.NewRegistry()
	metrics.New(reg)
	mux := http.NewServeMux()
	registerHTTP(mux, testLogger(), cfg, nil, bus, nil, reg)
	return mux
}

func serve(mux http.Handler, target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHTTP_Healthz(t *testing.T) {
	t.Parallel()

	rr := serve(newTestMux(validConfig(), stubBus{}), "/healthz")
	if rr.Code != http.StatusOK || rr.Body.String() != "ok\n" {
		t.Fatalf("healthz = %d %q", rr.Code, rr.Body.String())
	}
}

func TestHTTP_Readyz(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name      string
		requireDB bool
		connected bool
		want      int
	}{
		{name: "connected", connected: true, want: http.StatusOK},
		{name: "bus_down", connected: false, want: http.StatusServiceUnavailable},
		{name: "db_required_missing", requireDB: true, connected: true, want: http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			cfg.ReadinessRequireDB = tc.requireDB
			rr := serve(newTestMux(cfg, stubBus{connected: tc.connected}), "/readyz")
			if rr.Code != tc.want {
				t.Fatalf("readyz = %d want %d (%q)", rr.Code, tc.want, rr.Body.String())
			}
		})
	}
}

func TestHTTP_Subscriptions(t *testing.T) {
	t.Parallel()

	bus := stubBus{connected: true, subs: []eventsub.Subscription{
		{Type: "channel.follow", SubjectID: "100", ExternalID: "ext-1"},
		{Type: "channel.follow", SubjectID: "200"},
	}}
	rr := serve(newTestMux(validConfig(), bus), "/subscriptions")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("content-type=%q", ct)
	}

	var got subscriptionsResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !got.Connected || len(got.Subscriptions) != 2 || got.Subscriptions[0].ExternalID != "ext-1" {
		t.Fatalf("body=%+v", got)
	}
}

func TestHTTP_SubscriptionsEmptyIsArray(t *testing.T) {
	t.Parallel()

	rr := serve(newTestMux(validConfig(), stubBus{}), "/subscriptions")
	if !strings.Contains(rr.Body.String(), `"subscriptions":[]`) {
		t.Fatalf("body=%q", rr.Body.String())
	}
}

func TestHTTP_Metrics(t *testing.T) {
	t.Parallel()

	rr := serve(newTestMux(validConfig(), stubBus{}), "/metrics")
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "chatbot_eventsub_subscriptions") {
		t.Fatalf("metrics output missing gauge:\n%s", rr.Body.String())
	}
}
