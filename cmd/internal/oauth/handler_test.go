package oauth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
)

type stubExchanger struct {
	grant credential.Grant
	err   error
}

func (s stubExchanger) AuthorizeURL(state string) string {
	return "https://id.example.com/authorize?state=" + url.QueryEscape(state)
}

func (s stubExchanger) ExchangeCode(context.Context, string) (credential.Grant, error) {
	return s.grant, s.err
}

type stubIdentifier struct {
	who Identity
	err error
}

func (s stubIdentifier) Identify(context.Context, string) (Identity, error) { return s.who, s.err }

type handlerFixture struct {
	h          *Handler
	mux        *http.ServeMux
	states     *MemoryStateStore
	store      *credential.MemoryStore
	privileged *credential.Privileged
	authorized []credential.Credential
}

func newHandlerFixture(t *testing.T, ex Exchanger, id Identifier) *handlerFixture {
	t.Helper()
	f := &handlerFixture{
		mux:    http.NewServeMux(),
		states: NewMemoryStateStore(),
		store:  credential.NewMemoryStore(),
	}
	f.privileged = credential.NewPrivileged("doublecolonbot", f.store)
	f.h = NewHandler(testLogger(), f.states, ex, id, f.store, f.privileged,
		WithAuthorizedHook(func(_ context.Context, c credential.Credential) {
			f.authorized = append(f.authorized, c)
		}),
	)
	f.h.Register(f.mux)
	return f
}

func (f *handlerFixture) get(target string) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestHandler_StartRedirectsWithFreshState(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, stubExchanger{}, stubIdentifier{})
	rr := f.get("/auth/start")
	if rr.Code != http.StatusFound {
		t.Fatalf("status=%d want 302", rr.Code)
	}
	loc, err := url.Parse(rr.Header().Get("Location"))
	if err != nil {
		t.Fatalf("Location: %v", err)
	}
	state := loc.Query().Get("state")
	if ok, _ := f.states.Consume(context.Background(), state); !ok {
		t.Fatalf("state %q was not stored", state)
	}
}

func TestHandler_CallbackRejectsBadRequests(t *testing.T) {
	t.Parallel()

	f := newHandlerFixture(t, stubExchanger{}, stubIdentifier{})
	cases := []struct {
		target string
		status int
	}{
		{"/auth/callback", http.StatusBadRequest},
		{"/auth/callback?code=abc", http.StatusBadRequest},
		{"/auth/callback?error=access_denied&error_description=nope", http.StatusBadRequest},
		{"/auth/callback?code=abc&state=unknown", http.StatusForbidden},
	}
	for _, tc := range cases {
		if rr := f.get(tc.target); rr.Code != tc.status {
			t.Fatalf("%s: status=%d want %d", tc.target, rr.Code, tc.status)
		}
	}
	if len(f.authorized) != 0 {
		t.Fatalf("hook called for rejected callbacks")
	}
}

func TestHandler_CallbackStoresBotCredential(t *testing.T) {
	t.Parallel()

	ex := stubExchanger{grant: credential.Grant{AccessToken: "A1", RefreshToken: "R1", ExpiresIn: time.Hour, Scopes: []string{"chat:read"}}}
	id := stubIdentifier{who: Identity{UserID: "100", Login: "DoubleColonBot", DisplayName: "DoubleColonBot"}}
	f := newHandlerFixture(t, ex, id)

	state, _ := f.states.Create(context.Background(), time.Now())
	rr := f.get("/auth/callback?code=abc&state=" + state)
	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d body=%s", rr.Code, rr.Body.String())
	}

	var body messageResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.Message, "DoubleColonBot") {
		t.Fatalf("message=%q", body.Message)
	}

	c, err := f.store.GetByUserID(context.Background(), "100")
	if err != nil || c.AccessToken != "A1" || c.Login != "doublecolonbot" {
		t.Fatalf("stored=%+v err=%v", c, err)
	}
	select {
	case <-f.privileged.Ready():
	default:
		t.Fatalf("bot credential not published")
	}
	if len(f.authorized) != 1 || f.authorized[0].UserID != "100" {
		t.Fatalf("authorized=%v", f.authorized)
	}

	if rr := f.get("/auth/callback?code=abc&state=" + state); rr.Code != http.StatusForbidden {
		t.Fatalf("replayed state status=%d want 403", rr.Code)
	}
}

func TestHandler_CallbackUpstreamFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		ex     stubExchanger
		id     stubIdentifier
		status int
	}{
		{"exchange rejected", stubExchanger{err: &TokenError{StatusCode: 400, Body: "bad code"}}, stubIdentifier{}, http.StatusBadRequest},
		{"exchange transport", stubExchanger{err: errors.New("dial tcp: refused")}, stubIdentifier{}, http.StatusBadGateway},
		{"identify", stubExchanger{grant: credential.Grant{AccessToken: "A"}}, stubIdentifier{err: errors.New("boom")}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			f := newHandlerFixture(t, tc.ex, tc.id)
			state, _ := f.states.Create(context.Background(), time.Now())
			if rr := f.get("/auth/callback?code=abc&state=" + state); rr.Code != tc.status {
				t.Fatalf("status=%d want %d", rr.Code, tc.status)
			}
		})
	}
}
