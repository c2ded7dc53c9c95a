package oauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/logging"
)

// Identity is the platform user a fresh access token belongs to.
type Identity struct {
	UserID      string
	Login       string
	DisplayName string
}

// Identifier resolves the owner of an access token.
type Identifier interface {
	Identify(ctx context.Context, accessToken string) (Identity, error)
}

// Exchanger is the part of Client the handler needs.
type Exchanger interface {
	AuthorizeURL(state string) string
	ExchangeCode(ctx context.Context, code string) (credential.Grant, error)
}

// Handler serves the start and callback endpoints of the authorization
// flow.
type Handler struct {
	log        *slog.Logger
	states     StateStore
	exchanger  Exchanger
	identifier Identifier
	store      credential.Store
	privileged *credential.Privileged
	clock      clock.Clock

	onAuthorized func(ctx context.Context, c credential.Credential)
}

type HandlerOption func(*Handler)

// WithAuthorizedHook registers fn to run after a credential is stored.
func WithAuthorizedHook(fn func(ctx context.Context, c credential.Credential)) HandlerOption {
	return func(h *Handler) {
		if fn != nil {
			h.onAuthorized = fn
		}
	}
}

func WithHandlerClock(c clock.Clock) HandlerOption {
	return func(h *Handler) {
		if c != nil {
			h.clock = c
		}
	}
}

func NewHandler(
	log *slog.Logger,
	states StateStore,
	exchanger Exchanger,
	identifier Identifier,
	store credential.Store,
	privileged *credential.Privileged,
	opts ...HandlerOption,
) *Handler {
	if log == nil {
		log = slog.Default()
	}
	h := &Handler{
		log:        log,
		states:     states,
		exchanger:  exchanger,
		identifier: identifier,
		store:      store,
		privileged: privileged,
		clock:      clock.Real(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/start", h.handleStart)
	mux.HandleFunc("/auth/callback", h.handleCallback)
}

func (h *Handler) handleStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	log := logging.WithCorrelation(h.log, "oauth.start")

	state, err := h.states.Create(r.Context(), h.clock.Now())
	if err != nil {
		log.Error("oauth.start.state_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not start authorization")
		return
	}

	log.Info("oauth.start.redirect", "state", state)
	http.Redirect(w, r, h.exchanger.AuthorizeURL(state), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
		return
	}
	log := logging.WithCorrelation(h.log, "oauth.callback")
	ctx := r.Context()
	q := r.URL.Query()

	if denied := strings.TrimSpace(q.Get("error")); denied != "" {
		log.Info("oauth.callback.denied", "error", denied, "description", q.Get("error_description"))
		writeError(w, http.StatusBadRequest, "access_denied", "authorization was not granted")
		return
	}

	code := strings.TrimSpace(q.Get("code"))
	state := strings.TrimSpace(q.Get("state"))
	if code == "" || state == "" {
		log.Info("oauth.callback.invalid_params")
		writeError(w, http.StatusBadRequest, "invalid_request", "code and state are required")
		return
	}

	ok, err := h.states.Consume(ctx, state)
	if err != nil {
		log.Error("oauth.callback.state_lookup_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not verify state")
		return
	}
	if !ok {
		log.Info("oauth.callback.invalid_state", "state", state)
		writeError(w, http.StatusForbidden, "invalid_state", ErrInvalidState.Error())
		return
	}

	grant, err := h.exchanger.ExchangeCode(ctx, code)
	if err != nil {
		log.Warn("oauth.callback.exchange_failed", "err", err)
		status := http.StatusBadGateway
		if errors.Is(err, ErrTokenRejected) {
			status = http.StatusBadRequest
		}
		writeError(w, status, "exchange_failed", "could not obtain an access token, please try again")
		return
	}

	who, err := h.identifier.Identify(ctx, grant.AccessToken)
	if err != nil {
		log.Error("oauth.callback.identify_failed", "err", err)
		writeError(w, http.StatusInternalServerError, "identify_failed", "could not retrieve user information, please try again later")
		return
	}

	c := credential.Credential{
		UserID:      who.UserID,
		Login:       strings.ToLower(who.Login),
		DisplayName: who.DisplayName,
	}.Apply(grant, h.clock.Now())

	if err := h.store.Put(ctx, c); err != nil {
		log.Error("oauth.callback.persist_failed", "user_id", c.UserID, "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "could not save credentials")
		return
	}

	if h.privileged != nil && h.privileged.Publish(c) {
		log.Info("oauth.callback.privileged_published", "login", c.Login)
	}
	if h.onAuthorized != nil {
		h.onAuthorized(context.WithoutCancel(ctx), c)
	}

	log.Info("oauth.callback.ok", "user_id", c.UserID, "login", c.Login, "scopes", c.Scopes)
	writeJSON(w, http.StatusOK, messageResponse{
		Message: fmt.Sprintf("Welcome, %s! You can now close this window.", who.DisplayName),
	})
}
