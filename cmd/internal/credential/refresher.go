package credential

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/metrics"
)

// Exchanger trades a refresh token for a new token pair.
type Exchanger interface {
	RefreshToken(ctx context.Context, refreshToken string) (Grant, error)
}

// Refresher rotates expired access tokens and persists the result.
// Refreshes for the same user are serialized so a burst of 401s costs a
// single exchange; different users refresh independently.
type Refresher struct {
	log        *slog.Logger
	store      Store
	exchanger  Exchanger
	privileged *Privileged
	clock      clock.Clock
	metrics    *metrics.Metrics

	mu    sync.Mutex
	users map[string]*userLock
}

type userLock struct {
	sync.Mutex
	refs int
}

type RefresherOption func(*Refresher)

func WithClock(c clock.Clock) RefresherOption {
	return func(r *Refresher) { r.clock = c }
}

func WithMetrics(m *metrics.Metrics) RefresherOption {
	return func(r *Refresher) { r.metrics = m }
}

func NewRefresher(log *slog.Logger, store Store, exchanger Exchanger, privileged *Privileged, opts ...RefresherOption) *Refresher {
	if log == nil {
		log = slog.Default()
	}
	r := &Refresher{
		log:        log,
		store:      store,
		exchanger:  exchanger,
		privileged: privileged,
		clock:      clock.Real(),
		users:      make(map[string]*userLock),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Refresh replaces the credential whose access token was rejected. If the
// stored token has already moved on since stale was read, the stored
// credential is returned without another exchange.
func (r *Refresher) Refresh(ctx context.Context, stale Credential) (Credential, error) {
	key := stale.UserID
	if key == "" {
		key = "token:" + stale.AccessToken
	}
	unlock := r.lock(key)
	defer unlock()

	if stale.UserID != "" {
		stored, err := r.store.GetByUserID(ctx, stale.UserID)
		if err == nil && stored.AccessToken != "" && stored.AccessToken != stale.AccessToken {
			r.log.Debug("credential.refresh.superseded", "user_id", stale.UserID)
			return stored, nil
		}
	}

	cur, err := r.store.GetByAccessToken(ctx, stale.AccessToken)
	if err == nil && cur.RefreshToken == "" {
		err = ErrNotFound
	}
	if err != nil {
		r.metrics.TokenRefresh(false)
		r.log.Error("credential.refresh.lookup_failed",
			"user_id", stale.UserID,
			"access_token", Redacted(stale.AccessToken),
			"err", err,
		)
		return Credential{}, &RefreshError{Stage: "lookup", UserID: stale.UserID, Err: err}
	}

	grant, err := r.exchanger.RefreshToken(ctx, cur.RefreshToken)
	if err != nil {
		r.metrics.TokenRefresh(false)
		r.log.Error("credential.refresh.exchange_failed", "user_id", cur.UserID, "login", cur.Login, "err", err)
		return Credential{}, &RefreshError{Stage: "exchange", UserID: cur.UserID, Err: err}
	}

	next := cur.Apply(grant, r.clock.Now())
	if err := r.store.Put(ctx, next); err != nil {
		r.metrics.TokenRefresh(false)
		r.log.Error("credential.refresh.persist_failed", "user_id", cur.UserID, "login", cur.Login, "err", err)
		return Credential{}, &RefreshError{Stage: "persist", UserID: cur.UserID, Err: err}
	}

	if r.privileged != nil && r.privileged.Publish(next) {
		r.log.Info("credential.refresh.privileged_published", "login", next.Login)
	}

	r.metrics.TokenRefresh(true)
	r.log.Info("credential.refresh.ok",
		"user_id", next.UserID,
		"login", next.Login,
		"expires_at", next.ExpiresAt,
	)
	return next, nil
}

func (r *Refresher) lock(key string) (unlock func()) {
	r.mu.Lock()
	l := r.users[key]
	if l == nil {
		l = &userLock{}
		r.users[key] = l
	}
	l.refs++
	r.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		r.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(r.users, key)
		}
		r.mu.Unlock()
	}
}

// IsFatal reports whether err means the user has to re-authorize.
func IsFatal(err error) bool {
	return errors.Is(err, ErrNotFound)
}
