package credential

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
)

// Privileged tracks the bot account's credential. Readers always get the
// most recently published value; a refresh replaces it wholesale.
type Privileged struct {
	login string
	store Store

	cur       atomic.Pointer[Credential]
	readyOnce sync.Once
	ready     chan struct{}
}

func NewPrivileged(login string, store Store) *Privileged {
	return &Privileged{
		login: strings.ToLower(strings.TrimSpace(login)),
		store: store,
		ready: make(chan struct{}),
	}
}

// Login is the configured bot account login.
func (p *Privileged) Login() string { return p.login }

// Matches reports whether c belongs to the bot account.
func (p *Privileged) Matches(c Credential) bool {
	if cur := p.cur.Load(); cur != nil && cur.UserID != "" && cur.UserID == c.UserID {
		return true
	}
	return p.login != "" && strings.EqualFold(c.Login, p.login)
}

// Publish makes c the current bot credential. Credentials of other users
// are ignored and false is returned.
func (p *Privileged) Publish(c Credential) bool {
	if !p.Matches(c) {
		return false
	}
	c = clone(c)
	p.cur.Store(&c)
	p.readyOnce.Do(func() { close(p.ready) })
	return true
}

// Current returns the published credential, loading it from the store the
// first time. ErrNotFound means the bot account has not been authorized yet.
func (p *Privileged) Current(ctx context.Context) (Credential, error) {
	if cur := p.cur.Load(); cur != nil {
		return clone(*cur), nil
	}
	c, err := p.store.GetByLogin(ctx, p.login)
	if err != nil {
		return Credential{}, err
	}
	if c.AccessToken == "" {
		return Credential{}, ErrNotFound
	}
	p.Publish(c)
	return c, nil
}

// Ready is closed once a bot credential has been published.
func (p *Privileged) Ready() <-chan struct{} { return p.ready }
