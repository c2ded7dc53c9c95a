// Package eventsub keeps a websocket session with the platform event bus
// alive and the bot's subscriptions registered on it.
//
// A single goroutine (Run) owns the connections, the current session and
// the subscription set. Everything else talks to it through events.
package eventsub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/deferred"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/liveness"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/metrics"
	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

const DefaultURL = "wss://eventsub.wss.twitch.tv/ws"

const (
	defaultDialTimeout   = 10 * time.Second
	defaultCreateTimeout = 15 * time.Second
	defaultReadLimit     = 1 << 20
	eventQueueSize       = 64
)

const (
	reasonKeepalive       = "keepalive_timeout"
	reasonServerReconnect = "server_reconnect"
)

// API is the REST side of subscription management.
type API interface {
	CreateSubscription(ctx context.Context, subType, broadcasterID, sessionID string) (string, error)
	DeleteSubscription(ctx context.Context, id string) error
}

type Config struct {
	// URL is dialed on start and after a keepalive timeout. Defaults to
	// DefaultURL.
	URL string

	// KeepaliveGrace is added to the advertised keepalive timeout.
	KeepaliveGrace time.Duration

	DialTimeout   time.Duration
	CreateTimeout time.Duration
	ReadLimit     int64

	HTTPClient *http.Client
}

func (c Config) withDefaults() Config {
	if c.URL == "" {
		c.URL = DefaultURL
	}
	if c.KeepaliveGrace <= 0 {
		c.KeepaliveGrace = liveness.DefaultGrace
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.CreateTimeout <= 0 {
		c.CreateTimeout = defaultCreateTimeout
	}
	if c.ReadLimit <= 0 {
		c.ReadLimit = defaultReadLimit
	}
	return c
}

type Option func(*Manager)

func WithClock(c clock.Clock) Option {
	return func(m *Manager) {
		if c != nil {
			m.clock = c
		}
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithListeners shares a listener registry built elsewhere.
func WithListeners(l *Listeners) Option {
	return func(m *Manager) {
		if l != nil {
			m.listeners = l
		}
	}
}

type Manager struct {
	log       *slog.Logger
	cfg       Config
	api       API
	clock     clock.Clock
	metrics   *metrics.Metrics
	listeners *Listeners
	timer     *liveness.Timer

	events   chan event
	done     chan struct{}
	running  atomic.Bool
	connSeq  atomic.Uint64
	session  atomic.Pointer[sessionCell]
	snap     atomic.Pointer[snapshot]

	// Owned by the Run goroutine.
	current   *conn
	pending   *conn
	dialing   bool
	sessionID string
	keepalive time.Duration
	epoch     uint64
	subs      map[subKey]Subscription
	inflight  map[subKey]uint64
	failed    map[subKey]error
	waiting   []*waiter
}

// sessionCell pairs the deferred session id with a channel closed when the
// cell is replaced, so waiters move on to the live one.
type sessionCell struct {
	id       *deferred.Value[string]
	replaced chan struct{}
}

type waiter struct {
	keys  []subKey
	reply chan subscribeResult
}

type subscribeResult struct {
	subs []Subscription
	err  error
}

func NewManager(log *slog.Logger, cfg Config, api API, opts ...Option) *Manager {
	if log == nil {
		log = slog.Default()
	}
	m := &Manager{
		log:       log,
		cfg:       cfg.withDefaults(),
		api:       api,
		clock:     clock.Real(),
		listeners: NewListeners(),
		events:    make(chan event, eventQueueSize),
		done:      make(chan struct{}),
		subs:      make(map[subKey]Subscription),
		inflight:  make(map[subKey]uint64),
		failed:    make(map[subKey]error),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.timer = liveness.New("eventsub", m.cfg.KeepaliveGrace, m.clock, m.log)
	m.replaceSession(deferred.New[string]())
	m.snap.Store(newSnapshot("", nil))
	return m
}

func (m *Manager) Listeners() *Listeners { return m.listeners }

// Run dials the bus and processes events until ctx is done. A failed first
// dial is returned; later connection trouble is handled internally.
func (m *Manager) Run(ctx context.Context) error {
	if !m.running.CompareAndSwap(false, true) {
		return errors.New("eventsub: manager already running")
	}
	defer close(m.done)

	m.log.Info("eventsub.connect", "url", m.cfg.URL)
	c, err := m.dialConn(ctx, m.cfg.URL)
	if err != nil {
		return fmt.Errorf("eventsub: dial %s: %w", m.cfg.URL, err)
	}
	m.current = c
	m.metrics.ConnectionOpened()
	c.log.Info("eventsub.conn.open", "url", c.url)
	go m.read(ctx, c)

	for {
		select {
		case <-ctx.Done():
			m.shutdown()
			return nil
		case ev := <-m.events:
			m.handle(ctx, ev)
		}
	}
}

// SessionID blocks until a session is established and returns its id. A
// reconnect that starts while waiting moves the wait to the new session.
func (m *Manager) SessionID(ctx context.Context) (string, error) {
	for {
		cell := m.session.Load()
		select {
		case <-cell.id.Done():
			if m.session.Load() != cell {
				continue
			}
			id, _ := cell.id.Peek()
			return id, nil
		case <-cell.replaced:
		case <-ctx.Done():
			return "", ctx.Err()
		case <-m.done:
			return "", ErrClosed
		}
	}
}

// Connected reports whether a welcomed session is current.
func (m *Manager) Connected() bool { return m.snap.Load().sessionID != "" }

// Subscriptions returns the tracked subscriptions ordered by type and
// subject.
func (m *Manager) Subscriptions() []Subscription {
	return slices.Clone(m.snap.Load().subs)
}

// Subscribe tracks subType for every subject and waits until each has been
// registered on the current session or has failed. Failed subjects come
// back without an ExternalID, and the returned error joins their
// *CreateError values.
func (m *Manager) Subscribe(ctx context.Context, subType string, subjectIDs ...string) ([]Subscription, error) {
	if !supportedType(subType) {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, subType)
	}
	subjects := uniqueSubjects(subjectIDs)
	if len(subjects) == 0 {
		return nil, nil
	}

	reply := make(chan subscribeResult, 1)
	if err := m.request(ctx, subscribeRequest{subType: subType, subjects: subjects, reply: reply}); err != nil {
		return nil, err
	}
	select {
	case res := <-reply:
		return res.subs, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-m.done:
		return nil, ErrClosed
	}
}

// Unsubscribe stops tracking the subject and deletes its platform
// subscription when one is registered. Unknown subjects are a no-op.
func (m *Manager) Unsubscribe(ctx context.Context, subType, subjectID string) error {
	reply := make(chan unsubscribeResult, 1)
	if err := m.request(ctx, unsubscribeRequest{key: subKey{typ: subType, subject: subjectID}, reply: reply}); err != nil {
		return err
	}

	var res unsubscribeResult
	select {
	case res = <-reply:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
	if !res.ok || !res.sub.Registered() {
		return nil
	}
	if err := m.api.DeleteSubscription(ctx, res.sub.ExternalID); err != nil {
		return fmt.Errorf("eventsub: delete subscription %s: %w", res.sub.ExternalID, err)
	}
	return nil
}

// ---- events ----

type event interface{ isEvent() }

type inboundEvent struct {
	conn *conn
	msg  v1.Message
}

type connClosedEvent struct {
	conn *conn
	err  error
}

type dialedEvent struct {
	conn   *conn
	err    error
	url    string
	reason string
}

type expiredEvent struct{}

type subscribeRequest struct {
	subType  string
	subjects []string
	reply    chan subscribeResult
}

type unsubscribeRequest struct {
	key   subKey
	reply chan unsubscribeResult
}

type unsubscribeResult struct {
	sub Subscription
	ok  bool
}

type createResult struct {
	key        subKey
	externalID string
	err        error
}

type createdEvent struct {
	epoch     uint64
	sessionID string
	results   []createResult
}

func (inboundEvent) isEvent()       {}
func (connClosedEvent) isEvent()    {}
func (dialedEvent) isEvent()        {}
func (expiredEvent) isEvent()       {}
func (subscribeRequest) isEvent()   {}
func (unsubscribeRequest) isEvent() {}
func (createdEvent) isEvent()       {}

// post delivers an internal event. It reports false once Run has exited.
func (m *Manager) post(ev event) bool {
	select {
	case m.events <- ev:
		return true
	case <-m.done:
		return false
	}
}

func (m *Manager) request(ctx context.Context, ev event) error {
	select {
	case m.events <- ev:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.done:
		return ErrClosed
	}
}

func (m *Manager) expire() { m.post(expiredEvent{}) }

// ---- loop ----

func (m *Manager) handle(ctx context.Context, ev event) {
	switch ev := ev.(type) {
	case inboundEvent:
		m.onInbound(ctx, ev.conn, ev.msg)
	case connClosedEvent:
		m.onConnClosed(ev.conn, ev.err)
	case dialedEvent:
		m.onDialed(ctx, ev)
	case expiredEvent:
		m.onExpired(ctx)
	case subscribeRequest:
		m.onSubscribe(ctx, ev)
	case unsubscribeRequest:
		m.onUnsubscribe(ev)
	case createdEvent:
		m.onCreated(ctx, ev)
	}
}

func (m *Manager) onInbound(ctx context.Context, c *conn, msg v1.Message) {
	md := msg.Meta()
	if c != m.current && c != m.pending {
		c.log.Debug("eventsub.message.superseded", "type", md.MessageType, "message_id", md.MessageID)
		return
	}
	m.metrics.MessageReceived(md.MessageType)

	defer func() {
		if r := recover(); r != nil {
			m.metrics.HandlerPanic()
			c.log.Error("eventsub.handler.panic", "type", md.MessageType, "message_id", md.MessageID, "panic", r)
		}
	}()

	if _, ok := msg.(v1.Welcome); !ok {
		m.timer.Reset()
	}

	switch msg := msg.(type) {
	case v1.Welcome:
		m.onWelcome(ctx, c, msg)
	case v1.Keepalive:
	case v1.Reconnect:
		c.log.Info("eventsub.reconnect.requested", "url", msg.URL())
		m.beginReconnect(ctx, reasonServerReconnect, msg.URL())
	case v1.Notification:
		if err := m.listeners.dispatch(ctx, msg); err != nil {
			c.log.Warn("eventsub.notification.dropped", "type", msg.Subscription.Type, "message_id", md.MessageID, "err", err)
		}
	case v1.Revocation:
		m.onRevocation(msg)
	case v1.Unrecognized:
		c.log.Debug("eventsub.message.unrecognized", "type", md.MessageType)
	}
}

func (m *Manager) onWelcome(ctx context.Context, c *conn, w v1.Welcome) {
	if c == m.pending {
		if old := m.current; old != nil {
			old.close(websocket.StatusNormalClosure, "handover")
		}
		m.current, m.pending = c, nil
		m.metrics.HandoverCompleted()
		c.log.Info("eventsub.handover", "session_id", w.Session.ID)
	}

	m.epoch++
	m.sessionID = w.Session.ID
	m.keepalive = w.KeepaliveTimeout()
	if !m.session.Load().id.Resolve(w.Session.ID) {
		m.replaceSession(deferred.Resolved(w.Session.ID))
	}
	m.timer.Arm(m.keepalive, m.expire)
	c.log.Info("eventsub.welcome", "session_id", w.Session.ID, "keepalive", m.keepalive.String())

	m.clearExternalIDs()
	m.reconcile(ctx, nil)
	m.publish()
	m.flushWaiters()
}

func (m *Manager) onRevocation(r v1.Revocation) {
	typ := r.Subscription.Type
	if typ == "" {
		typ = r.Metadata.SubscriptionType
	}
	k := subKey{typ: typ, subject: r.Subscription.Condition.BroadcasterUserID}
	if _, ok := m.subs[k]; !ok {
		m.log.Debug("eventsub.revocation.untracked", "type", k.typ, "subject", k.subject)
		return
	}
	m.forget(k)
	m.log.Warn("eventsub.subscription.revoked", "type", k.typ, "subject", k.subject, "status", r.Subscription.Status)
	m.publish()
	m.flushWaiters()
}

func (m *Manager) onExpired(ctx context.Context) {
	m.log.Warn("eventsub.keepalive.expired", "session_id", m.sessionID)
	if p := m.pending; p != nil {
		p.log.Warn("eventsub.pending.abandoned")
		p.close(websocket.StatusGoingAway, "no welcome")
		m.pending = nil
	}
	m.beginReconnect(ctx, reasonKeepalive, m.cfg.URL)
}

// beginReconnect opens a replacement connection next to the current one.
// The current session is dropped right away: its deferred id is replaced
// and every external id is cleared so the welcome recreates them.
func (m *Manager) beginReconnect(ctx context.Context, reason, url string) {
	if m.dialing || m.pending != nil {
		m.log.Info("eventsub.reconnect.skipped", "reason", reason)
		return
	}
	if url == "" {
		url = m.cfg.URL
	}

	m.metrics.ReconnectStarted(reason)
	m.epoch++
	m.sessionID = ""
	m.replaceSession(deferred.New[string]())
	m.clearExternalIDs()
	m.publish()

	m.dialing = true
	m.log.Info("eventsub.reconnect.start", "reason", reason, "url", url)
	go func() {
		c, err := m.dialConn(ctx, url)
		if !m.post(dialedEvent{conn: c, err: err, url: url, reason: reason}) && c != nil {
			_ = c.ws.CloseNow()
		}
	}()
}

func (m *Manager) onDialed(ctx context.Context, ev dialedEvent) {
	m.dialing = false
	if ev.err != nil {
		m.log.Warn("eventsub.reconnect.dial_failed", "url", ev.url, "reason", ev.reason, "err", ev.err)
		// No connection came of it; the next expiry retries the dial.
		m.timer.Arm(m.keepalive, m.expire)
		return
	}

	c := ev.conn
	if m.current == nil {
		m.current = c
	} else {
		m.pending = c
	}
	m.metrics.ConnectionOpened()
	c.log.Info("eventsub.conn.open", "url", c.url, "pending", m.pending == c)

	// Liveness stays disarmed until this connection is welcomed or lost.
	go m.read(ctx, c)
}

func (m *Manager) onConnClosed(c *conn, err error) {
	kind := classifyReadErr(err)
	switch c {
	case m.current:
		m.current = nil
	case m.pending:
		m.pending = nil
	default:
		c.log.Debug("eventsub.conn.closed", "kind", kind.String())
		return
	}

	c.log.Warn("eventsub.conn.lost",
		"kind", kind.String(),
		"close_status", websocket.CloseStatus(err),
		"err", fmt.Errorf("%w: %w", ErrConnectionLost, err),
	)
	m.metrics.ConnectionLost(kind.String())
	if !m.dialing && !m.timer.Armed() {
		m.timer.Arm(m.keepalive, m.expire)
	}
}

// ---- subscriptions ----

func (m *Manager) onSubscribe(ctx context.Context, req subscribeRequest) {
	keys := make([]subKey, 0, len(req.subjects))
	for _, id := range req.subjects {
		k := subKey{typ: req.subType, subject: id}
		if _, ok := m.subs[k]; !ok {
			m.subs[k] = Subscription{Type: req.subType, SubjectID: id}
		}
		keys = append(keys, k)
	}
	m.waiting = append(m.waiting, &waiter{keys: keys, reply: req.reply})

	if m.sessionID != "" {
		m.reconcile(ctx, keys)
	}
	m.publish()
	m.flushWaiters()
}

func (m *Manager) onUnsubscribe(req unsubscribeRequest) {
	s, ok := m.subs[req.key]
	if ok {
		m.forget(req.key)
		m.log.Info("eventsub.subscription.removed", "type", s.Type, "subject", s.SubjectID, "external_id", s.ExternalID)
		m.publish()
	}
	req.reply <- unsubscribeResult{sub: s, ok: ok}
	m.flushWaiters()
}

// reconcile issues one create per subject that has no external id and no
// create in flight for the current session. A nil keys means every
// tracked subject.
func (m *Manager) reconcile(ctx context.Context, keys []subKey) {
	if keys == nil {
		keys = slices.Collect(maps.Keys(m.subs))
	}

	var todo []subKey
	for _, k := range keys {
		s, ok := m.subs[k]
		if !ok || s.Registered() || m.inflight[k] == m.epoch {
			continue
		}
		m.inflight[k] = m.epoch
		delete(m.failed, k)
		todo = append(todo, k)
	}
	if len(todo) == 0 {
		return
	}

	epoch, sessionID := m.epoch, m.sessionID
	m.log.Info("eventsub.reconcile", "session_id", sessionID, "creates", len(todo))
	go func() {
		results := make([]createResult, len(todo))
		var wg sync.WaitGroup
		for i, k := range todo {
			wg.Go(func() {
				cctx, cancel := context.WithTimeout(ctx, m.cfg.CreateTimeout)
				defer cancel()
				id, err := m.api.CreateSubscription(cctx, k.typ, k.subject, sessionID)
				results[i] = createResult{key: k, externalID: id, err: err}
			})
		}
		wg.Wait()
		m.post(createdEvent{epoch: epoch, sessionID: sessionID, results: results})
	}()
}

func (m *Manager) onCreated(ctx context.Context, ev createdEvent) {
	for _, r := range ev.results {
		if m.inflight[r.key] == ev.epoch {
			delete(m.inflight, r.key)
		}
		if ev.epoch != m.epoch {
			m.log.Info("eventsub.subscription.stale", "type", r.key.typ, "subject", r.key.subject, "session_id", ev.sessionID)
			continue
		}

		s, ok := m.subs[r.key]
		if !ok {
			// Unsubscribed while the create was in flight.
			if r.err == nil && r.externalID != "" {
				m.deleteDetached(ctx, r.externalID)
			}
			continue
		}
		if r.err == nil && r.externalID == "" {
			r.err = errors.New("empty subscription id")
		}
		if r.err != nil {
			err := &CreateError{Type: r.key.typ, SubjectID: r.key.subject, Err: r.err}
			m.failed[r.key] = err
			m.metrics.SubscriptionCreate(false)
			m.log.Error("eventsub.subscription.create_failed", "type", r.key.typ, "subject", r.key.subject, "err", err)
			continue
		}

		s.ExternalID = r.externalID
		m.subs[r.key] = s
		m.metrics.SubscriptionCreate(true)
		m.log.Info("eventsub.subscription.created", "type", s.Type, "subject", s.SubjectID, "external_id", s.ExternalID)
	}
	m.publish()
	m.flushWaiters()
}

func (m *Manager) deleteDetached(ctx context.Context, id string) {
	go func() {
		if err := m.api.DeleteSubscription(ctx, id); err != nil {
			m.log.Warn("eventsub.subscription.delete_failed", "external_id", id, "err", err)
		}
	}()
}

func (m *Manager) forget(k subKey) {
	delete(m.subs, k)
	delete(m.inflight, k)
	delete(m.failed, k)
}

func (m *Manager) clearExternalIDs() {
	for k, s := range m.subs {
		if s.ExternalID != "" {
			s.ExternalID = ""
			m.subs[k] = s
		}
	}
}

// flushWaiters answers every Subscribe call whose subjects have settled on
// the current session.
func (m *Manager) flushWaiters() {
	if m.sessionID == "" {
		return
	}
	kept := m.waiting[:0]
	for _, w := range m.waiting {
		if m.anyInflight(w.keys) {
			kept = append(kept, w)
			continue
		}
		w.reply <- m.result(w.keys)
	}
	clear(m.waiting[len(kept):])
	m.waiting = kept
}

func (m *Manager) anyInflight(keys []subKey) bool {
	for _, k := range keys {
		if m.inflight[k] == m.epoch {
			return true
		}
	}
	return false
}

func (m *Manager) result(keys []subKey) subscribeResult {
	var (
		res  subscribeResult
		errs []error
	)
	for _, k := range keys {
		s, ok := m.subs[k]
		if !ok {
			continue
		}
		res.subs = append(res.subs, s)
		if err := m.failed[k]; err != nil {
			errs = append(errs, err)
		}
	}
	res.err = errors.Join(errs...)
	return res
}

func (m *Manager) publish() {
	snap := newSnapshot(m.sessionID, m.subs)
	m.snap.Store(snap)

	registered := 0
	for _, s := range snap.subs {
		if s.Registered() {
			registered++
		}
	}
	m.metrics.SubscriptionsTracked(registered)
}

func (m *Manager) replaceSession(v *deferred.Value[string]) {
	next := &sessionCell{id: v, replaced: make(chan struct{})}
	if old := m.session.Swap(next); old != nil {
		close(old.replaced)
	}
}

func (m *Manager) shutdown() {
	m.timer.Stop()

	var wg sync.WaitGroup
	for _, c := range []*conn{m.current, m.pending} {
		if c == nil {
			continue
		}
		wg.Go(func() { _ = c.ws.Close(websocket.StatusNormalClosure, "shutdown") })
	}
	wg.Wait()
	m.current, m.pending = nil, nil
	m.log.Info("eventsub.shutdown", "subscriptions", len(m.subs))
}

func uniqueSubjects(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
