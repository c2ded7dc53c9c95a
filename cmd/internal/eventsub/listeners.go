package eventsub

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"

	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

type (
	FollowListener       func(ctx context.Context, ev v1.FollowEvent)
	BanListener          func(ctx context.Context, ev v1.BanEvent)
	NotificationListener func(ctx context.Context, n v1.Notification)
)

// Listeners holds the notification callbacks. Callbacks run on the manager
// goroutine and must not block; hand long work to another goroutine.
type Listeners struct {
	mu     sync.RWMutex
	seq    uint64
	follow map[uint64]FollowListener
	ban    map[uint64]BanListener
	raw    map[uint64]NotificationListener
}

func NewListeners() *Listeners {
	return &Listeners{
		follow: make(map[uint64]FollowListener),
		ban:    make(map[uint64]BanListener),
		raw:    make(map[uint64]NotificationListener),
	}
}

// OnFollow registers fn for channel.follow events. The returned func
// removes it.
func (l *Listeners) OnFollow(fn FollowListener) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := l.seq
	l.follow[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.follow, id)
		l.mu.Unlock()
	}
}

func (l *Listeners) OnBan(fn BanListener) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := l.seq
	l.ban[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.ban, id)
		l.mu.Unlock()
	}
}

// OnNotification registers fn for every notification, before decoding.
func (l *Listeners) OnNotification(fn NotificationListener) (remove func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.seq++
	id := l.seq
	l.raw[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.raw, id)
		l.mu.Unlock()
	}
}

func (l *Listeners) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.follow) + len(l.ban) + len(l.raw)
}

// dispatch fans n out in registration order. Listener panics are left to
// the caller.
func (l *Listeners) dispatch(ctx context.Context, n v1.Notification) error {
	l.mu.RLock()
	raw := collect(l.raw)
	follow := collect(l.follow)
	ban := collect(l.ban)
	l.mu.RUnlock()

	for _, fn := range raw {
		fn(ctx, n)
	}

	switch n.Subscription.Type {
	case v1.SubscriptionFollow:
		if len(follow) == 0 {
			return nil
		}
		ev, err := n.FollowEvent()
		if err != nil {
			return fmt.Errorf("decode follow event: %w", err)
		}
		for _, fn := range follow {
			fn(ctx, ev)
		}
	case v1.SubscriptionBan:
		if len(ban) == 0 {
			return nil
		}
		ev, err := n.BanEvent()
		if err != nil {
			return fmt.Errorf("decode ban event: %w", err)
		}
		for _, fn := range ban {
			fn(ctx, ev)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedType, n.Subscription.Type)
	}
	return nil
}

func collect[F any](m map[uint64]F) []F {
	out := make([]F, 0, len(m))
	for _, id := range slices.Sorted(maps.Keys(m)) {
		out = append(out, m[id])
	}
	return out
}
