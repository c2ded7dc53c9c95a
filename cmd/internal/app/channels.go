package app

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/eventsub"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/helix"
	v1 "github.com/DJDavid98/DoubleColonBot/shared/contracts/eventsub/v1"
)

// maxUsersPerLookup is the platform's cap on ids/logins per users call.
const maxUsersPerLookup = 100

// subscriber is the part of eventsub.Manager the channel sync needs.
type subscriber interface {
	Subscribe(ctx context.Context, subType string, subjectIDs ...string) ([]eventsub.Subscription, error)
}

type credentialLister interface {
	List(ctx context.Context) ([]credential.Credential, error)
}

// channelSync keeps the subscription set in line with the authorized users
// and the configured channel list.
type channelSync struct {
	log        Logger
	subs       subscriber
	users      userLookup
	creds      credentialLister
	privileged *credential.Privileged
	types      []string
	logins     []string
	timeout    time.Duration

	mu   sync.Mutex
	base context.Context
}

func newChannelSync(log Logger, cfg Config, subs subscriber, users userLookup, creds credentialLister, privileged *credential.Privileged) *channelSync {
	var types []string
	if cfg.SubscribeFollows {
		types = append(types, v1.SubscriptionFollow)
	}
	if cfg.SubscribeBans {
		types = append(types, v1.SubscriptionBan)
	}
	return &channelSync{
		log:        log,
		subs:       subs,
		users:      users,
		creds:      creds,
		privileged: privileged,
		types:      types,
		logins:     normalizeLogins(cfg.Channels),
		timeout:    nonZeroDuration(cfg.APITimeout, 10*time.Second),
	}
}

// activate lets onAuthorized subscribe new users right away. Until then the
// startup sync is responsible for them.
func (s *channelSync) activate(ctx context.Context) {
	s.mu.Lock()
	s.base = ctx
	s.mu.Unlock()
}

func (s *channelSync) activeContext() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.base, s.base != nil && s.base.Err() == nil
}

// sync subscribes every configured type for every authorized user and every
// configured channel.
func (s *channelSync) sync(ctx context.Context) error {
	ids, err := s.broadcasterIDs(ctx)
	if len(ids) == 0 {
		if err != nil {
			return err
		}
		s.log.Warn("channels.sync.empty")
		return nil
	}
	return errors.Join(err, s.subscribe(ctx, ids...))
}

func (s *channelSync) broadcasterIDs(ctx context.Context) ([]string, error) {
	var errs []error
	var ids []string

	creds, err := s.creds.List(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("list credentials: %w", err))
	}
	for _, c := range creds {
		if c.UserID != "" {
			ids = append(ids, c.UserID)
		}
	}

	resolved, err := s.resolveLogins(ctx)
	if err != nil {
		errs = append(errs, err)
	}
	ids = append(ids, resolved...)

	slices.Sort(ids)
	return slices.Compact(ids), errors.Join(errs...)
}

// resolveLogins maps the configured channel logins to user ids as the bot.
// Unknown logins are logged and skipped.
func (s *channelSync) resolveLogins(ctx context.Context) ([]string, error) {
	if len(s.logins) == 0 {
		return nil, nil
	}
	bot, err := s.privileged.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("resolve channels: %w", err)
	}

	found := make(map[string]string, len(s.logins))
	for chunk := range slices.Chunk(s.logins, maxUsersPerLookup) {
		cctx, cancel := context.WithTimeout(ctx, s.timeout)
		users, err := s.users.Users(cctx, bot, helix.UsersParams{Logins: chunk})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("resolve channels: %w", err)
		}
		for _, u := range users {
			found[strings.ToLower(u.Login)] = u.ID
		}
	}

	ids := make([]string, 0, len(found))
	for _, login := range s.logins {
		id, ok := found[login]
		if !ok {
			s.log.Warn("channels.login.unknown", "login", login)
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *channelSync) subscribe(ctx context.Context, ids ...string) error {
	var errs []error
	for _, typ := range s.types {
		subs, err := s.subs.Subscribe(ctx, typ, ids...)
		registered := 0
		for _, sub := range subs {
			if sub.Registered() {
				registered++
			}
		}
		if err != nil {
			s.log.Warn("channels.subscribe.partial", "type", typ, "registered", registered, "requested", len(ids), "err", err)
			errs = append(errs, err)
			continue
		}
		s.log.Info("channels.subscribe.ok", "type", typ, "registered", registered)
	}
	return errors.Join(errs...)
}

// onAuthorized is the OAuth hook: a freshly authorized user gets their
// channel watched without waiting for a restart.
func (s *channelSync) onAuthorized(_ context.Context, c credential.Credential) {
	base, ok := s.activeContext()
	if !ok || c.UserID == "" {
		return
	}
	go func() {
		if err := s.subscribe(base, c.UserID); err != nil {
			s.log.Warn("channels.authorized.subscribe_failed", "user_id", c.UserID, "login", c.Login, "err", err)
		}
	}()
}

func normalizeLogins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, l := range in {
		l = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(l), "#")))
		if l != "" {
			out = append(out, l)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

// installListeners logs every follow and ban the bot sees.
func installListeners(log Logger, l *eventsub.Listeners) {
	l.OnFollow(func(_ context.Context, ev v1.FollowEvent) {
		log.Info("channel.follow",
			"broadcaster", ev.BroadcasterUserLogin,
			"user", ev.UserLogin,
			"followed_at", ev.FollowedAt,
		)
	})
	l.OnBan(func(_ context.Context, ev v1.BanEvent) {
		log.Info("channel.ban",
			"broadcaster", ev.BroadcasterUserLogin,
			"user", ev.UserLogin,
			"moderator", ev.ModeratorUserLogin,
			"permanent", ev.IsPermanent,
			"reason", ev.Reason,
		)
	})
}
