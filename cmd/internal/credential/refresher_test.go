package credential

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/clock"
)

type fakeExchanger struct {
	calls []string
	grant Grant
	err   error
}

func (f *fakeExchanger) RefreshToken(_ context.Context, refreshToken string) (Grant, error) {
	f.calls = append(f.calls, refreshToken)
	if f.err != nil {
		return Grant{}, f.err
	}
	return f.grant, nil
}

type failingPutStore struct {
	*MemoryStore
	err error
}

func (s failingPutStore) Put(context.Context, Credential) error { return s.err }

var testNow = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

func testLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func botCredential() Credential {
	return Credential{
		UserID:       "100",
		Login:        "doublecolonbot",
		DisplayName:  "DoubleColonBot",
		AccessToken:  "A1",
		RefreshToken: "R1",
		Scopes:       []string{"chat:read", "chat:edit"},
	}
}

func TestRefresher_ExchangesAndPersists(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(botCredential())
	priv := NewPrivileged("doublecolonbot", store)
	ex := &fakeExchanger{grant: Grant{AccessToken: "A2", RefreshToken: "R2", ExpiresIn: time.Hour, Scopes: []string{"chat:read"}}}
	r := NewRefresher(testLogger(), store, ex, priv, WithClock(clock.NewFake(testNow)))

	got, err := r.Refresh(ctx, botCredential())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.AccessToken != "A2" || got.RefreshToken != "R2" {
		t.Fatalf("Refresh returned %q/%q", got.AccessToken, got.RefreshToken)
	}
	if !got.ExpiresAt.Equal(testNow.Add(time.Hour)) {
		t.Fatalf("ExpiresAt=%v", got.ExpiresAt)
	}
	if len(ex.calls) != 1 || ex.calls[0] != "R1" {
		t.Fatalf("exchange calls=%v want [R1]", ex.calls)
	}

	stored, err := store.GetByUserID(ctx, "100")
	if err != nil {
		t.Fatalf("GetByUserID: %v", err)
	}
	if stored.AccessToken != "A2" || stored.RefreshToken != "R2" {
		t.Fatalf("stored %q/%q want A2/R2", stored.AccessToken, stored.RefreshToken)
	}

	cur, err := priv.Current(ctx)
	if err != nil || cur.AccessToken != "A2" {
		t.Fatalf("privileged current=%q err=%v want A2", cur.AccessToken, err)
	}
}

func TestRefresher_UnknownAccessTokenIsFatal(t *testing.T) {
	t.Parallel()

	store := NewMemoryStore()
	ex := &fakeExchanger{}
	r := NewRefresher(testLogger(), store, ex, nil)

	_, err := r.Refresh(context.Background(), Credential{AccessToken: "nope"})
	if !errors.Is(err, ErrRefreshFailed) || !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v want ErrRefreshFailed and ErrNotFound", err)
	}
	if !IsFatal(err) {
		t.Fatalf("IsFatal(%v)=false", err)
	}
	if len(ex.calls) != 0 {
		t.Fatalf("exchange called %d times", len(ex.calls))
	}
}

func TestRefresher_ExchangeFailureLeavesCredential(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := NewMemoryStore(botCredential())
	r := NewRefresher(testLogger(), store, &fakeExchanger{err: errors.New("invalid refresh token")}, nil)

	_, err := r.Refresh(ctx, botCredential())
	var rerr *RefreshError
	if !errors.As(err, &rerr) || rerr.Stage != "exchange" {
		t.Fatalf("err=%v want exchange RefreshError", err)
	}
	if IsFatal(err) {
		t.Fatalf("exchange failure reported as fatal")
	}

	stored, _ := store.GetByUserID(ctx, "100")
	if stored.AccessToken != "A1" || stored.RefreshToken != "R1" {
		t.Fatalf("credential changed to %q/%q", stored.AccessToken, stored.RefreshToken)
	}
}

func TestRefresher_PersistFailure(t *testing.T) {
	t.Parallel()

	store := failingPutStore{MemoryStore: NewMemoryStore(botCredential()), err: errors.New("disk full")}
	priv := NewPrivileged("doublecolonbot", store)
	ex := &fakeExchanger{grant: Grant{AccessToken: "A2", RefreshToken: "R2"}}
	r := NewRefresher(testLogger(), store, ex, priv)

	_, err := r.Refresh(context.Background(), botCredential())
	var rerr *RefreshError
	if !errors.As(err, &rerr) || rerr.Stage != "persist" {
		t.Fatalf("err=%v want persist RefreshError", err)
	}
	select {
	case <-priv.Ready():
		t.Fatalf("credential published despite persist failure")
	default:
	}
}

func TestRefresher_SkipsExchangeWhenAlreadyRotated(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	rotated := botCredential()
	rotated.AccessToken, rotated.RefreshToken = "A2", "R2"
	store := NewMemoryStore(rotated)
	ex := &fakeExchanger{}
	r := NewRefresher(testLogger(), store, ex, nil)

	got, err := r.Refresh(ctx, botCredential())
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got.AccessToken != "A2" {
		t.Fatalf("AccessToken=%q want A2", got.AccessToken)
	}
	if len(ex.calls) != 0 {
		t.Fatalf("exchange called %d times", len(ex.calls))
	}
}

func TestRefresher_OtherUserIsNotPublished(t *testing.T) {
	t.Parallel()

	viewer := Credential{UserID: "200", Login: "viewer", AccessToken: "V1", RefreshToken: "VR1"}
	store := NewMemoryStore(botCredential(), viewer)
	priv := NewPrivileged("doublecolonbot", store)
	ex := &fakeExchanger{grant: Grant{AccessToken: "V2", RefreshToken: "VR2"}}
	r := NewRefresher(testLogger(), store, ex, priv)

	if _, err := r.Refresh(context.Background(), viewer); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	cur, err := priv.Current(context.Background())
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if cur.AccessToken != "A1" {
		t.Fatalf("privileged token=%q want A1", cur.AccessToken)
	}
}

// gatedExchanger holds exchanges for refresh tokens listed in gates until
// the gate is closed.
type gatedExchanger struct {
	mu      sync.Mutex
	calls   []string
	gates   map[string]chan struct{}
	started chan string
}

func (g *gatedExchanger) RefreshToken(ctx context.Context, refreshToken string) (Grant, error) {
	g.mu.Lock()
	g.calls = append(g.calls, refreshToken)
	gate := g.gates[refreshToken]
	g.mu.Unlock()

	if g.started != nil {
		g.started <- refreshToken
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Grant{}, ctx.Err()
		}
	}
	return Grant{AccessToken: refreshToken + "-next-access", RefreshToken: refreshToken + "-next"}, nil
}

func (g *gatedExchanger) callCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func TestRefresher_SlowUserDoesNotBlockOthers(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	viewer := Credential{UserID: "200", Login: "viewer", AccessToken: "V1", RefreshToken: "VR1"}
	store := NewMemoryStore(botCredential(), viewer)
	gate := make(chan struct{})
	ex := &gatedExchanger{gates: map[string]chan struct{}{"VR1": gate}, started: make(chan string, 4)}
	r := NewRefresher(testLogger(), store, ex, nil)

	viewerDone := make(chan error, 1)
	go func() {
		_, err := r.Refresh(ctx, viewer)
		viewerDone <- err
	}()
	if got := <-ex.started; got != "VR1" {
		t.Fatalf("first exchange=%q want VR1", got)
	}

	got, err := r.Refresh(ctx, botCredential())
	if err != nil {
		t.Fatalf("bot Refresh while viewer blocked: %v", err)
	}
	if got.AccessToken != "R1-next-access" {
		t.Fatalf("bot AccessToken=%q", got.AccessToken)
	}

	close(gate)
	if err := <-viewerDone; err != nil {
		t.Fatalf("viewer Refresh: %v", err)
	}
}

func TestRefresher_ConcurrentSameUserExchangesOnce(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	store := NewMemoryStore(botCredential())
	gate := make(chan struct{})
	ex := &gatedExchanger{gates: map[string]chan struct{}{"R1": gate}, started: make(chan string, 8)}
	r := NewRefresher(testLogger(), store, ex, nil)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]Credential, callers)
	errs := make([]error, callers)
	for i := range callers {
		wg.Go(func() { results[i], errs[i] = r.Refresh(ctx, botCredential()) })
	}
	<-ex.started
	close(gate)
	wg.Wait()

	if n := ex.callCount(); n != 1 {
		t.Fatalf("exchanges=%d want 1", n)
	}
	for i := range callers {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if results[i].AccessToken != "R1-next-access" {
			t.Fatalf("caller %d AccessToken=%q", i, results[i].AccessToken)
		}
	}
	if len(r.users) != 0 {
		t.Fatalf("user locks left behind: %d", len(r.users))
	}
}
