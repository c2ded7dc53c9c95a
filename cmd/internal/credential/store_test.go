package credential

import (
	"context"
	"errors"
	"testing"
)

func TestMemoryStore_Lookups(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Put(ctx, botCredential()); err != nil {
		t.Fatalf("Put: %v", err)
	}

	cases := []struct {
		name string
		get  func() (Credential, error)
	}{
		{"by id", func() (Credential, error) { return s.GetByUserID(ctx, "100") }},
		{"by login", func() (Credential, error) { return s.GetByLogin(ctx, "DoubleColonBot") }},
		{"by token", func() (Credential, error) { return s.GetByAccessToken(ctx, "A1") }},
	}
	for _, tc := range cases {
		c, err := tc.get()
		if err != nil {
			t.Fatalf("%s: %v", tc.name, err)
		}
		if c.UserID != "100" {
			t.Fatalf("%s: UserID=%q", tc.name, c.UserID)
		}
	}

	if _, err := s.GetByAccessToken(ctx, ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("empty token err=%v want ErrNotFound", err)
	}
	if _, err := s.GetByUserID(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing id err=%v want ErrNotFound", err)
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := NewMemoryStore(botCredential())
	c, _ := s.GetByUserID(ctx, "100")
	c.Scopes[0] = "tampered"

	again, _ := s.GetByUserID(ctx, "100")
	if again.Scopes[0] != "chat:read" {
		t.Fatalf("store mutated through returned value: %v", again.Scopes)
	}
}

func TestPrivileged_CurrentLoadsFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	p := NewPrivileged("DoubleColonBot", NewMemoryStore())
	if _, err := p.Current(ctx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Current err=%v want ErrNotFound", err)
	}

	store := NewMemoryStore(botCredential())
	p = NewPrivileged("DoubleColonBot", store)
	c, err := p.Current(ctx)
	if err != nil || c.AccessToken != "A1" {
		t.Fatalf("Current=%q,%v", c.AccessToken, err)
	}
	select {
	case <-p.Ready():
	default:
		t.Fatalf("Ready not closed after load")
	}
}

func TestPrivileged_PublishIgnoresOtherUsers(t *testing.T) {
	t.Parallel()

	p := NewPrivileged("doublecolonbot", NewMemoryStore())
	if p.Publish(Credential{UserID: "7", Login: "someone"}) {
		t.Fatalf("Publish accepted a different user")
	}
	if !p.Publish(botCredential()) {
		t.Fatalf("Publish rejected the bot credential")
	}
}
