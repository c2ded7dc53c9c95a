// Package credential stores per-user platform tokens and keeps them fresh.
//
// Every authorized user has exactly one Credential. The bot account's
// credential is additionally published through Privileged so components
// acting as the bot always see the latest access token.
package credential

import (
	"slices"
	"strings"
	"time"
)

// Credential is an OAuth token pair bound to one platform user.
type Credential struct {
	UserID       string
	Login        string
	DisplayName  string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	ExpiresAt    time.Time
}

// Grant is the result of an authorization-code or refresh-token exchange.
type Grant struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    time.Duration
	Scopes       []string
	TokenType    string
}

// Apply returns a copy of c carrying the tokens from g.
func (c Credential) Apply(g Grant, now time.Time) Credential {
	next := c
	next.AccessToken = g.AccessToken
	next.RefreshToken = g.RefreshToken
	next.Scopes = slices.Clone(g.Scopes)
	next.ExpiresAt = time.Time{}
	if g.ExpiresIn > 0 {
		next.ExpiresAt = now.Add(g.ExpiresIn).UTC()
	}
	return next
}

// HasScope reports whether the credential was granted scope.
func (c Credential) HasScope(scope string) bool {
	return slices.Contains(c.Scopes, scope)
}

// Redacted is the log-safe form of a token.
func Redacted(token string) string {
	if len(token) <= 6 {
		return strings.Repeat("*", len(token))
	}
	return token[:3] + "…" + token[len(token)-3:]
}
