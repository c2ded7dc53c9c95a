// Package oauth implements the authorization-code flow against the
// platform's identity service: authorize URLs, state values, token
// exchange and the HTTP endpoints users are redirected through.
package oauth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
)

const DefaultBaseURL = "https://id.twitch.tv/oauth2"

// Scopes requested from every user authorizing the bot.
var DefaultScopes = []string{
	"channel:manage:broadcast",
	"chat:read",
	"chat:edit",
	"moderator:read:followers",
}

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	Scopes       []string
}

// Client talks to the token and authorize endpoints.
type Client struct {
	log  *slog.Logger
	cfg  Config
	http HTTPDoer
}

func NewClient(log *slog.Logger, cfg Config, httpClient HTTPDoer) *Client {
	if log == nil {
		log = slog.Default()
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	return &Client{log: log, cfg: cfg, http: httpClient}
}

// AuthorizeURL is where a user is sent to grant the bot access.
func (c *Client) AuthorizeURL(state string) string {
	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("state", state)
	return c.cfg.BaseURL + "/authorize?" + q.Encode()
}

// ExchangeCode trades an authorization code for a token pair.
func (c *Client) ExchangeCode(ctx context.Context, code string) (credential.Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	return c.token(ctx, form)
}

// RefreshToken trades a refresh token for a new token pair.
func (c *Client) RefreshToken(ctx context.Context, refreshToken string) (credential.Grant, error) {
	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", refreshToken)
	return c.token(ctx, form)
}

type tokenResponse struct {
	AccessToken  string   `json:"access_token"`
	RefreshToken string   `json:"refresh_token"`
	ExpiresIn    int64    `json:"expires_in"`
	Scope        []string `json:"scope"`
	TokenType    string   `json:"token_type"`
}

func (c *Client) token(ctx context.Context, form url.Values) (credential.Grant, error) {
	form.Set("client_id", c.cfg.ClientID)
	form.Set("client_secret", c.cfg.ClientSecret)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/token", strings.NewReader(form.Encode()))
	if err != nil {
		return credential.Grant{}, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	grantType := form.Get("grant_type")
	start := time.Now()
	res, err := c.http.Do(req)
	if err != nil {
		c.log.Error("oauth.token.transport_error", "grant_type", grantType, "err", err)
		return credential.Grant{}, fmt.Errorf("oauth token request: %w", err)
	}
	defer func() { _ = res.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(res.Body, 1<<20))
	if err != nil {
		return credential.Grant{}, fmt.Errorf("oauth token response: %w", err)
	}
	c.log.Debug("oauth.token.response",
		"grant_type", grantType,
		"status", res.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return credential.Grant{}, &TokenError{StatusCode: res.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return credential.Grant{}, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}
	if tr.AccessToken == "" || tr.RefreshToken == "" || tr.ExpiresIn <= 0 {
		return credential.Grant{}, fmt.Errorf("%w: missing access_token, refresh_token or expires_in", ErrMalformedToken)
	}

	return credential.Grant{
		AccessToken:  tr.AccessToken,
		RefreshToken: tr.RefreshToken,
		ExpiresIn:    time.Duration(tr.ExpiresIn) * time.Second,
		Scopes:       tr.Scope,
		TokenType:    tr.TokenType,
	}, nil
}
