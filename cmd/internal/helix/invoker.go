// Package helix calls the platform's REST API on behalf of a stored user
// credential, refreshing the access token once when it is rejected.
package helix

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DJDavid98/DoubleColonBot/cmd/internal/credential"
	"github.com/DJDavid98/DoubleColonBot/cmd/internal/metrics"
)

const DefaultBaseURL = "https://api.twitch.tv/helix"

const maxResponseBytes = 4 << 20

// HTTPDoer is satisfied by *http.Client.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Refresher replaces a credential whose access token was rejected.
type Refresher interface {
	Refresh(ctx context.Context, stale credential.Credential) (credential.Credential, error)
}

type Config struct {
	BaseURL  string
	ClientID string
}

// Response is a fully read API response.
type Response struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

type callOptions struct {
	refresh bool
}

type CallOption func(*callOptions)

// WithoutRefresh surfaces a 401 immediately instead of refreshing. Used
// for tokens that were just issued.
func WithoutRefresh() CallOption {
	return func(o *callOptions) { o.refresh = false }
}

// Invoker issues authenticated API calls.
type Invoker struct {
	log       *slog.Logger
	cfg       Config
	http      HTTPDoer
	refresher Refresher
	metrics   *metrics.Metrics
}

func NewInvoker(log *slog.Logger, cfg Config, httpClient HTTPDoer, refresher Refresher, m *metrics.Metrics) *Invoker {
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
	return &Invoker{log: log, cfg: cfg, http: httpClient, refresher: refresher, metrics: m}
}

// Call performs ep with params using cred's access token. On a 401 the
// credential is refreshed and the identical request is sent once more with
// the new token; a second 401 is returned to the caller. Any non-2xx
// response comes back together with a *StatusError.
func (i *Invoker) Call(ctx context.Context, ep Endpoint, params any, cred credential.Credential, opts ...CallOption) (*Response, error) {
	o := callOptions{refresh: i.refresher != nil}
	for _, opt := range opts {
		opt(&o)
	}

	req, err := buildRequest(ep, params)
	if err != nil {
		return nil, err
	}

	res, err := i.send(ctx, ep, req, cred.AccessToken)
	if err != nil {
		return nil, err
	}
	if res.StatusCode != http.StatusUnauthorized || !o.refresh {
		return res, checkStatus(ep, res)
	}

	i.log.Info("helix.call.unauthorized_refreshing", "endpoint", string(ep), "user_id", cred.UserID)
	fresh, err := i.refresher.Refresh(ctx, cred)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ep, err)
	}

	res, err = i.send(ctx, ep, req, fresh.AccessToken)
	if err != nil {
		return nil, err
	}
	return res, checkStatus(ep, res)
}

func (i *Invoker) send(ctx context.Context, ep Endpoint, r request, accessToken string) (*Response, error) {
	var body io.Reader
	if r.body != nil {
		body = bytes.NewReader(r.body)
	}
	req, err := http.NewRequestWithContext(ctx, r.method, i.cfg.BaseURL+r.path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Client-Id", i.cfg.ClientID)
	if r.contentType != "" {
		req.Header.Set("Content-Type", r.contentType)
	}

	start := time.Now()
	httpRes, err := i.http.Do(req)
	if err != nil {
		i.metrics.APICall(string(ep), 0)
		i.log.Warn("helix.call.transport_error", "endpoint", string(ep), "method", r.method, "err", err)
		return nil, fmt.Errorf("%s: %w", ep, err)
	}
	defer func() { _ = httpRes.Body.Close() }()

	b, err := io.ReadAll(io.LimitReader(httpRes.Body, maxResponseBytes))
	if err != nil {
		i.metrics.APICall(string(ep), 0)
		return nil, fmt.Errorf("%s: read body: %w", ep, err)
	}

	i.metrics.APICall(string(ep), httpRes.StatusCode)
	i.log.Debug("helix.call",
		"endpoint", string(ep),
		"method", r.method,
		"status", httpRes.StatusCode,
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &Response{StatusCode: httpRes.StatusCode, Header: httpRes.Header, Body: b}, nil
}

func checkStatus(ep Endpoint, res *Response) error {
	if res.StatusCode >= 200 && res.StatusCode <= 299 {
		return nil
	}
	return &StatusError{Endpoint: ep, StatusCode: res.StatusCode, Body: strings.TrimSpace(string(res.Body))}
}
