// Package upstream integrates the broker with its upstream identity
// provider. The broker never refreshes upstream credentials itself; it
// only asks the provider whether a credential is still live and, on
// logout, asks it to revoke.
package upstream

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/louisbranch/ssobroker/internal/platform/timeouts"
)

const (
	googleTokenInfoURL = "https://oauth2.googleapis.com/tokeninfo"
	googleRevokeURL    = "https://oauth2.googleapis.com/revoke"
)

// Checker reports whether an upstream access credential is still live.
type Checker interface {
	CheckLiveness(ctx context.Context, accessCredential string) bool
}

// Revoker asks the upstream provider to invalidate a credential.
type Revoker interface {
	Revoke(ctx context.Context, credential string) bool
}

// Google talks to Google's token introspection and revocation endpoints.
//
// Both calls are advisory. A network fault or provider outage answers
// false rather than surfacing an error, so callers decide the policy:
// verification treats false as a dead upstream session, logout treats
// false as best-effort revocation that simply did not land.
type Google struct {
	httpClient   *http.Client
	tokenInfoURL string
	revokeURL    string
}

// Option adjusts a Google client. Options exist for tests; production
// callers use NewGoogle with no options.
type Option func(*Google)

// WithHTTPClient overrides the HTTP client used for provider calls.
func WithHTTPClient(client *http.Client) Option {
	return func(g *Google) {
		g.httpClient = client
	}
}

// WithBaseURL points both provider endpoints at a test server.
func WithBaseURL(baseURL string) Option {
	return func(g *Google) {
		trimmed := strings.TrimSuffix(baseURL, "/")
		g.tokenInfoURL = trimmed + "/tokeninfo"
		g.revokeURL = trimmed + "/revoke"
	}
}

// NewGoogle creates a Google upstream client.
func NewGoogle(opts ...Option) *Google {
	g := &Google{
		httpClient:   &http.Client{Timeout: timeouts.UpstreamRequest},
		tokenInfoURL: googleTokenInfoURL,
		revokeURL:    googleRevokeURL,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// CheckLiveness asks Google whether an access credential is still valid.
// Any transport failure or non-200 answer reads as not live.
func (g *Google) CheckLiveness(ctx context.Context, accessCredential string) bool {
	if accessCredential == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.UpstreamRequest)
	defer cancel()

	endpoint := g.tokenInfoURL + "?access_token=" + url.QueryEscape(accessCredential)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer drainAndClose(resp.Body)

	return resp.StatusCode == http.StatusOK
}

// Revoke asks Google to invalidate a credential. Failures are swallowed;
// the return value only feeds audit details.
func (g *Google) Revoke(ctx context.Context, credential string) bool {
	if credential == "" {
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, timeouts.UpstreamRequest)
	defer cancel()

	form := url.Values{"token": {credential}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.revokeURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.httpClient.Do(req)
	if err != nil {
		return false
	}
	defer drainAndClose(resp.Body)

	return resp.StatusCode == http.StatusOK
}

func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, io.LimitReader(body, 4096))
	_ = body.Close()
}
