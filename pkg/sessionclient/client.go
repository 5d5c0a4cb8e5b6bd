// Package sessionclient is the single HTTP entry point a storefront front-end
// uses to call the API. It holds the access credential, attaches it to
// requests, and renews it through the refresh cookie: ahead of time when the
// credential is about to expire, and after a 401 otherwise. Concurrent
// renewals collapse into one refresh call.
package sessionclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/utafrali/storefront/pkg/credential"
	"github.com/utafrali/storefront/pkg/httpclient"
	"github.com/utafrali/storefront/pkg/logger"
)

const (
	DefaultRefreshTimeout    = 10 * time.Second
	DefaultRefreshCookieName = "refresh_token"
	DefaultAuthPath          = "/api/v1/auth"

	maxResponseBody = 10 << 20
)

// Config configures a Client.
type Config struct {
	// BaseURL is the API origin, for example "https://shop.example.com".
	BaseURL string

	// AuthPath prefixes the login, refresh, logout and verify endpoints and is
	// also the path the refresh cookie is scoped to.
	AuthPath string

	RefreshCookieName string

	// RefreshThreshold is how close to expiry the access credential may get
	// before a request renews it first.
	RefreshThreshold time.Duration

	// RefreshTimeout bounds each refresh call. It is applied independently
	// of the context of the request that triggered the refresh.
	RefreshTimeout time.Duration

	HTTP httpclient.Config

	// CircuitBreaker wraps the transport in a breaker when set.
	CircuitBreaker *httpclient.CircuitBreakerConfig
}

// DefaultConfig returns a Config for baseURL with the package defaults.
func DefaultConfig(baseURL string) Config {
	httpCfg := httpclient.DefaultConfig()
	httpCfg.Timeout = 15 * time.Second
	return Config{
		BaseURL:           baseURL,
		AuthPath:          DefaultAuthPath,
		RefreshCookieName: DefaultRefreshCookieName,
		RefreshThreshold:  credential.DefaultRefreshThreshold,
		RefreshTimeout:    DefaultRefreshTimeout,
		HTTP:              httpCfg,
	}
}

// Option customizes a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithTokenStore replaces the in-memory access credential store.
func WithTokenStore(s TokenStore) Option {
	return func(c *Client) { c.store = s }
}

// WithCodec sets the clock used for expiry decisions.
func WithCodec(codec credential.Codec) Option {
	return func(c *Client) { c.codec = codec }
}

// WithJar replaces the cookie jar that carries the refresh cookie.
func WithJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// Client dispatches API requests on behalf of one session. It is safe for
// concurrent use.
type Client struct {
	cfg     Config
	baseURL *url.URL
	doer    httpclient.Doer
	jar     http.CookieJar
	store   TokenStore
	codec   credential.Codec
	logger  *slog.Logger

	flight singleflight.Group

	hooksMu sync.Mutex
	hooks   map[int]func(error)
	nextID  int
}

// New builds a Client for cfg.
func New(cfg Config, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("base url %q must be absolute", cfg.BaseURL)
	}
	if cfg.AuthPath == "" {
		cfg.AuthPath = DefaultAuthPath
	}
	if cfg.RefreshCookieName == "" {
		cfg.RefreshCookieName = DefaultRefreshCookieName
	}
	if cfg.RefreshThreshold <= 0 {
		cfg.RefreshThreshold = credential.DefaultRefreshThreshold
	}
	if cfg.RefreshTimeout <= 0 {
		cfg.RefreshTimeout = DefaultRefreshTimeout
	}

	c := &Client{
		cfg:     cfg,
		baseURL: base,
		store:   NewMemoryStore(),
		logger:  logger.Nop(),
		hooks:   make(map[int]func(error)),
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, fmt.Errorf("create cookie jar: %w", err)
		}
		c.jar = jar
	}

	httpCfg := cfg.HTTP
	httpCfg.Jar = c.jar
	transport := httpclient.New(httpCfg)
	c.doer = transport
	if cfg.CircuitBreaker != nil {
		c.doer = httpclient.NewCircuitBreakerClient(transport, *cfg.CircuitBreaker, c.logger)
	}

	return c, nil
}

// Get sends a GET request.
func (c *Client) Get(ctx context.Context, path string) (*Response, error) {
	return c.Dispatch(ctx, http.MethodGet, path, nil)
}

// Post sends body as JSON.
func (c *Client) Post(ctx context.Context, path string, body any) (*Response, error) {
	return c.Dispatch(ctx, http.MethodPost, path, body)
}

// Put sends body as JSON.
func (c *Client) Put(ctx context.Context, path string, body any) (*Response, error) {
	return c.Dispatch(ctx, http.MethodPut, path, body)
}

// Patch sends body as JSON.
func (c *Client) Patch(ctx context.Context, path string, body any) (*Response, error) {
	return c.Dispatch(ctx, http.MethodPatch, path, body)
}

// Delete sends a DELETE request.
func (c *Client) Delete(ctx context.Context, path string) (*Response, error) {
	return c.Dispatch(ctx, http.MethodDelete, path, nil)
}

// Dispatch sends one API request. A non-nil body is encoded as JSON.
//
// An access credential close to expiry is renewed before sending; if that
// fails the request still goes out with the old credential. A 401 while a
// refresh cookie is held triggers a shared refresh and a single resend.
// Non-2xx replies come back as *RequestError, and a failed refresh as
// *RefreshError.
func (c *Client) Dispatch(ctx context.Context, method, path string, body any) (*Response, error) {
	target, err := c.resolve(path)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}

	var payload []byte
	if body != nil {
		if payload, err = json.Marshal(body); err != nil {
			return nil, &RequestError{Method: method, Path: path, Err: fmt.Errorf("encode body: %w", err)}
		}
	}

	token := c.store.Get()
	if token != "" && c.codec.ShouldRefresh(token, c.cfg.RefreshThreshold) {
		if renewed, err := c.refresh(ctx, triggerProactive); err != nil {
			c.logger.WarnContext(ctx, "proactive refresh failed, sending with current credential",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		} else {
			token = renewed
		}
	}

	resp, err := c.send(ctx, method, target, payload, token)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}

	if resp.Status == http.StatusUnauthorized && !c.isAuthEndpoint(target) && c.HasRefreshCookie() {
		return c.retryAfterRefresh(ctx, method, path, target, payload, token)
	}

	return c.finish(method, path, resp)
}

// retryAfterRefresh renews the credential and resends the request once. A
// second 401 is returned to the caller as is.
func (c *Client) retryAfterRefresh(ctx context.Context, method, path string, target *url.URL, payload []byte, sentWith string) (*Response, error) {
	// Another caller may have renewed the credential while this request
	// was in flight. Resend with that one instead of refreshing again.
	token := c.store.Get()
	if token == "" || token == sentWith || c.codec.IsExpired(token) {
		renewed, err := c.refresh(ctx, triggerReactive)
		if err != nil {
			return nil, err
		}
		token = renewed
	}

	resp, err := c.send(ctx, method, target, payload, token)
	if err != nil {
		return nil, &RequestError{Method: method, Path: path, Err: err}
	}
	return c.finish(method, path, resp)
}

func (c *Client) finish(method, path string, resp *Response) (*Response, error) {
	if resp.Status < 200 || resp.Status > 299 {
		return nil, &RequestError{
			Method: method,
			Path:   path,
			Status: resp.Status,
			Body:   parseErrorBody(resp.Body),
		}
	}
	return resp, nil
}

// send performs one network round trip. The bearer header is attached only
// for a credential not yet known to be expired.
func (c *Client) send(ctx context.Context, method string, target *url.URL, payload []byte, token string) (*Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" && !c.codec.IsExpired(token) {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	httpResp, err := c.doer.Do(ctx, req)
	if err != nil {
		var srvErr *httpclient.ServerError
		if errors.As(err, &srvErr) {
			return &Response{Status: srvErr.StatusCode, Header: srvErr.Header, Body: srvErr.Body}, nil
		}
		return nil, err
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBody))
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}
	return &Response{Status: httpResp.StatusCode, Header: httpResp.Header, Body: raw}, nil
}

func (c *Client) resolve(path string) (*url.URL, error) {
	ref, err := url.Parse(path)
	if err != nil {
		return nil, fmt.Errorf("parse path: %w", err)
	}
	return c.baseURL.ResolveReference(ref), nil
}

func (c *Client) endpoint(name string) *url.URL {
	u := *c.baseURL
	u.Path = c.cfg.AuthPath + "/" + name
	u.RawQuery = ""
	return &u
}

// isAuthEndpoint reports whether target is an endpoint whose 401 means bad
// credentials rather than an expired access credential.
func (c *Client) isAuthEndpoint(target *url.URL) bool {
	switch target.Path {
	case c.endpoint("login").Path, c.endpoint("register").Path,
		c.endpoint("refresh").Path, c.endpoint("logout").Path:
		return true
	}
	return false
}

// AccessToken returns the held access credential, or "".
func (c *Client) AccessToken() string {
	return c.store.Get()
}

// HasRefreshCookie reports whether the cookie jar holds a refresh cookie for
// the refresh endpoint.
func (c *Client) HasRefreshCookie() bool {
	return c.RefreshCookie() != ""
}

// RefreshCookie returns the refresh cookie the jar would send to the refresh
// endpoint, or "".
func (c *Client) RefreshCookie() string {
	for _, ck := range c.jar.Cookies(c.endpoint("refresh")) {
		if ck.Name == c.cfg.RefreshCookieName && ck.Value != "" {
			return ck.Value
		}
	}
	return ""
}

// SetRefreshCookie puts value in the jar scoped to AuthPath, the way the
// server sets it. It is meant for restoring a previously saved session.
func (c *Client) SetRefreshCookie(value string) {
	c.jar.SetCookies(c.endpoint("refresh"), []*http.Cookie{{
		Name:     c.cfg.RefreshCookieName,
		Value:    value,
		Path:     c.cfg.AuthPath,
		HttpOnly: true,
	}})
}

// Jar returns the cookie jar carrying the refresh cookie.
func (c *Client) Jar() http.CookieJar {
	return c.jar
}

// SetAccessToken replaces the held access credential. It is meant for
// restoring a previously saved session.
func (c *Client) SetAccessToken(token string) {
	c.store.Set(token)
}

// clearCredentials forgets the access credential and expires the refresh
// cookie in the local jar. The server-side row is left to the server.
func (c *Client) clearCredentials() {
	c.store.Clear()
	c.jar.SetCookies(c.endpoint("refresh"), []*http.Cookie{{
		Name:   c.cfg.RefreshCookieName,
		Value:  "",
		Path:   c.cfg.AuthPath,
		MaxAge: -1,
	}})
}
