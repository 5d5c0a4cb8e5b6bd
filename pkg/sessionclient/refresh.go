package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

const (
	triggerProactive = "proactive"
	triggerReactive  = "reactive"
	triggerExplicit  = "explicit"

	refreshFlightKey = "refresh"
)

// TokenPair is the credential payload returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
	ExpiresIn    int64  `json:"expires_in,omitempty"`
}

// Refresh renews the access credential now and returns it. It joins a
// refresh already in flight instead of starting another.
func (c *Client) Refresh(ctx context.Context) (string, error) {
	return c.refresh(ctx, triggerExplicit)
}

// refresh runs at most one refresh call at a time. Every caller that arrives
// while one is in flight receives that call's result. The call itself runs
// detached from ctx under RefreshTimeout, so a caller giving up early
// neither cancels it for the others nor leaves it hanging.
func (c *Client) refresh(ctx context.Context, trigger string) (string, error) {
	refreshWaiters.WithLabelValues(trigger).Inc()

	detached := context.WithoutCancel(ctx)
	ch := c.flight.DoChan(refreshFlightKey, func() (any, error) {
		return c.refreshOnce(detached, trigger)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	case <-ctx.Done():
		return "", &RequestError{
			Method: http.MethodPost,
			Path:   c.endpoint("refresh").Path,
			Err:    fmt.Errorf("waiting for refresh: %w", ctx.Err()),
		}
	}
}

func (c *Client) refreshOnce(ctx context.Context, trigger string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	token, err := c.callRefresh(ctx)
	if err != nil {
		refreshCalls.WithLabelValues(trigger, "failure").Inc()
		rerr := &RefreshError{Err: err}
		c.endSession(ctx, rerr)
		return "", rerr
	}

	refreshCalls.WithLabelValues(trigger, "success").Inc()
	c.store.Set(token)
	c.logger.DebugContext(ctx, "access credential refreshed", slog.String("trigger", trigger))
	return token, nil
}

// callRefresh posts to the refresh endpoint. The secret travels only as the
// cookie; a rotated cookie comes back through Set-Cookie into the jar.
func (c *Client) callRefresh(ctx context.Context) (string, error) {
	target := c.endpoint("refresh")
	resp, err := c.send(ctx, http.MethodPost, target, []byte("{}"), "")
	if err != nil {
		return "", err
	}
	if resp.Status < 200 || resp.Status > 299 {
		return "", &RequestError{
			Method: http.MethodPost,
			Path:   target.Path,
			Status: resp.Status,
			Body:   parseErrorBody(resp.Body),
		}
	}

	var pair TokenPair
	if err := resp.DecodeData(&pair); err != nil {
		return "", err
	}
	if pair.AccessToken == "" {
		return "", errors.New("refresh response carried no access token")
	}
	return pair.AccessToken, nil
}

// endSession discards both credentials and notifies session-ended hooks.
func (c *Client) endSession(ctx context.Context, cause error) {
	c.clearCredentials()
	sessionsEnded.Inc()
	c.logger.InfoContext(ctx, "session ended", slog.String("cause", cause.Error()))

	c.hooksMu.Lock()
	hooks := make([]func(error), 0, len(c.hooks))
	for _, h := range c.hooks {
		hooks = append(hooks, h)
	}
	c.hooksMu.Unlock()

	for _, h := range hooks {
		h(cause)
	}
}

// OnSessionEnded registers fn to run after a failed refresh has cleared the
// session. The returned function unregisters it.
func (c *Client) OnSessionEnded(fn func(error)) (unsubscribe func()) {
	c.hooksMu.Lock()
	id := c.nextID
	c.nextID++
	c.hooks[id] = fn
	c.hooksMu.Unlock()

	return func() {
		c.hooksMu.Lock()
		delete(c.hooks, id)
		c.hooksMu.Unlock()
	}
}
