package sessionclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// User is the account projection returned by the auth endpoints.
type User struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// AuthResult is the payload of a successful login or registration.
type AuthResult struct {
	User   User      `json:"user"`
	Tokens TokenPair `json:"tokens"`
}

// VerifyResult reports whether the held access credential is accepted.
type VerifyResult struct {
	Valid bool  `json:"valid"`
	User  *User `json:"user,omitempty"`
}

// Registration holds the fields needed to create an account.
type Registration struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// Login exchanges a password for credentials. The access credential is held
// by the client; the refresh cookie lands in the jar.
func (c *Client) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	return c.authenticate(ctx, "login", map[string]string{"email": email, "password": password})
}

// Register creates an account and starts a session for it.
func (c *Client) Register(ctx context.Context, reg Registration) (*AuthResult, error) {
	return c.authenticate(ctx, "register", reg)
}

func (c *Client) authenticate(ctx context.Context, endpoint string, body any) (*AuthResult, error) {
	resp, err := c.Dispatch(ctx, http.MethodPost, c.endpoint(endpoint).Path, body)
	if err != nil {
		return nil, err
	}

	var result AuthResult
	if err := resp.DecodeData(&result); err != nil {
		return nil, fmt.Errorf("%s: %w", endpoint, err)
	}
	if result.Tokens.AccessToken == "" {
		return nil, fmt.Errorf("%s: response carried no access token", endpoint)
	}
	c.store.Set(result.Tokens.AccessToken)
	return &result, nil
}

// Logout asks the server to revoke the refresh credential and then forgets
// both credentials locally, even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	_, err := c.Dispatch(ctx, http.MethodPost, c.endpoint("logout").Path, struct{}{})
	c.clearCredentials()
	if err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return nil
}

// Verify asks the server whether the held access credential is valid and
// for whom. A missing or rejected credential yields Valid false, not an error.
func (c *Client) Verify(ctx context.Context) (*VerifyResult, error) {
	resp, err := c.Dispatch(ctx, http.MethodGet, c.endpoint("verify").Path, nil)
	if err != nil {
		var reqErr *RequestError
		if errors.As(err, &reqErr) && reqErr.Status == http.StatusUnauthorized {
			return &VerifyResult{}, nil
		}
		return nil, err
	}

	var result VerifyResult
	if err := resp.DecodeData(&result); err != nil {
		return nil, fmt.Errorf("verify: %w", err)
	}
	return &result, nil
}
