// Package credential inspects access credentials on the client side.
//
// Nothing here verifies a signature. The decoded claims drive refresh timing
// only; the server remains the authority on whether a credential is valid.
package credential

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// DefaultRefreshThreshold is how close to expiry a credential must be before
// it is renewed ahead of time.
const DefaultRefreshThreshold = 300 * time.Second

// Claims are the payload fields the storefront reads from an access credential.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// Owner returns the user identifier, preferring user_id over sub.
func (c *Claims) Owner() string {
	if c.UserID != "" {
		return c.UserID
	}
	return c.Subject
}

// Expiry returns the exp claim, or the zero time when it is absent.
func (c *Claims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// decodeError reports why a token could not be decoded. It never leaves the
// package: callers see a false or zero result instead.
type decodeError struct {
	reason string
	err    error
}

func (e *decodeError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("decode credential: %s: %v", e.reason, e.err)
	}
	return "decode credential: " + e.reason
}

func (e *decodeError) Unwrap() error { return e.err }

var (
	errMissingSubject = errors.New("missing subject")
	errMissingExpiry  = errors.New("missing expiry")
)

// parser never verifies signatures; it only splits and decodes.
var parser = jwt.NewParser(jwt.WithPaddingAllowed())

// Codec decodes credentials against a clock. The zero value uses time.Now.
type Codec struct {
	Now func() time.Time
}

func (c Codec) now() time.Time {
	if c.Now != nil {
		return c.Now()
	}
	return time.Now()
}

// Decode returns the claims embedded in token. It reports false for any
// malformed input and for claims missing a subject or expiry.
func (c Codec) Decode(token string) (*Claims, bool) {
	claims, err := parse(token)
	if err != nil {
		return nil, false
	}
	return claims, true
}

// IsExpired reports whether token is undecodable or at or past its expiry.
func (c Codec) IsExpired(token string) bool {
	claims, ok := c.Decode(token)
	if !ok {
		return true
	}
	return !c.now().Before(claims.Expiry())
}

// TimeToExpiry returns the whole seconds left before token expires, never
// negative, and zero for an undecodable token.
func (c Codec) TimeToExpiry(token string) time.Duration {
	claims, ok := c.Decode(token)
	if !ok {
		return 0
	}
	remaining := claims.Expiry().Unix() - c.now().Unix()
	if remaining <= 0 {
		return 0
	}
	return time.Duration(remaining) * time.Second
}

// ShouldRefresh reports whether token is still live but expires within
// threshold. An expired token returns false; the 401 path handles it.
// A non-positive threshold means DefaultRefreshThreshold.
func (c Codec) ShouldRefresh(token string, threshold time.Duration) bool {
	if threshold <= 0 {
		threshold = DefaultRefreshThreshold
	}
	ttl := c.TimeToExpiry(token)
	return ttl > 0 && ttl <= threshold
}

func parse(token string) (*Claims, error) {
	var claims Claims
	if _, _, err := parser.ParseUnverified(token, &claims); err != nil {
		return nil, &decodeError{reason: "malformed token", err: err}
	}
	if claims.Owner() == "" {
		return nil, &decodeError{reason: "claims", err: errMissingSubject}
	}
	if claims.ExpiresAt == nil {
		return nil, &decodeError{reason: "claims", err: errMissingExpiry}
	}
	return &claims, nil
}

var wallClock Codec

// Decode uses the wall clock. See Codec.Decode.
func Decode(token string) (*Claims, bool) { return wallClock.Decode(token) }

// IsExpired uses the wall clock. See Codec.IsExpired.
func IsExpired(token string) bool { return wallClock.IsExpired(token) }

// TimeToExpiry uses the wall clock. See Codec.TimeToExpiry.
func TimeToExpiry(token string) time.Duration { return wallClock.TimeToExpiry(token) }

// ShouldRefresh uses the wall clock. See Codec.ShouldRefresh.
func ShouldRefresh(token string, threshold time.Duration) bool {
	return wallClock.ShouldRefresh(token, threshold)
}
