package domain

import (
	"time"
)

// User represents a registered storefront account.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	FirstName    string    `json:"first_name"`
	LastName     string    `json:"last_name"`
	Role         string    `json:"role"`
	IsActive     bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Profile is the public projection of a user returned by the auth endpoints.
type Profile struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Role      string `json:"role"`
}

// Profile returns the public projection of u.
func (u *User) Profile() Profile {
	return Profile{
		ID:        u.ID,
		Email:     u.Email,
		FirstName: u.FirstName,
		LastName:  u.LastName,
		Role:      u.Role,
	}
}

// RefreshCredential is one persisted refresh credential. The raw secret is
// never stored: Identifier is its SHA-256 digest, used for lookup, and
// SecretHash is a bcrypt hash, used for verification.
type RefreshCredential struct {
	Identifier string    `json:"-"`
	SecretHash string    `json:"-"`
	OwnerID    string    `json:"owner_id"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Expired reports whether the credential is no longer usable at now.
func (c *RefreshCredential) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// TokenPair holds a freshly minted access token and the raw refresh secret
// that accompanies it.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Session is the outcome of a successful login, registration or rotation.
type Session struct {
	User             *User
	Tokens           TokenPair
	RefreshExpiresAt time.Time
}
