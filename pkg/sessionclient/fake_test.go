package sessionclient

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utafrali/storefront/pkg/credential"
	"github.com/utafrali/storefront/pkg/httpclient"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeAPI is a minimal stand-in for the user service auth endpoints. Access
// tokens carry real claims with an unverified signature segment.
type fakeAPI struct {
	t       *testing.T
	clock   *testClock
	server  *httptest.Server
	seq     atomic.Int64
	refresh atomic.Int32

	accessTTL time.Duration

	failRefresh atomic.Bool

	mu      sync.Mutex
	secrets map[string]bool
	// gate, when set, holds refresh calls until it is closed or the request
	// is canceled.
	gate chan struct{}
}

func newFakeAPI(t *testing.T, clock *testClock) *fakeAPI {
	t.Helper()
	f := &fakeAPI{
		t:         t,
		clock:     clock,
		accessTTL: 15 * time.Minute,
		secrets:   make(map[string]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/auth/login", f.login)
	mux.HandleFunc("POST /api/v1/auth/refresh", f.refreshHandler)
	mux.HandleFunc("POST /api/v1/auth/logout", f.logout)
	mux.HandleFunc("GET /api/v1/auth/verify", f.verify)
	mux.HandleFunc("GET /api/v1/orders", f.protected(func(w http.ResponseWriter, r *http.Request) {
		writeData(w, http.StatusOK, map[string]any{"orders": []string{"o-1"}})
	}))
	mux.HandleFunc("POST /api/v1/cart/items", f.protected(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeData(w, http.StatusCreated, body)
	}))
	mux.HandleFunc("GET /api/v1/always-401", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "nope")
	})
	mux.HandleFunc("GET /api/v1/boom", func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	})
	mux.HandleFunc("GET /api/v1/plain-error", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})
	mux.HandleFunc("GET /api/v1/text", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("hello"))
	})

	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)
	return f
}

func (f *fakeAPI) client(t *testing.T, mutate ...func(*Config)) *Client {
	t.Helper()
	cfg := DefaultConfig(f.server.URL)
	cfg.HTTP = httpclient.Config{Timeout: 5 * time.Second, MaxConnsPerHost: 64}
	for _, m := range mutate {
		m(&cfg)
	}
	c, err := New(cfg, WithCodec(credential.Codec{Now: f.clock.Now}))
	require.NoError(t, err)
	return c
}

// holdRefresh makes refresh calls block until the returned function runs.
func (f *fakeAPI) holdRefresh() (release func()) {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gate = ch
	f.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

func (f *fakeAPI) mintAccess(ttl time.Duration) string {
	claims, _ := json.Marshal(map[string]any{
		"user_id": "u-1",
		"email":   "ada@example.com",
		"role":    "customer",
		"iat":     f.clock.Now().Unix(),
		"exp":     f.clock.Now().Add(ttl).Unix(),
		"jti":     fmt.Sprint(f.seq.Add(1)),
	})
	return "eyJhbGciOiJIUzI1NiJ9." + base64.RawURLEncoding.EncodeToString(claims) + ".sig"
}

func (f *fakeAPI) issueSecret(w http.ResponseWriter) string {
	secret := fmt.Sprintf("secret-%d", f.seq.Add(1))
	f.mu.Lock()
	f.secrets[secret] = true
	f.mu.Unlock()
	http.SetCookie(w, &http.Cookie{
		Name:     DefaultRefreshCookieName,
		Value:    secret,
		Path:     DefaultAuthPath,
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int((7 * 24 * time.Hour).Seconds()),
	})
	return secret
}

func (f *fakeAPI) login(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)
	if body.Password != "correct horse" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid email or password")
		return
	}
	secret := f.issueSecret(w)
	writeData(w, http.StatusOK, map[string]any{
		"user": map[string]string{"id": "u-1", "email": body.Email, "first_name": "Ada", "last_name": "Lovelace", "role": "customer"},
		"tokens": map[string]any{
			"access_token":  f.mintAccess(f.accessTTL),
			"refresh_token": secret,
			"token_type":    "Bearer",
			"expires_in":    int64(f.accessTTL.Seconds()),
		},
	})
}

func (f *fakeAPI) refreshHandler(w http.ResponseWriter, r *http.Request) {
	f.refresh.Add(1)
	f.mu.Lock()
	gate := f.gate
	f.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-r.Context().Done():
			return
		}
	}

	if f.failRefresh.Load() {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
		return
	}

	ck, err := r.Cookie(DefaultRefreshCookieName)
	f.mu.Lock()
	ok := err == nil && f.secrets[ck.Value]
	if ok {
		delete(f.secrets, ck.Value)
	}
	f.mu.Unlock()
	if !ok {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid refresh token")
		return
	}

	secret := f.issueSecret(w)
	writeData(w, http.StatusOK, map[string]any{
		"access_token":  f.mintAccess(f.accessTTL),
		"refresh_token": secret,
		"token_type":    "Bearer",
		"expires_in":    int64(f.accessTTL.Seconds()),
	})
}

func (f *fakeAPI) logout(w http.ResponseWriter, r *http.Request) {
	if ck, err := r.Cookie(DefaultRefreshCookieName); err == nil {
		f.mu.Lock()
		delete(f.secrets, ck.Value)
		f.mu.Unlock()
	}
	http.SetCookie(w, &http.Cookie{Name: DefaultRefreshCookieName, Path: DefaultAuthPath, MaxAge: -1})
	writeData(w, http.StatusOK, map[string]any{})
}

func (f *fakeAPI) verify(w http.ResponseWriter, r *http.Request) {
	if !f.authorized(r) {
		writeData(w, http.StatusOK, map[string]any{"valid": false})
		return
	}
	writeData(w, http.StatusOK, map[string]any{
		"valid": true,
		"user":  map[string]string{"id": "u-1", "email": "ada@example.com", "role": "customer"},
	})
}

func (f *fakeAPI) authorized(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return !credential.Codec{Now: f.clock.Now}.IsExpired(token)
}

func (f *fakeAPI) protected(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !f.authorized(r) {
			writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "invalid or expired token")
			return
		}
		next(w, r)
	}
}

func writeData(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"data": v})
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": map[string]string{"code": code, "message": msg}})
}
