package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utafrali/storefront/pkg/health"
	"github.com/utafrali/storefront/pkg/logger"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/user/internal/auth"
	"github.com/utafrali/storefront/services/user/internal/domain"
	"github.com/utafrali/storefront/services/user/internal/event"
	"github.com/utafrali/storefront/services/user/internal/repository/memory"
	"github.com/utafrali/storefront/services/user/internal/service"
)

const testPassword = "Str0ngPassw0rd"

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router http.Handler
	store  *memory.Store
	clock  *testClock
}

func newTestEnv(t *testing.T, limit middleware.RateLimitConfig) *testEnv {
	t.Helper()
	clock := &testClock{now: time.Now().UTC()}
	store := memory.New()
	log := logger.Nop()

	tokens := auth.NewJWTManager("test-secret-key-for-testing", 15*time.Minute, 7*24*time.Hour).WithClock(clock.Now)
	credentials := auth.NewRefreshStore(store.RefreshCredentials(),
		auth.WithHashCost(bcrypt.MinCost), auth.WithStoreClock(clock.Now))
	svc := service.NewUserService(store.Users(), credentials, tokens,
		event.NewProducer(event.LogPublisher{Logger: log}, log), log,
		service.WithClock(clock.Now), service.WithPasswordCost(bcrypt.MinCost))

	router := NewRouter(t.Context(), RouterConfig{
		Service: svc,
		Tokens:  tokens,
		Health:  health.NewHandler(),
		Logger:  log,
		Cookie: CookieConfig{
			SameSite: http.SameSiteStrictMode,
			MaxAge:   tokens.RefreshExpiry(),
		},
		CORS:          middleware.StorefrontCORSConfig([]string{"https://shop.example.com"}, "test"),
		AuthRateLimit: limit,
	})
	return &testEnv{router: router, store: store, clock: clock}
}

type result struct {
	status  int
	headers http.Header
	body    map[string]any
	cookies []*http.Cookie
}

func (r result) header(name string) string { return r.headers.Get(name) }

func (e *testEnv) do(t *testing.T, method, path, body string, mods ...func(*http.Request)) result {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, mod := range mods {
		mod(req)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)

	res := result{status: rr.Code, headers: rr.Header(), cookies: rr.Result().Cookies()}
	if rr.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &res.body), rr.Body.String())
	}
	return res
}

func withCookie(secret string) func(*http.Request) {
	return func(r *http.Request) {
		r.AddCookie(&http.Cookie{Name: RefreshCookieName, Value: secret})
	}
}

func withBearer(token string) func(*http.Request) {
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func (r result) data(t *testing.T) map[string]any {
	t.Helper()
	data, ok := r.body["data"].(map[string]any)
	require.True(t, ok, "response has no data object: %v", r.body)
	return data
}

func (r result) errorCode(t *testing.T) string {
	t.Helper()
	e, ok := r.body["error"].(map[string]any)
	require.True(t, ok, "response has no error object: %v", r.body)
	return e["code"].(string)
}

func (r result) refreshCookie() *http.Cookie {
	for _, c := range r.cookies {
		if c.Name == RefreshCookieName {
			return c
		}
	}
	return nil
}

type signedIn struct {
	access  string
	refresh string
	userID  string
}

func (e *testEnv) register(t *testing.T, email string) signedIn {
	t.Helper()
	res := e.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"`+email+`","password":"`+testPassword+`","first_name":"Ada","last_name":"Lovelace"}`)
	require.Equal(t, http.StatusCreated, res.status, res.body)
	data := res.data(t)
	tokens := data["tokens"].(map[string]any)
	user := data["user"].(map[string]any)
	return signedIn{
		access:  tokens["access_token"].(string),
		refresh: tokens["refresh_token"].(string),
		userID:  user["id"].(string),
	}
}

func TestRegister_SetsRefreshCookie(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})

	res := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"ada@example.com","password":"`+testPassword+`","first_name":"Ada","last_name":"Lovelace"}`)

	require.Equal(t, http.StatusCreated, res.status)
	data := res.data(t)
	user := data["user"].(map[string]any)
	assert.Equal(t, "ada@example.com", user["email"])
	assert.Equal(t, "customer", user["role"])
	assert.NotContains(t, user, "password_hash")
	tokens := data["tokens"].(map[string]any)
	assert.Equal(t, "Bearer", tokens["token_type"])
	assert.EqualValues(t, 900, tokens["expires_in"])

	cookie := res.refreshCookie()
	require.NotNil(t, cookie)
	assert.Equal(t, tokens["refresh_token"], cookie.Value)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)
	assert.Equal(t, RefreshCookiePath, cookie.Path)
	assert.Equal(t, int((7 * 24 * time.Hour).Seconds()), cookie.MaxAge)
}

func TestRegister_Rejected(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	env.register(t, "ada@example.com")

	res := env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"ada@example.com","password":"`+testPassword+`","first_name":"Ada","last_name":"Lovelace"}`)
	assert.Equal(t, http.StatusConflict, res.status)
	assert.Equal(t, "ALREADY_EXISTS", res.errorCode(t))

	res = env.do(t, http.MethodPost, "/api/v1/auth/register", `{"email":"not-an-email","password":"x"}`)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "VALIDATION_ERROR", res.errorCode(t))

	res = env.do(t, http.MethodPost, "/api/v1/auth/register",
		`{"email":"bob@example.com","password":"alllowercase1","first_name":"Bob","last_name":"B"}`)
	assert.Equal(t, http.StatusBadRequest, res.status)
	assert.Equal(t, "INVALID_INPUT", res.errorCode(t))
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	env.register(t, "ada@example.com")

	res := env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, res.status)
	assert.NotNil(t, res.refreshCookie())
	assert.Equal(t, "no-store", res.header("Cache-Control"))

	res = env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"ada@example.com","password":"Wr0ngPassword"}`)
	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Nil(t, res.refreshCookie())
}

func TestRefresh_RotatesCookie(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")

	res := env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))
	require.Equal(t, http.StatusOK, res.status, res.body)
	data := res.data(t)
	assert.NotEmpty(t, data["access_token"])
	rotated := res.refreshCookie()
	require.NotNil(t, rotated)
	assert.NotEqual(t, session.refresh, rotated.Value)
	assert.Equal(t, data["refresh_token"], rotated.Value)

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))
	assert.Equal(t, http.StatusUnauthorized, res.status)
	cleared := res.refreshCookie()
	require.NotNil(t, cleared)
	assert.Equal(t, -1, cleared.MaxAge)

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(rotated.Value))
	assert.Equal(t, http.StatusOK, res.status)
}

func TestRefresh_BodyFallback(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")

	res := env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{"refresh_token":"`+session.refresh+`"}`)
	assert.Equal(t, http.StatusOK, res.status)

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", "")
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestRefresh_Expired(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")
	env.clock.Advance(7*24*time.Hour + time.Second)

	res := env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))

	assert.Equal(t, http.StatusUnauthorized, res.status)
	assert.Equal(t, 0, env.store.RefreshCredentials().Len())
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")

	res := env.do(t, http.MethodPost, "/api/v1/auth/logout", `{}`, withCookie(session.refresh))
	require.Equal(t, http.StatusOK, res.status)
	assert.Empty(t, res.data(t))
	require.NotNil(t, res.refreshCookie())
	assert.Equal(t, -1, res.refreshCookie().MaxAge)
	assert.Equal(t, 0, env.store.RefreshCredentials().Len())

	res = env.do(t, http.MethodPost, "/api/v1/auth/logout", `{}`, withCookie(session.refresh))
	assert.Equal(t, http.StatusOK, res.status)

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestVerify(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")

	res := env.do(t, http.MethodGet, "/api/v1/auth/verify", "", withBearer(session.access))
	require.Equal(t, http.StatusOK, res.status)
	data := res.data(t)
	assert.Equal(t, true, data["valid"])
	assert.Equal(t, session.userID, data["user"].(map[string]any)["id"])

	res = env.do(t, http.MethodGet, "/api/v1/auth/verify", "")
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, false, res.data(t)["valid"])
	assert.NotContains(t, res.data(t), "user")

	env.clock.Advance(15 * time.Minute)
	res = env.do(t, http.MethodGet, "/api/v1/auth/verify", "", withBearer(session.access))
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, false, res.data(t)["valid"])
}

func TestChangePassword(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")
	body := `{"current_password":"` + testPassword + `","new_password":"N3wPassword"}`

	res := env.do(t, http.MethodPost, "/api/v1/auth/change-password", body)
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = env.do(t, http.MethodPost, "/api/v1/auth/change-password", body, withBearer(session.access))
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.Equal(t, -1, res.refreshCookie().MaxAge)
	assert.Equal(t, 0, env.store.RefreshCredentials().Len())

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestUsersMe(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	session := env.register(t, "ada@example.com")

	res := env.do(t, http.MethodGet, "/api/v1/users/me", "")
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = env.do(t, http.MethodGet, "/api/v1/users/me", "", withBearer(session.access))
	require.Equal(t, http.StatusOK, res.status)
	assert.Equal(t, "ada@example.com", res.data(t)["email"])

	res = env.do(t, http.MethodDelete, "/api/v1/users/me", "", withBearer(session.access))
	assert.Equal(t, http.StatusNoContent, res.status)
	assert.Equal(t, 0, env.store.RefreshCredentials().Len())

	res = env.do(t, http.MethodGet, "/api/v1/users/me", "", withBearer(session.access))
	assert.Equal(t, http.StatusNotFound, res.status)

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(session.refresh))
	assert.Equal(t, http.StatusUnauthorized, res.status)
}

func TestRevokeSessions_RequiresStaffRole(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})
	customer := env.register(t, "ada@example.com")
	staff := env.register(t, "grace@example.com")

	path := "/api/v1/users/" + customer.userID + "/sessions"
	res := env.do(t, http.MethodDelete, path, "", withBearer(staff.access))
	assert.Equal(t, http.StatusForbidden, res.status)

	user, err := env.store.Users().GetByID(t.Context(), staff.userID)
	require.NoError(t, err)
	user.Role = domain.RoleStaff
	require.NoError(t, env.store.Users().Update(t.Context(), user))

	res = env.do(t, http.MethodPost, "/api/v1/auth/login", `{"email":"grace@example.com","password":"`+testPassword+`"}`)
	require.Equal(t, http.StatusOK, res.status)
	staffAccess := res.data(t)["tokens"].(map[string]any)["access_token"].(string)

	res = env.do(t, http.MethodDelete, path, "", withBearer(staffAccess))
	require.Equal(t, http.StatusOK, res.status, res.body)
	assert.EqualValues(t, 1, res.data(t)["revoked"])

	res = env.do(t, http.MethodPost, "/api/v1/auth/refresh", `{}`, withCookie(customer.refresh))
	assert.Equal(t, http.StatusUnauthorized, res.status)

	res = env.do(t, http.MethodDelete, "/api/v1/users/00000000-0000-0000-0000-000000000000/sessions", "", withBearer(staffAccess))
	assert.Equal(t, http.StatusNotFound, res.status)
}

func TestAuthRateLimit(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{RPS: 0.01, Burst: 2})
	body := `{"email":"ada@example.com","password":"` + testPassword + `"}`

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/auth/login", body).status)
	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/auth/login", body).status)
	res := env.do(t, http.MethodPost, "/api/v1/auth/login", body)
	assert.Equal(t, http.StatusTooManyRequests, res.status)

	// verify is not throttled
	assert.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/auth/verify", "").status)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})

	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health/live", nil))
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORS_AllowsStorefrontWithCredentials(t *testing.T) {
	env := newTestEnv(t, middleware.RateLimitConfig{})

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/auth/refresh", nil)
	req.Header.Set("Origin", "https://shop.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "https://shop.example.com", rr.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rr.Header().Get("Access-Control-Allow-Credentials"))
}
