package http

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	apperrors "github.com/utafrali/storefront/pkg/errors"
	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/pkg/validator"
	"github.com/utafrali/storefront/services/user/internal/domain"
	"github.com/utafrali/storefront/services/user/internal/service"
)

// AuthHandler handles HTTP requests for auth endpoints.
type AuthHandler struct {
	service *service.UserService
	cookie  CookieConfig
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc *service.UserService, cookie CookieConfig, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, cookie: cookie, logger: logger}
}

// --- Request DTOs ---

// RegisterRequest is the JSON request body for user registration.
type RegisterRequest struct {
	Email     string `json:"email" validate:"required,email"`
	Password  string `json:"password" validate:"required,min=8"`
	FirstName string `json:"first_name" validate:"required,min=1,max=100"`
	LastName  string `json:"last_name" validate:"required,min=1,max=100"`
}

// LoginRequest is the JSON request body for user login.
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// ChangePasswordRequest is the JSON request body for changing a password.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"current_password" validate:"required"`
	NewPassword     string `json:"new_password" validate:"required,min=8"`
}

// --- Response types ---

// AuthResponse wraps user data with tokens.
type AuthResponse struct {
	User   domain.Profile   `json:"user"`
	Tokens domain.TokenPair `json:"tokens"`
}

// VerifyResponse reports whether the presented access token is live.
type VerifyResponse struct {
	Valid bool            `json:"valid"`
	User  *domain.Profile `json:"user,omitempty"`
}

// --- Handlers ---

// Register handles POST /api/v1/auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.service.Register(r.Context(), service.RegisterInput{
		Email:     req.Email,
		Password:  req.Password,
		FirstName: req.FirstName,
		LastName:  req.LastName,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeSession(w, http.StatusCreated, session)
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.service.Login(r.Context(), service.LoginInput{
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.writeSession(w, http.StatusOK, session)
}

// Refresh handles POST /api/v1/auth/refresh. A rejected secret also clears
// the cookie so the browser stops presenting it.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Refresh(r.Context(), refreshSecret(r))
	if err != nil {
		if apperrors.HTTPStatus(err) == http.StatusUnauthorized {
			h.cookie.clear(w)
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.set(w, session.Tokens.RefreshToken)
	httputil.WriteData(w, http.StatusOK, session.Tokens)
}

// Logout handles POST /api/v1/auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	err := h.service.Logout(r.Context(), refreshSecret(r))
	h.cookie.clear(w)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, struct{}{})
}

// Verify handles GET /api/v1/auth/verify. It answers 200 either way; the
// body says whether the bearer token is valid.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	token, _ := middleware.BearerToken(r)

	profile, ok, err := h.service.Verify(r.Context(), token)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, VerifyResponse{Valid: ok, User: profile})
}

// ChangePassword handles POST /api/v1/auth/change-password. Every session
// of the user ends, including the one making the request.
func (h *AuthHandler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	userID := middleware.UserIDFromContext(r.Context())

	var req ChangePasswordRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), userID, req.CurrentPassword, req.NewPassword); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.clear(w)
	httputil.WriteData(w, http.StatusOK, map[string]string{"message": "password changed, sign in again"})
}

func (h *AuthHandler) writeSession(w http.ResponseWriter, status int, session *domain.Session) {
	h.cookie.set(w, session.Tokens.RefreshToken)
	httputil.WriteData(w, status, AuthResponse{
		User:   session.User.Profile(),
		Tokens: session.Tokens,
	})
}

// decodeOptional decodes a JSON body into dst. An empty body is not an error.
func decodeOptional(r *http.Request, dst any) error {
	if r.Body == nil {
		return nil
	}
	body := http.MaxBytesReader(nil, r.Body, validator.MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
