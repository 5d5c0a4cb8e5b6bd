package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/utafrali/storefront/pkg/httputil"
	"github.com/utafrali/storefront/pkg/middleware"
	"github.com/utafrali/storefront/services/user/internal/service"
)

// UserHandler handles HTTP requests for the signed-in user's account.
type UserHandler struct {
	service *service.UserService
	cookie  CookieConfig
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc *service.UserService, cookie CookieConfig, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, cookie: cookie, logger: logger}
}

// GetProfile handles GET /api/v1/users/me
func (h *UserHandler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetProfile(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, user)
}

// DeleteAccount handles DELETE /api/v1/users/me. The account's refresh
// credentials are deleted with it.
func (h *UserHandler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteAccount(r.Context(), middleware.UserIDFromContext(r.Context())); err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	h.cookie.clear(w)
	w.WriteHeader(http.StatusNoContent)
}

// RevokeSessions handles DELETE /api/v1/users/{id}/sessions. Staff use it to
// sign a customer out of every device.
func (h *UserHandler) RevokeSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.RevokeSessions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteData(w, http.StatusOK, map[string]int64{"revoked": n})
}
