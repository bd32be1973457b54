package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/service"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httputil"
	"github.com/Kharon-pay-mini/user-management-server/pkg/middleware"
	"github.com/Kharon-pay-mini/user-management-server/pkg/pagination"
	"github.com/Kharon-pay-mini/user-management-server/pkg/validator"
)

// AdminService serves the review endpoints and checks the caller's role.
type AdminService interface {
	LoginStats(ctx context.Context, adminID, email string) (*domain.LoginStats, error)
	LoginHistory(ctx context.Context, adminID, email string, page pagination.Params) (*service.LoginHistory, error)
	FlaggedUsers(ctx context.Context, adminID string, page pagination.Params) (*service.FlaggedUsers, error)
}

// AdminHandler handles HTTP requests for /admin endpoints.
type AdminHandler struct {
	service AdminService
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin HTTP handler.
func NewAdminHandler(svc AdminService, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{service: svc, logger: logger}
}

// targetQuery names the user an admin request is about.
type targetQuery struct {
	Email string `json:"email" validate:"required,email"`
}

// LoginStats handles GET /admin/users/login-stats?email=
func (h *AdminHandler) LoginStats(w http.ResponseWriter, r *http.Request) {
	q := targetQuery{Email: r.URL.Query().Get("email")}
	if err := validator.Validate(q); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	stats, err := h.service.LoginStats(r.Context(), middleware.UserIDFromContext(r.Context()), q.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(stats))
}

// LoginHistory handles GET /admin/users/login-history?email=&limit=&offset=
func (h *AdminHandler) LoginHistory(w http.ResponseWriter, r *http.Request) {
	q := targetQuery{Email: r.URL.Query().Get("email")}
	if err := validator.Validate(q); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	page := pagination.FromRequest(r, service.DefaultHistoryLimit)
	history, err := h.service.LoginHistory(r.Context(), middleware.UserIDFromContext(r.Context()), q.Email, page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(history))
}

// FlaggedUsers handles GET /admin/flagged-users?limit=&offset=
func (h *AdminHandler) FlaggedUsers(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r, service.DefaultFlaggedLimit)

	flagged, err := h.service.FlaggedUsers(r.Context(), middleware.UserIDFromContext(r.Context()), page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(flagged))
}
