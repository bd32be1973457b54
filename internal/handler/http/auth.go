package http

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/service"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httputil"
	"github.com/Kharon-pay-mini/user-management-server/pkg/middleware"
	"github.com/Kharon-pay-mini/user-management-server/pkg/validator"
)

const maxBodyBytes = 1 << 20

// AuthService is the sign-in flow used by AuthHandler.
type AuthService interface {
	CreateAccount(ctx context.Context, input service.CreateAccountInput) (*service.CreateAccountResult, error)
	ResendOTP(ctx context.Context, email string) (*domain.Issued, error)
	SignIn(ctx context.Context, input service.SignInInput) (*service.Session, error)
	Logout(ctx context.Context, input service.LogoutInput)
}

// AuthHandler handles HTTP requests for the OTP sign-in endpoints.
type AuthHandler struct {
	service AuthService
	logger  *slog.Logger
}

// NewAuthHandler creates a new auth HTTP handler.
func NewAuthHandler(svc AuthService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateAccountRequest is the JSON body of POST /auth/create.
type CreateAccountRequest struct {
	Email string  `json:"email" validate:"required,email"`
	Phone *string `json:"phone" validate:"omitempty,min=7,max=20"`
}

// ResendOTPRequest is the JSON body of POST /users/resend-otp.
type ResendOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ValidateOTPRequest is the JSON body of POST /users/validate-otp.
type ValidateOTPRequest struct {
	Email string `json:"email" validate:"required,email"`
	OTP   int    `json:"otp" validate:"required"`
}

// otpSentResponse is the body returned after a code is emailed.
type otpSentResponse struct {
	Status           string `json:"status"`
	Message          string `json:"message"`
	ExpiresInMinutes int    `json:"expires_in_minutes"`
}

// --- Handlers ---

// CreateAccount handles POST /auth/create
func (h *AuthHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateAccountRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	res, err := h.service.CreateAccount(r.Context(), service.CreateAccountInput{
		Email: req.Email,
		Phone: req.Phone,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	if res.ExistingUser != nil {
		httputil.WriteJSON(w, http.StatusOK, httputil.Success(res.ExistingUser))
		return
	}
	writeOTPSent(w, res.Issued)
}

// ResendOTP handles POST /users/resend-otp
func (h *AuthHandler) ResendOTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ResendOTPRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	issued, err := h.service.ResendOTP(r.Context(), req.Email)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	writeOTPSent(w, issued)
}

// ValidateOTP handles POST /users/validate-otp. On success the session
// token is returned only as a cookie.
func (h *AuthHandler) ValidateOTP(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req ValidateOTPRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	session, err := h.service.SignIn(r.Context(), service.SignInInput{
		Email:     req.Email,
		Code:      req.OTP,
		IPAddress: middleware.ClientIP(r),
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	http.SetCookie(w, sessionCookie(session.Token, session.Lifetime))
	httputil.WriteJSON(w, http.StatusOK, httputil.SuccessMessage("Sign in successful"))
}

// Logout handles POST /users/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.service.Logout(r.Context(), service.LogoutInput{
		UserID:    middleware.UserIDFromContext(r.Context()),
		IPAddress: middleware.ClientIP(r),
		UserAgent: r.UserAgent(),
	})

	http.SetCookie(w, expiredSessionCookie())
	httputil.WriteJSON(w, http.StatusOK, httputil.SuccessMessage("Logged out successfully"))
}

func writeOTPSent(w http.ResponseWriter, issued *domain.Issued) {
	httputil.WriteJSON(w, http.StatusOK, otpSentResponse{
		Status:           httputil.StatusSuccess,
		Message:          fmt.Sprintf("OTP sent to %s", issued.Email),
		ExpiresInMinutes: issued.ExpiresInMinutes,
	})
}

// sessionCookie carries the token for cross-site frontends, hence
// SameSite=None with Secure.
func sessionCookie(token string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}

func expiredSessionCookie() *http.Cookie {
	return &http.Cookie{
		Name:     middleware.TokenCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteNoneMode,
	}
}
