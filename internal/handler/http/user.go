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

// ProfileService serves the signed-in user's own resources.
type ProfileService interface {
	Me(ctx context.Context, userID string) (*domain.User, error)
	Logs(ctx context.Context, userID string, page pagination.Params) ([]domain.SecurityLog, error)
	Wallet(ctx context.Context, userID string) (*domain.Wallet, error)
	CreateWallet(ctx context.Context, userID string, input service.CreateWalletInput) (*domain.Wallet, error)
	BankAccounts(ctx context.Context, userID string) ([]domain.BankAccount, error)
	AddBankAccount(ctx context.Context, userID string, input service.AddBankAccountInput) (*domain.BankAccount, error)
}

// UserHandler handles HTTP requests for /users/me endpoints.
type UserHandler struct {
	service ProfileService
	logger  *slog.Logger
}

// NewUserHandler creates a new user HTTP handler.
func NewUserHandler(svc ProfileService, logger *slog.Logger) *UserHandler {
	return &UserHandler{service: svc, logger: logger}
}

// --- Request DTOs ---

// CreateWalletRequest is the JSON body of POST /users/me/wallet.
type CreateWalletRequest struct {
	WalletAddress string `json:"wallet_address" validate:"required,max=128"`
	Network       string `json:"network" validate:"max=64"`
}

// AddBankAccountRequest is the JSON body of POST /users/me/bank-accounts.
type AddBankAccountRequest struct {
	BankName      string `json:"bank_name" validate:"required,max=128"`
	AccountNumber string `json:"account_number" validate:"required,numeric,min=6,max=20"`
}

// --- Handlers ---

// Me handles GET /users/me
func (h *UserHandler) Me(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.Me(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(map[string]any{"user": user}))
}

// Logs handles GET /users/me/logs
func (h *UserHandler) Logs(w http.ResponseWriter, r *http.Request) {
	page := pagination.FromRequest(r, pagination.MaxLimit)

	logs, err := h.service.Logs(r.Context(), middleware.UserIDFromContext(r.Context()), page)
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(map[string]any{"user_logs": logs}))
}

// GetWallet handles GET /users/me/wallet
func (h *UserHandler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.service.Wallet(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(map[string]any{"wallet": wallet}))
}

// CreateWallet handles POST /users/me/wallet
func (h *UserHandler) CreateWallet(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req CreateWalletRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	wallet, err := h.service.CreateWallet(r.Context(), middleware.UserIDFromContext(r.Context()), service.CreateWalletInput{
		WalletAddress: req.WalletAddress,
		Network:       req.Network,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Success(map[string]any{"wallet": wallet}))
}

// ListBankAccounts handles GET /users/me/bank-accounts
func (h *UserHandler) ListBankAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.BankAccounts(r.Context(), middleware.UserIDFromContext(r.Context()))
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, httputil.Success(map[string]any{"banks": accounts}))
}

// AddBankAccount handles POST /users/me/bank-accounts
func (h *UserHandler) AddBankAccount(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req AddBankAccountRequest
	if err := validator.DecodeAndValidate(r, &req); err != nil {
		httputil.WriteValidationError(w, err)
		return
	}

	account, err := h.service.AddBankAccount(r.Context(), middleware.UserIDFromContext(r.Context()), service.AddBankAccountInput{
		BankName:      req.BankName,
		AccountNumber: req.AccountNumber,
	})
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, httputil.Success(map[string]any{"bank": account}))
}
