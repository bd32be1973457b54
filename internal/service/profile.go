package service

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
	"github.com/Kharon-pay-mini/user-management-server/pkg/pagination"
)

// DefaultNetwork is stored when a wallet is registered without a network.
const DefaultNetwork = "Unknown"

// AccountVerifier confirms a bank account exists. *bank.Client satisfies it.
type AccountVerifier interface {
	VerifyAccount(ctx context.Context, bankName, accountNumber string) (*domain.ResolvedAccount, error)
}

// ProfileService serves the signed-in user's own data.
type ProfileService struct {
	userRepo   repository.UserRepository
	logRepo    repository.SecurityLogRepository
	walletRepo repository.WalletRepository
	bankRepo   repository.BankAccountRepository
	verifier   AccountVerifier
	logger     *slog.Logger
}

// NewProfileService creates a new profile service.
func NewProfileService(
	userRepo repository.UserRepository,
	logRepo repository.SecurityLogRepository,
	walletRepo repository.WalletRepository,
	bankRepo repository.BankAccountRepository,
	verifier AccountVerifier,
	logger *slog.Logger,
) *ProfileService {
	return &ProfileService{
		userRepo:   userRepo,
		logRepo:    logRepo,
		walletRepo: walletRepo,
		bankRepo:   bankRepo,
		verifier:   verifier,
		logger:     logger,
	}
}

// CreateWalletInput holds the parameters for registering a wallet.
type CreateWalletInput struct {
	WalletAddress string
	Network       string
}

// AddBankAccountInput holds the parameters for adding a payout account.
type AddBankAccountInput struct {
	BankName      string
	AccountNumber string
}

// Me returns the user behind a session.
func (s *ProfileService) Me(ctx context.Context, userID string) (*domain.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.InternalMessage("Failed to fetch user", err)
	}
	return user, nil
}

// Logs returns the user's own security log, newest first.
func (s *ProfileService) Logs(ctx context.Context, userID string, page pagination.Params) ([]domain.SecurityLog, error) {
	logs, err := s.logRepo.ListByUserID(ctx, userID, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to fetch user logs", err)
	}
	if logs == nil {
		logs = []domain.SecurityLog{}
	}
	return logs, nil
}

// Wallet returns the user's registered wallet.
func (s *ProfileService) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	wallet, err := s.walletRepo.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("Wallet not found")
		}
		return nil, apperrors.InternalMessage("Failed to fetch wallet", err)
	}
	return wallet, nil
}

// CreateWallet registers the user's wallet. A user has at most one.
func (s *ProfileService) CreateWallet(ctx context.Context, userID string, input CreateWalletInput) (*domain.Wallet, error) {
	if _, err := s.Me(ctx, userID); err != nil {
		return nil, err
	}

	network := input.Network
	if network == "" {
		network = DefaultNetwork
	}

	wallet := &domain.Wallet{
		ID:              uuid.NewString(),
		UserID:          userID,
		WalletAddress:   input.WalletAddress,
		NetworkUsedLast: network,
	}
	if err := s.walletRepo.Create(ctx, wallet); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.InternalMessage("Failed to create wallet", err)
	}

	s.logger.InfoContext(ctx, "wallet registered",
		slog.String("user_id", userID),
		slog.String("network", network),
	)
	return wallet, nil
}

// BankAccounts lists the user's verified payout accounts.
func (s *ProfileService) BankAccounts(ctx context.Context, userID string) ([]domain.BankAccount, error) {
	accounts, err := s.bankRepo.ListByUserID(ctx, userID)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to fetch bank accounts", err)
	}
	if accounts == nil {
		accounts = []domain.BankAccount{}
	}
	return accounts, nil
}

// AddBankAccount verifies an account with the bank provider and stores it
// under the holder name the provider returned.
func (s *ProfileService) AddBankAccount(ctx context.Context, userID string, input AddBankAccountInput) (*domain.BankAccount, error) {
	if _, err := s.Me(ctx, userID); err != nil {
		return nil, err
	}

	resolved, err := s.verifier.VerifyAccount(ctx, input.BankName, input.AccountNumber)
	if err != nil {
		return nil, err
	}

	account := &domain.BankAccount{
		ID:            uuid.NewString(),
		UserID:        userID,
		BankName:      input.BankName,
		AccountNumber: input.AccountNumber,
		AccountName:   resolved.AccountName,
	}
	if err := s.bankRepo.Create(ctx, account); err != nil {
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) {
			return nil, err
		}
		return nil, apperrors.InternalMessage("Failed to save bank details", err)
	}

	s.logger.InfoContext(ctx, "bank account added",
		slog.String("user_id", userID),
		slog.String("bank_name", input.BankName),
	)
	return account, nil
}
