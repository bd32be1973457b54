package repository

import (
	"context"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
)

// UserRepository defines the interface for user persistence operations.
type UserRepository interface {
	// Create inserts a new user and fills its creation time.
	Create(ctx context.Context, user *domain.User) error

	// GetByID retrieves a user by their unique identifier.
	GetByID(ctx context.Context, id string) (*domain.User, error)

	// GetByEmail retrieves a user by their lowercased email address.
	GetByEmail(ctx context.Context, email string) (*domain.User, error)

	// GetByPhone retrieves a user by their phone number.
	GetByPhone(ctx context.Context, phone string) (*domain.User, error)

	// MarkSignedIn records a successful sign-in and marks the user verified.
	MarkSignedIn(ctx context.Context, id string, at time.Time) error

	// SetRole changes a user's role.
	SetRole(ctx context.Context, id, role string) error
}

// OTPRepository stores the single live code of each user.
type OTPRepository interface {
	Create(ctx context.Context, code *domain.OneTimeCode) error
	GetByUserID(ctx context.Context, userID string) (*domain.OneTimeCode, error)

	// DeleteByID removes a code. It returns apperrors.ErrNotFound when no
	// row was deleted, which callers use to detect a concurrent consume.
	DeleteByID(ctx context.Context, id string) error
}

// SecurityLogRepository appends and queries authentication outcomes.
type SecurityLogRepository interface {
	Create(ctx context.Context, entry *domain.SecurityLog) error

	// SumFailedAttempts returns the all-time failed sign-in count of a user.
	SumFailedAttempts(ctx context.Context, userID string) (int64, error)

	// Totals returns the number of entries and the failed-attempt sum.
	Totals(ctx context.Context, userID string) (total, failed int64, err error)

	// ListByUserID returns a user's entries, newest first.
	ListByUserID(ctx context.Context, userID string, limit, offset int) ([]domain.SecurityLog, error)

	// ListFlagged returns flagged entries across all users, newest first.
	ListFlagged(ctx context.Context, limit, offset int) ([]domain.SecurityLog, error)
	CountFlagged(ctx context.Context) (int64, error)
}

// WalletRepository stores one wallet per user.
type WalletRepository interface {
	Create(ctx context.Context, wallet *domain.Wallet) error
	GetByUserID(ctx context.Context, userID string) (*domain.Wallet, error)
}

// BankAccountRepository stores verified payout accounts.
type BankAccountRepository interface {
	Create(ctx context.Context, account *domain.BankAccount) error
	ListByUserID(ctx context.Context, userID string) ([]domain.BankAccount, error)
}
