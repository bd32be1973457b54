package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// BankAccountRepository implements repository.BankAccountRepository using PostgreSQL.
type BankAccountRepository struct {
	db database.DBTX
}

// NewBankAccountRepository creates a new PostgreSQL-backed bank account repository.
func NewBankAccountRepository(db database.DBTX) *BankAccountRepository {
	return &BankAccountRepository{db: db}
}

// Create inserts a verified account. The same account number can be
// registered once per user.
func (r *BankAccountRepository) Create(ctx context.Context, a *domain.BankAccount) (err error) {
	query := `
		INSERT INTO user_bank_account (id, user_id, bank_name, account_number, account_name)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "bank_accounts.Create", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, a.ID, a.UserID, a.BankName, a.AccountNumber, a.AccountName).
		Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("bank account", "account_number", a.AccountNumber)
		}
		return fmt.Errorf("insert bank account: %w", err)
	}

	return nil
}

// ListByUserID returns the user's accounts in registration order.
func (r *BankAccountRepository) ListByUserID(ctx context.Context, userID string) (_ []domain.BankAccount, err error) {
	query := `
		SELECT id, user_id, bank_name, account_number, COALESCE(account_name, ''), created_at, updated_at
		FROM user_bank_account
		WHERE user_id = $1
		ORDER BY created_at`

	ctx, end := database.TraceQuery(ctx, "bank_accounts.ListByUserID", query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query bank accounts: %w", err)
	}

	accounts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.BankAccount, error) {
		var a domain.BankAccount
		err := row.Scan(&a.ID, &a.UserID, &a.BankName, &a.AccountNumber, &a.AccountName, &a.CreatedAt, &a.UpdatedAt)
		return a, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan bank accounts: %w", err)
	}

	return accounts, nil
}
