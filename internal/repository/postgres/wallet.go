package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// WalletRepository implements repository.WalletRepository using PostgreSQL.
type WalletRepository struct {
	db database.DBTX
}

// NewWalletRepository creates a new PostgreSQL-backed wallet repository.
func NewWalletRepository(db database.DBTX) *WalletRepository {
	return &WalletRepository{db: db}
}

// Create inserts the user's wallet. Users hold at most one.
func (r *WalletRepository) Create(ctx context.Context, w *domain.Wallet) (err error) {
	query := `
		INSERT INTO user_wallet (id, user_id, wallet_address, network_used_last)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at, updated_at`

	ctx, end := database.TraceQuery(ctx, "wallets.Create", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, w.ID, w.UserID, w.WalletAddress, w.NetworkUsedLast).
		Scan(&w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		switch {
		case isUniqueViolation(err):
			return apperrors.AlreadyExists("wallet", "user_id", w.UserID)
		case isForeignKeyViolation(err):
			return apperrors.NotFound("User not found")
		}
		return fmt.Errorf("insert wallet: %w", err)
	}

	return nil
}

// GetByUserID returns the user's wallet.
func (r *WalletRepository) GetByUserID(ctx context.Context, userID string) (_ *domain.Wallet, err error) {
	query := `
		SELECT id, user_id, COALESCE(wallet_address, ''), COALESCE(network_used_last, 'Unknown'), created_at, updated_at
		FROM user_wallet
		WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "wallets.GetByUserID", query)
	defer func() { end(err) }()

	var w domain.Wallet
	err = r.db.QueryRow(ctx, query, userID).Scan(
		&w.ID,
		&w.UserID,
		&w.WalletAddress,
		&w.NetworkUsedLast,
		&w.CreatedAt,
		&w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan wallet: %w", err)
	}

	return &w, nil
}
