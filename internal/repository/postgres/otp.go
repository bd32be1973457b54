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

// OTPRepository implements repository.OTPRepository using PostgreSQL.
// The otp table has a unique index on user_id.
type OTPRepository struct {
	db database.DBTX
}

// NewOTPRepository creates a new PostgreSQL-backed OTP repository.
func NewOTPRepository(db database.DBTX) *OTPRepository {
	return &OTPRepository{db: db}
}

// Create stores a code. A second live code for the same user is rejected
// with an AlreadyExists error.
func (r *OTPRepository) Create(ctx context.Context, o *domain.OneTimeCode) (err error) {
	query := `
		INSERT INTO otp (otp_id, user_id, otp_code, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)`

	ctx, end := database.TraceQuery(ctx, "otp.Create", query)
	defer func() { end(err) }()

	_, err = r.db.Exec(ctx, query, o.ID, o.UserID, o.Code, o.CreatedAt, o.ExpiresAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("otp", "user_id", o.UserID)
		}
		return fmt.Errorf("insert otp: %w", err)
	}

	return nil
}

// GetByUserID returns the user's live code.
func (r *OTPRepository) GetByUserID(ctx context.Context, userID string) (_ *domain.OneTimeCode, err error) {
	query := `
		SELECT otp_id, user_id, otp_code, created_at, expires_at
		FROM otp
		WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "otp.GetByUserID", query)
	defer func() { end(err) }()

	var o domain.OneTimeCode
	err = r.db.QueryRow(ctx, query, userID).Scan(&o.ID, &o.UserID, &o.Code, &o.CreatedAt, &o.ExpiresAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan otp: %w", err)
	}

	return &o, nil
}

// DeleteByID removes a code by id.
func (r *OTPRepository) DeleteByID(ctx context.Context, id string) (err error) {
	query := `DELETE FROM otp WHERE otp_id = $1`

	ctx, end := database.TraceQuery(ctx, "otp.DeleteByID", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("delete otp: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}
