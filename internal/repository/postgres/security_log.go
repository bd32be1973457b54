package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
)

const securityLogColumns = `log_id, user_id, ip_address, city, country, failed_login_attempts, flagged_for_review, created_at`

// SecurityLogRepository implements repository.SecurityLogRepository using
// PostgreSQL. Entries are never updated or deleted.
type SecurityLogRepository struct {
	db database.DBTX
}

// NewSecurityLogRepository creates a new PostgreSQL-backed security log repository.
func NewSecurityLogRepository(db database.DBTX) *SecurityLogRepository {
	return &SecurityLogRepository{db: db}
}

// Create appends an entry and fills its creation time.
func (r *SecurityLogRepository) Create(ctx context.Context, e *domain.SecurityLog) (err error) {
	query := `
		INSERT INTO user_security_logs (log_id, user_id, ip_address, city, country, failed_login_attempts, flagged_for_review)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`

	ctx, end := database.TraceQuery(ctx, "security_logs.Create", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query,
		e.ID,
		e.UserID,
		e.IPAddress,
		e.City,
		e.Country,
		e.FailedLoginAttempts,
		e.FlaggedForReview,
	).Scan(&e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert security log: %w", err)
	}

	return nil
}

// SumFailedAttempts returns the all-time failed attempts of a user.
func (r *SecurityLogRepository) SumFailedAttempts(ctx context.Context, userID string) (sum int64, err error) {
	query := `SELECT COALESCE(SUM(failed_login_attempts), 0) FROM user_security_logs WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "security_logs.SumFailedAttempts", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, userID).Scan(&sum); err != nil {
		return 0, fmt.Errorf("sum failed attempts: %w", err)
	}
	return sum, nil
}

// Totals returns the entry count and failed-attempt sum in one round trip.
func (r *SecurityLogRepository) Totals(ctx context.Context, userID string) (total, failed int64, err error) {
	query := `
		SELECT COUNT(*), COALESCE(SUM(failed_login_attempts), 0)
		FROM user_security_logs
		WHERE user_id = $1`

	ctx, end := database.TraceQuery(ctx, "security_logs.Totals", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query, userID).Scan(&total, &failed); err != nil {
		return 0, 0, fmt.Errorf("security log totals: %w", err)
	}
	return total, failed, nil
}

// ListByUserID returns a page of a user's entries, newest first.
func (r *SecurityLogRepository) ListByUserID(ctx context.Context, userID string, limit, offset int) ([]domain.SecurityLog, error) {
	query := `
		SELECT ` + securityLogColumns + `
		FROM user_security_logs
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3`

	return r.list(ctx, "security_logs.ListByUserID", query, userID, limit, offset)
}

// ListFlagged returns a page of flagged entries, newest first.
func (r *SecurityLogRepository) ListFlagged(ctx context.Context, limit, offset int) ([]domain.SecurityLog, error) {
	query := `
		SELECT ` + securityLogColumns + `
		FROM user_security_logs
		WHERE flagged_for_review = TRUE
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2`

	return r.list(ctx, "security_logs.ListFlagged", query, limit, offset)
}

// CountFlagged returns the number of flagged entries.
func (r *SecurityLogRepository) CountFlagged(ctx context.Context) (count int64, err error) {
	query := `SELECT COUNT(*) FROM user_security_logs WHERE flagged_for_review = TRUE`

	ctx, end := database.TraceQuery(ctx, "security_logs.CountFlagged", query)
	defer func() { end(err) }()

	if err = r.db.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count flagged logs: %w", err)
	}
	return count, nil
}

func (r *SecurityLogRepository) list(ctx context.Context, op, query string, args ...any) (_ []domain.SecurityLog, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query security logs: %w", err)
	}

	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (domain.SecurityLog, error) {
		var e domain.SecurityLog
		err := row.Scan(
			&e.ID,
			&e.UserID,
			&e.IPAddress,
			&e.City,
			&e.Country,
			&e.FailedLoginAttempts,
			&e.FlaggedForReview,
			&e.CreatedAt,
		)
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan security logs: %w", err)
	}

	return entries, nil
}
