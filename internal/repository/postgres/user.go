package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/pkg/database"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

const userColumns = `id, email, phone, verified, role, last_logged_in, created_at`

// UserRepository implements repository.UserRepository using PostgreSQL.
type UserRepository struct {
	db database.DBTX
}

// NewUserRepository creates a new PostgreSQL-backed user repository.
func NewUserRepository(db database.DBTX) *UserRepository {
	return &UserRepository{db: db}
}

// Create inserts a new user into the database.
func (r *UserRepository) Create(ctx context.Context, u *domain.User) (err error) {
	query := `
		INSERT INTO users (id, email, phone, verified, role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`

	ctx, end := database.TraceQuery(ctx, "users.Create", query)
	defer func() { end(err) }()

	err = r.db.QueryRow(ctx, query, u.ID, u.Email, u.Phone, u.Verified, u.Role).Scan(&u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return apperrors.AlreadyExists("user", "email", u.Email)
		}
		return fmt.Errorf("insert user: %w", err)
	}

	return nil
}

// GetByID retrieves a user by their ID.
func (r *UserRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, "users.GetByID", query, id)
}

// GetByEmail retrieves a user by their email address.
func (r *UserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = $1`
	return r.scanUser(ctx, "users.GetByEmail", query, domain.NormalizeEmail(email))
}

// GetByPhone retrieves a user by their phone number.
func (r *UserRepository) GetByPhone(ctx context.Context, phone string) (*domain.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE phone = $1`
	return r.scanUser(ctx, "users.GetByPhone", query, phone)
}

// MarkSignedIn sets last_logged_in and flips verified on.
func (r *UserRepository) MarkSignedIn(ctx context.Context, id string, at time.Time) (err error) {
	query := `UPDATE users SET last_logged_in = $1, verified = TRUE WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "users.MarkSignedIn", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, at, id)
	if err != nil {
		return fmt.Errorf("mark user signed in: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

// SetRole updates the role column. Roles are only granted out of band.
func (r *UserRepository) SetRole(ctx context.Context, id, role string) (err error) {
	query := `UPDATE users SET role = $1 WHERE id = $2`

	ctx, end := database.TraceQuery(ctx, "users.SetRole", query)
	defer func() { end(err) }()

	ct, err := r.db.Exec(ctx, query, role, id)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	if ct.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}

	return nil
}

func (r *UserRepository) scanUser(ctx context.Context, op, query string, args ...any) (_ *domain.User, err error) {
	ctx, end := database.TraceQuery(ctx, op, query)
	defer func() { end(err) }()

	var u domain.User
	err = r.db.QueryRow(ctx, query, args...).Scan(
		&u.ID,
		&u.Email,
		&u.Phone,
		&u.Verified,
		&u.Role,
		&u.LastLoggedIn,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, apperrors.ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}

	return &u, nil
}
