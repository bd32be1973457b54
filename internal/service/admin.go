package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
	"github.com/Kharon-pay-mini/user-management-server/pkg/pagination"
)

// Default page sizes of the admin listings.
const (
	DefaultHistoryLimit = 50
	DefaultFlaggedLimit = 100
)

// AdminService serves the review endpoints. Every operation first checks
// that the caller holds the admin role.
type AdminService struct {
	userRepo repository.UserRepository
	logRepo  repository.SecurityLogRepository
	logger   *slog.Logger
	now      func() time.Time
}

// NewAdminService creates a new admin service.
func NewAdminService(userRepo repository.UserRepository, logRepo repository.SecurityLogRepository, logger *slog.Logger) *AdminService {
	return &AdminService{
		userRepo: userRepo,
		logRepo:  logRepo,
		logger:   logger,
		now:      time.Now,
	}
}

// LoginHistory is one page of a user's login history.
type LoginHistory struct {
	History    []domain.LoginHistoryItem `json:"history"`
	Pagination pagination.Page           `json:"pagination"`
}

// FlaggedUsers is one page of flagged security log entries.
type FlaggedUsers struct {
	Users      []domain.SecurityLog `json:"users"`
	Pagination pagination.Page      `json:"pagination"`
}

// VerifyAdminRole returns nil when userID belongs to an admin.
func (s *AdminService) VerifyAdminRole(ctx context.Context, userID string) error {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		if !errors.Is(err, apperrors.ErrNotFound) {
			s.logger.ErrorContext(ctx, "failed to load user for role check",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return apperrors.Unauthorized("User not found or failed to verify user role")
	}
	if !user.IsAdmin() {
		s.logger.WarnContext(ctx, "admin access denied",
			slog.String("user_id", userID),
			slog.String("role", user.Role),
		)
		return apperrors.Forbidden("Admin access required.")
	}
	return nil
}

// LoginStats summarises the sign-in history of the user with email.
func (s *AdminService) LoginStats(ctx context.Context, adminID, email string) (*domain.LoginStats, error) {
	target, err := s.target(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.VerifyAdminRole(ctx, adminID); err != nil {
		return nil, err
	}

	total, failed, err := s.logRepo.Totals(ctx, target.ID)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to retrieve login stats", err)
	}
	recent, err := s.logRepo.ListByUserID(ctx, target.ID, domain.RecentLogsForStats, 0)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to retrieve recent logs", err)
	}

	stats := domain.BuildLoginStats(target.ID, total, failed, recent, s.now())
	return &stats, nil
}

// LoginHistory returns a page of the login history of the user with email.
func (s *AdminService) LoginHistory(ctx context.Context, adminID, email string, page pagination.Params) (*LoginHistory, error) {
	target, err := s.target(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.VerifyAdminRole(ctx, adminID); err != nil {
		return nil, err
	}

	logs, err := s.logRepo.ListByUserID(ctx, target.ID, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to retrieve login history", err)
	}

	history := make([]domain.LoginHistoryItem, 0, len(logs))
	for i := range logs {
		history = append(history, logs[i].HistoryItem())
	}

	total, _, err := s.logRepo.Totals(ctx, target.ID)
	if err != nil {
		s.logger.WarnContext(ctx, "failed to count login history",
			slog.String("user_id", target.ID),
			slog.String("error", err.Error()),
		)
		total = int64(page.Offset + len(history))
	}

	return &LoginHistory{History: history, Pagination: pagination.NewPage(total, page)}, nil
}

// FlaggedUsers returns a page of entries flagged for review.
func (s *AdminService) FlaggedUsers(ctx context.Context, adminID string, page pagination.Params) (*FlaggedUsers, error) {
	if err := s.VerifyAdminRole(ctx, adminID); err != nil {
		return nil, err
	}

	logs, err := s.logRepo.ListFlagged(ctx, page.Limit, page.Offset)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to retrieve flagged users", err)
	}
	if logs == nil {
		logs = []domain.SecurityLog{}
	}

	total, err := s.logRepo.CountFlagged(ctx)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to retrieve flagged users count", err)
	}

	return &FlaggedUsers{Users: logs, Pagination: pagination.NewPage(total, page)}, nil
}

// target resolves the user an admin query is about.
func (s *AdminService) target(ctx context.Context, email string) (*domain.User, error) {
	user, err := s.userRepo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("User not found")
		}
		return nil, apperrors.InternalMessage("Failed to process request", err)
	}
	return user, nil
}
