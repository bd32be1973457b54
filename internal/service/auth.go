package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Kharon-pay-mini/user-management-server/internal/auth"
	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/event"
	"github.com/Kharon-pay-mini/user-management-server/internal/otp"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	"github.com/Kharon-pay-mini/user-management-server/internal/security"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// CodeIssuer issues and redeems one-time codes. *otp.Issuer satisfies it.
type CodeIssuer interface {
	Issue(ctx context.Context, userID, email string) (*domain.Issued, error)
	Validate(ctx context.Context, userID string, code int) error
}

// EventRecorder queues authentication outcomes. *security.Recorder satisfies it.
type EventRecorder interface {
	Record(ctx context.Context, ev security.Event)
}

// AuthService implements the passwordless sign-in flow.
type AuthService struct {
	userRepo repository.UserRepository
	codes    CodeIssuer
	sessions *auth.SessionIssuer
	recorder EventRecorder
	producer *event.Producer
	logger   *slog.Logger
	now      func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(
	userRepo repository.UserRepository,
	codes CodeIssuer,
	sessions *auth.SessionIssuer,
	recorder EventRecorder,
	producer *event.Producer,
	logger *slog.Logger,
) *AuthService {
	return &AuthService{
		userRepo: userRepo,
		codes:    codes,
		sessions: sessions,
		recorder: recorder,
		producer: producer,
		logger:   logger,
		now:      time.Now,
	}
}

// --- Input/Output types ---

// CreateAccountInput holds the parameters of a sign-up or sign-in request.
type CreateAccountInput struct {
	Email string
	Phone *string
}

// CreateAccountResult is either a sent code or, when only the phone number
// matched an existing account, that account.
type CreateAccountResult struct {
	Issued       *domain.Issued
	ExistingUser *domain.User
}

// SignInInput holds a code submission.
type SignInInput struct {
	Email     string
	Code      int
	IPAddress string
}

// Session is a freshly minted session token.
type Session struct {
	UserID    string
	Token     string
	ExpiresAt time.Time
	Lifetime  time.Duration
}

// LogoutInput describes the client ending its session.
type LogoutInput struct {
	UserID    string
	IPAddress string
	UserAgent string
}

// CreateAccount sends a code to an existing account, or creates the account
// first. A request whose email is new but whose phone is already registered
// returns the existing account without sending anything.
func (s *AuthService) CreateAccount(ctx context.Context, input CreateAccountInput) (*CreateAccountResult, error) {
	email := domain.NormalizeEmail(input.Email)

	existing, err := s.userRepo.GetByEmail(ctx, email)
	switch {
	case err == nil:
		issued, err := s.codes.Issue(ctx, existing.ID, existing.Email)
		if err != nil {
			return nil, err
		}
		return &CreateAccountResult{Issued: issued}, nil
	case !errors.Is(err, apperrors.ErrNotFound):
		return nil, apperrors.InternalMessage("Failed to process request", err)
	}

	if input.Phone != nil && *input.Phone != "" {
		byPhone, err := s.userRepo.GetByPhone(ctx, *input.Phone)
		switch {
		case err == nil:
			return &CreateAccountResult{ExistingUser: byPhone}, nil
		case !errors.Is(err, apperrors.ErrNotFound):
			return nil, apperrors.InternalMessage("Failed to process request", err)
		}
	}

	user := domain.NewUser(email, input.Phone)
	if err := s.userRepo.Create(ctx, user); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// Lost a race with a concurrent request for the same email.
			return s.issueForEmail(ctx, email)
		}
		return nil, apperrors.InternalMessage("Failed to create user", err)
	}

	s.logger.InfoContext(ctx, "user created",
		slog.String("user_id", user.ID),
	)

	issued, err := s.codes.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &CreateAccountResult{Issued: issued}, nil
}

// ResendOTP issues a new code to a known email address.
func (s *AuthService) ResendOTP(ctx context.Context, email string) (*domain.Issued, error) {
	user, err := s.userRepo.GetByEmail(ctx, domain.NormalizeEmail(email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NotFound("User with request id not found")
		}
		return nil, apperrors.InternalMessage("Failed to process request", err)
	}
	return s.codes.Issue(ctx, user.ID, user.Email)
}

// SignIn redeems a code and mints a session. Every wrong code is queued
// as a failed attempt; a successful sign-in is queued as a success.
func (s *AuthService) SignIn(ctx context.Context, input SignInInput) (*Session, error) {
	user, err := s.userRepo.GetByEmail(ctx, domain.NormalizeEmail(input.Email))
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.Unauthorized("User not found")
		}
		return nil, apperrors.InternalMessage("Failed to process request", err)
	}

	if err := s.codes.Validate(ctx, user.ID, input.Code); err != nil {
		if errors.Is(err, otp.ErrMismatch) {
			s.recorder.Record(ctx, security.Event{
				UserID:    user.ID,
				IPAddress: input.IPAddress,
				Outcome:   security.OutcomeFailure,
				Reason:    "invalid otp",
			})
		}
		return nil, err
	}

	token, expiresAt, err := s.sessions.Mint(user.ID)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to generate token", err)
	}

	now := s.now()
	if err := s.userRepo.MarkSignedIn(ctx, user.ID, now); err != nil {
		s.logger.ErrorContext(ctx, "failed to record sign-in",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.recorder.Record(ctx, security.Event{
		UserID:    user.ID,
		IPAddress: input.IPAddress,
		Outcome:   security.OutcomeSuccess,
	})

	if err := s.producer.PublishUserLoggedIn(ctx, user, input.IPAddress, now); err != nil {
		s.logger.WarnContext(ctx, "failed to publish user logged in event",
			slog.String("user_id", user.ID),
			slog.String("error", err.Error()),
		)
	}

	s.logger.InfoContext(ctx, "user signed in",
		slog.String("user_id", user.ID),
	)

	return &Session{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: expiresAt,
		Lifetime:  s.sessions.Lifetime(),
	}, nil
}

// Logout records the end of a session. Tokens are stateless, so the
// cookie is cleared by the caller and the token stays valid until expiry.
func (s *AuthService) Logout(ctx context.Context, input LogoutInput) {
	s.logger.InfoContext(ctx, "user logged out",
		slog.String("user_id", input.UserID),
		slog.String("ip_address", input.IPAddress),
		slog.String("user_agent", input.UserAgent),
		slog.Time("at", s.now().UTC()),
	)
}

func (s *AuthService) issueForEmail(ctx context.Context, email string) (*CreateAccountResult, error) {
	user, err := s.userRepo.GetByEmail(ctx, email)
	if err != nil {
		return nil, apperrors.InternalMessage("Failed to process request", err)
	}
	issued, err := s.codes.Issue(ctx, user.ID, user.Email)
	if err != nil {
		return nil, err
	}
	return &CreateAccountResult{Issued: issued}, nil
}
