// Package otp issues and redeems the six-digit sign-in codes.
package otp

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/google/uuid"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/repository"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// Reasons a code was rejected. They are wrapped inside the returned
// AppError so callers can tell them apart with errors.Is.
var (
	ErrNoCode   = errors.New("no otp issued")
	ErrMismatch = errors.New("otp mismatch")
)

const rateLimitedMessage = "OTP already sent. Please wait before requesting another."

// EmailSender delivers a code to the user's inbox.
type EmailSender interface {
	SendOTP(ctx context.Context, to string, code int) error
}

// Generator returns a code in [domain.OTPMin, domain.OTPMax].
type Generator func() (int, error)

// RandomCode draws a uniform code from crypto/rand.
func RandomCode() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(domain.OTPMax-domain.OTPMin+1))
	if err != nil {
		return 0, fmt.Errorf("generate otp: %w", err)
	}
	return int(n.Int64()) + domain.OTPMin, nil
}

// Issuer owns the code lifecycle of every user.
type Issuer struct {
	codes    repository.OTPRepository
	sender   EmailSender
	generate Generator
	now      func() time.Time
	logger   *slog.Logger
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithGenerator replaces the random code source.
func WithGenerator(g Generator) Option {
	return func(i *Issuer) { i.generate = g }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) { i.now = now }
}

// NewIssuer creates an Issuer backed by codes and sender.
func NewIssuer(codes repository.OTPRepository, sender EmailSender, logger *slog.Logger, opts ...Option) *Issuer {
	i := &Issuer{
		codes:    codes,
		sender:   sender,
		generate: RandomCode,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Issue sends a fresh code unless the user received one within the
// cooldown. A stale code is replaced. When delivery fails the stored code
// stays redeemable and an upstream error is returned.
func (i *Issuer) Issue(ctx context.Context, userID, email string) (*domain.Issued, error) {
	now := i.now()

	existing, err := i.codes.GetByUserID(ctx, userID)
	switch {
	case errors.Is(err, apperrors.ErrNotFound):
		// first code for this user
	case err != nil:
		otpIssued.WithLabelValues("error").Inc()
		return nil, apperrors.InternalMessage("Failed to process OTP request", err)
	default:
		if left := existing.CooldownRemaining(now); left > 0 {
			otpIssued.WithLabelValues("rate_limited").Inc()
			return nil, rateLimited(left)
		}
		if err := i.codes.DeleteByID(ctx, existing.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			otpIssued.WithLabelValues("error").Inc()
			return nil, apperrors.InternalMessage("Failed to process OTP request", err)
		}
	}

	code, err := i.generate()
	if err != nil {
		otpIssued.WithLabelValues("error").Inc()
		return nil, apperrors.Internal(err)
	}

	record := domain.NewOneTimeCode(uuid.NewString(), userID, code, now)
	if err := i.codes.Create(ctx, record); err != nil {
		if errors.Is(err, apperrors.ErrAlreadyExists) {
			// A concurrent request stored a code first.
			otpIssued.WithLabelValues("rate_limited").Inc()
			return nil, rateLimited(domain.OTPCooldown)
		}
		otpIssued.WithLabelValues("error").Inc()
		return nil, apperrors.InternalMessage("Failed to create OTP", err)
	}

	if err := i.sender.SendOTP(ctx, email, code); err != nil {
		otpIssued.WithLabelValues("send_failed").Inc()
		i.logger.ErrorContext(ctx, "failed to send otp email",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return nil, apperrors.Upstream("Failed to send verification email", err)
	}

	otpIssued.WithLabelValues("sent").Inc()
	return &domain.Issued{
		Email:            email,
		ExpiresInMinutes: int(domain.OTPLifetime / time.Minute),
	}, nil
}

// Validate redeems code for userID. A matching code is deleted so it can
// be used once; when two submissions race, the one whose delete removes
// no row is rejected as if no code existed. A wrong code is left in place.
func (i *Issuer) Validate(ctx context.Context, userID string, code int) error {
	stored, err := i.codes.GetByUserID(ctx, userID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			otpValidations.WithLabelValues("missing").Inc()
			return rejected("No OTP found", ErrNoCode)
		}
		otpValidations.WithLabelValues("error").Inc()
		return apperrors.Internal(err)
	}

	if stored.Expired(i.now()) {
		if err := i.codes.DeleteByID(ctx, stored.ID); err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			i.logger.WarnContext(ctx, "failed to delete expired otp",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		otpValidations.WithLabelValues("expired").Inc()
		return apperrors.Expired("OTP has expired.")
	}

	if stored.Code != code {
		otpValidations.WithLabelValues("mismatch").Inc()
		return rejected("Invalid otp", ErrMismatch)
	}

	if err := i.codes.DeleteByID(ctx, stored.ID); err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			otpValidations.WithLabelValues("missing").Inc()
			return rejected("No OTP found", ErrNoCode)
		}
		otpValidations.WithLabelValues("error").Inc()
		return apperrors.InternalMessage("Failed to clean up OTP", err)
	}

	otpValidations.WithLabelValues("consumed").Inc()
	return nil
}

func rateLimited(left time.Duration) *apperrors.AppError {
	seconds, minutes := domain.RetryAfter(left)
	return apperrors.RateLimited(rateLimitedMessage).
		WithDetail("retry_after_seconds", seconds).
		WithDetail("retry_after_minutes", minutes)
}

func rejected(message string, reason error) *apperrors.AppError {
	err := apperrors.Unauthorized(message)
	err.Err = fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, reason)
	return err
}
