package otp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

// --- in-memory code store ---

type memoryCodes struct {
	mu        sync.Mutex
	byUser    map[string]*domain.OneTimeCode
	getErr    error
	deleteErr error
	createErr error
}

func newMemoryCodes() *memoryCodes {
	return &memoryCodes{byUser: make(map[string]*domain.OneTimeCode)}
}

func (m *memoryCodes) Create(_ context.Context, code *domain.OneTimeCode) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if _, ok := m.byUser[code.UserID]; ok {
		return apperrors.AlreadyExists("otp", "user_id", code.UserID)
	}
	c := *code
	m.byUser[code.UserID] = &c
	return nil
}

func (m *memoryCodes) GetByUserID(_ context.Context, userID string) (*domain.OneTimeCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.getErr != nil {
		return nil, m.getErr
	}
	c, ok := m.byUser[userID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memoryCodes) DeleteByID(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for user, c := range m.byUser {
		if c.ID == id {
			delete(m.byUser, user)
			return nil
		}
	}
	return apperrors.ErrNotFound
}

func (m *memoryCodes) stored(userID string) *domain.OneTimeCode {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byUser[userID]
}

// --- sender mock ---

type mockSender struct {
	mock.Mock
}

func (m *mockSender) SendOTP(ctx context.Context, to string, code int) error {
	args := m.Called(ctx, to, code)
	return args.Error(0)
}

// --- helpers ---

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func fixedCode(code int) Generator {
	return func() (int, error) { return code, nil }
}

func newTestIssuer(t *testing.T, codes *memoryCodes, sender EmailSender, opts ...Option) (*Issuer, *testClock) {
	t.Helper()
	clock := &testClock{now: time.Date(2026, 4, 1, 10, 0, 0, 0, time.UTC)}
	opts = append([]Option{WithClock(clock.Now)}, opts...)
	return NewIssuer(codes, sender, slog.New(slog.NewTextHandler(io.Discard, nil)), opts...), clock
}

func appErr(t *testing.T, err error) *apperrors.AppError {
	t.Helper()
	var ae *apperrors.AppError
	require.True(t, errors.As(err, &ae), "expected AppError, got %v", err)
	return ae
}

// --- RandomCode ---

func TestRandomCode_InRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		code, err := RandomCode()
		require.NoError(t, err)
		assert.GreaterOrEqual(t, code, domain.OTPMin)
		assert.LessOrEqual(t, code, domain.OTPMax)
	}
}

// --- Issue ---

func TestIssue_FirstCode(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, "ada@kharon.app", 482910).Return(nil).Once()

	issuer, clock := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(482910)))

	issued, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)
	assert.Equal(t, "ada@kharon.app", issued.Email)
	assert.Equal(t, 2, issued.ExpiresInMinutes)

	stored := codes.stored("u-1")
	require.NotNil(t, stored)
	assert.Equal(t, 482910, stored.Code)
	assert.Equal(t, clock.Now().Add(2*time.Minute), stored.ExpiresAt)
	sender.AssertExpectations(t)
}

func TestIssue_WithinCooldown(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()

	issuer, clock := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(111111)))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	_, err = issuer.Issue(context.Background(), "u-1", "ada@kharon.app")

	ae := appErr(t, err)
	assert.Equal(t, http.StatusTooManyRequests, ae.Status)
	assert.Equal(t, "OTP already sent. Please wait before requesting another.", ae.Message)
	assert.Equal(t, int64(75), ae.Details["retry_after_seconds"])
	assert.Equal(t, int64(2), ae.Details["retry_after_minutes"])
	sender.AssertNumberOfCalls(t, "SendOTP", 1)
}

func TestIssue_ReplacesStaleCode(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)

	next := int64(100000)
	gen := func() (int, error) { return int(atomic.AddInt64(&next, 1)), nil }
	issuer, clock := newTestIssuer(t, codes, sender, WithGenerator(gen))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)
	first := codes.stored("u-1")

	clock.Advance(2 * time.Minute)
	_, err = issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	second := codes.stored("u-1")
	require.NotNil(t, second)
	assert.NotEqual(t, first.ID, second.ID)
	assert.Equal(t, 100002, second.Code)
}

func TestIssue_LookupFailure(t *testing.T) {
	codes := newMemoryCodes()
	codes.getErr = errors.New("pool exhausted")
	issuer, _ := newTestIssuer(t, codes, new(mockSender))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	ae := appErr(t, err)
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Equal(t, "Failed to process OTP request", ae.Message)
}

func TestIssue_DeleteStaleFailure(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	issuer, clock := newTestIssuer(t, codes, sender)

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	clock.Advance(3 * time.Minute)
	codes.deleteErr = errors.New("deadlock detected")

	_, err = issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	ae := appErr(t, err)
	assert.Equal(t, "Failed to process OTP request", ae.Message)
}

func TestIssue_CreateFailure(t *testing.T) {
	codes := newMemoryCodes()
	codes.createErr = errors.New("insert failed")
	issuer, _ := newTestIssuer(t, codes, new(mockSender))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	ae := appErr(t, err)
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Equal(t, "Failed to create OTP", ae.Message)
}

func TestIssue_ConcurrentCreateIsRateLimited(t *testing.T) {
	codes := newMemoryCodes()
	codes.createErr = apperrors.AlreadyExists("otp", "user_id", "u-1")
	issuer, _ := newTestIssuer(t, codes, new(mockSender))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	ae := appErr(t, err)
	assert.Equal(t, http.StatusTooManyRequests, ae.Status)
	assert.Equal(t, int64(120), ae.Details["retry_after_seconds"])
}

func TestIssue_SendFailureKeepsCode(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, 654321).Return(errors.New("smtp: 421")).Once()

	issuer, _ := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(654321)))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	ae := appErr(t, err)
	assert.Equal(t, http.StatusBadGateway, ae.Status)
	assert.Equal(t, "Failed to send verification email", ae.Message)
	assert.True(t, errors.Is(err, apperrors.ErrUpstream))

	require.NotNil(t, codes.stored("u-1"))
	assert.NoError(t, issuer.Validate(context.Background(), "u-1", 654321))
}

// --- Validate ---

func TestValidate_Outcomes(t *testing.T) {
	tests := []struct {
		name      string
		advance   time.Duration
		submit    int
		wantErr   error
		message   string
		keepsCode bool
	}{
		{name: "consumed", submit: 123456},
		{name: "at expiry instant", advance: 2 * time.Minute, submit: 123456},
		{
			name:      "mismatch",
			submit:    654321,
			wantErr:   ErrMismatch,
			message:   "Invalid otp",
			keepsCode: true,
		},
		{
			name:    "expired",
			advance: 2*time.Minute + time.Second,
			submit:  123456,
			wantErr: apperrors.ErrExpired,
			message: "OTP has expired.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			codes := newMemoryCodes()
			sender := new(mockSender)
			sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)
			issuer, clock := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(123456)))

			_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
			require.NoError(t, err)

			clock.Advance(tt.advance)
			err = issuer.Validate(context.Background(), "u-1", tt.submit)

			if tt.wantErr == nil {
				require.NoError(t, err)
				assert.Nil(t, codes.stored("u-1"), "code must be single use")
				return
			}

			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			ae := appErr(t, err)
			assert.Equal(t, http.StatusUnauthorized, ae.Status)
			assert.Equal(t, tt.message, ae.Message)
			assert.Equal(t, tt.keepsCode, codes.stored("u-1") != nil)
		})
	}
}

func TestValidate_NoCode(t *testing.T) {
	issuer, _ := newTestIssuer(t, newMemoryCodes(), new(mockSender))

	err := issuer.Validate(context.Background(), "u-1", 123456)
	assert.ErrorIs(t, err, ErrNoCode)
	ae := appErr(t, err)
	assert.Equal(t, http.StatusUnauthorized, ae.Status)
	assert.Equal(t, "No OTP found", ae.Message)
}

func TestValidate_SecondUseRejected(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	issuer, _ := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(222222)))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	require.NoError(t, issuer.Validate(context.Background(), "u-1", 222222))
	assert.ErrorIs(t, issuer.Validate(context.Background(), "u-1", 222222), ErrNoCode)
}

func TestValidate_ConcurrentSubmissionsConsumeOnce(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	issuer, _ := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(333333)))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	const n = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if issuer.Validate(context.Background(), "u-1", 333333) == nil {
				successes.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), successes.Load())
}

func TestValidate_DeleteFailure(t *testing.T) {
	codes := newMemoryCodes()
	sender := new(mockSender)
	sender.On("SendOTP", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	issuer, _ := newTestIssuer(t, codes, sender, WithGenerator(fixedCode(444444)))

	_, err := issuer.Issue(context.Background(), "u-1", "ada@kharon.app")
	require.NoError(t, err)

	codes.deleteErr = errors.New("connection lost")
	err = issuer.Validate(context.Background(), "u-1", 444444)
	ae := appErr(t, err)
	assert.Equal(t, http.StatusInternalServerError, ae.Status)
	assert.Equal(t, "Failed to clean up OTP", ae.Message)
}
