package service

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kharon-pay-mini/user-management-server/internal/auth"
	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/event"
	"github.com/Kharon-pay-mini/user-management-server/internal/otp"
	"github.com/Kharon-pay-mini/user-management-server/internal/security"
	apperrors "github.com/Kharon-pay-mini/user-management-server/pkg/errors"
)

var fixedNow = time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)

type authFixture struct {
	users     *mockUserRepository
	codes     *mockCodeIssuer
	recorder  *mockRecorder
	publisher *mockPublisher
	sessions  *auth.SessionIssuer
	svc       *AuthService
}

func newAuthFixture() *authFixture {
	f := &authFixture{
		users:     new(mockUserRepository),
		codes:     new(mockCodeIssuer),
		recorder:  new(mockRecorder),
		publisher: new(mockPublisher),
		sessions:  auth.NewSessionIssuer("test-secret-key-for-testing", auth.WithClock(func() time.Time { return fixedNow })),
	}
	logger := newTestLogger()
	f.svc = NewAuthService(f.users, f.codes, f.sessions, f.recorder, event.NewProducer(f.publisher, logger), logger)
	f.svc.now = func() time.Time { return fixedNow }
	return f
}

func sampleUser() *domain.User {
	return &domain.User{
		ID:        "0f8c2d7e4b5a49c6a1e3d2f4b6c8a0e1",
		Email:     "ada@kharon.app",
		Role:      domain.RoleUser,
		CreatedAt: fixedNow.Add(-48 * time.Hour),
	}
}

func issued() *domain.Issued {
	return &domain.Issued{Email: "ada@kharon.app", ExpiresInMinutes: 2}
}

// --- CreateAccount ---

func TestCreateAccount_ExistingEmail_IssuesCode(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()

	f.users.On("GetByEmail", ctx, "ada@kharon.app").Return(user, nil)
	f.codes.On("Issue", ctx, user.ID, user.Email).Return(issued(), nil)

	res, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "  Ada@Kharon.APP "})

	require.NoError(t, err)
	assert.Equal(t, issued(), res.Issued)
	assert.Nil(t, res.ExistingUser)
	f.users.AssertNotCalled(t, "Create", mock.Anything, mock.Anything)
	f.users.AssertExpectations(t)
	f.codes.AssertExpectations(t)
}

func TestCreateAccount_ExistingEmail_RateLimited(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()

	f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	f.codes.On("Issue", ctx, user.ID, user.Email).
		Return(nil, apperrors.RateLimited("OTP already sent. Please wait before requesting another."))

	res, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: user.Email})

	assert.Nil(t, res)
	assert.ErrorIs(t, err, apperrors.ErrRateLimited)
}

func TestCreateAccount_ExistingPhone_ReturnsUser(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	existing := sampleUser()
	existing.Phone = strPtr("+2348012345678")

	f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, apperrors.ErrNotFound)
	f.users.On("GetByPhone", ctx, "+2348012345678").Return(existing, nil)

	res, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "new@kharon.app", Phone: strPtr("+2348012345678")})

	require.NoError(t, err)
	assert.Equal(t, existing, res.ExistingUser)
	assert.Nil(t, res.Issued)
	f.codes.AssertNotCalled(t, "Issue", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateAccount_NewUser_CreatesAndIssues(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, apperrors.ErrNotFound)
	f.users.On("GetByPhone", ctx, "+2348012345678").Return(nil, apperrors.ErrNotFound)
	f.users.On("Create", ctx, mock.MatchedBy(func(u *domain.User) bool {
		return u.Email == "new@kharon.app" && len(u.ID) == 32 && u.Role == domain.RoleUser && !u.Verified
	})).Return(nil)
	f.codes.On("Issue", ctx, mock.AnythingOfType("string"), "new@kharon.app").Return(issued(), nil)

	res, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "New@kharon.app", Phone: strPtr("+2348012345678")})

	require.NoError(t, err)
	assert.NotNil(t, res.Issued)
	f.users.AssertExpectations(t)
	f.codes.AssertExpectations(t)
}

func TestCreateAccount_NoPhone_SkipsPhoneLookup(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()

	f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, apperrors.ErrNotFound)
	f.users.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(nil)
	f.codes.On("Issue", ctx, mock.AnythingOfType("string"), "new@kharon.app").Return(issued(), nil)

	_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "new@kharon.app"})

	require.NoError(t, err)
	f.users.AssertNotCalled(t, "GetByPhone", mock.Anything, mock.Anything)
}

func TestCreateAccount_CreateRace_IssuesForWinner(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	winner := sampleUser()
	winner.Email = "new@kharon.app"

	f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, apperrors.ErrNotFound).Once()
	f.users.On("Create", ctx, mock.AnythingOfType("*domain.User")).
		Return(apperrors.AlreadyExists("user", "email", "new@kharon.app"))
	f.users.On("GetByEmail", ctx, "new@kharon.app").Return(winner, nil).Once()
	f.codes.On("Issue", ctx, winner.ID, winner.Email).Return(issued(), nil)

	res, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "new@kharon.app"})

	require.NoError(t, err)
	assert.NotNil(t, res.Issued)
	f.codes.AssertExpectations(t)
}

func TestCreateAccount_StorageErrors(t *testing.T) {
	t.Run("email lookup", func(t *testing.T) {
		f := newAuthFixture()
		ctx := context.Background()
		f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, fmt.Errorf("connection reset"))

		_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "new@kharon.app"})

		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "Failed to process request", appErr.Message)
	})

	t.Run("create", func(t *testing.T) {
		f := newAuthFixture()
		ctx := context.Background()
		f.users.On("GetByEmail", ctx, "new@kharon.app").Return(nil, apperrors.ErrNotFound)
		f.users.On("Create", ctx, mock.AnythingOfType("*domain.User")).Return(fmt.Errorf("disk full"))

		_, err := f.svc.CreateAccount(ctx, CreateAccountInput{Email: "new@kharon.app"})

		var appErr *apperrors.AppError
		require.True(t, errors.As(err, &appErr))
		assert.Equal(t, "Failed to create user", appErr.Message)
		assert.Equal(t, 500, appErr.Status)
	})
}

// --- ResendOTP ---

func TestResendOTP_UnknownEmail(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	f.users.On("GetByEmail", ctx, "ghost@kharon.app").Return(nil, apperrors.ErrNotFound)

	res, err := f.svc.ResendOTP(ctx, "ghost@kharon.app")

	assert.Nil(t, res)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "User with request id not found", appErr.Message)
	assert.Equal(t, 404, appErr.Status)
}

func TestResendOTP_Issues(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()
	f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	f.codes.On("Issue", ctx, user.ID, user.Email).Return(issued(), nil)

	res, err := f.svc.ResendOTP(ctx, "ADA@kharon.app")

	require.NoError(t, err)
	assert.Equal(t, 2, res.ExpiresInMinutes)
}

// --- SignIn ---

func TestSignIn_Success(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()

	f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	f.codes.On("Validate", ctx, user.ID, 482913).Return(nil)
	f.users.On("MarkSignedIn", ctx, user.ID, fixedNow).Return(nil)
	f.recorder.On("Record", ctx, security.Event{
		UserID:    user.ID,
		IPAddress: "102.89.4.1",
		Outcome:   security.OutcomeSuccess,
	}).Return()
	f.publisher.On("Publish", ctx, event.TopicUserLoggedIn, mock.Anything).Return(nil)

	session, err := f.svc.SignIn(ctx, SignInInput{Email: user.Email, Code: 482913, IPAddress: "102.89.4.1"})

	require.NoError(t, err)
	assert.Equal(t, user.ID, session.UserID)
	assert.Equal(t, fixedNow.Add(auth.SessionLifetime), session.ExpiresAt)
	assert.Equal(t, auth.SessionLifetime, session.Lifetime)

	sub, err := f.sessions.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, sub)

	f.users.AssertExpectations(t)
	f.recorder.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
}

func TestSignIn_UnknownUser(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	f.users.On("GetByEmail", ctx, "ghost@kharon.app").Return(nil, apperrors.ErrNotFound)

	session, err := f.svc.SignIn(ctx, SignInInput{Email: "ghost@kharon.app", Code: 123456})

	assert.Nil(t, session)
	var appErr *apperrors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "User not found", appErr.Message)
	assert.Equal(t, 401, appErr.Status)
	f.recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
}

func TestSignIn_Mismatch_RecordsFailure(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()
	mismatch := apperrors.Unauthorized("Invalid otp")
	mismatch.Err = fmt.Errorf("%w: %w", apperrors.ErrUnauthorized, otp.ErrMismatch)

	f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	f.codes.On("Validate", ctx, user.ID, 111111).Return(mismatch)
	f.recorder.On("Record", ctx, mock.MatchedBy(func(ev security.Event) bool {
		return ev.UserID == user.ID && ev.Outcome == security.OutcomeFailure && ev.IPAddress == "102.89.4.1"
	})).Return()

	session, err := f.svc.SignIn(ctx, SignInInput{Email: user.Email, Code: 111111, IPAddress: "102.89.4.1"})

	assert.Nil(t, session)
	assert.ErrorIs(t, err, otp.ErrMismatch)
	f.recorder.AssertNumberOfCalls(t, "Record", 1)
	f.users.AssertNotCalled(t, "MarkSignedIn", mock.Anything, mock.Anything, mock.Anything)
}

func TestSignIn_ExpiredOrMissing_NotRecorded(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"expired", apperrors.Expired("OTP has expired.")},
		{"missing", apperrors.Unauthorized("No OTP found")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture()
			ctx := context.Background()
			user := sampleUser()
			f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
			f.codes.On("Validate", ctx, user.ID, 222222).Return(tt.err)

			_, err := f.svc.SignIn(ctx, SignInInput{Email: user.Email, Code: 222222})

			assert.Equal(t, 401, apperrors.HTTPStatus(err))
			f.recorder.AssertNotCalled(t, "Record", mock.Anything, mock.Anything)
		})
	}
}

func TestSignIn_MarkSignedInFailure_StillSucceeds(t *testing.T) {
	f := newAuthFixture()
	ctx := context.Background()
	user := sampleUser()

	f.users.On("GetByEmail", ctx, user.Email).Return(user, nil)
	f.codes.On("Validate", ctx, user.ID, 482913).Return(nil)
	f.users.On("MarkSignedIn", ctx, user.ID, fixedNow).Return(fmt.Errorf("timeout"))
	f.recorder.On("Record", ctx, mock.AnythingOfType("security.Event")).Return()
	f.publisher.On("Publish", ctx, event.TopicUserLoggedIn, mock.Anything).Return(fmt.Errorf("broker down"))

	session, err := f.svc.SignIn(ctx, SignInInput{Email: user.Email, Code: 482913})

	require.NoError(t, err)
	assert.NotEmpty(t, session.Token)
}

func TestLogout_DoesNotTouchStorage(t *testing.T) {
	f := newAuthFixture()

	f.svc.Logout(context.Background(), LogoutInput{UserID: "u1", IPAddress: "1.2.3.4", UserAgent: "curl/8"})

	f.users.AssertExpectations(t)
	f.codes.AssertExpectations(t)
}
