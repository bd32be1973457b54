package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/Kharon-pay-mini/user-management-server/internal/domain"
	"github.com/Kharon-pay-mini/user-management-server/internal/service"
	"github.com/Kharon-pay-mini/user-management-server/pkg/health"
	"github.com/Kharon-pay-mini/user-management-server/pkg/middleware"
	"github.com/Kharon-pay-mini/user-management-server/pkg/pagination"
)

// ============================================================================
// Mock Services
// ============================================================================

type mockAuthService struct {
	mock.Mock
}

func (m *mockAuthService) CreateAccount(ctx context.Context, input service.CreateAccountInput) (*service.CreateAccountResult, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CreateAccountResult), args.Error(1)
}

func (m *mockAuthService) ResendOTP(ctx context.Context, email string) (*domain.Issued, error) {
	args := m.Called(ctx, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Issued), args.Error(1)
}

func (m *mockAuthService) SignIn(ctx context.Context, input service.SignInInput) (*service.Session, error) {
	args := m.Called(ctx, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.Session), args.Error(1)
}

func (m *mockAuthService) Logout(ctx context.Context, input service.LogoutInput) {
	m.Called(ctx, input)
}

type mockProfileService struct {
	mock.Mock
}

func (m *mockProfileService) Me(ctx context.Context, userID string) (*domain.User, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.User), args.Error(1)
}

func (m *mockProfileService) Logs(ctx context.Context, userID string, page pagination.Params) ([]domain.SecurityLog, error) {
	args := m.Called(ctx, userID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.SecurityLog), args.Error(1)
}

func (m *mockProfileService) Wallet(ctx context.Context, userID string) (*domain.Wallet, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *mockProfileService) CreateWallet(ctx context.Context, userID string, input service.CreateWalletInput) (*domain.Wallet, error) {
	args := m.Called(ctx, userID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.Wallet), args.Error(1)
}

func (m *mockProfileService) BankAccounts(ctx context.Context, userID string) ([]domain.BankAccount, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.BankAccount), args.Error(1)
}

func (m *mockProfileService) AddBankAccount(ctx context.Context, userID string, input service.AddBankAccountInput) (*domain.BankAccount, error) {
	args := m.Called(ctx, userID, input)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.BankAccount), args.Error(1)
}

type mockAdminService struct {
	mock.Mock
}

func (m *mockAdminService) LoginStats(ctx context.Context, adminID, email string) (*domain.LoginStats, error) {
	args := m.Called(ctx, adminID, email)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.LoginStats), args.Error(1)
}

func (m *mockAdminService) LoginHistory(ctx context.Context, adminID, email string, page pagination.Params) (*service.LoginHistory, error) {
	args := m.Called(ctx, adminID, email, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.LoginHistory), args.Error(1)
}

func (m *mockAdminService) FlaggedUsers(ctx context.Context, adminID string, page pagination.Params) (*service.FlaggedUsers, error) {
	args := m.Called(ctx, adminID, page)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.FlaggedUsers), args.Error(1)
}

// fakeVerifier accepts exactly one token.
type fakeVerifier struct {
	token  string
	userID string
}

func (f fakeVerifier) Verify(token string) (string, error) {
	if token != f.token {
		return "", errors.New("invalid")
	}
	return f.userID, nil
}

// ============================================================================
// Test Helpers
// ============================================================================

const (
	testUserID = "0f8c2d7e4b5a49c6a1e3d2f4b6c8a0e1"
	testToken  = "valid-session-token"
)

type testServer struct {
	auth    *mockAuthService
	profile *mockProfileService
	admin   *mockAdminService
	router  http.Handler
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	logger := testLogger()
	ts := &testServer{
		auth:    new(mockAuthService),
		profile: new(mockProfileService),
		admin:   new(mockAdminService),
	}
	ts.router = NewRouter(Dependencies{
		Auth:     NewAuthHandler(ts.auth, logger),
		User:     NewUserHandler(ts.profile, logger),
		Admin:    NewAdminHandler(ts.admin, logger),
		Verifier: fakeVerifier{token: testToken, userID: testUserID},
		Limiter:  NewRateLimiter(1000, 1000, logger),
		Health:   health.NewHandler(),
		CORS:     middleware.DefaultCORSConfig([]string{"https://app.kharon.app"}),
		Logger:   logger,
	})
	return ts
}

func (ts *testServer) do(method, path string, body any, authed bool) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "102.89.4.1:51234"
	if authed {
		req.AddCookie(&http.Cookie{Name: middleware.TokenCookieName, Value: testToken})
	}
	rec := httptest.NewRecorder()
	ts.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func newJSONRequest(method, path, body string) *http.Request {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "102.89.4.1:51234"
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}
