package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Kharon-pay-mini/user-management-server/pkg/health"
	"github.com/Kharon-pay-mini/user-management-server/pkg/httputil"
	"github.com/Kharon-pay-mini/user-management-server/pkg/middleware"
)

const serviceName = "user-management"

// Dependencies are the handlers and middleware the router mounts.
type Dependencies struct {
	Auth     *AuthHandler
	User     *UserHandler
	Admin    *AdminHandler
	Verifier middleware.TokenVerifier
	Limiter  *RateLimiter
	Health   *health.Handler
	CORS     middleware.CORSConfig
	Logger   *slog.Logger
}

// NewRouter creates a chi router with all user-management routes registered.
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogging(deps.Logger))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.PrometheusMetrics(serviceName))
	r.Use(middleware.CORS(deps.CORS))

	// Health check endpoints
	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, httputil.SuccessMessage("Service is healthy!"))
	})
	r.Get("/api/v1/healthz", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, httputil.Success(map[string]string{"health": "Server is active"}))
	})
	r.Get("/health/live", deps.Health.LivenessHandler())
	r.Get("/health/ready", deps.Health.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())

	// Public OTP endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(deps.Limiter.Middleware)

		r.Post("/auth/create", deps.Auth.CreateAccount)
		r.Post("/users/resend-otp", deps.Auth.ResendOTP)
		r.Post("/users/validate-otp", deps.Auth.ValidateOTP)
	})

	// Authenticated user endpoints
	r.Group(func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.Auth(deps.Verifier))

		r.Post("/users/logout", deps.Auth.Logout)

		r.Get("/users/me", deps.User.Me)
		r.Get("/users/me/logs", deps.User.Logs)
		r.Get("/users/me/wallet", deps.User.GetWallet)
		r.Post("/users/me/wallet", deps.User.CreateWallet)
		r.Get("/users/me/bank-accounts", deps.User.ListBankAccounts)
		r.Post("/users/me/bank-accounts", deps.User.AddBankAccount)
	})

	// Admin endpoints; the role is checked per request against storage
	r.Route("/admin", func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(middleware.Auth(deps.Verifier))

		r.Get("/users/login-stats", deps.Admin.LoginStats)
		r.Get("/users/login-history", deps.Admin.LoginHistory)
		r.Get("/flagged-users", deps.Admin.FlaggedUsers)
	})

	return r
}
