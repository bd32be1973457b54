package middleware

import (
	"log/slog"
	"net/http"

	"github.com/Kharon-pay-mini/user-management-server/pkg/logger"
)

// RequestLogger stores a request-scoped logger in the context, enriched with
// correlation_id, trace_id and span_id. Mount it after RequestLogging and
// Tracing. Auth adds user_id to this logger once the session is verified.
func RequestLogger(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			if userID := UserIDFromContext(ctx); userID != "" {
				ctx = logger.WithUserID(ctx, userID)
			}
			ctx = logger.NewContext(ctx, logger.WithContext(ctx, base))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func withAuthenticatedLogger(r *http.Request, userID string) *http.Request {
	ctx := WithUserID(r.Context(), userID)
	ctx = logger.WithUserID(ctx, userID)
	ctx = logger.NewContext(ctx, logger.FromContext(ctx).With(slog.String("user_id", userID)))
	return r.WithContext(ctx)
}
