package middleware

import (
	"net"
	"net/http"

	"go.uber.org/zap"

	"github.com/taskmanager/auth-service/internal/limiter"
)

// RateLimitMiddleware gates requests on a shared counter keyed by client IP.
// If the counter store is unreachable the request is rejected with 503; the
// limiter must never fail open.
func RateLimitMiddleware(l *limiter.Limiter, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ok, err := l.Allow(r.Context(), ClientIP(r))
			if err != nil {
				logger.Error("rate limiter store unavailable", zap.Error(err))
				respondWithError(w, http.StatusServiceUnavailable, "service unavailable")
				return
			}
			if !ok {
				respondWithError(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// ClientIP returns the client address for rate-limit keys. chi's RealIP
// middleware has already folded X-Forwarded-For/X-Real-IP into RemoteAddr.
func ClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
