package middleware

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/middleware/stdlib"
)

// RateLimit allows perMinute requests per client IP. Buckets are keyed by
// name so stricter limits on single routes do not share counters with the
// global one. A store failure lets the request through.
func RateLimit(store limiter.Store, name string, perMinute int) func(http.Handler) http.Handler {
	rate := limiter.Rate{Period: time.Minute, Limit: int64(perMinute)}
	lim := limiter.New(store, rate)

	return func(next http.Handler) http.Handler {
		mw := stdlib.NewMiddleware(lim,
			stdlib.WithKeyGetter(func(r *http.Request) string {
				return name + ":" + ClientIP(r)
			}),
			stdlib.WithLimitReachedHandler(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Retry-After", "60")
				writeError(w, http.StatusTooManyRequests, "Too many requests", "Wait a minute and try again", "RATE001")
			}),
			stdlib.WithErrorHandler(func(w http.ResponseWriter, r *http.Request, err error) {
				slog.Warn("rate limit store failed, allowing request", "limiter", name, "error", err)
				next.ServeHTTP(w, r)
			}),
		)
		return mw.Handler(next)
	}
}
