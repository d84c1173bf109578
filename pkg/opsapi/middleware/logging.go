package middleware

import (
	"net/http"
	"time"

	"github.com/dd0wney/cluso-coord/pkg/logging"
)

// Logging creates middleware that logs every request with its status and
// duration. Server errors are logged at warn, everything else at debug.
func Logging(logger logging.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			wrapper := &statusWriter{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapper, r)

			fields := []logging.Field{
				logging.String("method", r.Method),
				logging.Path(r.URL.Path),
				logging.Int("status", wrapper.statusCode),
				logging.Latency(time.Since(start)),
			}
			if id := GetRequestID(r); id != "" {
				fields = append(fields, logging.String("request_id", id))
			}

			if wrapper.statusCode >= http.StatusInternalServerError {
				logger.Warn("ops request failed", fields...)
			} else {
				logger.Debug("ops request", fields...)
			}
		})
	}
}
