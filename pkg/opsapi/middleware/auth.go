package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/dd0wney/cluso-coord/pkg/auth"
	"github.com/dd0wney/cluso-coord/pkg/logging"
	"github.com/dd0wney/cluso-coord/pkg/metrics"
)

// ClaimsContextKey is the context key for the validated token claims
const ClaimsContextKey ContextKey = "claims"

// GetClaims returns the claims stored by RequireRole
func GetClaims(r *http.Request) (*auth.Claims, bool) {
	claims, ok := r.Context().Value(ClaimsContextKey).(*auth.Claims)
	return claims, ok
}

// RequireRole creates middleware that accepts only requests with a valid
// bearer token granting role. Rejections are counted by reason when
// registry is not nil.
func RequireRole(validator auth.TokenValidator, role string, logger logging.Logger, registry *metrics.Registry) func(http.Handler) http.Handler {
	reject := func(reason string) {
		if registry != nil {
			registry.RecordAuthRejection(reason)
		}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || token == "" {
				reject("missing_token")
				w.Header().Set("WWW-Authenticate", `Bearer realm="coordd"`)
				http.Error(w, "missing bearer token", http.StatusUnauthorized)
				return
			}

			claims, err := validator.ValidateToken(r.Context(), token)
			if err != nil {
				reject("invalid_token")
				logger.Warn("rejected ops token",
					logging.Path(r.URL.Path),
					logging.String("request_id", GetRequestID(r)),
					logging.Error(err))
				w.Header().Set("WWW-Authenticate", `Bearer realm="coordd", error="invalid_token"`)
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}
			if !claims.Allows(role) {
				reject("forbidden")
				logger.Info("ops request lacks role",
					logging.String("subject", claims.Subject),
					logging.String("role", role),
					logging.Path(r.URL.Path))
				http.Error(w, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
