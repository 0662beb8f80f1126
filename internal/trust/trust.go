// Package trust guards every internal service behind two mutually exclusive
// trust paths: gateway-set identity headers for user traffic, and a shared
// internal secret for service-to-service calls with no end-user identity.
//
// Header trust is topological, not cryptographic: it holds only because the
// identity headers can arrive exclusively via the gateway's egress path.
// Deployments must enforce (network policy, service mesh) that no direct
// route to an internal service bypasses the gateway.
package trust

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"huddle/internal/identity"
	"huddle/internal/platform/middleware"
	"huddle/internal/session"
	"huddle/internal/token"
	"huddle/internal/transport/httperror"
	dErrors "huddle/pkg/domain-errors"
)

// HeaderPrincipal reconstructs the principal from the gateway's trusted
// identity headers and places it in the request context. Requests without a
// complete header set are rejected before the handler runs.
func HeaderPrincipal(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, err := identity.FromHeaders(r.Header)
			if err != nil {
				logger.WarnContext(r.Context(), "rejected request without trusted identity headers",
					"error", err,
					"path", r.URL.Path,
					"request_id", middleware.GetRequestID(r.Context()),
				)
				httperror.Write(w, err)
				return
			}

			ctx := identity.WithPrincipal(r.Context(), principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// InternalSecret guards /internal/ routes. Callers are other services, not
// end users, so no principal is derived; the only credential is an exact
// match on the configured shared secret.
func InternalSecret(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(identity.HeaderInternalSecret)
			if secret == "" || strings.TrimSpace(presented) == "" ||
				subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				logger.WarnContext(r.Context(), "rejected internal call with missing or wrong secret",
					"path", r.URL.Path,
					"request_id", middleware.GetRequestID(r.Context()),
				)
				httperror.Write(w, dErrors.New(dErrors.CodeInternalTrustDenied, "invalid internal secret"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// TokenRecheck independently re-verifies the bearer token and its session for
// services sitting one hop further from the edge. It runs in addition to
// HeaderPrincipal, as defense in depth against a compromised intermediate
// hop, and synchronously on the request thread.
func TokenRecheck(codec *token.Codec, store session.Store, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bearer, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok {
				httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}

			claims, err := codec.Verify(bearer)
			if err != nil {
				logger.WarnContext(r.Context(), "token recheck failed",
					"error", err,
					"request_id", middleware.GetRequestID(r.Context()),
				)
				httperror.Write(w, err)
				return
			}

			principal, err := claims.Principal()
			if err != nil {
				httperror.Write(w, err)
				return
			}
			if !store.Validate(r.Context(), principal.SessionID) {
				httperror.Write(w, dErrors.New(dErrors.CodeSessionInvalid, "session expired or invalid"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RequireRoles authorizes the already-derived principal against an explicit
// per-route role list. Mount after HeaderPrincipal.
func RequireRoles(roles ...string) func(http.Handler) http.Handler {
	allowed := make(map[string]struct{}, len(roles))
	for _, role := range roles {
		allowed[role] = struct{}{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := identity.PrincipalFrom(r.Context())
			if !ok {
				httperror.Write(w, dErrors.New(dErrors.CodeUnauthorized, "no authenticated principal"))
				return
			}
			if _, ok := allowed[principal.Role]; !ok {
				httperror.Write(w, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
