// Package identity defines the trusted principal that crosses service
// boundaries and the header codec used to transport it.
package identity

import (
	"context"
	"net/http"
	"net/url"

	"huddle/pkg/domain"
	dErrors "huddle/pkg/domain-errors"
)

// Trusted identity headers set by the gateway after token + session
// verification. Internal services derive their principal from these and never
// re-verify the signature; the trust model is topological (only the gateway's
// egress path can reach them).
const (
	HeaderUserID    = "X-User-Id"
	HeaderEmail     = "X-User-Email"
	HeaderRole      = "X-User-Role"
	HeaderFullName  = "X-Full-Name"
	HeaderSessionID = "X-Session-Id"

	// HeaderInternalSecret authorizes service-to-service calls that carry no
	// end-user identity.
	HeaderInternalSecret = "X-Internal-Secret"
)

// Roles known to the authorization layer.
const (
	RoleAdmin  = "ADMIN"
	RoleMember = "MEMBER"
)

// Principal is the authenticated identity attached to a request.
type Principal struct {
	UserID    domain.UserID
	Email     string
	Role      string
	FullName  string
	SessionID domain.SessionID
}

// SetHeaders writes the principal onto an outbound request header set.
// The display name is percent-encoded because header values must be ASCII
// and full names frequently are not.
func SetHeaders(h http.Header, p Principal) {
	h.Set(HeaderUserID, p.UserID.String())
	h.Set(HeaderEmail, p.Email)
	h.Set(HeaderRole, p.Role)
	h.Set(HeaderFullName, url.PathEscape(p.FullName))
	h.Set(HeaderSessionID, p.SessionID.String())
}

// StripHeaders removes all trusted identity headers plus the internal secret
// from an inbound request. The gateway calls this before re-deriving them so
// a client can never smuggle its own identity past the edge.
func StripHeaders(h http.Header) {
	for _, name := range []string{HeaderUserID, HeaderEmail, HeaderRole, HeaderFullName, HeaderSessionID, HeaderInternalSecret} {
		h.Del(name)
	}
}

// FromHeaders reconstructs a principal from the trusted header set.
func FromHeaders(h http.Header) (Principal, error) {
	// dErrors.New, not Wrap: the parse failure carries invalid_input, and
	// wrapping would keep that code. An absent or mangled identity header is
	// an authentication failure, full stop.
	userID, err := domain.ParseUserID(h.Get(HeaderUserID))
	if err != nil {
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid user identity header")
	}
	sessionID, err := domain.ParseSessionID(h.Get(HeaderSessionID))
	if err != nil {
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "missing or invalid session identity header")
	}
	email := h.Get(HeaderEmail)
	if email == "" {
		return Principal{}, dErrors.New(dErrors.CodeUnauthorized, "missing email identity header")
	}

	fullName, err := url.PathUnescape(h.Get(HeaderFullName))
	if err != nil {
		// A garbled display name is not worth rejecting the request over.
		fullName = h.Get(HeaderFullName)
	}

	return Principal{
		UserID:    userID,
		Email:     email,
		Role:      h.Get(HeaderRole),
		FullName:  fullName,
		SessionID: sessionID,
	}, nil
}

type principalKey struct{}

// WithPrincipal stores the principal in the request context.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom retrieves the principal placed in the context by a trust filter.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
