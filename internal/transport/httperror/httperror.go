// Package httperror centralizes domain error translation to HTTP responses.
package httperror

import (
	"errors"
	"net/http"

	"huddle/internal/transport/httpjson"
	dErrors "huddle/pkg/domain-errors"
)

// Body is the JSON error envelope every auth failure uses.
type Body struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// Write translates transport-agnostic domain errors into HTTP status codes
// and the shared {"error","message"} envelope. Unexpected errors become an
// opaque 500 so stack traces and internals never leak.
func Write(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		httpjson.Write(w, StatusOf(domainErr.Code), Body{
			Error:   string(domainErr.Code),
			Message: domainErr.Message,
		})
		return
	}

	httpjson.Write(w, http.StatusInternalServerError, Body{
		Error:   string(dErrors.CodeInternal),
		Message: "internal error",
	})
}

// StatusOf maps domain error codes to HTTP status codes. Authentication
// failures ("who are you") are 401; authorization and trust failures
// ("not allowed / not from where you claim") are 403.
func StatusOf(code dErrors.Code) int {
	switch code {
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeBadRequest, dErrors.CodeInvalidInput:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeUnauthorized, dErrors.CodeTokenInvalid, dErrors.CodeTokenExpired,
		dErrors.CodeSessionInvalid, dErrors.CodeFederatedTokenInvalid:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden, dErrors.CodeRefreshMismatch, dErrors.CodeInternalTrustDenied,
		dErrors.CodeAccountInactive:
		return http.StatusForbidden
	case dErrors.CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
