package service

import (
	"errors"
	"net/http"

	"github.com/trialkey-service/internal/httputil"
)

// HTTPStatus maps an ErrorKind to its corresponding HTTP status code.
func (k ErrorKind) HTTPStatus() int {
	switch k {
	case ErrBadRequest:
		return http.StatusBadRequest
	case ErrUnauthorized:
		return http.StatusUnauthorized
	case ErrTooManyRequests:
		return http.StatusTooManyRequests
	case ErrInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// RespondError writes an appropriate HTTP error response for a service error.
// If the error is a *service.Error, it uses the error's kind/code/message and
// any extra fields. Otherwise, it returns a generic 500.
func RespondError(w http.ResponseWriter, err error) {
	var svcErr *Error
	if errors.As(err, &svcErr) {
		httputil.RespondErrorFields(w, svcErr.Kind.HTTPStatus(), svcErr.Code, svcErr.Message, svcErr.Fields)
		return
	}
	httputil.RespondError(w, http.StatusInternalServerError, CodeInternal, "An unexpected error occurred")
}
