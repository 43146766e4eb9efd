package http

import (
	"errors"
	"log"
	"net/http"

	"quiz-room-service/internal/domain"
)

// errorPayload is the error body shared by REST responses and socket frames.
type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// statusFor maps an error kind onto an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrUnauthenticated):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAuthorization):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrStateConflict), errors.Is(err, domain.ErrCapacity):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// codeFor returns a stable machine-readable code for err.
func codeFor(err error) string {
	switch kind := domain.KindOf(err); kind {
	case domain.ErrValidation:
		return "validation"
	case domain.ErrStateConflict:
		return "state_conflict"
	case domain.ErrCapacity:
		return "capacity"
	case domain.ErrNotFound:
		return "not_found"
	case domain.ErrAuthorization:
		if errors.Is(err, domain.ErrUnauthenticated) {
			return "unauthenticated"
		}
		return "forbidden"
	default:
		return "internal"
	}
}

// toPayload hides internal failures from clients and logs them.
func toPayload(op string, err error) errorPayload {
	if domain.KindOf(err) == nil {
		log.Printf("%s failed: %v", op, err)
		return errorPayload{Code: codeFor(err), Message: "internal error"}
	}
	return errorPayload{Code: codeFor(err), Message: err.Error()}
}
