package api

import (
	"errors"
	"net/http"

	"github.com/Khushwant-Singh1/HackOps/internal/domain/model"
)

// Sentinel kinds for API errors.
var (
	ErrBadRequest = errors.New("bad request")
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Details carries the typed error: field errors, coverage gaps,
	// version mismatch or the conflicting flag.
	Details any `json:"details,omitempty"`
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, model.ErrValidation):
		return http.StatusBadRequest, "validation"
	case errors.Is(err, model.ErrState):
		return http.StatusConflict, "state"
	case errors.Is(err, model.ErrConflict):
		return http.StatusConflict, "conflict"
	case errors.Is(err, model.ErrCoverage):
		return http.StatusUnprocessableEntity, "coverage"
	case errors.Is(err, model.ErrConcurrency):
		return http.StatusPreconditionFailed, "concurrency"
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, model.ErrForbidden):
		return http.StatusForbidden, "forbidden"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func details(err error) any {
	var (
		verr *model.ValidationError
		serr *model.StateError
		cerr *model.ConflictError
		gerr *model.CoverageError
		kerr *model.ConcurrencyError
		nerr *model.NotFoundError
	)
	switch {
	case errors.As(err, &verr):
		return verr
	case errors.As(err, &serr):
		return serr
	case errors.As(err, &cerr):
		return cerr
	case errors.As(err, &gerr):
		return gerr
	case errors.As(err, &kerr):
		return kerr
	case errors.As(err, &nerr):
		return nerr
	}
	return nil
}

func writeError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		msg = http.StatusText(status)
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg, Details: details(err)})
}
