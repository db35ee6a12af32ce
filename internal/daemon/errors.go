package daemon

import (
	"errors"
	"net/http"

	"github.com/felixgeelhaar/proctor/internal/domain"
	"github.com/felixgeelhaar/proctor/internal/session"
)

// statusFor maps service errors to HTTP status codes
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound), errors.Is(err, domain.ErrTestMapNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput),
		errors.Is(err, domain.ErrUnsupportedNavigation),
		errors.Is(err, domain.ErrInvalidPosition),
		errors.Is(err, domain.ErrInvalidTestMap):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNavigationForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrMoveInProgress),
		errors.Is(err, session.ErrConfirmationPending),
		errors.Is(err, domain.ErrNoPendingMove),
		errors.Is(err, domain.ErrEndOfTest),
		errors.Is(err, session.ErrStateMissing):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRestorationImpossible):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
