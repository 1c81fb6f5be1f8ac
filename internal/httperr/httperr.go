// Package httperr maps domain sentinel errors onto API responses.
package httperr

import (
	"errors"
	"net/http"
	"strings"

	"trusted-delivery/internal/models"

	"github.com/labstack/echo/v4"
)

type mapping struct {
	target error
	status int
	code   string
}

var mappings = []mapping{
	{models.ErrValidation, http.StatusBadRequest, "validation_failed"},
	{models.ErrSelfFriendship, http.StatusBadRequest, "self_friendship"},
	{models.ErrUnauthenticated, http.StatusUnauthorized, "unauthenticated"},
	{models.ErrForbidden, http.StatusForbidden, "forbidden"},
	{models.ErrNotFound, http.StatusNotFound, "not_found"},
	{models.ErrConflict, http.StatusConflict, "conflict"},
	{models.ErrPreconditionFailed, http.StatusConflict, "precondition_failed"},
	{models.ErrInvalidTransition, http.StatusConflict, "invalid_transition"},
	{models.ErrAlreadyCompleted, http.StatusConflict, "already_completed"},
	{models.ErrInvalidOTP, http.StatusUnprocessableEntity, "invalid_otp"},
}

// Status returns the HTTP status and error code for err.
func Status(err error) (int, string) {
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.status, m.code
		}
	}
	return http.StatusInternalServerError, "internal"
}

// Respond writes err as an ErrorResponse. Unmapped errors are logged under op
// and hidden behind a generic message.
func Respond(c echo.Context, op string, err error) error {
	status, code := Status(err)
	if status == http.StatusInternalServerError {
		c.Logger().Error(op+": ", err)
		return c.JSON(status, models.ErrorResponse{Message: "Internal server error", Code: code})
	}
	return c.JSON(status, models.ErrorResponse{Message: publicMessage(err), Code: code})
}

// publicMessage drops the "service.X:" wrapping and keeps the sentinel text.
// Validation errors keep the detail that follows the sentinel.
func publicMessage(err error) string {
	msg := err.Error()
	if errors.Is(err, models.ErrValidation) {
		sentinel := models.ErrValidation.Error()
		if i := strings.Index(msg, sentinel); i >= 0 {
			return "Validation failed" + msg[i+len(sentinel):]
		}
		return msg
	}
	for _, m := range mappings {
		if errors.Is(err, m.target) {
			return m.target.Error()
		}
	}
	return msg
}
