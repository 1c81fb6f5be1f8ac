package models

import "errors"

var ErrNotFound = errors.New("requested resource not found")
var ErrForbidden = errors.New("user does not have permission to access this resource")
var ErrConflict = errors.New("resource conflict, item already exists")
var ErrUnauthenticated = errors.New("authentication required")
var ErrValidation = errors.New("validation failed")

// ErrPreconditionFailed means a compare-and-swap lost: the row no longer had the
// status the caller expected. For acceptance this is the "already claimed" outcome.
var ErrPreconditionFailed = errors.New("request status changed, action no longer applies")

// ErrInvalidTransition is returned when the requested status cannot follow the current one.
var ErrInvalidTransition = errors.New("status transition not allowed")

var ErrInvalidOTP = errors.New("invalid OTP")
var ErrAlreadyCompleted = errors.New("delivery already completed")
var ErrSelfFriendship = errors.New("cannot send a friend request to yourself")

// ErrorResponse is the JSON body of every non-2xx API response.
type ErrorResponse struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
