package apperr

import (
	"errors"
	"net/http"
)

// ErrStorageUnavailable marks failures to reach the backing store.
var ErrStorageUnavailable = errors.New("storage unavailable")

type AppError struct {
	Code    string `json:"error"`
	Message string `json:"message"`
	Err     error  `json:"-"`
	status  int
}

func (e *AppError) Error() string {
	if e == nil {
		return ""
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Code != "" {
		return e.Code
	}
	return e.Err.Error()
}

func (e *AppError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func (e *AppError) StatusCode() int {
	if e == nil || e.status == 0 {
		return http.StatusInternalServerError
	}
	return e.status
}

// Rejected reports whether the error is a client-side rejection (4xx)
// rather than a server fault.
func (e *AppError) Rejected() bool {
	s := e.StatusCode()
	return s >= 400 && s < 500
}

func BadRequest(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusBadRequest)
}

func NotFound(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusNotFound)
}

func Conflict(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusConflict)
}

func Unauthorized(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusUnauthorized)
}

func TooManyRequests(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusTooManyRequests)
}

func Unavailable(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusServiceUnavailable)
}

func Internal(code, msg string, err error) *AppError {
	return newAppError(code, msg, err, http.StatusInternalServerError)
}

// StorageUnavailable joins err with ErrStorageUnavailable so callers can
// test for it with errors.Is.
func StorageUnavailable(err error) error {
	if err == nil {
		return nil
	}
	return errors.Join(ErrStorageUnavailable, err)
}

func FromError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return Unavailable("storage_unavailable", "service temporarily unavailable", err)
	}
	return Internal("internal_error", http.StatusText(http.StatusInternalServerError), err)
}

func newAppError(code, msg string, err error, status int) *AppError {
	return &AppError{
		Code:    code,
		Message: msg,
		Err:     err,
		status:  status,
	}
}
