package api

import (
	"errors"
	"net/http"

	"live-polling/internal/domain/auth"
	"live-polling/internal/domain/poll"
	"live-polling/internal/domain/vote"
	"live-polling/internal/platform/apperr"
)

func errorResponse(w http.ResponseWriter, err error) {
	appErr := mapError(err)
	if !appErr.Rejected() {
		slogLogger.Error("request failed", "error", err)
	}
	writeJSON(w, appErr.StatusCode(), map[string]any{
		"success": false,
		"error":   appErr.Code,
		"message": appErr.Message,
	})
}

func mapError(err error) *apperr.AppError {
	if err == nil {
		return apperr.Internal("internal_error", "internal server error", nil)
	}

	var appErr *apperr.AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	switch {
	case errors.Is(err, poll.ErrValidation):
		return apperr.BadRequest("invalid_input", err.Error(), err)
	case errors.Is(err, poll.ErrPollNotFound):
		return apperr.NotFound("poll_not_found", "poll not found", err)
	case errors.Is(err, poll.ErrInvalidOption):
		return apperr.NotFound("invalid_option", "invalid option", err)
	case errors.Is(err, poll.ErrPollNotActive):
		return apperr.Conflict("poll_not_active", "poll is no longer active", err)
	case errors.Is(err, poll.ErrPollExpired):
		return apperr.Conflict("poll_expired", "poll has expired", err)
	case errors.Is(err, vote.ErrAlreadyVoted):
		return apperr.Conflict("already_voted", "already voted", err)
	case errors.Is(err, auth.ErrPasscodeRequired):
		return apperr.BadRequest("invalid_input", "passcode is required", err)
	case errors.Is(err, auth.ErrInvalidPasscode):
		return apperr.Unauthorized("invalid_passcode", "invalid passcode", err)
	case errors.Is(err, auth.ErrDisabled):
		return apperr.NotFound("auth_disabled", "teacher authentication is disabled", err)
	default:
		return apperr.FromError(err)
	}
}
