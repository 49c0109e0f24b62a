package api

import (
	"net/http"
	"strconv"

	"live-polling/internal/platform/apperr"
)

// @Summary     Current poll
// @Description Active poll with seconds remaining. A poll past its end is completed by this read.
// @Tags        polls
// @Produce     json
// @Success     200  {object}  envelope
// @Failure     503  {object}  map[string]string  "store unavailable"
// @Router      /api/poll/active [get]
func (h *Handler) handleActivePoll(w http.ResponseWriter, r *http.Request) {
	state, err := h.polls.GetState(r.Context())
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeData(w, state)
}

// @Summary     Completed polls
// @Description Completed polls, newest first.
// @Tags        polls
// @Produce     json
// @Param       limit  query     int  false  "max polls to return (1-100)"
// @Success     200    {object}  envelope
// @Failure     400    {object}  map[string]string  "invalid limit"
// @Failure     503    {object}  map[string]string  "store unavailable"
// @Router      /api/poll/history [get]
func (h *Handler) handlePollHistory(w http.ResponseWriter, r *http.Request) {
	limit := h.historyLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			errorResponse(w, apperr.BadRequest("invalid_input", "limit must be a positive integer", err))
			return
		}
		limit = n
	}

	polls, err := h.polls.History(r.Context(), limit)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeData(w, polls)
}
