package api

import (
	"encoding/json"
	"net/http"

	"live-polling/internal/platform/apperr"
)

type teacherLoginRequest struct {
	Passcode string `json:"passcode"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

// @Summary     Teacher login
// @Description Exchanges the teacher passcode for a token sent with the websocket join.
// @Tags        auth
// @Accept      json
// @Produce     json
// @Param       request  body      teacherLoginRequest  true  "Passcode"
// @Success     200      {object}  tokenResponse
// @Failure     400      {object}  map[string]string  "invalid body"
// @Failure     401      {object}  map[string]string  "wrong passcode"
// @Failure     404      {object}  map[string]string  "teacher auth disabled"
// @Failure     429      {object}  map[string]string  "rate limited"
// @Router      /api/auth/teacher [post]
func (h *Handler) handleTeacherLogin(w http.ResponseWriter, r *http.Request) {
	if h.auth == nil || !h.auth.Enabled() {
		errorResponse(w, apperr.NotFound("auth_disabled", "teacher authentication is disabled", nil))
		return
	}

	var req teacherLoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		errorResponse(w, apperr.BadRequest("invalid_input", "invalid body", err))
		return
	}

	token, err := h.auth.Login(req.Passcode)
	if err != nil {
		errorResponse(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}
