package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/dbchat/dbchat/internal/auth"
	"github.com/dbchat/dbchat/internal/chat"
)

type chatRequest struct {
	SessionID string `json:"session_id"`
	Message   string `json:"message"`
}

func handleChat(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Chat == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CHAT_NOT_CONFIGURED", "chat processing is not configured", false, nil)
		return
	}
	if err := requireAnyRole(r, auth.RoleChatUser, auth.RoleSQLOperator); err != nil {
		writeError(r.Context(), w, http.StatusForbidden, "FORBIDDEN", err.Error(), false, nil)
		return
	}

	var request chatRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid chat request body", false, map[string]any{"details": err.Error()})
		return
	}
	if strings.TrimSpace(request.Message) == "" {
		writeError(r.Context(), w, http.StatusBadRequest, "MESSAGE_REQUIRED", "message is required", false, nil)
		return
	}

	response, err := deps.Chat.Process(r.Context(), request.SessionID, request.Message)
	if err != nil {
		var failure *chat.Failure
		if errors.As(err, &failure) {
			writeError(r.Context(), w, chatFailureStatus(failure.Code), failure.Code, failure.Message, failure.Retryable, nil)
			return
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL", "chat request failed", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, response)
}

// chatFailureStatus maps processing failures onto transport codes. Retryable
// conditions surface as 503 so clients back off and try again.
func chatFailureStatus(code string) int {
	switch code {
	case chat.CodeSchemaUnavailable, chat.CodeTryAgain:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
