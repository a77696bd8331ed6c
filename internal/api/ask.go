package api

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/pipeline"
)

// flexibleID accepts an id sent either as a JSON number or a numeric string.
type flexibleID int64

func (id *flexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = 0
		return nil
	}
	raw := string(data)
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = strings.TrimSpace(unquoted)
		if raw == "" {
			*id = 0
			return nil
		}
	}
	parsed, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || parsed < 0 {
		return fmt.Errorf("invalid id %s", data)
	}
	*id = flexibleID(parsed)
	return nil
}

// askRequest also takes the connections_id and query spellings used by older
// clients.
type askRequest struct {
	ConnectionID   flexibleID `json:"connection_id"`
	ConnectionsID  flexibleID `json:"connections_id"`
	Question       string     `json:"question"`
	Query          string     `json:"query"`
	ConversationID flexibleID `json:"conversation_id"`
	Model          string     `json:"model"`
}

func (req askRequest) question() pipeline.Question {
	connectionID := int64(req.ConnectionsID)
	if connectionID == 0 {
		connectionID = int64(req.ConnectionID)
	}
	text := req.Query
	if strings.TrimSpace(text) == "" {
		text = req.Question
	}
	return pipeline.Question{
		ConnectionID:   connectionID,
		Text:           text,
		ConversationID: int64(req.ConversationID),
		Model:          strings.TrimSpace(req.Model),
	}
}

type queryFailure struct {
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   bool   `json:"error"`
}

func handleAsk(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Pipeline == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "ASK_NOT_CONFIGURED", "question pipeline is not configured", false, nil)
		return
	}

	var req askRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_JSON", "invalid ask request body", false, map[string]any{"details": err.Error()})
		return
	}
	question := req.question()
	question.UserID = auth.UserIDFromContext(r.Context())

	answer, err := deps.Pipeline.Ask(r.Context(), question)
	if err != nil {
		// SQL failures are an answer the caller can show, not a fault.
		if appErr, ok := apperr.As(err); ok && appErr.Kind == apperr.KindQuery {
			code := appErr.Code
			if code == "" {
				code = "SQL_ERROR"
			}
			writeJSON(w, http.StatusOK, queryFailure{Message: appErr.Message, Code: code, Error: true})
			return
		}
		writeFailure(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, answer)
}
