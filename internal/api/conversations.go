package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/askdb/askdb/internal/auth"
	"github.com/askdb/askdb/internal/catalog"
)

type conversationView struct {
	ConversationID int64     `json:"id"`
	ConnectionID   int64     `json:"connection_id"`
	Title          string    `json:"title"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

type messageView struct {
	MessageID  int64     `json:"id"`
	Role       string    `json:"role"`
	Content    string    `json:"content"`
	SQLQuery   *string   `json:"sql_query"`
	VisualType *string   `json:"visual_type"`
	ResultKey  *string   `json:"result_key,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func handleListConversations(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATIONS_NOT_CONFIGURED", "conversation ledger is not configured", false, nil)
		return
	}
	var connectionID int64
	if raw := strings.TrimSpace(r.URL.Query().Get("connection_id")); raw != "" {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || parsed <= 0 {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONNECTION_ID", "connection_id must be a positive integer", false, nil)
			return
		}
		connectionID = parsed
	}

	conversations, err := deps.Conversations.List(r.Context(), auth.UserIDFromContext(r.Context()), connectionID)
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	items := make([]conversationView, 0, len(conversations))
	for _, conv := range conversations {
		items = append(items, conversationView{
			ConversationID: conv.ConversationID,
			ConnectionID:   conv.ConnectionID,
			Title:          conv.Title,
			CreatedAt:      conv.CreatedAt,
			UpdatedAt:      conv.UpdatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"conversations": items})
}

func handleListMessages(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATIONS_NOT_CONFIGURED", "conversation ledger is not configured", false, nil)
		return
	}
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONVERSATION_ID", "conversation id must be a positive integer", false, nil)
		return
	}
	messages, err := deps.Conversations.Messages(r.Context(), conversationID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	items := make([]messageView, 0, len(messages))
	for _, msg := range messages {
		items = append(items, newMessageView(msg))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"conversation_id": conversationID,
		"messages":        items,
	})
}

func handleDeleteConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "CONVERSATIONS_NOT_CONFIGURED", "conversation ledger is not configured", false, nil)
		return
	}
	conversationID, ok := pathID(r, "id")
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_CONVERSATION_ID", "conversation id must be a positive integer", false, nil)
		return
	}
	if err := deps.Conversations.Delete(r.Context(), conversationID, auth.UserIDFromContext(r.Context())); err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func handleMessageResult(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil || deps.Results == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "RESULTS_NOT_CONFIGURED", "result archive is not enabled", false, nil)
		return
	}
	messageID, ok := pathID(r, "id")
	if !ok {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_MESSAGE_ID", "message id must be a positive integer", false, nil)
		return
	}
	limit, err := queryInt(r, "limit")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_LIMIT", "limit must be an integer", false, nil)
		return
	}
	offset, err := queryInt(r, "offset")
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_OFFSET", "offset must be an integer", false, nil)
		return
	}

	msg, err := deps.Conversations.Message(r.Context(), messageID, auth.UserIDFromContext(r.Context()))
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	if msg.ResultKey == nil || *msg.ResultKey == "" {
		writeError(r.Context(), w, http.StatusNotFound, "RESULT_NOT_FOUND", "message has no archived result", false, map[string]any{"message_id": messageID})
		return
	}

	page, err := deps.Results.Read(r.Context(), *msg.ResultKey, limit, offset)
	if err != nil {
		writeFailure(deps, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"message_id": messageID,
		"result":     page,
	})
}

func newMessageView(msg catalog.Message) messageView {
	return messageView{
		MessageID:  msg.MessageID,
		Role:       string(msg.Role),
		Content:    msg.Content,
		SQLQuery:   msg.SQLQuery,
		VisualType: msg.VisualType,
		ResultKey:  msg.ResultKey,
		CreatedAt:  msg.CreatedAt,
	}
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := strings.TrimSpace(r.URL.Query().Get(name))
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
