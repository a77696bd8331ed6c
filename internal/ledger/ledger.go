// Package ledger records the question and answer turns of a conversation.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/askdb/askdb/internal/apperr"
	"github.com/askdb/askdb/internal/catalog"
	"github.com/askdb/askdb/internal/observability"
)

const (
	titleLength       = 100
	listLimit         = 50
	DefaultVisualType = "table"
)

type Repository interface {
	CreateConversation(ctx context.Context, in catalog.CreateConversationInput) (catalog.Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (catalog.Conversation, error)
	ListConversations(ctx context.Context, ownerUserID string, connectionID int64, limit int) ([]catalog.Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64, ownerUserID string) (bool, error)
	TouchConversation(ctx context.Context, conversationID int64) error
	AppendMessage(ctx context.Context, in catalog.AppendMessageInput) (catalog.Message, error)
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]catalog.Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]catalog.Message, error)
	GetMessage(ctx context.Context, messageID int64) (catalog.Message, error)
}

// AssistantTurn is the stored form of an answer.
type AssistantTurn struct {
	Summary    string
	SQL        string
	VisualType string
	ResultKey  string
}

// ResultStore removes archived result objects. storage.ObjectStore satisfies it.
type ResultStore interface {
	Delete(ctx context.Context, key string) error
}

type Option func(*Ledger)

// WithResultStore makes Delete remove the archived results of the deleted
// conversation's messages.
func WithResultStore(store ResultStore) Option {
	return func(l *Ledger) {
		l.results = store
	}
}

type Ledger struct {
	repo    Repository
	results ResultStore
	logger  *slog.Logger
}

func New(repo Repository, logger *slog.Logger, opts ...Option) *Ledger {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Ledger{repo: repo, logger: logger}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Ensure returns the conversation a question belongs to. A conversation is
// created only when none was given and the caller is known. Zero means the
// question is not recorded.
func (l *Ledger) Ensure(ctx context.Context, conversationID int64, userID string, connectionID int64, question string) (int64, error) {
	if conversationID != 0 {
		conv, err := l.repo.GetConversation(ctx, conversationID)
		if errors.Is(err, catalog.ErrNotFound) {
			return 0, conversationNotFound(conversationID)
		}
		if err != nil {
			return 0, fmt.Errorf("get conversation: %w", err)
		}
		if conv.OwnerUserID != userID {
			return 0, conversationNotFound(conversationID)
		}
		if conv.ConnectionID != connectionID {
			return 0, apperr.Validation("CONVERSATION_CONNECTION_MISMATCH",
				fmt.Sprintf("conversation %d belongs to connection %d", conversationID, conv.ConnectionID))
		}
		return conversationID, nil
	}
	if userID == "" {
		return 0, nil
	}

	conv, err := l.repo.CreateConversation(ctx, catalog.CreateConversationInput{
		OwnerUserID:  userID,
		ConnectionID: connectionID,
		Title:        Title(question),
	})
	if err != nil {
		return 0, fmt.Errorf("create conversation: %w", err)
	}
	l.logger.DebugContext(ctx, "conversation created",
		slog.Int64("conversation_id", conv.ConversationID),
		slog.Int64("connection_id", connectionID),
	)
	return conv.ConversationID, nil
}

// Title is the first hundred characters of the question.
func Title(question string) string {
	runes := []rune(strings.TrimSpace(question))
	if len(runes) > titleLength {
		runes = runes[:titleLength]
	}
	return string(runes)
}

// History returns the newest limit messages, oldest first.
func (l *Ledger) History(ctx context.Context, conversationID int64, limit int) ([]catalog.Message, error) {
	if conversationID == 0 || limit <= 0 {
		return []catalog.Message{}, nil
	}
	messages, err := l.repo.ListRecentMessages(ctx, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}
	return messages, nil
}

func (l *Ledger) AppendUser(ctx context.Context, conversationID int64, question string) (catalog.Message, error) {
	msg, err := l.repo.AppendMessage(ctx, catalog.AppendMessageInput{
		ConversationID: conversationID,
		Role:           catalog.RoleUser,
		Content:        question,
	})
	if err != nil {
		return catalog.Message{}, fmt.Errorf("append user message: %w", err)
	}
	return msg, nil
}

func (l *Ledger) AppendAssistant(ctx context.Context, conversationID int64, turn AssistantTurn) (catalog.Message, error) {
	visualType := strings.TrimSpace(turn.VisualType)
	if visualType == "" {
		visualType = DefaultVisualType
	}
	in := catalog.AppendMessageInput{
		ConversationID: conversationID,
		Role:           catalog.RoleAssistant,
		Content:        turn.Summary,
		SQLQuery:       &turn.SQL,
		VisualType:     &visualType,
	}
	if turn.ResultKey != "" {
		in.ResultKey = &turn.ResultKey
	}
	msg, err := l.repo.AppendMessage(ctx, in)
	if err != nil {
		return catalog.Message{}, fmt.Errorf("append assistant message: %w", err)
	}
	return msg, nil
}

func (l *Ledger) Touch(ctx context.Context, conversationID int64) error {
	if err := l.repo.TouchConversation(ctx, conversationID); err != nil {
		if errors.Is(err, catalog.ErrNotFound) {
			return conversationNotFound(conversationID)
		}
		return fmt.Errorf("touch conversation: %w", err)
	}
	return nil
}

// List returns the caller's conversations on a connection, most recently
// active first.
func (l *Ledger) List(ctx context.Context, userID string, connectionID int64) ([]catalog.Conversation, error) {
	if connectionID <= 0 {
		return nil, apperr.Validation("MISSING_CONNECTION_ID", "connection_id is required")
	}
	conversations, err := l.repo.ListConversations(ctx, userID, connectionID, listLimit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	return conversations, nil
}

// Messages returns every message of an owned conversation, oldest first.
func (l *Ledger) Messages(ctx context.Context, conversationID int64, userID string) ([]catalog.Message, error) {
	if _, err := l.Owned(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	messages, err := l.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// Owned returns the conversation when userID owns it.
func (l *Ledger) Owned(ctx context.Context, conversationID int64, userID string) (catalog.Conversation, error) {
	if conversationID <= 0 {
		return catalog.Conversation{}, apperr.Validation("MISSING_CONVERSATION_ID", "conversation_id is required")
	}
	conv, err := l.repo.GetConversation(ctx, conversationID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Conversation{}, conversationNotFound(conversationID)
	}
	if err != nil {
		return catalog.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	if conv.OwnerUserID != userID {
		return catalog.Conversation{}, conversationNotFound(conversationID)
	}
	return conv, nil
}

// Message returns a single message when its conversation is owned by userID.
func (l *Ledger) Message(ctx context.Context, messageID int64, userID string) (catalog.Message, error) {
	if messageID <= 0 {
		return catalog.Message{}, apperr.Validation("MISSING_MESSAGE_ID", "message_id is required")
	}
	msg, err := l.repo.GetMessage(ctx, messageID)
	if errors.Is(err, catalog.ErrNotFound) {
		return catalog.Message{}, messageNotFound(messageID)
	}
	if err != nil {
		return catalog.Message{}, fmt.Errorf("get message: %w", err)
	}
	if _, err := l.Owned(ctx, msg.ConversationID, userID); err != nil {
		if apperr.IsKind(err, apperr.KindNotFound) {
			return catalog.Message{}, messageNotFound(messageID)
		}
		return catalog.Message{}, err
	}
	return msg, nil
}

// Delete removes an owned conversation. Its messages go with it, and with a
// result store so do their archived results. Result removal is best effort.
func (l *Ledger) Delete(ctx context.Context, conversationID int64, userID string) error {
	if conversationID <= 0 {
		return apperr.Validation("MISSING_CONVERSATION_ID", "conversation_id is required")
	}
	keys, err := l.resultKeys(ctx, conversationID, userID)
	if err != nil {
		return err
	}
	deleted, err := l.repo.DeleteConversation(ctx, conversationID, userID)
	if err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	if !deleted {
		return conversationNotFound(conversationID)
	}
	l.removeResults(ctx, conversationID, keys)
	return nil
}

func (l *Ledger) resultKeys(ctx context.Context, conversationID int64, userID string) ([]string, error) {
	if l.results == nil {
		return nil, nil
	}
	if _, err := l.Owned(ctx, conversationID, userID); err != nil {
		return nil, err
	}
	messages, err := l.repo.ListMessages(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	keys := make([]string, 0)
	for _, msg := range messages {
		if msg.ResultKey != nil && *msg.ResultKey != "" {
			keys = append(keys, *msg.ResultKey)
		}
	}
	return keys, nil
}

func (l *Ledger) removeResults(ctx context.Context, conversationID int64, keys []string) {
	for _, key := range keys {
		err := l.results.Delete(ctx, key)
		observability.ObserveDeletedResult(err)
		if err != nil {
			l.logger.WarnContext(ctx, "archived result removal failed",
				slog.String("trace_id", observability.TraceIDFromContext(ctx)),
				slog.Int64("conversation_id", conversationID),
				slog.String("result_key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

func conversationNotFound(conversationID int64) *apperr.Error {
	return apperr.NotFound("CONVERSATION_NOT_FOUND", fmt.Sprintf("conversation %d not found", conversationID))
}

func messageNotFound(messageID int64) *apperr.Error {
	return apperr.NotFound("MESSAGE_NOT_FOUND", fmt.Sprintf("message %d not found", messageID))
}
