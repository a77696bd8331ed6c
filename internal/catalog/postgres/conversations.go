package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/askdb/askdb/internal/catalog"
)

const defaultConversationLimit = 50

func (r *Repository) CreateConversation(ctx context.Context, in catalog.CreateConversationInput) (catalog.Conversation, error) {
	query := `
INSERT INTO conversation (owner_user_id, connection_id, title)
VALUES ($1, $2, $3)
RETURNING conversation_id, created_at, updated_at`

	conv := catalog.Conversation{
		OwnerUserID:  in.OwnerUserID,
		ConnectionID: in.ConnectionID,
		Title:        in.Title,
	}
	if err := r.db.QueryRowContext(ctx, query, in.OwnerUserID, in.ConnectionID, in.Title).Scan(
		&conv.ConversationID,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return catalog.Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return conv, nil
}

func (r *Repository) GetConversation(ctx context.Context, conversationID int64) (catalog.Conversation, error) {
	query := `
SELECT conversation_id, owner_user_id, connection_id, title, created_at, updated_at
FROM conversation
WHERE conversation_id = $1`

	conv, err := scanConversation(r.db.QueryRowContext(ctx, query, conversationID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Conversation{}, catalog.ErrNotFound
		}
		return catalog.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}
	return conv, nil
}

func (r *Repository) ListConversations(ctx context.Context, ownerUserID string, connectionID int64, limit int) ([]catalog.Conversation, error) {
	if limit <= 0 {
		limit = defaultConversationLimit
	}
	query := `
SELECT conversation_id, owner_user_id, connection_id, title, created_at, updated_at
FROM conversation
WHERE owner_user_id = $1 AND connection_id = $2
ORDER BY updated_at DESC, conversation_id DESC
LIMIT $3`

	rows, err := r.db.QueryContext(ctx, query, ownerUserID, connectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	conversations := make([]catalog.Conversation, 0)
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan conversation row: %w", err)
		}
		conversations = append(conversations, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate conversation rows: %w", err)
	}
	return conversations, nil
}

func (r *Repository) DeleteConversation(ctx context.Context, conversationID int64, ownerUserID string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
DELETE FROM conversation
WHERE conversation_id = $1 AND owner_user_id = $2`, conversationID, ownerUserID)
	if err != nil {
		return false, fmt.Errorf("delete conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete conversation rows affected: %w", err)
	}
	return affected > 0, nil
}

// TouchConversation bumps updated_at on the conversation and on the connection
// it belongs to, which keeps connection listings in activity order.
func (r *Repository) TouchConversation(ctx context.Context, conversationID int64) error {
	query := `
WITH touched AS (
    UPDATE conversation
    SET updated_at = NOW()
    WHERE conversation_id = $1
    RETURNING connection_id
)
UPDATE db_connection
SET updated_at = NOW()
WHERE connection_id IN (SELECT connection_id FROM touched)`

	result, err := r.db.ExecContext(ctx, query, conversationID)
	if err != nil {
		return fmt.Errorf("touch conversation: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch conversation rows affected: %w", err)
	}
	if affected == 0 {
		return catalog.ErrNotFound
	}
	return nil
}

func (r *Repository) AppendMessage(ctx context.Context, in catalog.AppendMessageInput) (catalog.Message, error) {
	query := `
INSERT INTO message (conversation_id, role, content, sql_query, visual_type, result_key)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING message_id, created_at`

	msg := catalog.Message{
		ConversationID: in.ConversationID,
		Role:           in.Role,
		Content:        in.Content,
		SQLQuery:       in.SQLQuery,
		VisualType:     in.VisualType,
		ResultKey:      in.ResultKey,
	}
	if err := r.db.QueryRowContext(ctx, query,
		in.ConversationID, string(in.Role), in.Content, in.SQLQuery, in.VisualType, in.ResultKey,
	).Scan(&msg.MessageID, &msg.CreatedAt); err != nil {
		return catalog.Message{}, fmt.Errorf("append message: %w", err)
	}
	return msg, nil
}

func (r *Repository) ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]catalog.Message, error) {
	if limit <= 0 {
		return []catalog.Message{}, nil
	}
	query := `
SELECT message_id, conversation_id, role, content, sql_query, visual_type, result_key, created_at
FROM message
WHERE conversation_id = $1
ORDER BY created_at DESC, message_id DESC
LIMIT $2`

	messages, err := r.queryMessages(ctx, query, conversationID, limit)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *Repository) ListMessages(ctx context.Context, conversationID int64) ([]catalog.Message, error) {
	query := `
SELECT message_id, conversation_id, role, content, sql_query, visual_type, result_key, created_at
FROM message
WHERE conversation_id = $1
ORDER BY created_at ASC, message_id ASC`

	return r.queryMessages(ctx, query, conversationID)
}

func (r *Repository) GetMessage(ctx context.Context, messageID int64) (catalog.Message, error) {
	query := `
SELECT message_id, conversation_id, role, content, sql_query, visual_type, result_key, created_at
FROM message
WHERE message_id = $1`

	msg, err := scanMessage(r.db.QueryRowContext(ctx, query, messageID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return catalog.Message{}, catalog.ErrNotFound
		}
		return catalog.Message{}, fmt.Errorf("get message: %w", err)
	}
	return msg, nil
}

func (r *Repository) queryMessages(ctx context.Context, query string, args ...any) ([]catalog.Message, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer func() { _ = rows.Close() }()

	messages := make([]catalog.Message, 0)
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scan message row: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message rows: %w", err)
	}
	return messages, nil
}

func scanConversation(row rowScanner) (catalog.Conversation, error) {
	var conv catalog.Conversation
	if err := row.Scan(
		&conv.ConversationID,
		&conv.OwnerUserID,
		&conv.ConnectionID,
		&conv.Title,
		&conv.CreatedAt,
		&conv.UpdatedAt,
	); err != nil {
		return catalog.Conversation{}, err
	}
	return conv, nil
}

func scanMessage(row rowScanner) (catalog.Message, error) {
	var (
		msg  catalog.Message
		role string
	)
	if err := row.Scan(
		&msg.MessageID,
		&msg.ConversationID,
		&role,
		&msg.Content,
		&msg.SQLQuery,
		&msg.VisualType,
		&msg.ResultKey,
		&msg.CreatedAt,
	); err != nil {
		return catalog.Message{}, err
	}
	msg.Role = catalog.Role(role)
	return msg, nil
}
