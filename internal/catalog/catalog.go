package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/askdb/askdb/internal/schema"
)

var ErrNotFound = errors.New("catalog: not found")

const RedactedPassword = "********"

type Repository interface {
	HealthCheck(ctx context.Context) error

	// CreateConnection stores the connection row together with its schema
	// snapshot. Either both are written or neither is.
	CreateConnection(ctx context.Context, in CreateConnectionInput) (Connection, error)
	GetConnection(ctx context.Context, connectionID int64) (Connection, error)
	ListConnectionsForOwner(ctx context.Context, ownerUserID string) ([]Connection, error)

	SaveSchemaSnapshot(ctx context.Context, connectionID int64, snapshot schema.Snapshot) error
	GetSchemaSnapshot(ctx context.Context, connectionID int64) (schema.Snapshot, error)

	CreateConversation(ctx context.Context, in CreateConversationInput) (Conversation, error)
	GetConversation(ctx context.Context, conversationID int64) (Conversation, error)
	ListConversations(ctx context.Context, ownerUserID string, connectionID int64, limit int) ([]Conversation, error)
	DeleteConversation(ctx context.Context, conversationID int64, ownerUserID string) (bool, error)
	TouchConversation(ctx context.Context, conversationID int64) error

	AppendMessage(ctx context.Context, in AppendMessageInput) (Message, error)
	// ListRecentMessages returns the newest limit messages, oldest first.
	ListRecentMessages(ctx context.Context, conversationID int64, limit int) ([]Message, error)
	ListMessages(ctx context.Context, conversationID int64) ([]Message, error)
	GetMessage(ctx context.Context, messageID int64) (Message, error)
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Connection struct {
	ConnectionID int64
	OwnerUserID  string
	Engine       string
	Host         string
	Port         int
	User         string
	Password     string
	Database     string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Redacted returns a copy that is safe to hand to callers.
func (c Connection) Redacted() Connection {
	if c.Password != "" {
		c.Password = RedactedPassword
	}
	return c
}

type Conversation struct {
	ConversationID int64
	OwnerUserID    string
	ConnectionID   int64
	Title          string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Message struct {
	MessageID      int64
	ConversationID int64
	Role           Role
	Content        string
	SQLQuery       *string
	VisualType     *string
	ResultKey      *string
	CreatedAt      time.Time
}

type CreateConnectionInput struct {
	OwnerUserID string
	Engine      string
	Host        string
	Port        int
	User        string
	Password    string
	Database    string
	Snapshot    schema.Snapshot
}

type CreateConversationInput struct {
	OwnerUserID  string
	ConnectionID int64
	Title        string
}

type AppendMessageInput struct {
	ConversationID int64
	Role           Role
	Content        string
	SQLQuery       *string
	VisualType     *string
	ResultKey      *string
}
