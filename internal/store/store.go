// Package store persists conversations, messages and the audit trail.
// Messages are append-only; feedback is the only field that may change
// after a message is written.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/cfreitas/erpagent/internal/model"
)

// ErrNotFound is returned when a conversation or message does not exist.
var ErrNotFound = errors.New("store: not found")

// Store defines persistence operations for conversation history.
type Store interface {
	// CreateConversation starts a new conversation for a user and returns
	// it with a generated id.
	CreateConversation(ctx context.Context, user, title string) (*model.Conversation, error)

	// GetConversation retrieves a conversation by id.
	// Returns ErrNotFound if it does not exist.
	GetConversation(ctx context.Context, id string) (*model.Conversation, error)

	// AppendMessage persists a message. The message's ID and CreatedAt
	// must already be set; the conversation's UpdatedAt is advanced.
	AppendMessage(ctx context.Context, msg *model.Message) error

	// GetMessage retrieves a single message by id.
	// Returns ErrNotFound if it does not exist.
	GetMessage(ctx context.Context, id string) (*model.Message, error)

	// History returns the most recent messages of a conversation in
	// chronological order. limit <= 0 means no limit.
	History(ctx context.Context, conversationID string, limit int) ([]model.Message, error)

	// SetFeedback updates the feedback field of a message and nothing
	// else. Returns ErrNotFound for unknown messages.
	SetFeedback(ctx context.Context, messageID, feedback string) error
}

// AuditRecord is one entry in the audit trail: a function execution or a
// document analysis performed on a user's behalf.
type AuditRecord struct {
	ID        string         `bson:"_id"`
	User      string         `bson:"user"`
	Action    string         `bson:"action"`
	Function  string         `bson:"function,omitempty"`
	Doctype   string         `bson:"doctype,omitempty"`
	Docname   string         `bson:"docname,omitempty"`
	Args      map[string]any `bson:"args,omitempty"`
	Result    map[string]any `bson:"result,omitempty"`
	Outcome   string         `bson:"outcome,omitempty"`
	CreatedAt time.Time      `bson:"created_at"`
}

// AuditLogger appends audit records.
type AuditLogger interface {
	Record(ctx context.Context, rec AuditRecord) error
}
