package store

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cfreitas/erpagent/internal/model"
)

func appendMsg(t *testing.T, s *MemoryStore, conversation, role, content string) *model.Message {
	t.Helper()
	msg := &model.Message{
		ID:           uuid.NewString(),
		Conversation: conversation,
		Role:         role,
		Content:      content,
		CreatedAt:    time.Now().UTC(),
	}
	require.NoError(t, s.AppendMessage(context.Background(), msg))
	return msg
}

func TestConversationRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice@example.com", "stock question")
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)

	got, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", got.User)
	assert.Equal(t, "stock question", got.Title)
	assert.False(t, got.CreatedAt.IsZero())

	_, err = s.GetConversation(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMessageRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice@example.com", "")
	require.NoError(t, err)

	msg := appendMsg(t, s, conv.ID, model.RoleUser, "how much stock?")

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.RoleUser, got.Role)
	assert.Equal(t, "how much stock?", got.Content)
	assert.Equal(t, msg.CreatedAt, got.CreatedAt)

	updated, err := s.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, msg.CreatedAt, updated.UpdatedAt)
}

func TestHistoryOrderAndLimit(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice@example.com", "")
	require.NoError(t, err)

	first := appendMsg(t, s, conv.ID, model.RoleUser, "one")
	second := appendMsg(t, s, conv.ID, model.RoleAssistant, "two")
	third := appendMsg(t, s, conv.ID, model.RoleUser, "three")

	all, err := s.History(ctx, conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, third.ID, all[2].ID)

	recent, err := s.History(ctx, conv.ID, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, third.ID, recent[1].ID)
}

func TestSetFeedbackMutatesOnlyFeedback(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	conv, err := s.CreateConversation(ctx, "alice@example.com", "")
	require.NoError(t, err)
	msg := appendMsg(t, s, conv.ID, model.RoleAssistant, "the answer")

	require.NoError(t, s.SetFeedback(ctx, msg.ID, model.FeedbackPositive))

	got, err := s.GetMessage(ctx, msg.ID)
	require.NoError(t, err)
	assert.Equal(t, model.FeedbackPositive, got.Feedback)
	assert.Equal(t, "the answer", got.Content)
	assert.Equal(t, msg.CreatedAt, got.CreatedAt)

	assert.ErrorIs(t, s.SetFeedback(ctx, "missing", model.FeedbackPositive), ErrNotFound)
}

func TestAuditRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.Record(ctx, AuditRecord{User: "alice", Action: "function_call", Function: "check_stock_levels"}))
	require.NoError(t, s.Record(ctx, AuditRecord{User: "bob", Action: "document_analysis"}))

	records := s.AuditRecords()
	require.Len(t, records, 2)
	assert.NotEmpty(t, records[0].ID)
	assert.False(t, records[0].CreatedAt.IsZero())
	assert.Equal(t, "alice", records[0].User)
	assert.Equal(t, "bob", records[1].User)
}
