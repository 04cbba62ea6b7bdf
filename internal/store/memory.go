package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cfreitas/erpagent/internal/model"
)

// MemoryStore is an in-process Store and AuditLogger for tests and
// single-node development without MongoDB.
type MemoryStore struct {
	mu            sync.RWMutex
	conversations map[string]model.Conversation
	messages      map[string]model.Message
	// order keeps message ids per conversation in append order.
	order map[string][]string
	audit []AuditRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		conversations: make(map[string]model.Conversation),
		messages:      make(map[string]model.Message),
		order:         make(map[string][]string),
	}
}

func (s *MemoryStore) CreateConversation(_ context.Context, user, title string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	conv := model.Conversation{
		ID:        uuid.NewString(),
		User:      user,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv

	out := conv
	return &out, nil
}

func (s *MemoryStore) GetConversation(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := conv
	return &out, nil
}

func (s *MemoryStore) AppendMessage(_ context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages[msg.ID] = *msg
	s.order[msg.Conversation] = append(s.order[msg.Conversation], msg.ID)

	if conv, ok := s.conversations[msg.Conversation]; ok {
		conv.UpdatedAt = msg.CreatedAt
		s.conversations[msg.Conversation] = conv
	}
	return nil
}

func (s *MemoryStore) GetMessage(_ context.Context, id string) (*model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	msg, ok := s.messages[id]
	if !ok {
		return nil, ErrNotFound
	}
	out := msg
	return &out, nil
}

func (s *MemoryStore) History(_ context.Context, conversationID string, limit int) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := s.order[conversationID]
	if limit > 0 && len(ids) > limit {
		ids = ids[len(ids)-limit:]
	}

	out := make([]model.Message, 0, len(ids))
	for _, id := range ids {
		out = append(out, s.messages[id])
	}
	return out, nil
}

func (s *MemoryStore) SetFeedback(_ context.Context, messageID, feedback string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	msg, ok := s.messages[messageID]
	if !ok {
		return ErrNotFound
	}
	msg.Feedback = feedback
	s.messages[messageID] = msg
	return nil
}

func (s *MemoryStore) Record(_ context.Context, rec AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	s.audit = append(s.audit, rec)
	return nil
}

// AuditRecords returns a copy of the audit trail, oldest first.
func (s *MemoryStore) AuditRecords() []AuditRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]AuditRecord, len(s.audit))
	copy(out, s.audit)
	return out
}
