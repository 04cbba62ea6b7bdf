package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/cfreitas/erpagent/internal/model"
)

// MongoStore implements Store and AuditLogger on MongoDB, one document
// per conversation, message and audit record.
type MongoStore struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	audit         *mongo.Collection
}

// NewMongoStore creates a store over the given database using the
// conversations, messages and audit_log collections.
func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		conversations: db.Collection("conversations"),
		messages:      db.Collection("messages"),
		audit:         db.Collection("audit_log"),
	}
}

// EnsureIndexes creates the lookup indexes the store relies on. Safe to
// call on every startup.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	_, err := s.messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation", Value: 1}, {Key: "created_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("store: create message index: %w", err)
	}
	return nil
}

func (s *MongoStore) CreateConversation(ctx context.Context, user, title string) (*model.Conversation, error) {
	now := time.Now().UTC()
	conv := &model.Conversation{
		ID:        uuid.NewString(),
		User:      user,
		Title:     title,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if _, err := s.conversations.InsertOne(ctx, conv); err != nil {
		return nil, fmt.Errorf("store: insert conversation: %w", err)
	}
	return conv, nil
}

func (s *MongoStore) GetConversation(ctx context.Context, id string) (*model.Conversation, error) {
	var conv model.Conversation
	err := s.conversations.FindOne(ctx, bson.M{"_id": id}).Decode(&conv)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find conversation %q: %w", id, err)
	}
	return &conv, nil
}

func (s *MongoStore) AppendMessage(ctx context.Context, msg *model.Message) error {
	if _, err := s.messages.InsertOne(ctx, msg); err != nil {
		return fmt.Errorf("store: insert message: %w", err)
	}

	_, err := s.conversations.UpdateOne(ctx,
		bson.M{"_id": msg.Conversation},
		bson.M{"$set": bson.M{"updated_at": msg.CreatedAt}},
	)
	if err != nil {
		return fmt.Errorf("store: touch conversation %q: %w", msg.Conversation, err)
	}
	return nil
}

func (s *MongoStore) GetMessage(ctx context.Context, id string) (*model.Message, error) {
	var msg model.Message
	err := s.messages.FindOne(ctx, bson.M{"_id": id}).Decode(&msg)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: find message %q: %w", id, err)
	}
	return &msg, nil
}

func (s *MongoStore) History(ctx context.Context, conversationID string, limit int) ([]model.Message, error) {
	// Fetch newest-first so the limit keeps the most recent turns, then
	// reverse back into chronological order.
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if limit > 0 {
		opts = opts.SetLimit(int64(limit))
	}

	cur, err := s.messages.Find(ctx, bson.M{"conversation": conversationID}, opts)
	if err != nil {
		return nil, fmt.Errorf("store: find messages for %q: %w", conversationID, err)
	}

	var newest []model.Message
	if err := cur.All(ctx, &newest); err != nil {
		return nil, fmt.Errorf("store: decode messages for %q: %w", conversationID, err)
	}

	out := make([]model.Message, len(newest))
	for i := range newest {
		out[len(newest)-1-i] = newest[i]
	}
	return out, nil
}

func (s *MongoStore) SetFeedback(ctx context.Context, messageID, feedback string) error {
	res, err := s.messages.UpdateOne(ctx,
		bson.M{"_id": messageID},
		bson.M{"$set": bson.M{"feedback": feedback}},
	)
	if err != nil {
		return fmt.Errorf("store: set feedback on %q: %w", messageID, err)
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *MongoStore) Record(ctx context.Context, rec AuditRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	if _, err := s.audit.InsertOne(ctx, rec); err != nil {
		return fmt.Errorf("store: insert audit record: %w", err)
	}
	return nil
}
