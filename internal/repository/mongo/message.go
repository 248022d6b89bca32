package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Rrens/genai-platform/internal/config"
	"github.com/Rrens/genai-platform/internal/domain"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// messageDocument is the stored shape of a message.
type messageDocument struct {
	SessionID      string                 `bson:"session_id"`
	MessageID      string                 `bson:"message_id"`
	Type           string                 `bson:"type"`
	Time           time.Time              `bson:"time"`
	Data           string                 `bson:"data"`
	Metadata       domain.MessageMetadata `bson:"metadata"`
	ResponseTime   int64                  `bson:"response_time"`
	ReviewRequired bool                   `bson:"review_required"`
	Reviewed       bool                   `bson:"reviewed"`
}

func toDocument(m *domain.Message) messageDocument {
	return messageDocument{
		SessionID:      m.SessionID,
		MessageID:      m.MessageID,
		Type:           string(m.Type),
		Time:           m.Time,
		Data:           m.Data,
		Metadata:       m.Metadata,
		ResponseTime:   m.ResponseTime,
		ReviewRequired: m.ReviewRequired,
		Reviewed:       m.Reviewed,
	}
}

func (d messageDocument) toMessage() domain.Message {
	return domain.Message{
		SessionID:      d.SessionID,
		MessageID:      d.MessageID,
		Type:           domain.MessageType(d.Type),
		Time:           d.Time,
		Data:           d.Data,
		Metadata:       d.Metadata,
		ResponseTime:   d.ResponseTime,
		ReviewRequired: d.ReviewRequired,
		Reviewed:       d.Reviewed,
	}
}

// MessageRepository implements domain.MessageRepository on a MongoDB collection
type MessageRepository struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect opens a client and ensures the message indexes
func Connect(ctx context.Context, cfg config.MongoConfig) (*MessageRepository, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to create client: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping: %w", err)
	}

	repo := NewMessageRepository(client, client.Database(cfg.Database).Collection(cfg.Collection))
	if err := repo.EnsureIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

// NewMessageRepository wraps an existing collection
func NewMessageRepository(client *mongo.Client, coll *mongo.Collection) *MessageRepository {
	return &MessageRepository{client: client, coll: coll}
}

// EnsureIndexes creates the unique message key and the history index
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}, {Key: "message_id", Value: 1}, {Key: "type", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys: bson.D{{Key: "session_id", Value: 1}, {Key: "time", Value: -1}},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// Close disconnects the client
func (r *MessageRepository) Close(ctx context.Context) error {
	if r.client != nil {
		return r.client.Disconnect(ctx)
	}
	return nil
}

func (r *MessageRepository) Append(ctx context.Context, m *domain.Message) error {
	if _, err := r.coll.InsertOne(ctx, toDocument(m)); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.Conflict("message %s already exists", m.MessageID)
		}
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return nil
}

func (r *MessageRepository) History(ctx context.Context, sessionID string, limit int) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "time", Value: -1}, {Key: "type", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}

	messages, err := r.find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, nil
}

func (r *MessageRepository) Get(ctx context.Context, sessionID, messageID string) ([]domain.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "type", Value: -1}})
	messages, err := r.find(ctx, bson.M{"session_id": sessionID, "message_id": messageID}, opts)
	if err != nil {
		return nil, err
	}
	if len(messages) == 0 {
		return nil, fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
	}
	return messages, nil
}

func (r *MessageRepository) Exists(ctx context.Context, sessionID, messageID string, t domain.MessageType) (bool, error) {
	n, err := r.coll.CountDocuments(ctx, bson.M{"session_id": sessionID, "message_id": messageID, "type": string(t)})
	if err != nil {
		return false, fmt.Errorf("failed to check message: %w", err)
	}
	return n > 0, nil
}

func (r *MessageRepository) SetReviewFlag(ctx context.Context, sessionID, messageID string, required bool) error {
	filter := bson.M{
		"session_id":      sessionID,
		"message_id":      messageID,
		"type":            string(domain.MessageAI),
		"review_required": bson.M{"$ne": required},
	}
	res, err := r.coll.UpdateOne(ctx, filter, bson.M{"$set": bson.M{"review_required": required}})
	if err != nil {
		return fmt.Errorf("failed to update review flag: %w", err)
	}
	if res.MatchedCount == 0 {
		exists, err := r.Exists(ctx, sessionID, messageID, domain.MessageAI)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("message %s: %w", messageID, domain.ErrNotFound)
		}
		return domain.Conflict("review flag of message %s is already %t", messageID, required)
	}
	return nil
}

func (r *MessageRepository) DeleteSession(ctx context.Context, sessionID string) error {
	if _, err := r.coll.DeleteMany(ctx, bson.M{"session_id": sessionID}); err != nil {
		return fmt.Errorf("failed to delete messages: %w", err)
	}
	return nil
}

func (r *MessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]domain.Message, error) {
	cursor, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to find messages: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []messageDocument
	if err := cursor.All(ctx, &docs); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to decode messages: %w", err)
	}

	messages := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		messages = append(messages, d.toMessage())
	}
	return messages, nil
}
