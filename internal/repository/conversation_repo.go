package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/krishiconnect/chat-service/internal/models"
)

var ErrNotFound = errors.New("not found")

// IsDuplicateKey reports unique-index violations so the service layer can
// run its insert-or-lookup loop for concurrent StartConversation calls.
func IsDuplicateKey(err error) bool {
	return mongo.IsDuplicateKeyError(err)
}

// ParticipantKey canonicalizes an unordered pair: sorted ids joined with ":".
func ParticipantKey(a, b string) string {
	if b < a {
		a, b = b, a
	}
	return strings.Join([]string{a, b}, ":")
}

type ConversationRepository interface {
	Insert(ctx context.Context, c *models.Conversation) error
	FindByParticipantKey(ctx context.Context, key string) (*models.Conversation, error)
	FindForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error)
	ListForParticipant(ctx context.Context, userID string, page, limit int64) ([]*models.Conversation, error)
	UpdateLastMessage(ctx context.Context, id string, lm *models.LastMessage) error
	Deactivate(ctx context.Context, id string) error
}

type MongoConversationRepository struct {
	coll *mongo.Collection
}

func NewMongoConversationRepository(coll *mongo.Collection) *MongoConversationRepository {
	// unique index on the canonical pair: at most one direct conversation per
	// unordered participant pair, enforced by the store even under races
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "participant_key", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("participant_key_uniq"),
		},
		{
			Keys:    bson.D{{Key: "participants", Value: 1}, {Key: "updated_at", Value: -1}},
			Options: options.Index().SetName("participants_updated_idx"),
		},
	})
	return &MongoConversationRepository{coll: coll}
}

func (r *MongoConversationRepository) Insert(ctx context.Context, c *models.Conversation) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.coll.InsertOne(ctx, c)
	return err
}

func (r *MongoConversationRepository) FindByParticipantKey(ctx context.Context, key string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var c models.Conversation
	err := r.coll.FindOne(ctx, bson.M{"participant_key": key, "type": models.ConversationTypeDirect}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// FindForParticipant resolves the conversation only when userID is a current
// participant, so "not yours" and "does not exist" are indistinguishable to
// callers.
func (r *MongoConversationRepository) FindForParticipant(ctx context.Context, id, userID string) (*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var c models.Conversation
	err := r.coll.FindOne(ctx, bson.M{"_id": id, "participants": userID}).Decode(&c)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *MongoConversationRepository) ListForParticipant(ctx context.Context, userID string, page, limit int64) ([]*models.Conversation, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if page < 1 {
		page = 1
	}
	filter := bson.M{"participants": userID, "is_active": true}
	opts := options.Find().
		SetSort(bson.D{{Key: "updated_at", Value: -1}}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Conversation{}
	for cur.Next(ctx) {
		var c models.Conversation
		if err := cur.Decode(&c); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, cur.Err()
}

func (r *MongoConversationRepository) UpdateLastMessage(ctx context.Context, id string, lm *models.LastMessage) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"last_message": lm,
		"updated_at":   time.Now().UTC(),
	}})
	return err
}

// Deactivate hides a conversation without deleting it; rows are never
// hard-deleted.
func (r *MongoConversationRepository) Deactivate(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err := r.coll.UpdateByID(ctx, id, bson.M{"$set": bson.M{
		"is_active":  false,
		"updated_at": time.Now().UTC(),
	}})
	return err
}
