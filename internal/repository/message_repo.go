package repository

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/krishiconnect/chat-service/internal/models"
)

type MessageRepository interface {
	Insert(ctx context.Context, m *models.Message) error
	FindByID(ctx context.Context, id string) (*models.Message, error)
	List(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error)
	MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Message, error)
	SoftDeleteForUser(ctx context.Context, id, userID string) error
}

type MongoMessageRepository struct {
	coll *mongo.Collection
}

func NewMongoMessageRepository(coll *mongo.Collection) *MongoMessageRepository {
	_, _ = coll.Indexes().CreateMany(context.Background(), []mongo.IndexModel{
		{Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "created_at", Value: -1}}},
		{Keys: bson.D{{Key: "sender_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
	return &MongoMessageRepository{coll: coll}
}

func (r *MongoMessageRepository) Insert(ctx context.Context, m *models.Message) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if m.ReadBy == nil {
		m.ReadBy = []models.ReadReceipt{}
	}
	if m.DeletedFor == nil {
		m.DeletedFor = []string{}
	}
	_, err := r.coll.InsertOne(ctx, m)
	return err
}

func (r *MongoMessageRepository) FindByID(ctx context.Context, id string) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	var m models.Message
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&m)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// List returns messages newest-first, anchored on created_at rather than a
// numeric offset so pages stay stable while new messages are inserted.
// Messages deleted for everyone or hidden for the viewer are excluded.
func (r *MongoMessageRepository) List(ctx context.Context, conversationID, viewerID string, limit int64, before time.Time) ([]*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	filter := bson.M{
		"conversation_id": conversationID,
		"is_deleted":      false,
		"deleted_for":     bson.M{"$ne": viewerID},
	}
	if !before.IsZero() {
		filter["created_at"] = bson.M{"$lt": before}
	}
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(limit)
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	out := []*models.Message{}
	for cur.Next(ctx) {
		var m models.Message
		if err := cur.Decode(&m); err != nil {
			return nil, err
		}
		out = append(out, &m)
	}
	return out, cur.Err()
}

// MarkRead appends a read receipt for userID (once) and moves status forward
// to read. Status never moves backwards: read is terminal.
func (r *MongoMessageRepository) MarkRead(ctx context.Context, id, userID string, at time.Time) (*models.Message, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	res := r.coll.FindOneAndUpdate(
		ctx,
		bson.M{"_id": id, "read_by.user_id": bson.M{"$ne": userID}},
		bson.M{
			"$push": bson.M{"read_by": models.ReadReceipt{UserID: userID, ReadAt: at}},
			"$set":  bson.M{"status": models.StatusRead},
		},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	)
	var m models.Message
	if err := res.Decode(&m); err != nil {
		if err == mongo.ErrNoDocuments {
			// already read by this user, or unknown id
			return r.FindByID(ctx, id)
		}
		return nil, err
	}
	return &m, nil
}

func (r *MongoMessageRepository) SoftDeleteForUser(ctx context.Context, id, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": id},
		bson.M{"$addToSet": bson.M{"deleted_for": userID}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}
