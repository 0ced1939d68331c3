package social

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// FollowRepository is a read-only view of the social graph. The follow
// collection is owned by the network service; this package only ever queries
// it.
type FollowRepository interface {
	EdgeExists(ctx context.Context, follower, following string) (bool, error)
}

type MongoFollowRepository struct {
	coll *mongo.Collection
}

func NewMongoFollowRepository(coll *mongo.Collection) *MongoFollowRepository {
	return &MongoFollowRepository{coll: coll}
}

func (r *MongoFollowRepository) EdgeExists(ctx context.Context, follower, following string) (bool, error) {
	err := r.coll.FindOne(ctx, bson.M{"follower": follower, "following": following}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Gate decides whether two users may open a conversation.
type Gate struct {
	follows FollowRepository
}

func NewGate(follows FollowRepository) *Gate {
	return &Gate{follows: follows}
}

// CanChat is true iff a != b and at least one directed follow edge exists
// between them. The gate runs only when a conversation does not exist yet:
// once created, sends are authorized by participant membership, so severing
// a follow edge does not lock an existing conversation. That is intentional.
func (g *Gate) CanChat(ctx context.Context, a, b string) (bool, error) {
	if a == b || a == "" || b == "" {
		return false, nil
	}
	aFollowsB, err := g.follows.EdgeExists(ctx, a, b)
	if err != nil {
		return false, err
	}
	if aFollowsB {
		return true, nil
	}
	return g.follows.EdgeExists(ctx, b, a)
}
