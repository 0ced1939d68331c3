package auth

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/krishiconnect/chat-service/pkg/apperrors"
)

// AccountDirectory answers whether a user exists and is active. The user
// store is owned by another service; this is a read-only lookup.
type AccountDirectory interface {
	IsActive(ctx context.Context, userID string) (bool, error)
}

type MongoAccountDirectory struct {
	coll *mongo.Collection
}

func NewMongoAccountDirectory(coll *mongo.Collection) *MongoAccountDirectory {
	return &MongoAccountDirectory{coll: coll}
}

func (d *MongoAccountDirectory) IsActive(ctx context.Context, userID string) (bool, error) {
	var doc struct {
		IsActive bool `bson:"is_active"`
	}
	err := d.coll.FindOne(ctx, bson.M{"_id": userID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return doc.IsActive, nil
}

// SessionAuthenticator turns a presented bearer credential into a user id.
// It is the connection-time prerequisite gate: both a valid token and an
// active account are required before any event is processed.
type SessionAuthenticator struct {
	validator *JWTValidator
	directory AccountDirectory
}

func NewSessionAuthenticator(v *JWTValidator, d AccountDirectory) *SessionAuthenticator {
	return &SessionAuthenticator{validator: v, directory: d}
}

func (a *SessionAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	if token == "" {
		return "", apperrors.ErrAuthRequired
	}
	claims, err := a.validator.Validate(token)
	if err != nil {
		return "", apperrors.Wrap(apperrors.CodeUnauthenticated, "invalid credential", err)
	}
	active, err := a.directory.IsActive(ctx, claims.UserID)
	if err != nil {
		return "", err
	}
	if !active {
		return "", apperrors.ErrInactiveUser
	}
	return claims.UserID, nil
}
