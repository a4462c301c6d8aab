package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/afrintel/lms-realtime/internal/models"
)

// UserStore reads learner profiles during socket authentication.
type UserStore struct {
	collection *mongo.Collection
	opTimeout  time.Duration
}

// NewUserStore creates a new UserStore instance.
func NewUserStore(collection *mongo.Collection, opTimeout time.Duration) *UserStore {
	return &UserStore{collection: collection, opTimeout: opTimeout}
}

// GetUser retrieves a user by id. Returns ErrUserNotFound for unknown ids.
func (us *UserStore) GetUser(ctx context.Context, userID string) (*models.User, error) {
	ctx, cancel := context.WithTimeout(ctx, us.opTimeout)
	defer cancel()

	var user models.User
	if err := us.collection.FindOne(ctx, bson.M{"_id": userID}).Decode(&user); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user %s: %w", userID, err)
	}
	return &user, nil
}
