package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/afrintel/lms-realtime/internal/models"
)

// ChallengeStore reads challenge definitions. The coordinator never mutates
// them.
type ChallengeStore struct {
	collection *mongo.Collection
	opTimeout  time.Duration
}

// NewChallengeStore creates a new ChallengeStore instance.
func NewChallengeStore(collection *mongo.Collection, opTimeout time.Duration) *ChallengeStore {
	return &ChallengeStore{collection: collection, opTimeout: opTimeout}
}

// GetChallenge retrieves a challenge by id. Returns ErrChallengeNotFound for
// unknown ids.
func (cs *ChallengeStore) GetChallenge(ctx context.Context, challengeID string) (*models.Challenge, error) {
	ctx, cancel := context.WithTimeout(ctx, cs.opTimeout)
	defer cancel()

	var challenge models.Challenge
	if err := cs.collection.FindOne(ctx, bson.M{"_id": challengeID}).Decode(&challenge); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge %s: %w", challengeID, err)
	}
	return &challenge, nil
}
