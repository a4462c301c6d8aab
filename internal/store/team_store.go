package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/afrintel/lms-realtime/internal/models"
)

// TeamStore is the MongoDB data store for challenge teams. Membership writes
// use $addToSet so joins are idempotent at the storage level.
type TeamStore struct {
	collection *mongo.Collection
	opTimeout  time.Duration
}

// NewTeamStore creates a new TeamStore instance.
func NewTeamStore(collection *mongo.Collection, opTimeout time.Duration) *TeamStore {
	return &TeamStore{collection: collection, opTimeout: opTimeout}
}

// GetTeam retrieves a team by id. Returns ErrTeamNotFound for unknown ids.
func (ts *TeamStore) GetTeam(ctx context.Context, teamID string) (*models.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.opTimeout)
	defer cancel()

	var team models.Team
	if err := ts.collection.FindOne(ctx, bson.M{"_id": teamID}).Decode(&team); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to get team %s: %w", teamID, err)
	}
	return &team, nil
}

// AddMember adds a user to the team's member set. Re-adding an existing
// member leaves the document unchanged.
func (ts *TeamStore) AddMember(ctx context.Context, teamID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, ts.opTimeout)
	defer cancel()

	update := bson.M{
		"$addToSet": bson.M{"members": userID},
		"$set":      bson.M{"last_updated": time.Now()},
	}
	res, err := ts.collection.UpdateOne(ctx, bson.M{"_id": teamID}, update)
	if err != nil {
		return fmt.Errorf("failed to add member %s to team %s: %w", userID, teamID, err)
	}
	if res.MatchedCount == 0 {
		return ErrTeamNotFound
	}
	return nil
}

// FindTeamByMember returns the first team containing the user. Which team
// wins for a multi-team user is decided by the query plan; submissions that
// care should carry an explicit teamId instead.
func (ts *TeamStore) FindTeamByMember(ctx context.Context, userID string) (*models.Team, error) {
	ctx, cancel := context.WithTimeout(ctx, ts.opTimeout)
	defer cancel()

	var team models.Team
	if err := ts.collection.FindOne(ctx, bson.M{"members": userID}).Decode(&team); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrTeamNotFound
		}
		return nil, fmt.Errorf("failed to find team for member %s: %w", userID, err)
	}
	return &team, nil
}
