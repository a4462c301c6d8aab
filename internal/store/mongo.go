package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Lookup failures the coordinator reports back to a single connection rather
// than treating as internal errors.
var (
	ErrUserNotFound      = errors.New("user not found")
	ErrTeamNotFound      = errors.New("team not found")
	ErrChallengeNotFound = errors.New("challenge not found")
)

// Client wraps *mongo.Client with the database the coordinator reads from.
type Client struct {
	mongoClient *mongo.Client
	database    string
}

// NewClient connects to MongoDB and verifies the connection with a ping.
func NewClient(ctx context.Context, connStr, databaseName string) (*Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(connStr))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		if disconnectErr := client.Disconnect(context.Background()); disconnectErr != nil {
			log.Warn().Err(disconnectErr).Msg("failed to disconnect MongoDB client after ping failure")
		}
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	log.Info().Str("database", databaseName).Msg("connected to MongoDB")
	return &Client{
		mongoClient: client,
		database:    databaseName,
	}, nil
}

// Collection returns a handle for the named collection.
func (mc *Client) Collection(collectionName string) *mongo.Collection {
	return mc.mongoClient.Database(mc.database).Collection(collectionName)
}

// Disconnect closes the underlying connection pool.
func (mc *Client) Disconnect(ctx context.Context) error {
	log.Info().Msg("disconnecting from MongoDB")
	return mc.mongoClient.Disconnect(ctx)
}
