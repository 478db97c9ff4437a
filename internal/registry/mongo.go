package registry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/AltairaLabs/engine-broker/internal/model"
)

const (
	collectionName = "external_engine"

	// maxEnginesPerSelector bounds how many registrations one provider
	// secret may select in a single acquire.
	maxEnginesPerSelector = 64

	connectTimeout = 10 * time.Second
)

// MongoRegistry reads engine registrations from the document store.
type MongoRegistry struct {
	client *mongo.Client
	coll   *mongo.Collection
	logger *slog.Logger
}

// NewMongoRegistry connects to the document store and pings it so that a
// bad connection string fails at startup rather than on the first request.
func NewMongoRegistry(ctx context.Context, uri, database string, logger *slog.Logger) (*MongoRegistry, error) {
	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("mongodb connect: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("mongodb ping: %w", err)
	}

	return &MongoRegistry{
		client: client,
		coll:   client.Database(database).Collection(collectionName),
		logger: logger,
	}, nil
}

// Find implements Registry.
func (r *MongoRegistry) Find(ctx context.Context, id model.EngineID) (*model.Engine, error) {
	var engine model.Engine
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&engine)
	if err == mongo.ErrNoDocuments {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("mongodb find %s: %w", id, err)
	}
	if err := engine.Validate(); err != nil {
		r.logger.Warn("Skipping malformed registration", "engine_id", id, "error", err)
		return nil, ErrNotFound
	}
	return &engine, nil
}

// FindBySelector implements Registry.
func (r *MongoRegistry) FindBySelector(ctx context.Context, selector string) ([]*model.Engine, error) {
	cur, err := r.coll.Find(ctx,
		bson.M{"providerSelector": selector},
		options.Find().SetLimit(maxEnginesPerSelector),
	)
	if err != nil {
		return nil, fmt.Errorf("mongodb find by selector: %w", err)
	}
	defer cur.Close(ctx)

	var engines []*model.Engine
	for cur.Next(ctx) {
		var engine model.Engine
		if err := cur.Decode(&engine); err != nil {
			return nil, fmt.Errorf("mongodb decode registration: %w", err)
		}
		if err := engine.Validate(); err != nil {
			r.logger.Warn("Skipping malformed registration", "engine_id", engine.ID, "error", err)
			continue
		}
		engines = append(engines, &engine)
	}
	if err := cur.Err(); err != nil {
		return nil, fmt.Errorf("mongodb cursor: %w", err)
	}
	return engines, nil
}

// Close disconnects from the document store.
func (r *MongoRegistry) Close(ctx context.Context) error {
	return r.client.Disconnect(ctx)
}
