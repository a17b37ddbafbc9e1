package dataaccess

import (
	"context"
	"fmt"
	"maps"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// MongoStore is a DocumentStore backed by MongoDB.
//
// Collections live in the default database unless routed to a database
// alias with WithRoutes.
type MongoStore struct {
	client    *mongo.Client
	database  string
	databases map[string]string
	routes    map[string]string
	owned     bool
}

// MongoOption configures a MongoStore.
type MongoOption func(*MongoStore)

// WithDatabaseAlias maps alias to a real database name.
func WithDatabaseAlias(alias, name string) MongoOption {
	return func(s *MongoStore) { s.databases[alias] = name }
}

// WithRoutes maps collection names to database aliases. An alias with no
// WithDatabaseAlias entry is used as the database name.
func WithRoutes(routes map[string]string) MongoOption {
	return func(s *MongoStore) { maps.Copy(s.routes, routes) }
}

// NewMongoStore wraps an existing client. Close does not disconnect it.
func NewMongoStore(client *mongo.Client, database string, opts ...MongoOption) *MongoStore {
	s := &MongoStore{
		client:    client,
		database:  database,
		databases: make(map[string]string),
		routes:    make(map[string]string),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ConnectMongo connects to uri, pings the primary and returns a store
// that disconnects on Close.
func ConnectMongo(ctx context.Context, uri, database string, opts ...MongoOption) (*MongoStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	s := NewMongoStore(client, database, opts...)
	s.owned = true
	return s, nil
}

// DatabaseFor returns the database name holding collection.
func (s *MongoStore) DatabaseFor(collection string) string {
	alias, ok := s.routes[collection]
	if !ok {
		return s.database
	}
	if name, ok := s.databases[alias]; ok {
		return name
	}
	return alias
}

func (s *MongoStore) collection(name string) *mongo.Collection {
	return s.client.Database(s.DatabaseFor(name)).Collection(name)
}

// Aggregate implements DocumentStore.
func (s *MongoStore) Aggregate(ctx context.Context, collection string, pipeline []bson.D) ([]bson.M, error) {
	cur, err := s.collection(collection).Aggregate(ctx, mongo.Pipeline(pipeline))
	if err != nil {
		return nil, err
	}
	var docs []bson.M
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	return docs, nil
}

// Insert implements DocumentStore.
func (s *MongoStore) Insert(ctx context.Context, collection string, doc any) (string, error) {
	res, err := s.collection(collection).InsertOne(ctx, doc)
	if err != nil {
		return "", err
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		return oid.Hex(), nil
	}
	return fmt.Sprint(res.InsertedID), nil
}

// Ping checks connectivity.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects a client opened by ConnectMongo.
func (s *MongoStore) Close(ctx context.Context) error {
	if !s.owned {
		return nil
	}
	return s.client.Disconnect(ctx)
}
