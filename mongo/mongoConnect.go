package mongo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	Database           = "marina"
	LocationCollection = "locations"
)

// Location is the mirrored position of one photo, keyed by its content hash.
type Location struct {
	PhotoHash string    `bson:"_id" json:"photoHash"`
	BerthCode string    `bson:"berth,omitempty" json:"berth,omitempty"`
	Lat       float64   `bson:"lat" json:"lat"`
	Lng       float64   `bson:"lng" json:"lng"`
	UpdatedAt time.Time `bson:"updated_at" json:"updatedAt"`
}

// LocationStore mirrors photo locations into a MongoDB collection so other
// services can query them without touching the sqlite file.
type LocationStore struct {
	client *mongo.Client
	coll   *mongo.Collection
}

// Connect dials uri and verifies the server is reachable.
func Connect(ctx context.Context, uri string) (*LocationStore, error) {
	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, errors.Wrap(err, "mongo connect")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx, nil); err != nil {
		_ = client.Disconnect(ctx)
		return nil, errors.Wrap(err, "mongo ping")
	}
	logrus.WithField("db", Database).Info("connected to mongo")
	return &LocationStore{
		client: client,
		coll:   client.Database(Database).Collection(LocationCollection),
	}, nil
}

// UpsertLocation replaces the document for loc.PhotoHash, inserting it if
// missing.
func (s *LocationStore) UpsertLocation(ctx context.Context, loc Location) error {
	if loc.PhotoHash == "" {
		return errors.New("mongo: location without photo hash")
	}
	_, err := s.coll.ReplaceOne(ctx, bson.M{"_id": loc.PhotoHash}, loc, options.Replace().SetUpsert(true))
	return errors.Wrapf(err, "upsert location %s", loc.PhotoHash)
}

func (s *LocationStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}
