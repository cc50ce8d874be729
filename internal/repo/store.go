package repo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	colUsers         = "users"
	colAuthProviders = "authProviders"
	colNotes         = "notes"
)

type Store struct {
	Client *mongo.Client
	DB     *mongo.Database

	colUsers         *mongo.Collection
	colAuthProviders *mongo.Collection
	colNotes         *mongo.Collection

	// transactional user+provider creation; needs a replica set
	Transactions bool
}

func NewStore(ctx context.Context, uri, dbname string) (*Store, error) {
	cli, err := mongo.Connect(ctx, options.Client().
		ApplyURI(uri).
		SetRetryWrites(true).
		SetMaxPoolSize(50),
	)
	if err != nil {
		return nil, err
	}
	if err := cli.Ping(ctx, nil); err != nil {
		_ = cli.Disconnect(ctx)
		return nil, err
	}
	db := cli.Database(dbname)
	return &Store{
		Client:           cli,
		DB:               db,
		colUsers:         db.Collection(colUsers),
		colAuthProviders: db.Collection(colAuthProviders),
		colNotes:         db.Collection(colNotes),
	}, nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.Client.Ping(ctx, nil)
}

func (s *Store) Close(ctx context.Context) error { return s.Client.Disconnect(ctx) }

// EnsureIndexes creates the indexes the auth invariants rely on. The unique
// (type, userIdentifier) index is what serializes concurrent first logins.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	if _, err := s.colAuthProviders.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "type", Value: 1}, {Key: "userIdentifier", Value: 1}},
		Options: options.Index().SetUnique(true).SetName("uniq_type_subject"),
	}); err != nil {
		return err
	}

	if _, err := s.colUsers.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "_id", Value: 1}, {Key: "authToken", Value: 1}},
		Options: options.Index().SetName("id_token"),
	}); err != nil {
		return err
	}

	_, err := s.colNotes.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "user", Value: 1}, {Key: "dateCreated", Value: -1}},
		Options: options.Index().SetName("user_created_desc"),
	})
	return err
}

func IsDup(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && ce.Code == 11000 {
		return true
	}
	return false
}

// mongo dates have millisecond precision
func dbTime(t time.Time) time.Time { return t.UTC().Truncate(time.Millisecond) }
