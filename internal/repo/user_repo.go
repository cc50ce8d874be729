package repo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/notes-service/internal/domain"
)

func (s *Store) FindUserByID(ctx context.Context, id primitive.ObjectID) (*domain.User, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.users.find")
	defer sp.Finish()

	return s.findUser(ctx, bson.M{"_id": id}, sp)
}

// FindUserBySession returns the user only if token is the user's current
// auth token. Unknown id and stale token are indistinguishable (nil, nil).
func (s *Store) FindUserBySession(ctx context.Context, id primitive.ObjectID, token string) (*domain.User, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.users.find_by_session")
	defer sp.Finish()

	if token == "" {
		return nil, nil
	}
	return s.findUser(ctx, bson.M{"_id": id, "authToken": token}, sp)
}

func (s *Store) findUser(ctx context.Context, filter bson.M, sp tracer.Span) (*domain.User, error) {
	var u domain.User
	err := s.colUsers.FindOne(ctx, filter).Decode(&u)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		sp.SetTag("error", err)
		return nil, errors.Wrap(err, "find user")
	}
	return &u, nil
}

func (s *Store) InsertUser(ctx context.Context, u *domain.User) error {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.users.insert")
	defer sp.Finish()

	u.AuthTokenExpiry = dbTime(u.AuthTokenExpiry)
	u.DateCreated = dbTime(u.DateCreated)
	res, err := s.colUsers.InsertOne(ctx, u)
	if err != nil {
		sp.SetTag("error", err)
		return errors.Wrap(err, "insert user")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		u.ID = oid
	}
	return nil
}

// SwapAuthToken replaces the user's auth token only while it still equals
// prev. ErrStaleToken means another writer got there first or the user is gone.
func (s *Store) SwapAuthToken(ctx context.Context, id primitive.ObjectID, prev, token string, expiry time.Time) error {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.users.rotate_token",
		tracer.Tag("user_id", id.Hex()),
	)
	defer sp.Finish()

	res, err := s.colUsers.UpdateOne(ctx,
		bson.M{"_id": id, "authToken": prev},
		bson.M{"$set": bson.M{"authToken": token, "authTokenExpiry": dbTime(expiry)}},
	)
	if err != nil {
		sp.SetTag("error", err)
		return errors.Wrap(err, "update auth token")
	}
	if res.MatchedCount == 0 {
		return errors.Wrapf(domain.ErrStaleToken, "user %s", id.Hex())
	}
	return nil
}
