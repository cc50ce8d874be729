package repo

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/notes-service/internal/domain"
)

func (s *Store) FindAuthProvider(ctx context.Context, providerType, subject string) (*domain.AuthProvider, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.auth_providers.find",
		tracer.Tag("provider", providerType),
	)
	defer sp.Finish()

	var ap domain.AuthProvider
	err := s.colAuthProviders.FindOne(ctx, bson.M{"type": providerType, "userIdentifier": subject}).Decode(&ap)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		sp.SetTag("error", err)
		return nil, errors.Wrap(err, "find auth provider")
	}
	return &ap, nil
}

// InsertAuthProvider returns domain.ErrDuplicate when the (type, subject)
// pair is already linked.
func (s *Store) InsertAuthProvider(ctx context.Context, ap *domain.AuthProvider) error {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.auth_providers.insert",
		tracer.Tag("provider", ap.Type),
	)
	defer sp.Finish()

	ap.DateCreated = dbTime(ap.DateCreated)
	res, err := s.colAuthProviders.InsertOne(ctx, ap)
	if IsDup(err) {
		return errors.Wrapf(domain.ErrDuplicate, "auth provider %s/%s", ap.Type, ap.UserIdentifier)
	}
	if err != nil {
		sp.SetTag("error", err)
		return errors.Wrap(err, "insert auth provider")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		ap.ID = oid
	}
	return nil
}

// CreateUserWithProvider writes a new user and its provider link. With
// Transactions enabled both writes commit or neither does; otherwise the user
// is written first and survives a failed link insert.
func (s *Store) CreateUserWithProvider(ctx context.Context, u *domain.User, ap *domain.AuthProvider) error {
	if !s.Transactions {
		if err := s.InsertUser(ctx, u); err != nil {
			return err
		}
		ap.User = u.ID
		return s.InsertAuthProvider(ctx, ap)
	}

	sess, err := s.Client.StartSession()
	if err != nil {
		return errors.Wrap(err, "start session")
	}
	defer sess.EndSession(ctx)

	u.ID = primitive.NewObjectID()
	ap.ID = primitive.NewObjectID()
	_, err = sess.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		if err := s.InsertUser(sc, u); err != nil {
			return nil, err
		}
		ap.User = u.ID
		return nil, s.InsertAuthProvider(sc, ap)
	})
	if err != nil {
		// nothing was committed; a zero u.ID tells callers there is no orphan
		u.ID = primitive.NilObjectID
		ap.ID = primitive.NilObjectID
		return err
	}
	return nil
}
