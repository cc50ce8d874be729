package repo

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"gopkg.in/DataDog/dd-trace-go.v1/ddtrace/tracer"

	"github.com/tazhibayda/notes-service/internal/domain"
)

type ListParams struct {
	Limit int
	Skip  int
}

func (s *Store) CreateNote(ctx context.Context, n *domain.Note) error {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.notes.insert")
	defer sp.Finish()

	now := dbTime(time.Now())
	n.DateCreated = now
	n.DateModified = now
	res, err := s.colNotes.InsertOne(ctx, n)
	if err != nil {
		sp.SetTag("error", err)
		return errors.Wrap(err, "insert note")
	}
	if oid, ok := res.InsertedID.(primitive.ObjectID); ok {
		n.ID = oid
	}
	return nil
}

// ListNotesByUser returns the user's notes, newest first.
func (s *Store) ListNotesByUser(ctx context.Context, user primitive.ObjectID, p ListParams) ([]domain.Note, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.notes.list")
	defer sp.Finish()

	if p.Limit <= 0 || p.Limit > 200 {
		p.Limit = 100
	}
	if p.Skip < 0 {
		p.Skip = 0
	}
	cur, err := s.colNotes.Find(ctx,
		bson.M{"user": user},
		options.Find().SetLimit(int64(p.Limit)).SetSkip(int64(p.Skip)).
			SetSort(bson.D{{Key: "dateCreated", Value: -1}}),
	)
	if err != nil {
		sp.SetTag("error", err)
		return nil, errors.Wrap(err, "list notes")
	}
	defer cur.Close(ctx)

	out := []domain.Note{}
	for cur.Next(ctx) {
		var n domain.Note
		if err := cur.Decode(&n); err != nil {
			return nil, errors.Wrap(err, "decode note")
		}
		out = append(out, n)
	}
	return out, cur.Err()
}

func (s *Store) FindNote(ctx context.Context, id, user primitive.ObjectID) (*domain.Note, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.notes.find")
	defer sp.Finish()

	var n domain.Note
	err := s.colNotes.FindOne(ctx, bson.M{"_id": id, "user": user}).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, nil
	}
	if err != nil {
		sp.SetTag("error", err)
		return nil, errors.Wrap(err, "find note")
	}
	return &n, nil
}

// UpdateNoteText returns domain.ErrNotFound when the note does not belong to user.
func (s *Store) UpdateNoteText(ctx context.Context, id, user primitive.ObjectID, text string) (*domain.Note, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.notes.update")
	defer sp.Finish()

	var n domain.Note
	err := s.colNotes.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "user": user},
		bson.M{"$set": bson.M{"text": text, "dateModified": dbTime(time.Now())}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&n)
	if err == mongo.ErrNoDocuments {
		return nil, errors.WithStack(domain.ErrNotFound)
	}
	if err != nil {
		sp.SetTag("error", err)
		return nil, errors.Wrap(err, "update note")
	}
	return &n, nil
}

func (s *Store) DeleteNote(ctx context.Context, id, user primitive.ObjectID) (bool, error) {
	sp, ctx := tracer.StartSpanFromContext(ctx, "mongo.notes.delete")
	defer sp.Finish()

	res, err := s.colNotes.DeleteOne(ctx, bson.M{"_id": id, "user": user})
	if err != nil {
		sp.SetTag("error", err)
		return false, errors.Wrap(err, "delete note")
	}
	return res.DeletedCount == 1, nil
}
