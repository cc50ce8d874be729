package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MaxNoteText is the longest note text in characters. The request binding in
// the HTTP layer carries the same limit as a tag.
const MaxNoteText = 5000

type Note struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	User         primitive.ObjectID `bson:"user"          json:"user"`
	Text         string             `bson:"text"          json:"text"`
	DateCreated  time.Time          `bson:"dateCreated"   json:"date_created"`
	DateModified time.Time          `bson:"dateModified"  json:"date_modified"`
}
