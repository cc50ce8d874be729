package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const ProviderGoogle = "google"

// AuthProvider links one external identity (Type, UserIdentifier) to a User.
type AuthProvider struct {
	ID             primitive.ObjectID `bson:"_id,omitempty"  json:"id"`
	Type           string             `bson:"type"           json:"type"`
	UserIdentifier string             `bson:"userIdentifier" json:"user_identifier"` // provider "sub"
	User           primitive.ObjectID `bson:"user"           json:"user"`
	DateCreated    time.Time          `bson:"dateCreated"    json:"date_created"`
}
