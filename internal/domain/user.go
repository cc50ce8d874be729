package domain

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// User is the internal identity. AuthToken is the opaque session secret; a
// non-empty AuthToken always has an AuthTokenExpiry.
type User struct {
	ID              primitive.ObjectID `bson:"_id,omitempty"   json:"id"`
	AuthToken       string             `bson:"authToken"       json:"-"`
	AuthTokenExpiry time.Time          `bson:"authTokenExpiry" json:"auth_token_expiry"`
	DateCreated     time.Time          `bson:"dateCreated"     json:"date_created"`
}

// TokenExpired reports whether the session token is unusable at now.
func (u *User) TokenExpired(now time.Time) bool {
	return !u.AuthTokenExpiry.After(now)
}
