package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// OperatorUser is an account for the keeper's operator API. Password holds a
// bcrypt hash and is never serialized into responses.
type OperatorUser struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Email     string             `bson:"email" json:"email"`
	Name      string             `bson:"name" json:"name"`
	Password  string             `bson:"password" json:"-"`
	Role      string             `bson:"role" json:"role"` // "admin" or "viewer"
	CreatedAt time.Time          `bson:"createdAt" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updatedAt" json:"updatedAt"`
}

// CanMutate reports whether the role may start/stop the loop, watch pots or
// clear faults. Viewers get read-only access.
func (u *OperatorUser) CanMutate() bool {
	return u.Role == "admin"
}
