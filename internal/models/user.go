package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID           primitive.ObjectID `bson:"_id,omitempty" json:"id,omitempty"`
	Email        string             `bson:"email" json:"email" validate:"required,email"`
	PasswordHash string             `bson:"password_hash" json:"-"`

	FirstName  string `bson:"first_name" json:"first_name" validate:"required,min=2,max=50"`
	LastName   string `bson:"last_name" json:"last_name" validate:"required,min=2,max=50"`
	Department string `bson:"department,omitempty" json:"department,omitempty"`

	IsAdmin   bool `bson:"is_admin" json:"is_admin"`
	IsBlocked bool `bson:"is_blocked" json:"is_blocked"`

	CreatedAt   time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at" json:"updated_at"`
	LastLoginAt *time.Time `bson:"last_login_at,omitempty" json:"last_login_at,omitempty"`
}
