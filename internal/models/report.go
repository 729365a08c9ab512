package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Report is a daily operations report. Submitting one fans out notifications
// to the named recipients through the delivery service.
type Report struct {
	ID         primitive.ObjectID   `bson:"_id,omitempty" json:"id,omitempty"`
	AuthorID   primitive.ObjectID   `bson:"author_id" json:"author_id"`
	Title      string               `bson:"title" json:"title" validate:"required,min=2,max=200"`
	Summary    string               `bson:"summary" json:"summary" validate:"max=2000"`
	Recipients []primitive.ObjectID `bson:"recipients" json:"recipients"`
	Status     string               `bson:"status" json:"status"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt time.Time `bson:"updated_at" json:"updated_at"`
}

// Report statuses
const (
	ReportStatusSubmitted = "submitted"
	ReportStatusApproved  = "approved"
	ReportStatusRejected  = "rejected"
)
