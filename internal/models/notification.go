package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notification is the durable record for every message we owe a user.
// Delivery state (is_sent, send_attempts) belongs to the delivery service;
// read state (is_read, read_at) belongs to the REST handlers. The two sets of
// fields are only ever mutated with targeted $set/$inc updates so concurrent
// writers cannot clobber each other.
type Notification struct {
	ID          primitive.ObjectID     `bson:"_id,omitempty" json:"id,omitempty"`
	RecipientID primitive.ObjectID     `bson:"recipient_id" json:"recipient_id"`
	Type        string                 `bson:"type" json:"type"`
	Category    string                 `bson:"category,omitempty" json:"category,omitempty"`
	Title       string                 `bson:"title" json:"title"`
	Message     string                 `bson:"message" json:"message"`
	Data        map[string]interface{} `bson:"data,omitempty" json:"data,omitempty"`
	Priority    int                    `bson:"priority" json:"priority"`

	IsRead       bool       `bson:"is_read" json:"is_read"`
	ReadAt       *time.Time `bson:"read_at,omitempty" json:"read_at,omitempty"`
	IsSent       bool       `bson:"is_sent" json:"is_sent"`
	SendAttempts int        `bson:"send_attempts" json:"send_attempts"`

	CreatedAt time.Time `bson:"created_at" json:"created_at"`
	// ExpiresAt is enforced by a TTL index on the collection, not by code.
	ExpiresAt time.Time `bson:"expires_at" json:"expires_at"`
}

// Notification types
const (
	NotificationTypeReport        = "report"
	NotificationTypeDesignRequest = "design_request"
	NotificationTypeCommission    = "commission"
	NotificationTypeOperation     = "operation"
	NotificationTypeSystem        = "system"
)

// Priority levels. Ordered so a descending sort puts urgent first.
const (
	PriorityLow    = 0
	PriorityNormal = 1
	PriorityHigh   = 2
	PriorityUrgent = 3
)

// MaxSendAttempts caps delivery retries. A record at the cap stays queryable
// but is excluded from every future delivery sweep.
const MaxSendAttempts = 5

// DefaultExpiry is how long a notification lives before the store purges it.
const DefaultExpiry = 30 * 24 * time.Hour

// AttemptsExhausted reports whether the record reached the delivery attempt
// cap. Exhausted records are skipped by delivery sweeps and replay but stay
// visible in per-user listings.
func (n *Notification) AttemptsExhausted() bool {
	return n.SendAttempts >= MaxSendAttempts
}

// ValidNotificationType reports whether t is one of the known type tags.
func ValidNotificationType(t string) bool {
	switch t {
	case NotificationTypeReport, NotificationTypeDesignRequest,
		NotificationTypeCommission, NotificationTypeOperation, NotificationTypeSystem:
		return true
	}
	return false
}
