package services

import (
	"context"
	"fmt"
	"time"

	"opsdesk-backend/internal/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// NotificationTemplate carries the recipient-independent part of a fan-out.
type NotificationTemplate struct {
	Type     string
	Category string
	Title    string
	Message  string
	Priority int
	Data     map[string]interface{}
}

// NewFromTemplate builds a fresh notification document for one recipient.
// Pure so the defaulting rules are testable without a database.
func NewFromTemplate(recipient primitive.ObjectID, tmpl NotificationTemplate, now time.Time) models.Notification {
	return models.Notification{
		RecipientID:  recipient,
		Type:         tmpl.Type,
		Category:     tmpl.Category,
		Title:        tmpl.Title,
		Message:      tmpl.Message,
		Priority:     tmpl.Priority,
		Data:         tmpl.Data,
		IsRead:       false,
		IsSent:       false,
		SendAttempts: 0,
		CreatedAt:    now,
		ExpiresAt:    now.Add(models.DefaultExpiry),
	}
}

// ListOptions narrows GetByUser.
type ListOptions struct {
	Page   int
	Limit  int
	Type   string
	IsRead *bool
}

// NotificationService owns the notifications collection. Every mutation is a
// targeted conditional update so the delivery service and the REST handlers
// can write concurrently without clobbering each other's fields.
type NotificationService struct {
	collection *mongo.Collection
}

func NewNotificationService(collection *mongo.Collection) *NotificationService {
	return &NotificationService{collection: collection}
}

// Create persists a single notification, filling in defaults.
func (s *NotificationService) Create(ctx context.Context, n *models.Notification) error {
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.ExpiresAt.IsZero() {
		n.ExpiresAt = n.CreatedAt.Add(models.DefaultExpiry)
	}

	result, err := s.collection.InsertOne(ctx, n)
	if err != nil {
		return fmt.Errorf("failed to save notification: %w", err)
	}
	n.ID = result.InsertedID.(primitive.ObjectID)
	return nil
}

// CreateMany bulk-inserts one notification per recipient from a shared
// template. Used by domain actions (report submission and the like) to fan
// out.
func (s *NotificationService) CreateMany(ctx context.Context, recipients []primitive.ObjectID, tmpl NotificationTemplate) ([]models.Notification, error) {
	if len(recipients) == 0 {
		return nil, nil
	}

	now := time.Now()
	notifications := make([]models.Notification, 0, len(recipients))
	docs := make([]interface{}, 0, len(recipients))
	for _, recipient := range recipients {
		n := NewFromTemplate(recipient, tmpl, now)
		notifications = append(notifications, n)
		docs = append(docs, n)
	}

	result, err := s.collection.InsertMany(ctx, docs)
	if err != nil {
		return nil, fmt.Errorf("failed to save notifications: %w", err)
	}

	for i, id := range result.InsertedIDs {
		notifications[i].ID = id.(primitive.ObjectID)
	}
	return notifications, nil
}

// GetByUser pages through a user's notifications, newest first, urgent before
// low within the same instant.
func (s *NotificationService) GetByUser(ctx context.Context, userID primitive.ObjectID, opt ListOptions) ([]models.Notification, error) {
	if opt.Page <= 0 {
		opt.Page = 1
	}
	if opt.Limit <= 0 || opt.Limit > 50 {
		opt.Limit = 20
	}

	filter := bson.M{"recipient_id": userID}
	if opt.Type != "" {
		filter["type"] = opt.Type
	}
	if opt.IsRead != nil {
		filter["is_read"] = *opt.IsRead
	}

	skip := (opt.Page - 1) * opt.Limit
	findOpts := options.Find().
		SetLimit(int64(opt.Limit)).
		SetSkip(int64(skip)).
		SetSort(bson.D{{Key: "created_at", Value: -1}, {Key: "priority", Value: -1}})

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode notifications: %w", err)
	}
	return notifications, nil
}

// GetUnreadByUser returns the user's unread notifications, newest first.
func (s *NotificationService) GetUnreadByUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	unread := false
	return s.GetByUser(ctx, userID, ListOptions{Page: 1, Limit: limit, IsRead: &unread})
}

// CountUnread returns the user's unread notification count.
func (s *NotificationService) CountUnread(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	count, err := s.collection.CountDocuments(ctx, bson.M{
		"recipient_id": userID,
		"is_read":      false,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to count unread notifications: %w", err)
	}
	return count, nil
}

// MarkAsRead marks the given notifications read, scoped to the owner.
func (s *NotificationService) MarkAsRead(ctx context.Context, ids []primitive.ObjectID, userID primitive.ObjectID) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	now := time.Now()
	result, err := s.collection.UpdateMany(ctx, bson.M{
		"_id":          bson.M{"$in": ids},
		"recipient_id": userID,
		"is_read":      false,
	}, bson.M{
		"$set": bson.M{"is_read": true, "read_at": now},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return result.ModifiedCount, nil
}

// MarkAllAsRead marks every unread notification of the user as read.
func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	now := time.Now()
	result, err := s.collection.UpdateMany(ctx, bson.M{
		"recipient_id": userID,
		"is_read":      false,
	}, bson.M{
		"$set": bson.M{"is_read": true, "read_at": now},
	})
	if err != nil {
		return 0, fmt.Errorf("failed to mark notifications as read: %w", err)
	}
	return result.ModifiedCount, nil
}

// GetUnsent returns queued notifications for out-of-band delivery sweeps,
// oldest first. Records at the attempt cap are excluded permanently but stay
// queryable through GetByUser.
func (s *NotificationService) GetUnsent(ctx context.Context, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 100
	}

	findOpts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: 1}})

	cursor, err := s.collection.Find(ctx, bson.M{
		"is_sent":       false,
		"send_attempts": bson.M{"$lt": models.MaxSendAttempts},
	}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unsent notifications: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode unsent notifications: %w", err)
	}
	return notifications, nil
}

// UnsentForUser returns the replay batch for a reconnecting user. Ordered by
// creation time descending: the newest notification goes out first, matching
// the long-standing frontend behavior.
func (s *NotificationService) UnsentForUser(ctx context.Context, userID primitive.ObjectID, limit int) ([]models.Notification, error) {
	if limit <= 0 {
		limit = 20
	}

	findOpts := options.Find().
		SetLimit(int64(limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection.Find(ctx, bson.M{
		"recipient_id":  userID,
		"is_sent":       false,
		"send_attempts": bson.M{"$lt": models.MaxSendAttempts},
	}, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch replay batch: %w", err)
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err := cursor.All(ctx, &notifications); err != nil {
		return nil, fmt.Errorf("failed to decode replay batch: %w", err)
	}
	return notifications, nil
}

// MarkSendAttempt records one push attempt: sets is_sent and increments the
// attempt counter in a single conditional update. A record already at the cap
// is left untouched.
func (s *NotificationService) MarkSendAttempt(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":           id,
		"send_attempts": bson.M{"$lt": models.MaxSendAttempts},
	}, bson.M{
		"$set": bson.M{"is_sent": true},
		"$inc": bson.M{"send_attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to record send attempt: %w", err)
	}
	return nil
}

// MarkDeliveryFailed counts a failed push attempt without flipping is_sent,
// so the record stays eligible for replay until the cap.
func (s *NotificationService) MarkDeliveryFailed(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.collection.UpdateOne(ctx, bson.M{
		"_id":           id,
		"send_attempts": bson.M{"$lt": models.MaxSendAttempts},
	}, bson.M{
		"$inc": bson.M{"send_attempts": 1},
	})
	if err != nil {
		return fmt.Errorf("failed to record failed attempt: %w", err)
	}
	return nil
}

// DeleteForUser removes one notification, scoped to the owner.
func (s *NotificationService) DeleteForUser(ctx context.Context, id, userID primitive.ObjectID) error {
	result, err := s.collection.DeleteOne(ctx, bson.M{
		"_id":          id,
		"recipient_id": userID,
	})
	if err != nil {
		return fmt.Errorf("failed to delete notification: %w", err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}
	return nil
}

// DeleteByReport removes every notification referencing the given report.
// Called when a report is deleted so stale notifications disappear.
func (s *NotificationService) DeleteByReport(ctx context.Context, reportID primitive.ObjectID) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"data.report_id": reportID.Hex(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to delete report notifications: %w", err)
	}
	return result.DeletedCount, nil
}
