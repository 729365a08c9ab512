package services

import (
	"context"
	"fmt"
	"time"

	"opsdesk-backend/internal/models"

	"github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// reportCollection is the slice of *mongo.Collection the report service uses.
type reportCollection interface {
	InsertOne(ctx context.Context, document interface{}, opts ...*options.InsertOneOptions) (*mongo.InsertOneResult, error)
	FindOne(ctx context.Context, filter interface{}, opts ...*options.FindOneOptions) *mongo.SingleResult
	Find(ctx context.Context, filter interface{}, opts ...*options.FindOptions) (*mongo.Cursor, error)
	DeleteOne(ctx context.Context, filter interface{}, opts ...*options.DeleteOptions) (*mongo.DeleteResult, error)
}

// ReportNotifier persists notification records for report events.
type ReportNotifier interface {
	CreateMany(ctx context.Context, recipients []primitive.ObjectID, tmpl NotificationTemplate) ([]models.Notification, error)
	DeleteByReport(ctx context.Context, reportID primitive.ObjectID) (int64, error)
}

// Pusher attempts live delivery of a notification.
type Pusher interface {
	Push(ctx context.Context, n *models.Notification) (DeliveryResult, error)
}

// ReportService owns the reports collection and drives the notification
// fan-out when a report is submitted.
type ReportService struct {
	collection    reportCollection
	notifications ReportNotifier
	delivery      Pusher
	log           *logrus.Entry
}

func NewReportService(collection *mongo.Collection, notifications *NotificationService, delivery *DeliveryService) *ReportService {
	return &ReportService{
		collection:    collection,
		notifications: notifications,
		delivery:      delivery,
		log:           logrus.WithField("component", "reports"),
	}
}

// Submit stores the report and fans out a notification to every recipient.
// Notification failures are logged and swallowed: a report submission must
// succeed even when the delivery side is unhealthy.
func (s *ReportService) Submit(ctx context.Context, author models.User, title, summary string, recipients []primitive.ObjectID) (*models.Report, error) {
	now := time.Now()
	report := models.Report{
		AuthorID:   author.ID,
		Title:      title,
		Summary:    summary,
		Recipients: recipients,
		Status:     models.ReportStatusSubmitted,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	result, err := s.collection.InsertOne(ctx, report)
	if err != nil {
		return nil, fmt.Errorf("failed to save report: %w", err)
	}
	report.ID = result.InsertedID.(primitive.ObjectID)

	s.fanOut(ctx, &report, author)
	return &report, nil
}

func (s *ReportService) fanOut(ctx context.Context, report *models.Report, author models.User) {
	if len(report.Recipients) == 0 {
		return
	}

	tmpl := NotificationTemplate{
		Type:     models.NotificationTypeReport,
		Category: "daily_report",
		Title:    "New report submitted",
		Message:  fmt.Sprintf("%s %s submitted the report %q", author.FirstName, author.LastName, report.Title),
		Priority: models.PriorityNormal,
		Data: map[string]interface{}{
			"report_id": report.ID.Hex(),
			"author_id": author.ID.Hex(),
		},
	}

	notifications, err := s.notifications.CreateMany(ctx, report.Recipients, tmpl)
	if err != nil {
		s.log.WithError(err).WithField("report_id", report.ID.Hex()).Warn("failed to queue report notifications")
		return
	}

	for i := range notifications {
		result, err := s.delivery.Push(ctx, &notifications[i])
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"report_id":    report.ID.Hex(),
				"recipient_id": notifications[i].RecipientID.Hex(),
			}).Warn("notification push failed")
			continue
		}
		s.log.WithFields(logrus.Fields{
			"recipient_id": notifications[i].RecipientID.Hex(),
			"result":       string(result),
		}).Debug("report notification pushed")
	}
}

// GetByID fetches one report.
func (s *ReportService) GetByID(ctx context.Context, id primitive.ObjectID) (*models.Report, error) {
	var report models.Report
	if err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&report); err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, err
		}
		return nil, fmt.Errorf("failed to fetch report: %w", err)
	}
	return &report, nil
}

// ListForUser pages through reports the user authored or received.
func (s *ReportService) ListForUser(ctx context.Context, userID primitive.ObjectID, page, limit int) ([]models.Report, error) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 50 {
		limit = 20
	}

	filter := bson.M{"$or": []bson.M{
		{"author_id": userID},
		{"recipients": userID},
	}}

	findOpts := options.Find().
		SetLimit(int64(limit)).
		SetSkip(int64((page - 1) * limit)).
		SetSort(bson.D{{Key: "created_at", Value: -1}})

	cursor, err := s.collection.Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch reports: %w", err)
	}
	defer cursor.Close(ctx)

	var reports []models.Report
	if err := cursor.All(ctx, &reports); err != nil {
		return nil, fmt.Errorf("failed to decode reports: %w", err)
	}
	return reports, nil
}

// Delete removes a report and purges its notifications so recipients do not
// keep stale deep links. Only the author (or an admin) may delete.
func (s *ReportService) Delete(ctx context.Context, id, userID primitive.ObjectID, isAdmin bool) error {
	filter := bson.M{"_id": id}
	if !isAdmin {
		filter["author_id"] = userID
	}

	result, err := s.collection.DeleteOne(ctx, filter)
	if err != nil {
		return fmt.Errorf("failed to delete report: %w", err)
	}
	if result.DeletedCount == 0 {
		return mongo.ErrNoDocuments
	}

	if removed, err := s.notifications.DeleteByReport(ctx, id); err != nil {
		s.log.WithError(err).WithField("report_id", id.Hex()).Warn("failed to purge report notifications")
	} else if removed > 0 {
		s.log.WithFields(logrus.Fields{
			"report_id": id.Hex(),
			"removed":   removed,
		}).Debug("purged report notifications")
	}
	return nil
}
