package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"opsdesk-backend/internal/models"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type fakeReportCollection struct {
	inserted  []interface{}
	insertErr error
}

func (c *fakeReportCollection) InsertOne(_ context.Context, document interface{}, _ ...*options.InsertOneOptions) (*mongo.InsertOneResult, error) {
	if c.insertErr != nil {
		return nil, c.insertErr
	}
	c.inserted = append(c.inserted, document)
	return &mongo.InsertOneResult{InsertedID: primitive.NewObjectID()}, nil
}

func (c *fakeReportCollection) FindOne(_ context.Context, _ interface{}, _ ...*options.FindOneOptions) *mongo.SingleResult {
	return &mongo.SingleResult{}
}

func (c *fakeReportCollection) Find(_ context.Context, _ interface{}, _ ...*options.FindOptions) (*mongo.Cursor, error) {
	return nil, errors.New("not backed by a cursor")
}

func (c *fakeReportCollection) DeleteOne(_ context.Context, _ interface{}, _ ...*options.DeleteOptions) (*mongo.DeleteResult, error) {
	return &mongo.DeleteResult{DeletedCount: 1}, nil
}

type fakeNotifier struct {
	createErr  error
	recipients []primitive.ObjectID
	tmpl       NotificationTemplate
	purged     []primitive.ObjectID
}

func (f *fakeNotifier) CreateMany(_ context.Context, recipients []primitive.ObjectID, tmpl NotificationTemplate) ([]models.Notification, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.recipients = recipients
	f.tmpl = tmpl
	now := time.Now()
	out := make([]models.Notification, len(recipients))
	for i, recipient := range recipients {
		n := NewFromTemplate(recipient, tmpl, now)
		n.ID = primitive.NewObjectID()
		out[i] = n
	}
	return out, nil
}

func (f *fakeNotifier) DeleteByReport(_ context.Context, reportID primitive.ObjectID) (int64, error) {
	f.purged = append(f.purged, reportID)
	return 1, nil
}

type fakePusher struct {
	pushErr error
	pushed  []models.Notification
}

func (f *fakePusher) Push(_ context.Context, n *models.Notification) (DeliveryResult, error) {
	if f.pushErr != nil {
		return DeliveryDropped, f.pushErr
	}
	f.pushed = append(f.pushed, *n)
	return DeliveredLive, nil
}

func newTestReports(collection *fakeReportCollection, notifier *fakeNotifier, pusher *fakePusher) *ReportService {
	return &ReportService{
		collection:    collection,
		notifications: notifier,
		delivery:      pusher,
		log:           logrus.WithField("component", "reports"),
	}
}

func testAuthor() models.User {
	return models.User{
		ID:        primitive.NewObjectID(),
		FirstName: "Olena",
		LastName:  "Shevchenko",
	}
}

func TestSubmitFansOutToEveryRecipient(t *testing.T) {
	collection := &fakeReportCollection{}
	notifier := &fakeNotifier{}
	pusher := &fakePusher{}
	svc := newTestReports(collection, notifier, pusher)

	author := testAuthor()
	recipients := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID(), primitive.NewObjectID()}

	report, err := svc.Submit(context.Background(), author, "Night shift", "All quiet", recipients)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.False(t, report.ID.IsZero())
	assert.Equal(t, models.ReportStatusSubmitted, report.Status)

	assert.Equal(t, recipients, notifier.recipients)
	assert.Equal(t, models.NotificationTypeReport, notifier.tmpl.Type)
	assert.Equal(t, report.ID.Hex(), notifier.tmpl.Data["report_id"])
	assert.Equal(t, author.ID.Hex(), notifier.tmpl.Data["author_id"])
	assert.Contains(t, notifier.tmpl.Message, "Olena Shevchenko")

	require.Len(t, pusher.pushed, len(recipients))
	for i, n := range pusher.pushed {
		assert.Equal(t, recipients[i], n.RecipientID)
	}
}

func TestSubmitSucceedsWhenNotificationPersistenceFails(t *testing.T) {
	collection := &fakeReportCollection{}
	notifier := &fakeNotifier{createErr: errors.New("mongo down")}
	pusher := &fakePusher{}
	svc := newTestReports(collection, notifier, pusher)

	report, err := svc.Submit(context.Background(), testAuthor(), "Night shift", "All quiet",
		[]primitive.ObjectID{primitive.NewObjectID()})

	require.NoError(t, err, "a broken notification store must not fail the submission")
	require.NotNil(t, report)
	assert.False(t, report.ID.IsZero())
	require.Len(t, collection.inserted, 1)
	assert.Empty(t, pusher.pushed)
}

func TestSubmitSucceedsWhenPushFails(t *testing.T) {
	collection := &fakeReportCollection{}
	notifier := &fakeNotifier{}
	pusher := &fakePusher{pushErr: errors.New("registry unavailable")}
	svc := newTestReports(collection, notifier, pusher)

	report, err := svc.Submit(context.Background(), testAuthor(), "Night shift", "All quiet",
		[]primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()})

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.False(t, report.ID.IsZero())
}

func TestSubmitWithoutRecipientsSkipsFanOut(t *testing.T) {
	collection := &fakeReportCollection{}
	notifier := &fakeNotifier{}
	pusher := &fakePusher{}
	svc := newTestReports(collection, notifier, pusher)

	report, err := svc.Submit(context.Background(), testAuthor(), "Night shift", "All quiet", nil)

	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Nil(t, notifier.recipients)
	assert.Empty(t, pusher.pushed)
}

func TestSubmitStoreFailure(t *testing.T) {
	collection := &fakeReportCollection{insertErr: errors.New("mongo down")}
	svc := newTestReports(collection, &fakeNotifier{}, &fakePusher{})

	report, err := svc.Submit(context.Background(), testAuthor(), "Night shift", "All quiet",
		[]primitive.ObjectID{primitive.NewObjectID()})

	assert.Error(t, err)
	assert.Nil(t, report)
}
