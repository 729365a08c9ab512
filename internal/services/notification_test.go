package services

import (
	"testing"
	"time"

	"opsdesk-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNewFromTemplate(t *testing.T) {
	recipient := primitive.NewObjectID()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	n := NewFromTemplate(recipient, NotificationTemplate{
		Type:     models.NotificationTypeReport,
		Category: "reports",
		Title:    "New report",
		Message:  "A report was submitted",
		Priority: models.PriorityHigh,
		Data:     map[string]interface{}{"report_id": "abc"},
	}, now)

	assert.True(t, n.ID.IsZero(), "the store assigns the id on insert")
	assert.Equal(t, recipient, n.RecipientID)
	assert.Equal(t, models.NotificationTypeReport, n.Type)
	assert.Equal(t, models.PriorityHigh, n.Priority)
	assert.False(t, n.IsRead)
	assert.False(t, n.IsSent)
	assert.Equal(t, 0, n.SendAttempts)
	assert.Equal(t, now, n.CreatedAt)
	assert.Equal(t, now.Add(models.DefaultExpiry), n.ExpiresAt)
}

func TestValidNotificationType(t *testing.T) {
	for _, typ := range []string{
		models.NotificationTypeReport,
		models.NotificationTypeDesignRequest,
		models.NotificationTypeCommission,
		models.NotificationTypeOperation,
		models.NotificationTypeSystem,
	} {
		assert.True(t, models.ValidNotificationType(typ), typ)
	}
	assert.False(t, models.ValidNotificationType("unknown"))
	assert.False(t, models.ValidNotificationType(""))
}

func TestAttemptsExhausted(t *testing.T) {
	n := models.Notification{SendAttempts: models.MaxSendAttempts - 1}
	assert.False(t, n.AttemptsExhausted())

	n.SendAttempts = models.MaxSendAttempts
	assert.True(t, n.AttemptsExhausted())

	n.SendAttempts = models.MaxSendAttempts + 1
	assert.True(t, n.AttemptsExhausted())
}
