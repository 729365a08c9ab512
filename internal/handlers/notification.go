package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"opsdesk-backend/internal/models"
	"opsdesk-backend/internal/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type NotificationHandler struct {
	notifications *services.NotificationService
	delivery      *services.DeliveryService
}

type MarkReadRequest struct {
	IDs []string `json:"ids" binding:"required,min=1"`
}

type SendNotificationRequest struct {
	Recipients []string               `json:"recipients" binding:"required,min=1"`
	Type       string                 `json:"type" binding:"required,notiftype"`
	Category   string                 `json:"category,omitempty"`
	Title      string                 `json:"title" binding:"required,max=100"`
	Message    string                 `json:"message" binding:"required,max=500"`
	Priority   int                    `json:"priority" binding:"priority"`
	Data       map[string]interface{} `json:"data,omitempty"`
}

func NewNotificationHandler(notifications *services.NotificationService, delivery *services.DeliveryService) *NotificationHandler {
	return &NotificationHandler{
		notifications: notifications,
		delivery:      delivery,
	}
}

func requestUserID(c *gin.Context) (primitive.ObjectID, bool) {
	value, exists := c.Get("user_id")
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return primitive.NilObjectID, false
	}
	userID, ok := value.(primitive.ObjectID)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid user identity"})
		return primitive.NilObjectID, false
	}
	return userID, true
}

// GetNotifications lists the caller's notifications with paging and optional
// type / read-state filters.
func (h *NotificationHandler) GetNotifications(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	opt := services.ListOptions{Page: page, Limit: limit}

	if t := c.Query("type"); t != "" {
		if !models.ValidNotificationType(t) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown notification type"})
			return
		}
		opt.Type = t
	}
	if c.DefaultQuery("unread_only", "false") == "true" {
		unread := false
		opt.IsRead = &unread
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifications, err := h.notifications.GetByUser(ctx, userID, opt)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching notifications"})
		return
	}

	unreadCount, err := h.notifications.CountUnread(ctx, userID)
	if err != nil {
		unreadCount = 0
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"unread_count":  unreadCount,
		"pagination": gin.H{
			"page":  opt.Page,
			"limit": opt.Limit,
		},
	})
}

// GetUnreadCount returns just the unread counter for badge rendering.
func (h *NotificationHandler) GetUnreadCount(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	count, err := h.notifications.CountUnread(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error counting notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"unread_count": count})
}

// MarkAsRead marks one notification read.
func (h *NotificationHandler) MarkAsRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	notificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	modified, err := h.notifications.MarkAsRead(ctx, []primitive.ObjectID{notificationID}, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error marking notification as read"})
		return
	}
	if modified == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification marked as read"})
}

// MarkManyAsRead marks a batch of notifications read in one call.
func (h *NotificationHandler) MarkManyAsRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req MarkReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var ids []primitive.ObjectID
	for _, raw := range req.IDs {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid notification IDs provided"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	modified, err := h.notifications.MarkAsRead(ctx, ids, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error marking notifications as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"modified_count": modified})
}

// MarkAllAsRead marks every unread notification of the caller as read.
func (h *NotificationHandler) MarkAllAsRead(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	modified, err := h.notifications.MarkAllAsRead(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error marking notifications as read"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"modified_count": modified})
}

// DeleteNotification removes one notification owned by the caller.
func (h *NotificationHandler) DeleteNotification(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	notificationID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid notification ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.notifications.DeleteForUser(ctx, notificationID, userID); err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting notification"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Notification deleted"})
}

// SendNotification lets an admin fan a notification out to a set of users.
// Each one is pushed live when the recipient is connected, queued otherwise.
func (h *NotificationHandler) SendNotification(c *gin.Context) {
	var req SendNotificationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request data",
			"details": err.Error(),
		})
		return
	}

	var recipients []primitive.ObjectID
	for _, raw := range req.Recipients {
		id, err := primitive.ObjectIDFromHex(raw)
		if err != nil {
			continue
		}
		recipients = append(recipients, id)
	}
	if len(recipients) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No valid recipients provided"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifications, err := h.notifications.CreateMany(ctx, recipients, services.NotificationTemplate{
		Type:     req.Type,
		Category: req.Category,
		Title:    req.Title,
		Message:  req.Message,
		Priority: req.Priority,
		Data:     req.Data,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating notifications"})
		return
	}

	live := 0
	for i := range notifications {
		if result, err := h.delivery.Push(ctx, &notifications[i]); err == nil && result == services.DeliveredLive {
			live++
		}
	}

	c.JSON(http.StatusCreated, gin.H{
		"created":        len(notifications),
		"delivered_live": live,
		"queued":         len(notifications) - live,
	})
}

// GetUnsent exposes the queued backlog for admin delivery sweeps.
func (h *NotificationHandler) GetUnsent(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	notifications, err := h.notifications.GetUnsent(ctx, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching unsent notifications"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notifications,
		"count":         len(notifications),
	})
}
