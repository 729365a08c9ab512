package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"opsdesk-backend/internal/models"
	"opsdesk-backend/internal/services"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

type ReportHandler struct {
	reports        *services.ReportService
	userCollection *mongo.Collection
}

type SubmitReportRequest struct {
	Title      string   `json:"title" binding:"required,min=2,max=200"`
	Summary    string   `json:"summary" binding:"max=2000"`
	Recipients []string `json:"recipients" binding:"required,min=1"`
}

func NewReportHandler(reports *services.ReportService, userCollection *mongo.Collection) *ReportHandler {
	return &ReportHandler{
		reports:        reports,
		userCollection: userCollection,
	}
}

// SubmitReport stores a report and fans notifications out to its recipients.
// The submission succeeds regardless of notification delivery.
func (h *ReportHandler) SubmitReport(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	var req SubmitReportRequest
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
		if err != nil || id == userID {
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

	var author models.User
	if err := h.userCollection.FindOne(ctx, bson.M{"_id": userID}).Decode(&author); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unknown user"})
		return
	}

	report, err := h.reports.Submit(ctx, author, req.Title, req.Summary, recipients)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error creating report"})
		return
	}

	c.JSON(http.StatusCreated, report)
}

// GetReports lists reports the caller authored or received.
func (h *ReportHandler) GetReports(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	reports, err := h.reports.ListForUser(ctx, userID, page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching reports"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"reports": reports})
}

// GetReport fetches one report the caller can see.
func (h *ReportHandler) GetReport(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	reportID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report ID"})
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	report, err := h.reports.GetByID(ctx, reportID)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error fetching report"})
		return
	}

	if report.AuthorID != userID && !containsID(report.Recipients, userID) {
		isAdmin, _ := c.Get("is_admin")
		if admin, ok := isAdmin.(bool); !ok || !admin {
			c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
			return
		}
	}

	c.JSON(http.StatusOK, report)
}

// DeleteReport removes a report and purges its notifications.
func (h *ReportHandler) DeleteReport(c *gin.Context) {
	userID, ok := requestUserID(c)
	if !ok {
		return
	}

	reportID, err := primitive.ObjectIDFromHex(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid report ID"})
		return
	}

	isAdmin := false
	if value, exists := c.Get("is_admin"); exists {
		isAdmin, _ = value.(bool)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := h.reports.Delete(ctx, reportID, userID, isAdmin); err != nil {
		if err == mongo.ErrNoDocuments {
			c.JSON(http.StatusNotFound, gin.H{"error": "Report not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Error deleting report"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"message": "Report deleted"})
}

func containsID(ids []primitive.ObjectID, id primitive.ObjectID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
