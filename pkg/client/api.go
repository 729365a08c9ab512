package client

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// wireNotification is the REST/websocket representation coming from the
// server.
type wireNotification struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Category  string                 `json:"category,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  int                    `json:"priority"`
	IsRead    bool                   `json:"is_read"`
	CreatedAt time.Time              `json:"created_at"`
}

func (w wireNotification) toNotification() Notification {
	return Notification{
		ID:        w.ID,
		Type:      w.Type,
		Category:  w.Category,
		Title:     w.Title,
		Message:   w.Message,
		Data:      w.Data,
		Priority:  w.Priority,
		IsRead:    w.IsRead,
		Timestamp: w.CreatedAt,
	}
}

// APIClient talks to the notification REST endpoints. It backs the
// unread-fetch fallback that covers gaps in live delivery.
type APIClient struct {
	http *resty.Client
}

func NewAPIClient(baseURL, token string) *APIClient {
	httpClient := resty.New().
		SetBaseURL(baseURL).
		SetAuthToken(token).
		SetTimeout(15 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(time.Second)

	return &APIClient{http: httpClient}
}

// FetchUnread pulls the caller's unread notifications from the server.
func (c *APIClient) FetchUnread(ctx context.Context) ([]Notification, error) {
	var body struct {
		Notifications []wireNotification `json:"notifications"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("unread_only", "true").
		SetResult(&body).
		Get("/api/v1/notifications")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch unread notifications: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("unread fetch returned %s", resp.Status())
	}

	notifications := make([]Notification, 0, len(body.Notifications))
	for _, w := range body.Notifications {
		notifications = append(notifications, w.toNotification())
	}
	return notifications, nil
}

// MarkRead confirms read state with the server. The local store flips its
// own flags independently; this is the explicit server-side half.
func (c *APIClient) MarkRead(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"ids": ids}).
		Put("/api/v1/notifications/read")
	if err != nil {
		return fmt.Errorf("failed to mark notifications read: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("mark read returned %s", resp.Status())
	}
	return nil
}
