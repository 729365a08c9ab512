// Package client is the Go client for the opsdesk notification channel. It
// maintains a single live connection per process, survives disconnects with
// exponential backoff, and keeps a deduplicated, locally persisted view of
// received notifications.
package client

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Notification is the client-side view of one notification.
type Notification struct {
	ID        string                 `json:"id,omitempty"`
	Type      string                 `json:"type,omitempty"`
	Category  string                 `json:"category,omitempty"`
	Title     string                 `json:"title"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Priority  int                    `json:"priority,omitempty"`
	IsRead    bool                   `json:"is_read"`
	Timestamp time.Time              `json:"timestamp"`
}

// ResourceID returns the report reference carried in the payload, normalized
// to a string. Server and cached payloads disagree on numeric vs string ids,
// so both sides of any comparison must go through this.
func (n Notification) ResourceID() string {
	if n.Data == nil {
		return ""
	}
	return normalizeID(n.Data["report_id"])
}

// Key returns the notification's dedup key: the server-issued id when
// present, else a value derived from the visible fields. Both the processed
// set and the visible history use this one function, so the two can never
// drift apart.
func (n Notification) Key() string {
	if n.ID != "" {
		return n.ID
	}
	return n.Title + "|" + n.Message + "|" + n.ResourceID()
}

func normalizeID(v interface{}) string {
	switch id := v.(type) {
	case nil:
		return ""
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	case int:
		return strconv.Itoa(id)
	case int64:
		return strconv.FormatInt(id, 10)
	case json.Number:
		return id.String()
	default:
		return fmt.Sprintf("%v", id)
	}
}
