// Package notification defines stored user notifications.
package notification

import "time"

// Notification is a message delivered to a user, persisted regardless of
// whether a push was attempted.
type Notification struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Title     string            `json:"title"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Read      bool              `json:"read"`
	CreatedAt time.Time         `json:"created_at"`
}
