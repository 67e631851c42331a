package models

import "time"

// Notification уведомление внутри приложения.
type Notification struct {
	ID        string
	UserID    string
	Title     string
	Message   string
	Type      string
	LinkURL   string
	Metadata  map[string]any
	Read      bool
	CreatedAt time.Time
}
