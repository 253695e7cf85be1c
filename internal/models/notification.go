package models

type NotificationType string

const (
	NotificationInfo    NotificationType = "info"
	NotificationSuccess NotificationType = "success"
	NotificationWarning NotificationType = "warning"
	NotificationError   NotificationType = "error"
)

type Notification struct {
	ID        string           `json:"id"`
	Tag       string           `json:"tag"`
	Text      string           `json:"text"`
	Type      NotificationType `json:"type"`
	Read      bool             `json:"read"`
	Timestamp int64            `json:"timestamp"` // epoch ms, never rewritten
	Label     string           `json:"time"`      // relative label, refreshed periodically
}
