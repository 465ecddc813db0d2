package audit

import "context"

// Event types
const (
	EventTypeSettingsUpdated = "widget_settings_updated"
	EventTypeSettingsCreated = "widget_settings_created"
	EventTypeCacheCleared    = "widget_cache_cleared"
)

// Resource types
const (
	ResourceTypeWidgetSettings = "widget_settings"
	ResourceTypeSystem         = "system"
)

// Actions
const (
	ActionCreate = "create"
	ActionUpdate = "update"
	ActionDelete = "delete"
)

// Status
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
)

// AuditEvent represents a single audit log event to be recorded
type AuditEvent struct {
	UserID       string                 // Principal that performed the action
	EventType    string                 // Event category (see Event Types constants)
	ResourceType string                 // Type of resource affected
	ResourceID   string                 // ID of affected resource
	Action       string                 // create, update, delete
	Status       string                 // success or failed
	IPAddress    string                 // Client IP address
	Details      map[string]interface{} // Additional details (stored as JSON)
}

// AuditLog represents a stored audit log record
type AuditLog struct {
	ID           int64                  `json:"id"`
	Timestamp    int64                  `json:"timestamp"`
	UserID       string                 `json:"user_id"`
	EventType    string                 `json:"event_type"`
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	Action       string                 `json:"action"`
	Status       string                 `json:"status"`
	IPAddress    string                 `json:"ip_address"`
	Details      map[string]interface{} `json:"details"`
}

// Store defines the interface for audit log storage
type Store interface {
	LogEvent(ctx context.Context, event *AuditEvent) error
	// Recent returns the newest entries first
	Recent(ctx context.Context, limit int) ([]*AuditLog, error)
	// PurgeLogs deletes logs older than the given number of days
	PurgeLogs(ctx context.Context, olderThanDays int) (int, error)
}
