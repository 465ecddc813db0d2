package audit

import (
	"context"

	"github.com/sirupsen/logrus"
)

// Manager handles audit logging operations
type Manager struct {
	store  Store
	logger *logrus.Logger
}

// NewManager creates a new audit manager
func NewManager(store Store, logger *logrus.Logger) *Manager {
	return &Manager{
		store:  store,
		logger: logger,
	}
}

// LogEvent records an audit event. Incomplete events are dropped with a
// warning rather than failing the caller's operation.
func (m *Manager) LogEvent(ctx context.Context, event *AuditEvent) error {
	if event == nil {
		m.logger.Warn("Attempted to log nil audit event")
		return nil
	}

	if event.UserID == "" || event.EventType == "" || event.Action == "" || event.Status == "" {
		m.logger.WithField("event_type", event.EventType).Warn("Audit event missing required fields")
		return nil
	}

	if err := m.store.LogEvent(ctx, event); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{
			"event_type": event.EventType,
			"user_id":    event.UserID,
			"action":     event.Action,
		}).Error("Failed to log audit event")
		return err
	}

	// Mirrors the record into the service log so operators see it without
	// querying the database.
	m.logger.WithFields(logrus.Fields{
		"event_type":    event.EventType,
		"user_id":       event.UserID,
		"action":        event.Action,
		"status":        event.Status,
		"resource_type": event.ResourceType,
	}).Info("Audit event recorded")

	return nil
}

// Recent returns up to limit of the newest audit entries
func (m *Manager) Recent(ctx context.Context, limit int) ([]*AuditLog, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return m.store.Recent(ctx, limit)
}

// PurgeLogs deletes logs older than specified days
func (m *Manager) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		m.logger.Warn("Invalid retention days for purge operation")
		return 0, nil
	}

	count, err := m.store.PurgeLogs(ctx, olderThanDays)
	if err != nil {
		m.logger.WithError(err).WithField("retention_days", olderThanDays).Error("Failed to purge old audit logs")
		return 0, err
	}

	m.logger.WithFields(logrus.Fields{
		"deleted_count":  count,
		"retention_days": olderThanDays,
	}).Info("Purged old audit logs")

	return count, nil
}
