package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
)

// SQLiteStore implements the Store interface on the service database.
// The audit_logs table is created by the schema migrations.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore creates a new SQLite-based audit log store
func NewSQLiteStore(db *sql.DB, logger *logrus.Logger) *SQLiteStore {
	return &SQLiteStore{
		db:     db,
		logger: logger,
	}
}

// LogEvent records an audit event
func (s *SQLiteStore) LogEvent(ctx context.Context, event *AuditEvent) error {
	detailsJSON := "{}"
	if len(event.Details) > 0 {
		detailsBytes, err := json.Marshal(event.Details)
		if err != nil {
			s.logger.WithError(err).Warn("Failed to marshal audit event details to JSON")
		} else {
			detailsJSON = string(detailsBytes)
		}
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_logs (
			timestamp, user_id, event_type, resource_type, resource_id,
			action, status, ip_address, details
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		time.Now().Unix(),
		event.UserID,
		event.EventType,
		event.ResourceType,
		event.ResourceID,
		event.Action,
		event.Status,
		event.IPAddress,
		detailsJSON,
	)
	if err != nil {
		return fmt.Errorf("failed to insert audit log: %w", err)
	}

	return nil
}

// Recent retrieves the newest audit entries
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]*AuditLog, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, timestamp, user_id, event_type, resource_type, resource_id,
		       action, status, ip_address, details
		FROM audit_logs
		ORDER BY id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*AuditLog
	for rows.Next() {
		log := &AuditLog{}
		var resourceType, resourceID, ipAddress, detailsJSON sql.NullString

		if err := rows.Scan(
			&log.ID,
			&log.Timestamp,
			&log.UserID,
			&log.EventType,
			&resourceType,
			&resourceID,
			&log.Action,
			&log.Status,
			&ipAddress,
			&detailsJSON,
		); err != nil {
			return nil, fmt.Errorf("failed to scan audit log: %w", err)
		}

		log.ResourceType = resourceType.String
		log.ResourceID = resourceID.String
		log.IPAddress = ipAddress.String
		log.Details = make(map[string]interface{})
		if detailsJSON.Valid && detailsJSON.String != "" {
			if err := json.Unmarshal([]byte(detailsJSON.String), &log.Details); err != nil {
				s.logger.WithError(err).Warn("Failed to unmarshal audit log details")
			}
		}

		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// PurgeLogs deletes logs older than specified days
func (s *SQLiteStore) PurgeLogs(ctx context.Context, olderThanDays int) (int, error) {
	cutoffTime := time.Now().AddDate(0, 0, -olderThanDays).Unix()

	result, err := s.db.ExecContext(ctx, "DELETE FROM audit_logs WHERE timestamp < ?", cutoffTime)
	if err != nil {
		return 0, fmt.Errorf("failed to purge old audit logs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get deleted rows count: %w", err)
	}

	return int(deleted), nil
}
