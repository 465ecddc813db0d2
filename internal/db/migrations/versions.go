package migrations

import (
	"database/sql"
)

// getAllMigrations returns all available migrations
func getAllMigrations() []Migration {
	return []Migration{
		migration1_WidgetSettings(),
		migration2_AuditLogs(),
	}
}

// migration1_WidgetSettings creates the singleton widget settings table.
// The CHECK on id keeps the table to a single row.
func migration1_WidgetSettings() Migration {
	return Migration{
		Version:     1,
		Description: "Create widget_settings singleton table",
		Up: func(tx *sql.Tx) error {
			_, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS widget_settings (
					id INTEGER PRIMARY KEY CHECK (id = 1),
					widget_enabled INTEGER NOT NULL DEFAULT 1,
					auto_open INTEGER NOT NULL DEFAULT 0,
					api_server_url TEXT NOT NULL DEFAULT '',
					welcome_message TEXT NOT NULL DEFAULT '',
					widget_position TEXT NOT NULL DEFAULT 'bottom-right',
					widget_theme TEXT NOT NULL DEFAULT 'default',
					show_user_avatar INTEGER NOT NULL DEFAULT 1,
					user_avatar_url TEXT NOT NULL DEFAULT '',
					sound_notifications INTEGER NOT NULL DEFAULT 0,
					conversation_logging INTEGER NOT NULL DEFAULT 1,
					connection_timeout INTEGER NOT NULL DEFAULT 30,
					max_retries INTEGER NOT NULL DEFAULT 3,
					debug_mode INTEGER NOT NULL DEFAULT 0,
					modified_by TEXT NOT NULL DEFAULT '',
					created_at INTEGER NOT NULL,
					updated_at INTEGER NOT NULL
				)
			`)
			return err
		},
	}
}

// migration2_AuditLogs creates the audit log table used for settings changes
func migration2_AuditLogs() Migration {
	return Migration{
		Version:     2,
		Description: "Create audit_logs table",
		Up: func(tx *sql.Tx) error {
			if _, err := tx.Exec(`
				CREATE TABLE IF NOT EXISTS audit_logs (
					id INTEGER PRIMARY KEY AUTOINCREMENT,
					timestamp INTEGER NOT NULL,
					user_id TEXT NOT NULL,
					event_type TEXT NOT NULL,
					resource_type TEXT,
					resource_id TEXT,
					action TEXT NOT NULL,
					status TEXT NOT NULL,
					ip_address TEXT,
					details TEXT
				)
			`); err != nil {
				return err
			}

			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_logs_timestamp ON audit_logs(timestamp DESC)`); err != nil {
				return err
			}
			if _, err := tx.Exec(`CREATE INDEX IF NOT EXISTS idx_audit_logs_event_type ON audit_logs(event_type)`); err != nil {
				return err
			}
			return nil
		},
	}
}
