package settings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/aidawidget/aidawidget/internal/audit"
	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/cache"
	"github.com/sirupsen/logrus"
)

// Auditor records settings changes
type Auditor interface {
	LogEvent(ctx context.Context, event *audit.AuditEvent) error
}

// Manager persists the singleton widget settings record in SQLite
type Manager struct {
	db       *sql.DB
	cache    cache.Cache
	auditor  Auditor
	defaults WidgetSettings
	logger   *logrus.Entry
	now      func() time.Time
}

// NewManager creates a settings manager. c is the cache whose settings
// entry is invalidated on every successful write.
func NewManager(db *sql.DB, c cache.Cache, logger *logrus.Logger) *Manager {
	return &Manager{
		db:       db,
		cache:    c,
		defaults: Defaults(),
		logger:   logger.WithField("component", "settings"),
		now:      time.Now,
	}
}

// SetAuditor enables audit events for writes made while debug_mode is on
func (m *Manager) SetAuditor(a Auditor) {
	m.auditor = a
}

// SetDefaults overrides the record created by EnsureDefaults and used as
// the base for the first write
func (m *Manager) SetDefaults(d WidgetSettings) {
	m.defaults = d
}

const selectSettings = `
	SELECT widget_enabled, auto_open, api_server_url, welcome_message,
	       widget_position, widget_theme, show_user_avatar, user_avatar_url,
	       sound_notifications, conversation_logging, connection_timeout,
	       max_retries, debug_mode
	FROM widget_settings WHERE id = 1
`

// Read returns the stored settings, or ErrNotConfigured if the record
// has never been created
func (m *Manager) Read(ctx context.Context) (*WidgetSettings, error) {
	return m.read(ctx, m.db)
}

// queryer is satisfied by both *sql.DB and *sql.Conn
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (m *Manager) read(ctx context.Context, q queryer) (*WidgetSettings, error) {
	var s WidgetSettings
	var position, theme string

	err := q.QueryRowContext(ctx, selectSettings).Scan(
		&s.WidgetEnabled, &s.AutoOpen, &s.APIServerURL, &s.WelcomeMessage,
		&position, &theme, &s.ShowUserAvatar, &s.UserAvatarURL,
		&s.SoundNotifications, &s.ConversationLogging, &s.ConnectionTimeout,
		&s.MaxRetries, &s.DebugMode,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotConfigured
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read widget settings: %w", err)
	}

	s.Position = Position(position)
	s.Theme = Theme(theme)
	return &s, nil
}

// Write applies upd on top of the current record, validates the result and
// stores it. A *ValidationError leaves both the record and the cache
// untouched. An empty update of an existing record returns it unchanged.
func (m *Manager) Write(ctx context.Context, upd Update, actor auth.Principal) (*WidgetSettings, error) {
	conn, err := m.db.Conn(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire database connection: %w", err)
	}
	defer conn.Close()

	// IMMEDIATE takes the write lock before the read, so concurrent
	// partial updates apply one after the other
	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if _, err := conn.ExecContext(context.Background(), "ROLLBACK"); err != nil {
				m.logger.WithError(err).Warn("Failed to roll back settings transaction")
			}
		}
	}()

	current, err := m.read(ctx, conn)
	created := false
	switch {
	case errors.Is(err, ErrNotConfigured):
		d := m.defaults
		current = &d
		created = true
	case err != nil:
		return nil, err
	}

	if upd.IsEmpty() && !created {
		return current, nil
	}

	next := upd.Apply(*current)
	next.Normalize()
	if err := next.Validate(); err != nil {
		return nil, err
	}

	if err := m.upsert(ctx, conn, next, actor.User); err != nil {
		return nil, err
	}

	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return nil, fmt.Errorf("failed to commit widget settings: %w", err)
	}
	committed = true

	if err := m.cache.Delete(ctx, CacheKey); err != nil {
		// The record is saved; readers may see the old snapshot until the
		// cache entry expires.
		m.logger.WithError(err).Error("Failed to invalidate settings cache")
		return nil, fmt.Errorf("settings saved but cache invalidation failed: %w", err)
	}

	m.logger.WithFields(logrus.Fields{
		"user":    actor.User,
		"created": created,
	}).Info("Widget settings updated")

	if next.DebugMode {
		m.recordChange(ctx, next, actor, created)
	}

	return &next, nil
}

// EnsureDefaults creates the record with default values when missing.
// It reports whether a record was created.
func (m *Manager) EnsureDefaults(ctx context.Context) (bool, error) {
	d := m.defaults
	now := m.now().Unix()

	res, err := m.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO widget_settings (
			id, widget_enabled, auto_open, api_server_url, welcome_message,
			widget_position, widget_theme, show_user_avatar, user_avatar_url,
			sound_notifications, conversation_logging, connection_timeout,
			max_retries, debug_mode, modified_by, created_at, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		d.WidgetEnabled, d.AutoOpen, d.APIServerURL, d.WelcomeMessage,
		string(d.Position), string(d.Theme), d.ShowUserAvatar, d.UserAvatarURL,
		d.SoundNotifications, d.ConversationLogging, d.ConnectionTimeout,
		d.MaxRetries, d.DebugMode, auth.AdminUser, now, now,
	)
	if err != nil {
		return false, fmt.Errorf("failed to create default widget settings: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if n > 0 {
		m.logger.Info("Created default widget settings")
	}
	return n > 0, nil
}

// ResetDefaults overwrites the record with the default values and drops
// the cached snapshot
func (m *Manager) ResetDefaults(ctx context.Context, actor auth.Principal) error {
	if err := m.upsert(ctx, m.db, m.defaults, actor.User); err != nil {
		return err
	}
	if err := m.cache.Delete(ctx, CacheKey); err != nil {
		return fmt.Errorf("failed to invalidate settings cache: %w", err)
	}

	m.logger.WithField("user", actor.User).Warn("Widget settings reset to defaults")
	return nil
}

func (m *Manager) upsert(ctx context.Context, q queryer, s WidgetSettings, modifiedBy string) error {
	now := m.now().Unix()

	_, err := q.ExecContext(ctx, `
		INSERT INTO widget_settings (
			id, widget_enabled, auto_open, api_server_url, welcome_message,
			widget_position, widget_theme, show_user_avatar, user_avatar_url,
			sound_notifications, conversation_logging, connection_timeout,
			max_retries, debug_mode, modified_by, created_at, updated_at
		) VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			widget_enabled = excluded.widget_enabled,
			auto_open = excluded.auto_open,
			api_server_url = excluded.api_server_url,
			welcome_message = excluded.welcome_message,
			widget_position = excluded.widget_position,
			widget_theme = excluded.widget_theme,
			show_user_avatar = excluded.show_user_avatar,
			user_avatar_url = excluded.user_avatar_url,
			sound_notifications = excluded.sound_notifications,
			conversation_logging = excluded.conversation_logging,
			connection_timeout = excluded.connection_timeout,
			max_retries = excluded.max_retries,
			debug_mode = excluded.debug_mode,
			modified_by = excluded.modified_by,
			updated_at = excluded.updated_at
	`,
		s.WidgetEnabled, s.AutoOpen, s.APIServerURL, s.WelcomeMessage,
		string(s.Position), string(s.Theme), s.ShowUserAvatar, s.UserAvatarURL,
		s.SoundNotifications, s.ConversationLogging, s.ConnectionTimeout,
		s.MaxRetries, s.DebugMode, modifiedBy, now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save widget settings: %w", err)
	}
	return nil
}

func (m *Manager) recordChange(ctx context.Context, s WidgetSettings, actor auth.Principal, created bool) {
	if m.auditor == nil {
		return
	}

	eventType, action := audit.EventTypeSettingsUpdated, audit.ActionUpdate
	if created {
		eventType, action = audit.EventTypeSettingsCreated, audit.ActionCreate
	}

	err := m.auditor.LogEvent(ctx, &audit.AuditEvent{
		UserID:       actor.User,
		EventType:    eventType,
		ResourceType: audit.ResourceTypeWidgetSettings,
		ResourceID:   "1",
		Action:       action,
		Status:       audit.StatusSuccess,
		IPAddress:    auth.ClientIPFromContext(ctx),
		Details: map[string]interface{}{
			"api_server_url":     s.APIServerURL,
			"widget_enabled":     s.WidgetEnabled,
			"connection_timeout": s.ConnectionTimeout,
			"max_retries":        s.MaxRetries,
		},
	})
	if err != nil {
		m.logger.WithError(err).Warn("Failed to record settings audit event")
	}
}
