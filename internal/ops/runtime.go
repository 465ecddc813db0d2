package ops

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/aidawidget/aidawidget/internal/audit"
	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/bridge"
	"github.com/aidawidget/aidawidget/internal/cache"
	"github.com/aidawidget/aidawidget/internal/config"
	"github.com/aidawidget/aidawidget/internal/db"
	"github.com/aidawidget/aidawidget/internal/db/migrations"
	"github.com/aidawidget/aidawidget/internal/metrics"
	"github.com/aidawidget/aidawidget/internal/settings"
	"github.com/sirupsen/logrus"
)

// Runtime bundles the stores the maintenance commands operate on
type Runtime struct {
	config   *config.Config
	logger   *logrus.Logger
	log      *logrus.Entry
	db       *sql.DB
	cache    cache.Cache
	settings *settings.Manager
	cached   *settings.Cached
	audit    *audit.Manager
	bridge   *bridge.Client
	system   *metrics.SystemMetricsTracker
}

// Open connects to the database (applying migrations) and the cache
func Open(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*Runtime, error) {
	database, err := db.Open(cfg.DBPath(), logger)
	if err != nil {
		return nil, err
	}

	c, err := cache.New(ctx, cfg.Cache)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create settings cache: %w", err)
	}

	defaults := settings.Defaults()
	defaults.APIServerURL = cfg.Upstream.DefaultURL

	auditManager := audit.NewManager(audit.NewSQLiteStore(database, logger), logger)

	sm := settings.NewManager(database, c, logger)
	sm.SetDefaults(defaults)
	sm.SetAuditor(auditManager)

	cached := settings.NewCached(sm, c, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)
	cached.SetDefaults(defaults)

	return &Runtime{
		config:   cfg,
		logger:   logger,
		log:      logger.WithField("component", "ops"),
		db:       database,
		cache:    c,
		settings: sm,
		cached:   cached,
		audit:    auditManager,
		bridge: bridge.NewClient(cached, bridge.Options{
			ChatTimeout:  time.Duration(cfg.Upstream.ChatTimeout) * time.Second,
			CheckTimeout: time.Duration(cfg.Upstream.CheckTimeout) * time.Second,
		}),
		system: metrics.NewSystemMetrics(cfg.DataDir),
	}, nil
}

// Close releases the cache and database
func (r *Runtime) Close() error {
	cerr := r.cache.Close()
	if err := r.db.Close(); err != nil {
		return err
	}
	return cerr
}

// Install prepares a fresh data directory: schema plus default settings.
// It reports whether the settings record was created.
func (r *Runtime) Install(ctx context.Context) (bool, error) {
	created, err := r.settings.EnsureDefaults(ctx)
	if err != nil {
		return false, err
	}

	r.log.WithField("created", created).Info("AIDA widget installed")
	return created, nil
}

// Migrate brings the schema to the latest version and then makes sure the
// settings record exists. It returns the resulting schema version.
func (r *Runtime) Migrate(ctx context.Context) (int, error) {
	mm := migrations.NewMigrationManager(r.db, r.logger)
	if err := mm.Migrate(); err != nil {
		return 0, fmt.Errorf("failed to migrate database: %w", err)
	}

	version, err := mm.GetCurrentVersion()
	if err != nil {
		return 0, err
	}

	if _, err := r.settings.EnsureDefaults(ctx); err != nil {
		return version, err
	}

	r.log.WithField("schema_version", version).Info("Migration complete")
	return version, nil
}

// Uninstall drops the cached settings snapshot. The stored record is kept
// so a reinstall picks up the previous configuration.
func (r *Runtime) Uninstall(ctx context.Context) error {
	if err := r.cached.Invalidate(ctx); err != nil {
		return fmt.Errorf("failed to clear settings cache: %w", err)
	}

	err := r.audit.LogEvent(ctx, &audit.AuditEvent{
		UserID:       auth.AdminUser,
		EventType:    audit.EventTypeCacheCleared,
		ResourceType: audit.ResourceTypeSystem,
		ResourceID:   settings.CacheKey,
		Action:       audit.ActionDelete,
		Status:       audit.StatusSuccess,
	})
	if err != nil {
		r.log.WithError(err).Warn("Failed to record cache clear audit event")
	}

	r.log.Info("AIDA widget uninstalled, settings cache cleared")
	return nil
}

// PurgeAudit deletes audit entries older than the given number of days
// and returns how many were removed.
func (r *Runtime) PurgeAudit(ctx context.Context, olderThanDays int) (int, error) {
	if olderThanDays <= 0 {
		return 0, fmt.Errorf("retention must be at least one day, got %d", olderThanDays)
	}
	return r.audit.PurgeLogs(ctx, olderThanDays)
}

// Fix repairs what Diagnose can detect: it migrates, recreates or resets
// the settings record, clears the cache and re-runs the diagnosis.
func (r *Runtime) Fix(ctx context.Context) (*Report, error) {
	if _, err := r.Migrate(ctx); err != nil {
		return nil, err
	}

	current, err := r.settings.Read(ctx)
	if err != nil {
		return nil, err
	}
	if verr := current.Validate(); verr != nil {
		r.log.WithError(verr).Warn("Stored widget settings are invalid, resetting")
		if err := r.settings.ResetDefaults(ctx, auth.Administrator()); err != nil {
			return nil, err
		}
	}

	if err := r.cached.Invalidate(ctx); err != nil {
		return nil, fmt.Errorf("failed to clear settings cache: %w", err)
	}

	return r.Diagnose(ctx), nil
}
