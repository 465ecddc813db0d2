package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"time"

	"github.com/aidawidget/aidawidget/internal/audit"
	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/bridge"
	"github.com/aidawidget/aidawidget/internal/cache"
	"github.com/aidawidget/aidawidget/internal/config"
	"github.com/aidawidget/aidawidget/internal/db"
	"github.com/aidawidget/aidawidget/internal/metrics"
	"github.com/aidawidget/aidawidget/internal/middleware"
	"github.com/aidawidget/aidawidget/internal/settings"
	"github.com/aidawidget/aidawidget/web"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// Server represents the AIDA widget server
type Server struct {
	config         *config.Config
	httpServer     *http.Server
	db             *sql.DB
	cache          cache.Cache
	settings       *settings.Manager
	cachedSettings *settings.Cached
	bridge         *bridge.Client
	issuer         *auth.Issuer
	auditManager   *audit.Manager
	metricsManager metrics.Manager
	systemMetrics  *metrics.SystemMetricsTracker
	guestLimiter   *auth.GuestRateLimiter
	startTime      time.Time
	now            func() time.Time
}

// New creates a new AIDA widget server
func New(cfg *config.Config) (*Server, error) {
	logger := logrus.StandardLogger()

	database, err := db.Open(cfg.DBPath(), logger)
	if err != nil {
		return nil, err
	}

	settingsCache, err := cache.New(context.Background(), cfg.Cache)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to create settings cache: %w", err)
	}

	metricsManager := metrics.NewManager(cfg.Metrics)

	auditStore := audit.NewSQLiteStore(database, logger)
	auditManager := audit.NewManager(auditStore, logger)

	defaults := settings.Defaults()
	defaults.APIServerURL = cfg.Upstream.DefaultURL

	settingsManager := settings.NewManager(database, settingsCache, logger)
	settingsManager.SetDefaults(defaults)
	settingsManager.SetAuditor(auditManager)

	cachedSettings := settings.NewCached(settingsManager, settingsCache, time.Duration(cfg.Cache.TTLSeconds)*time.Second, logger)
	cachedSettings.SetDefaults(defaults)
	cachedSettings.SetObserver(metricsManager.RecordCacheLookup)

	bridgeClient := bridge.NewClient(cachedSettings, bridge.Options{
		ChatTimeout:  time.Duration(cfg.Upstream.ChatTimeout) * time.Second,
		CheckTimeout: time.Duration(cfg.Upstream.CheckTimeout) * time.Second,
		Recorder:     metricsManager,
	})

	// Writes must outlast the slowest upstream call
	httpServer := &http.Server{
		Addr:         cfg.Listen,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: time.Duration(cfg.Upstream.ChatTimeout)*time.Second + 15*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	server := &Server{
		config:         cfg,
		httpServer:     httpServer,
		db:             database,
		cache:          settingsCache,
		settings:       settingsManager,
		cachedSettings: cachedSettings,
		bridge:         bridgeClient,
		issuer:         auth.NewIssuer(cfg.Auth.JWTSecret),
		auditManager:   auditManager,
		metricsManager: metricsManager,
		systemMetrics:  metrics.NewSystemMetrics(cfg.DataDir),
		guestLimiter:   auth.NewGuestRateLimiter(cfg.Auth.GuestChatPerMinute, time.Minute),
		startTime:      time.Now(),
		now:            time.Now,
	}

	if err := server.setupRoutes(); err != nil {
		server.close()
		return nil, fmt.Errorf("failed to setup routes: %w", err)
	}

	if _, err := settingsManager.Read(context.Background()); errors.Is(err, settings.ErrNotConfigured) {
		logrus.Warn("Widget settings not configured, serving defaults (run 'aidawidget install')")
	}

	return server, nil
}

// Handler returns the fully wrapped HTTP handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start runs the server until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"address":       s.config.Listen,
		"data_dir":      s.config.DataDir,
		"cache_backend": s.config.Cache.Backend,
		"auth_enabled":  s.config.Auth.EnableAuth,
	}).Info("Starting AIDA widget server")

	if s.config.Metrics.Enable {
		go s.systemMetrics.Run(ctx, s.metricsManager, 30*time.Second)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.listen(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return s.shutdown()
	case err := <-errCh:
		s.close()
		return fmt.Errorf("server error: %w", err)
	}
}

func (s *Server) listen() error {
	if s.config.EnableTLS {
		return s.httpServer.ListenAndServeTLS(s.config.CertFile, s.config.KeyFile)
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) shutdown() error {
	logrus.Info("Shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		logrus.WithError(err).Error("Failed to shutdown HTTP server")
	}

	s.close()
	return nil
}

// close releases everything New acquired
func (s *Server) close() {
	if s.guestLimiter != nil {
		s.guestLimiter.Close()
	}
	if err := s.cache.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close settings cache")
	}
	if err := s.db.Close(); err != nil {
		logrus.WithError(err).Error("Failed to close database")
	}
}

func (s *Server) setupRoutes() error {
	router := mux.NewRouter()

	if s.config.Metrics.Enable {
		router.Use(s.metricsManager.Middleware())
	}
	router.Use(auth.Middleware(s.issuer, s.config.Auth.EnableAuth))

	guestLimit := middleware.GuestRateLimit(s.guestLimiter, func(r *http.Request) {
		s.metricsManager.RecordRateLimited(r.URL.Path)
	})

	api := router.PathPrefix("/api/v1").Subrouter()

	// Guest endpoints
	api.HandleFunc("/chat", guestLimit(s.handleChat)).Methods("POST")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Authenticated endpoints
	api.HandleFunc("/widget-settings", auth.RequireUser(s.handleGetWidgetSettings)).Methods("GET", "POST")
	api.HandleFunc("/user-info", auth.RequireUser(s.handleUserInfo)).Methods("GET")
	api.HandleFunc("/sessions/init", auth.RequireUser(s.handleInitSession)).Methods("POST")
	api.HandleFunc("/sessions/status", auth.RequireUser(s.handleSessionStatus)).Methods("GET")
	api.HandleFunc("/sessions/{session_id}/status", auth.RequireUser(s.handleSessionStatus)).Methods("GET")

	// Admin endpoints
	api.HandleFunc("/widget-settings/save", auth.RequireRole(auth.RoleAdmin, s.handleSaveWidgetSettings)).Methods("POST")
	api.HandleFunc("/test-connection", auth.RequireRole(auth.RoleAdmin, s.handleTestConnection)).Methods("POST")
	api.HandleFunc("/audit-logs", auth.RequireRole(auth.RoleAdmin, s.handleListAuditLogs)).Methods("GET")

	if s.config.Metrics.Enable {
		router.Handle(s.config.Metrics.Path, s.metricsManager.GetMetricsHandler()).Methods("GET")
	}

	widgetFS, err := web.GetWidgetFS()
	if err != nil {
		return fmt.Errorf("failed to load widget assets: %w", err)
	}
	router.PathPrefix("/widget/").Handler(http.StripPrefix("/widget/", widgetAssets(widgetFS))).Methods("GET", "HEAD")

	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, "Not found", http.StatusNotFound)
	})

	// CORS wraps the router so preflight requests are answered before
	// method matching rejects them
	var handler http.Handler = router
	handler = middleware.CORS(s.config.CORSOrigins)(handler)
	handler = middleware.Logging()(handler)
	handler = middleware.Tracing(s.config.TrustedProxies)(handler)
	s.httpServer.Handler = handlers.RecoveryHandler(
		handlers.RecoveryLogger(logrus.WithField("component", "http")),
	)(handler)

	return nil
}

// widgetAssets serves the embedded widget script with a short cache lifetime
func widgetAssets(fsys fs.FS) http.Handler {
	files := http.FileServer(http.FS(fsys))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=300")
		files.ServeHTTP(w, r)
	})
}
