package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aidawidget/aidawidget/internal/auth"
	"github.com/aidawidget/aidawidget/internal/config"
	"github.com/aidawidget/aidawidget/internal/ops"
	"github.com/aidawidget/aidawidget/internal/server"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var errChecksFailed = errors.New("diagnostic checks failed")

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func newRootCmd() *cobra.Command {
	var rootCmd = &cobra.Command{
		Use:   "aidawidget",
		Short: "AIDA Widget - chat widget settings and AIDA server bridge",
		Long: `aidawidget stores the configuration of the embeddable AIDA chat widget
and forwards chat traffic from the browser to the AIDA server.`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		RunE:          runServer,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Add configuration flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "Configuration file path")
	rootCmd.PersistentFlags().StringP("data-dir", "d", "./data", "Data directory path")
	rootCmd.PersistentFlags().StringP("listen", "l", ":8000", "Listen address")
	rootCmd.PersistentFlags().StringP("log-level", "", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringP("site-url", "", "http://localhost:8000", "Public URL of the site embedding the widget")
	rootCmd.PersistentFlags().BoolP("enable-tls", "", false, "Enable TLS")
	rootCmd.PersistentFlags().StringP("cert-file", "", "", "TLS certificate file")
	rootCmd.PersistentFlags().StringP("key-file", "", "", "TLS key file")

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP server (default)",
			RunE:  runServer,
		},
		&cobra.Command{
			Use:   "install",
			Short: "Create the database and default widget settings",
			RunE:  withRuntime(runInstall),
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply schema migrations and ensure default settings exist",
			RunE:  withRuntime(runMigrate),
		},
		&cobra.Command{
			Use:   "uninstall",
			Short: "Clear the cached widget settings",
			RunE:  withRuntime(runUninstall),
		},
		&cobra.Command{
			Use:   "diagnose",
			Short: "Check the installation and the AIDA server",
			RunE:  withRuntime(runDiagnose),
		},
		&cobra.Command{
			Use:   "fix",
			Short: "Repair the installation, then diagnose it again",
			RunE:  withRuntime(runFix),
		},
		newPurgeAuditCmd(),
		newTokenCmd(),
	)

	return rootCmd
}

func runServer(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(cmd)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logging
	setupLogging(cfg.LogLevel)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"date":    date,
	}).Info("Starting AIDA widget")

	// Create server
	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Start server
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle graceful shutdown
	go func() {
		c := make(chan os.Signal, 1)
		signal.Notify(c, os.Interrupt, syscall.SIGTERM)
		<-c
		logrus.Info("Received shutdown signal")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	logrus.Info("AIDA widget stopped")
	return nil
}

// withRuntime loads configuration and opens the stores for a maintenance
// command
func withRuntime(run func(cmd *cobra.Command, rt *ops.Runtime) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cmd)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}
		setupLogging(cfg.LogLevel)

		rt, err := ops.Open(cmd.Context(), cfg, logrus.StandardLogger())
		if err != nil {
			return err
		}
		defer rt.Close()

		return run(cmd, rt)
	}
}

func runInstall(cmd *cobra.Command, rt *ops.Runtime) error {
	created, err := rt.Install(cmd.Context())
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintln(cmd.OutOrStdout(), "AIDA widget installed with default settings")
	} else {
		fmt.Fprintln(cmd.OutOrStdout(), "AIDA widget already installed, settings kept")
	}
	return nil
}

func runMigrate(cmd *cobra.Command, rt *ops.Runtime) error {
	version, err := rt.Migrate(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Schema at version %d\n", version)
	return nil
}

func runUninstall(cmd *cobra.Command, rt *ops.Runtime) error {
	if err := rt.Uninstall(cmd.Context()); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Widget settings cache cleared")
	return nil
}

func runDiagnose(cmd *cobra.Command, rt *ops.Runtime) error {
	rep := rt.Diagnose(cmd.Context())
	rep.Print(cmd.OutOrStdout())
	if !rep.Healthy() {
		return errChecksFailed
	}
	return nil
}

func runFix(cmd *cobra.Command, rt *ops.Runtime) error {
	rep, err := rt.Fix(cmd.Context())
	if err != nil {
		return err
	}
	rep.Print(cmd.OutOrStdout())
	if !rep.Healthy() {
		return errChecksFailed
	}
	return nil
}

func newPurgeAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "purge-audit",
		Short: "Delete audit log entries older than the retention period",
	}
	days := cmd.Flags().Int("older-than-days", 90, "Delete entries older than this many days")
	cmd.RunE = withRuntime(func(cmd *cobra.Command, rt *ops.Runtime) error {
		deleted, err := rt.PurgeAudit(cmd.Context(), *days)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Purged %d audit log entries\n", deleted)
		return nil
	})
	return cmd
}

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a signed bearer token for a widget user",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cmd)
			if err != nil {
				return fmt.Errorf("failed to load configuration: %w", err)
			}
			setupLogging(cfg.LogLevel)
			if !cfg.Auth.EnableAuth {
				return fmt.Errorf("authentication is disabled, set auth.enable_auth to issue tokens")
			}

			user, _ := cmd.Flags().GetString("user")
			fullName, _ := cmd.Flags().GetString("full-name")
			image, _ := cmd.Flags().GetString("user-image")
			roles, _ := cmd.Flags().GetStringSlice("role")
			ttl, _ := cmd.Flags().GetDuration("ttl")

			if user == "" {
				return fmt.Errorf("--user is required")
			}

			token, err := auth.NewIssuer(cfg.Auth.JWTSecret).Issue(auth.Principal{
				User:      user,
				FullName:  fullName,
				UserImage: image,
				Roles:     roles,
			}, ttl)
			if err != nil {
				return fmt.Errorf("failed to issue token: %w", err)
			}

			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}

	cmd.Flags().String("user", "", "User the token is issued for")
	cmd.Flags().String("full-name", "", "Display name")
	cmd.Flags().String("user-image", "", "Avatar URL")
	cmd.Flags().StringSlice("role", []string{auth.RoleWidgetUse}, "Roles to grant (repeatable)")
	cmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	return cmd
}

func setupLogging(level string) {
	logrus.SetFormatter(&logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
	})

	switch level {
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "info":
		logrus.SetLevel(logrus.InfoLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}
}
