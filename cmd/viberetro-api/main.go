package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/RuBiCK/viberetro-sub000/internal/board"
	"github.com/RuBiCK/viberetro-sub000/internal/cluster"
	"github.com/RuBiCK/viberetro-sub000/internal/config"
	"github.com/RuBiCK/viberetro-sub000/internal/database"
	"github.com/RuBiCK/viberetro-sub000/internal/logging"
	"github.com/RuBiCK/viberetro-sub000/internal/metrics"
	"github.com/RuBiCK/viberetro-sub000/internal/server"
	"github.com/RuBiCK/viberetro-sub000/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "viberetro-api",
		Short: "Realtime retrospective board backend service",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig()
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}

	setupFlags(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFlags(cmd *cobra.Command) {
	config.ApplyDefaults(viper.GetViper())
	defaults := config.NewViper()
	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	cmd.PersistentFlags().String("http-address", defaults.GetString("http.address"), "HTTP listen address")
	cmd.PersistentFlags().String("public-base-url", defaults.GetString("http.public_base_url"), "Base URL used in session links")
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().Int("retention-hours", defaults.GetInt("session.retention_hours"), "Idle hours before a session is purged")
	cmd.PersistentFlags().Int("purge-interval-minutes", defaults.GetInt("session.purge_interval_minutes"), "Minutes between purge sweeps")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "http.public_base_url", "public-base-url")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "session.retention_hours", "retention-hours")
	bindFlag(cmd, "session.purge_interval_minutes", "purge-interval-minutes")
	bindFlag(cmd, "log.level", "log-level")
}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if err := viper.BindPFlag(key, cmd.PersistentFlags().Lookup(flag)); err != nil {
		panic(err)
	}
}

func initConfig() error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFound viper.ConfigFileNotFoundError
		if cfgFile != "" && errors.As(err, &configNotFound) {
			return err
		}
	}

	return nil
}

func runServer(ctx context.Context) error {
	appConfig, err := config.Load(viper.GetViper())
	if err != nil {
		return err
	}

	logger, err := logging.NewLogger(appConfig.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	db, err := database.OpenSQLite(appConfig.DatabasePath, logger)
	if err != nil {
		return err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	defer sqlDB.Close()

	store, err := board.NewStore(db)
	if err != nil {
		return err
	}
	idProvider := board.NewUUIDProvider()

	engine, err := cluster.NewEngine(cluster.EngineConfig{
		Store:      store,
		Clock:      time.Now,
		IDProvider: idProvider,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	hub := server.NewHub(logger, collector)

	sessions, err := session.NewRegistry(session.RegistryConfig{
		Store:      store,
		Engine:     engine,
		Clock:      time.Now,
		IDProvider: idProvider,
		Publisher:  hub,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	handler, err := server.NewHTTPHandler(server.Dependencies{
		Store:         store,
		Registry:      sessions,
		Hub:           hub,
		IDProvider:    idProvider,
		Clock:         time.Now,
		Logger:        logger,
		Metrics:       collector,
		Gatherer:      registry,
		PublicBaseURL: appConfig.PublicBaseURL,
	})
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:    appConfig.HTTPAddress,
		Handler: handler,
	}

	signalCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go runPurgeLoop(signalCtx, sessions, collector, logger, appConfig.SessionRetention, appConfig.PurgeInterval)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("address", appConfig.HTTPAddress))
		err := httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-signalCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// runPurgeLoop sweeps idle sessions on a fixed interval until shutdown.
func runPurgeLoop(ctx context.Context, sessions *session.Registry, collector *metrics.Collector, logger *zap.Logger, retention, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().Add(-retention).UnixMilli()
			count, err := sessions.PurgeOlderThan(ctx, cutoff)
			if err != nil {
				logger.Error("session purge failed", zap.Error(err))
				continue
			}
			if count > 0 {
				collector.SessionsPurged(count)
			}
		}
	}
}
