package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/ironpulse/gymgate/internal/access"
	"github.com/ironpulse/gymgate/internal/auth"
	"github.com/ironpulse/gymgate/internal/config"
	"github.com/ironpulse/gymgate/internal/database"
	"github.com/ironpulse/gymgate/internal/devicehub"
	"github.com/ironpulse/gymgate/internal/directory"
	"github.com/ironpulse/gymgate/internal/gate"
	"github.com/ironpulse/gymgate/internal/logging"
	"github.com/ironpulse/gymgate/internal/mirror"
	"github.com/ironpulse/gymgate/internal/server"
)

var (
	cfgFile string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "gymgate-api",
		Short: "Gym access-control and device-sync service",
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
	cmd.PersistentFlags().String("database-path", defaults.GetString("database.path"), "SQLite database path")
	cmd.PersistentFlags().String("redis-address", defaults.GetString("redis.address"), "Redis mirror address")
	cmd.PersistentFlags().Int("redis-db", defaults.GetInt("redis.db"), "Redis database number")
	cmd.PersistentFlags().Int("device-liveness-minutes", defaults.GetInt("device.liveness_minutes"), "Device heartbeat liveness window in minutes")
	cmd.PersistentFlags().Int("store-timeout-seconds", defaults.GetInt("store.timeout_seconds"), "Per-operation mirror store timeout in seconds")
	cmd.PersistentFlags().Int("token-ttl-minutes", defaults.GetInt("token.ttl_minutes"), "API token TTL in minutes")
	cmd.PersistentFlags().Int("event-log-cap", defaults.GetInt("access.event_log_cap"), "In-memory access event log capacity")
	cmd.PersistentFlags().String("log-level", defaults.GetString("log.level"), "Log level (debug, info, warn, error)")
	cmd.PersistentFlags().String("signing-secret", "", "API signing secret (overrides env)")

	bindFlag(cmd, "http.address", "http-address")
	bindFlag(cmd, "database.path", "database-path")
	bindFlag(cmd, "redis.address", "redis-address")
	bindFlag(cmd, "redis.db", "redis-db")
	bindFlag(cmd, "device.liveness_minutes", "device-liveness-minutes")
	bindFlag(cmd, "store.timeout_seconds", "store-timeout-seconds")
	bindFlag(cmd, "token.ttl_minutes", "token-ttl-minutes")
	bindFlag(cmd, "access.event_log_cap", "event-log-cap")
	bindFlag(cmd, "log.level", "log-level")
	bindFlag(cmd, "auth.signing_secret", "signing-secret")
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

	redisClient := redis.NewClient(&redis.Options{
		Addr: appConfig.RedisAddress,
		DB:   appConfig.RedisDB,
	})
	defer redisClient.Close()

	primaryStore, err := mirror.NewSQLStore(db, time.Now)
	if err != nil {
		return err
	}
	secondaryStore, err := mirror.NewRedisStore(redisClient, time.Now)
	if err != nil {
		return err
	}
	scanStore, err := mirror.NewScanLogStore(db)
	if err != nil {
		return err
	}
	synchronizer, err := mirror.NewSynchronizer(mirror.SynchronizerConfig{
		Primary:    primaryStore,
		Secondary:  secondaryStore,
		Scans:      scanStore,
		IDProvider: mirror.NewUUIDProvider(),
		Timeout:    appConfig.StoreTimeout,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	directoryService, err := directory.NewService(directory.ServiceConfig{
		Database: db,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	engine, err := access.NewEngine(access.EngineConfig{
		Directory: directoryService,
		Scans:     synchronizer,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	registry := devicehub.NewRegistry(devicehub.RegistryConfig{
		Liveness: appConfig.DeviceLiveness,
		Logger:   logger,
	})

	gateController, err := gate.NewController(gate.ControllerConfig{
		Engine:    engine,
		Directory: directoryService,
		Sync:      synchronizer,
		Hub:       registry,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	accessService, err := access.NewService(access.ServiceConfig{
		Engine: engine,
		Sync:   synchronizer,
		Gate:   gateController,
		Hub:    registry,
		Events: access.NewEventLog(appConfig.EventLogCap),
		Logger: logger,
	})
	if err != nil {
		return err
	}

	tokenManager := auth.NewTokenManager(auth.TokenManagerConfig{
		SigningSecret: []byte(appConfig.SigningSecret),
		TokenTTL:      appConfig.TokenTTL,
	})

	handler, err := server.NewHTTPHandler(server.Dependencies{
		TokenManager:  tokenManager,
		AccessService: accessService,
		Gate:          gateController,
		Registry:      registry,
		Directory:     directoryService,
		Logger:        logger,
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
