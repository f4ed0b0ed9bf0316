package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"medisos/internal/config"
	"medisos/internal/handlers/realtime"
	handlers "medisos/internal/handlers/shared"
	"medisos/internal/metrics"
	"medisos/internal/repositories/interfaces"
	"medisos/internal/repositories/memory"
	"medisos/internal/repositories/mongodb"
	"medisos/internal/services"
	"medisos/pkg/cache"
	"medisos/pkg/database"
	"medisos/pkg/websocket"
	"medisos/routes"

	"github.com/gin-gonic/gin"
)

const shutdownTimeout = 15 * time.Second

type repositories struct {
	facilities interfaces.FacilityRepository
	patients   interfaces.PatientRepository
	requests   interfaces.SOSRequestRepository
	audit      interfaces.AuditLogRepository
}

func runServe(configPath string) error {
	cfg, log, err := bootstrap(configPath)
	if err != nil {
		return err
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	m := metrics.New()
	healthChecks := map[string]routes.HealthCheck{}

	var redisCache *cache.RedisCache
	if cfg.Redis.Enabled || cfg.Dispatch.LocationStore == config.StoreRedis {
		redisCache, err = connectRedis(cfg.Redis)
		if err != nil {
			return err
		}
		defer redisCache.Close()
		healthChecks["redis"] = pingWithTimeout(redisCache.Ping)
	}

	var repos *repositories
	switch cfg.Dispatch.Storage {
	case config.StoreMongoDB:
		mongo, err := connectMongo(cfg.Database)
		if err != nil {
			return err
		}
		defer mongo.Close()
		healthChecks["mongodb"] = pingWithTimeout(mongo.Ping)

		migrateCtx, cancel := context.WithTimeout(context.Background(), time.Minute)
		err = database.NewMigrator(mongo.Database, log).Up(migrateCtx)
		cancel()
		if err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}

		var repoCache mongodb.CacheService
		if redisCache != nil {
			repoCache = redisCache
		}
		repos = &repositories{
			facilities: mongodb.NewFacilityRepository(mongo.Database, repoCache, cfg.Redis.FacilityTTL),
			patients:   mongodb.NewPatientRepository(mongo.Database),
			requests:   mongodb.NewSOSRequestRepository(mongo.Database, repoCache),
			audit:      mongodb.NewAuditLogRepository(mongo.Database),
		}
	default:
		log.Warn("Using in-memory storage; SOS records are lost on restart")
		repos = &repositories{
			facilities: memory.NewFacilityRepository(),
			patients:   memory.NewPatientRepository(),
			requests:   memory.NewSOSRequestRepository(),
			audit:      memory.NewAuditLogRepository(),
		}
	}

	var locations services.LocationStore
	if cfg.Dispatch.LocationStore == config.StoreRedis {
		locations = services.NewRedisLocationStore(redisCache, cfg.Dispatch.LocationTTL)
	} else {
		locations = services.NewMemoryLocationStore()
	}

	registry := services.NewConnectionRegistry(m)
	dispatch := services.NewDispatchService(
		cfg.Dispatch,
		registry,
		locations,
		repos.facilities,
		repos.patients,
		repos.requests,
		repos.audit,
		m,
		log.WithField("component", "dispatch"),
	)

	var scheduler *services.ExpiryScheduler
	if cfg.Dispatch.AutoExpireEnabled {
		scheduler, err = services.NewExpiryScheduler(dispatch, cfg.Dispatch.ExpirySweepSchedule, m, log.WithField("component", "expiry"))
		if err != nil {
			return err
		}
		scheduler.Start()
	}

	socketHandler := realtime.NewSocketHandler(dispatch, registry, cfg.Dispatch.OperationTimeout, log.WithField("component", "realtime"))
	wsHandler := websocket.NewHandler(socketHandler, &websocket.Config{
		ReadBufferSize:  cfg.WebSocket.ReadBufferSize,
		WriteBufferSize: cfg.WebSocket.WriteBufferSize,
		SendBufferSize:  cfg.WebSocket.SendBufferSize,
		MaxMessageSize:  cfg.WebSocket.MaxMessageSize,
		PingInterval:    cfg.WebSocket.PingInterval,
		PongTimeout:     cfg.WebSocket.PongTimeout,
		WriteTimeout:    cfg.WebSocket.WriteTimeout,
		PushTimeout:     cfg.Dispatch.PushTimeout,
		AllowedOrigins:  cfg.WebSocket.AllowedOrigins,
	}, log.WithField("component", "websocket"))

	router := routes.NewRouter(&routes.RouterDeps{
		Config:       cfg,
		Logger:       log,
		Metrics:      m,
		SOSHandler:   handlers.NewSOSHandler(dispatch, log.WithField("component", "rest")),
		WSHandler:    wsHandler,
		HealthChecks: healthChecks,
	})

	server := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.App.Host, cfg.App.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.WithField("addr", server.Addr).Info("Starting server")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-serverErr:
		log.WithError(err).Error("Server failed")
	case sig := <-quit:
		log.WithField("signal", sig.String()).Info("Shutting down server")
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if scheduler != nil {
		scheduler.Stop(ctx)
	}
	if shutdownErr := server.Shutdown(ctx); shutdownErr != nil {
		log.WithError(shutdownErr).Error("Server shutdown failed")
	}
	wsHandler.GetHub().CloseAll()

	return err
}

func connectRedis(cfg *config.RedisConfig) (*cache.RedisCache, error) {
	redisCache, err := cache.NewRedisCache(&cache.RedisConfig{
		Host:         cfg.Host,
		Port:         cfg.Port,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return redisCache, nil
}

func connectMongo(cfg *config.DatabaseConfig) (*database.MongoDB, error) {
	mongo, err := database.NewMongoDB(&database.DatabaseConfig{
		URI:            cfg.URI,
		Database:       cfg.Database,
		MaxPoolSize:    cfg.MaxPoolSize,
		MinPoolSize:    cfg.MinPoolSize,
		ConnectTimeout: cfg.ConnectTimeout,
		SocketTimeout:  cfg.SocketTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to mongodb: %w", err)
	}
	return mongo, nil
}

func pingWithTimeout(ping func(ctx context.Context) error) routes.HealthCheck {
	return func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return ping(ctx)
	}
}
