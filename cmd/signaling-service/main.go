package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callsignal-backend/internal/database"
	callHandler "callsignal-backend/internal/handler/http/call"
	pushHandler "callsignal-backend/internal/handler/http/push"
	wsHandler "callsignal-backend/internal/handler/ws"
	"callsignal-backend/internal/middleware"
	cassandraRepo "callsignal-backend/internal/repository/cassandra"
	"callsignal-backend/internal/repository/cockroach"
	"callsignal-backend/internal/repository/memory"
	redisRepo "callsignal-backend/internal/repository/redis"
	callService "callsignal-backend/internal/service/call"
	"callsignal-backend/internal/service/notification"
	storageService "callsignal-backend/internal/service/storage"
	"callsignal-backend/pkg/config"
	"callsignal-backend/pkg/constants"
	"callsignal-backend/pkg/jwt"
	"callsignal-backend/pkg/logger"
	"callsignal-backend/pkg/metrics"
	"callsignal-backend/pkg/push"
	"callsignal-backend/pkg/resilience"
)

const asyncSinkQueue = 1024

func main() {
	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// 1. Configuration and logging
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(&logger.Config{
		Level:    cfg.Log.Level,
		Format:   cfg.Log.Format,
		Output:   cfg.Log.Output,
		FilePath: cfg.Log.FilePath,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if cfg.JWT.Secret == "" {
		logger.Fatal("JWT_SECRET environment variable is required")
	}
	jwtManager := jwt.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Audience, cfg.JWT.AccessTokenExpiry)

	appMetrics := metrics.NewMetrics(cfg.Server.ServiceName)

	// 2. Call store and user directory
	var (
		callRepo  callService.CallRepository
		directory callService.UserDirectory
	)
	switch cfg.Store.Backend {
	case config.StoreMemory:
		users := memory.NewUserDirectory()
		if cfg.Store.DirectorySeedFile != "" {
			users, err = memory.LoadUserDirectory(cfg.Store.DirectorySeedFile)
			if err != nil {
				logger.Fatal("Failed to load user directory", zap.Error(err))
			}
		}
		callRepo = memory.NewCallRepository()
		directory = users
		logger.Info("Using in-memory call store")

	default:
		pool, err := database.ConnectCockroachWithRetry(ctx, cfg.Database)
		if err != nil {
			logger.Fatal("Failed to connect to CockroachDB", zap.Error(err))
		}
		defer pool.Close()

		if err := cockroach.EnsureSchema(ctx, pool); err != nil {
			logger.Fatal("Failed to apply call schema", zap.Error(err))
		}
		callRepo = cockroach.NewCallRepository(pool)
		directory = cockroach.NewUserRepository(pool)
		logger.Info("Connected to CockroachDB")
	}

	// 3. Redis with degraded mode support
	var redisDB *database.RedisClient
	if cfg.Redis.Enabled {
		redisDB = database.NewRedisDB(cfg.Redis, appMetrics.GetRegistry())
		defer redisDB.Close()

		go redisDB.StartHealthCheck(ctx, 10*time.Second)
		directory = redisRepo.NewCachedDirectory(directory, redisDB, cfg.Redis.CacheTTL)
		logger.Info("Redis enabled", zap.Bool("degraded", redisDB.IsDegraded()))
	} else if cfg.Store.Backend != config.StoreMemory {
		localDirectory := memory.NewCachedDirectory(directory, cfg.Redis.CacheTTL, constants.DirectoryCacheSize)
		defer localDirectory.Close()
		directory = localDirectory
	}

	// 4. Event sinks
	eventsHub := wsHandler.NewEventsHub(redisDB, cfg.Server.CORSOrigins, appMetrics)
	defer eventsHub.Close()

	var (
		sinks      []callService.NamedSink
		asyncSinks []*callService.AsyncSink
	)
	addAsync := func(name string, sink callService.EventSink) {
		async := callService.NewAsyncSink(name, sink, asyncSinkQueue, constants.DefaultTimeout)
		asyncSinks = append(asyncSinks, async)
		sinks = append(sinks, callService.NamedSink{Name: name, Sink: async})
	}

	if redisDB != nil {
		sinks = append(sinks, callService.NamedSink{Name: "redis", Sink: redisRepo.NewEventPublisher(redisDB)})
	} else {
		sinks = append(sinks, callService.NamedSink{Name: "websocket", Sink: eventsHub})
	}

	var pushTokens push.TokenRepository = memory.NewPushTokenRepository()
	if redisDB != nil {
		pushTokens = redisRepo.NewPushTokenRepository(redisDB)
	}
	pushProvider, err := push.NewProvider(ctx, cfg.Push)
	if err != nil {
		logger.Fatal("Failed to initialize push provider", zap.Error(err))
	}
	pushSvc := push.NewService(pushProvider, pushTokens, appMetrics)
	addAsync("push", notification.NewPushSink(pushSvc, directory))

	if cfg.Cassandra.Enabled {
		cassandraDB, err := database.NewCassandraDB(cfg.Cassandra)
		if err != nil {
			logger.Fatal("Failed to connect to Cassandra", zap.Error(err))
		}
		defer cassandraDB.Close()

		journal := cassandraRepo.NewCallEventRepository(cassandraDB.Session)
		if err := journal.EnsureSchema(ctx); err != nil {
			logger.Fatal("Failed to apply call event schema", zap.Error(err))
		}
		addAsync("journal", journal)
		logger.Info("Call event journal enabled", zap.Strings("hosts", cfg.Cassandra.Hosts))
	}

	if cfg.MinIO.Enabled {
		minioClient, err := storageService.NewMinioClient(cfg.MinIO)
		if err != nil {
			logger.Fatal("Failed to create MinIO client", zap.Error(err))
		}
		breaker := resilience.NewCircuitBreaker("minio", resilience.DefaultConfig(), appMetrics.GetRegistry())
		archive := storageService.NewArchive(minioClient, cfg.MinIO.Bucket, callRepo, breaker)
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn("Call archive bucket unavailable", zap.Error(err))
		}
		addAsync("archive", archive)
		logger.Info("Call archive enabled", zap.String("bucket", cfg.MinIO.Bucket))
	}

	// 5. Call service
	callSvc := callService.NewService(
		callRepo,
		directory,
		callService.NewMultiSink(appMetrics, sinks...),
		appMetrics,
		callService.Config{
			MaxPayloadBytes:  cfg.Signaling.MaxPayloadBytes,
			LifecycleRetries: cfg.Signaling.LifecycleRetries,
			HistoryLimit:     cfg.Signaling.HistoryLimit,
			HistoryMaxLimit:  cfg.Signaling.HistoryMaxLimit,
		},
	)

	// 6. Router
	if cfg.Server.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	router.Use(middleware.Recovery())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CORSMiddleware(cfg.Server.CORSOrigins))
	router.Use(middleware.NewPrometheusMiddleware(appMetrics).Handler())

	router.GET("/health", func(c *gin.Context) {
		status := "healthy"
		redisStatus := "disabled"
		if redisDB != nil {
			redisStatus = "ok"
			if redisDB.IsDegraded() {
				status = "degraded"
				redisStatus = "degraded"
			}
		}
		c.JSON(http.StatusOK, gin.H{
			"status":  status,
			"service": cfg.Server.ServiceName,
			"redis":   redisStatus,
			"time":    time.Now().UTC(),
		})
	})
	router.GET("/metrics", middleware.MetricsHandler(appMetrics))

	var (
		revocation middleware.RevocationChecker
		counter    middleware.WindowCounter
	)
	if redisDB != nil {
		revocation = redisRepo.NewTokenBlacklist(redisDB)
		counter = redisDB
	}
	rateLimiter := middleware.NewRateLimiter(counter, cfg.Signaling.RateLimit, cfg.Signaling.RateWindow, appMetrics)

	v1 := router.Group("/v1")
	v1.Use(middleware.AuthMiddleware(jwtManager, revocation))
	v1.Use(rateLimiter.Middleware())
	{
		calls := v1.Group("/calls")
		calls.GET("/ws/events", eventsHub.ServeWS)

		api := calls.Group("")
		api.Use(middleware.Timeout(cfg.Server.RequestTimeout))
		callHandler.NewHandler(callSvc).RegisterRoutes(api)

		v1.POST("/push/tokens", pushHandler.NewHandler(pushSvc).RegisterToken)
	}

	// 7. Start server in goroutine
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("Signaling service starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("store", cfg.Store.Backend),
			zap.String("environment", cfg.Server.Environment))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// 8. Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = constants.GracefulShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	for _, async := range asyncSinks {
		async.Close()
	}
	stop()

	logger.Info("Server exited")
}
