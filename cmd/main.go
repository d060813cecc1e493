package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"gorm.io/gorm"

	"approval-matrix-service/internal/cache"
	"approval-matrix-service/internal/config"
	"approval-matrix-service/internal/directory"
	"approval-matrix-service/internal/events"
	"approval-matrix-service/internal/handlers"
	"approval-matrix-service/internal/jobs"
	"approval-matrix-service/internal/lock"
	"approval-matrix-service/internal/middleware"
	"approval-matrix-service/internal/models"
	"approval-matrix-service/internal/repository"
	"approval-matrix-service/internal/seeders"
	"approval-matrix-service/internal/services"
)

// @title Approval Matrix API
// @version 1.0.0
// @description Multi-level approval rules and approval session tracking for back-office transactions

// @host localhost:8099
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load environment variables
	if err := godotenv.Load(); err != nil {
		logger.Info("No .env file found, using system environment variables")
	}

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	// Amounts go out as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	readiness := map[string]func(ctx context.Context) error{}

	// Storage
	var (
		store     *repository.Store
		staffRepo repository.StaffRoleRepository
	)
	switch cfg.StorageDriver {
	case config.DriverMemory:
		store = repository.NewMemoryStore().Store()
		logger.Warn("Using in-memory storage; data is lost on restart")
	default:
		db := initPostgres(cfg, logger)
		store = repository.NewGormStore(db)
		readiness["database"] = func(ctx context.Context) error {
			sqlDB, err := db.DB()
			if err != nil {
				return err
			}
			return sqlDB.PingContext(ctx)
		}
	}
	staffRepo = store.Staff

	storageOpts := services.StorageOptions{
		Timeout:     cfg.StorageTimeout,
		ReadRetries: cfg.ReadRetries,
	}

	// Redis rule cache and distributed session lock (optional)
	var (
		ruleCache *cache.RuleCache
		locker    lock.Locker = lock.NewLocalLocker()
	)
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Fatalf("Invalid REDIS_URL: %v", err)
		}
		redisClient := redis.NewClient(opts)
		defer redisClient.Close()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("Redis not reachable at startup: %v. Rule cache will retry on use.", err)
		}
		cancel()

		ruleCache = cache.NewRuleCache(redisClient, cfg.RuleCacheTTL)
		locker = lock.NewRedisLocker(redislock.New(redisClient), cfg.StorageTimeout)
		readiness["redis"] = func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}
		logger.Info("Redis rule cache and session lock enabled")
	} else {
		logger.Info("REDIS_URL not configured, using in-process session lock without rule cache")
	}

	// Event publisher (optional - service works without NATS)
	var (
		publisher *events.Publisher
		emitter   events.Emitter
	)
	if cfg.NATSURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		p, err := events.NewPublisher(ctx, cfg.NATSURL, logger)
		cancel()
		if err != nil {
			logger.Warnf("Failed to initialize event publisher: %v. Events will not be published.", err)
		} else {
			publisher = p
			emitter = p
			logger.Info("Event publisher initialized")
		}
	} else {
		logger.Info("NATS_URL not configured, event publishing disabled")
	}

	// Role directory
	var roles directory.RoleDirectory = directory.NewStoreDirectory(staffRepo)
	if cfg.StaffServiceURL != "" {
		roles = directory.NewHTTPDirectory(cfg.StaffServiceURL, cfg.StaffServiceRPS, logger)
		logger.WithField("url", cfg.StaffServiceURL).Info("Using staff-service role directory")
	}

	// Initialize services
	ruleService := services.NewRuleService(store, ruleCache, emitter, storageOpts, logger)
	matcher := services.NewMatcher(ruleService, logger)
	sessionService := services.NewSessionService(store, matcher, roles, locker, emitter, storageOpts, logger)

	if cfg.SeedDefaultRules {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		if _, err := seeders.SeedDefaultRules(ctx, store.Rules, ruleService, logger); err != nil {
			logger.Errorf("Failed to seed default approval rules: %v", err)
		}
		cancel()
	}

	// Start reminder job
	jobCtx, jobCancel := context.WithCancel(context.Background())
	var reminderJob *jobs.ReminderJob
	if emitter != nil {
		reminderJob = jobs.NewReminderJob(store.Sessions, emitter, cfg.ReminderInterval, cfg.ReminderAfter, logger)
		go reminderJob.Start(jobCtx)
	}

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.CORSOrigins))

	// Health check endpoints (no auth required)
	router.GET("/health", handlers.HealthCheck)
	router.GET("/ready", handlers.ReadinessCheck(readiness))

	api := router.Group("/api/v1")
	api.Use(middleware.Actor(cfg.JWTSecret))

	var admin []gin.HandlerFunc
	if cfg.JWTSecret != "" {
		admin = append(admin, middleware.RequireAnyRole("admin"))
	} else {
		logger.Warn("JWT_SECRET not set; trusting X-User-ID and leaving admin routes open")
	}

	handlers.NewRuleHandler(ruleService, matcher).RegisterRoutes(api, admin...)
	handlers.NewSessionHandler(sessionService).RegisterRoutes(api)
	handlers.NewStaffRoleHandler(services.NewStaffService(staffRepo, storageOpts, logger)).RegisterRoutes(api, admin...)

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logger.Infof("Approval matrix service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Errorf("Server forced to shutdown: %v", err)
	}

	jobCancel()
	if reminderJob != nil {
		reminderJob.Stop()
	}
	publisher.Close()

	logger.Info("Server shutdown complete")
}

func initPostgres(cfg *config.Config, logger *logrus.Logger) *gorm.DB {
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.ApprovalRule{},
		&models.ApprovalSession{},
		&models.ApprovalDecision{},
		&models.ApprovalAuditLog{},
		&models.StaffRole{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")
	return db
}
