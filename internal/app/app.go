package app

import (
	"context"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/schemastudio/server/internal/module/collaboration"
	"github.com/schemastudio/server/internal/module/presence"
	sharedcache "github.com/schemastudio/server/internal/shared/cache"
	"github.com/schemastudio/server/internal/shared/config"
	"github.com/schemastudio/server/internal/shared/database"
	"github.com/schemastudio/server/internal/shared/events"
	"github.com/schemastudio/server/internal/shared/logger"
	"github.com/schemastudio/server/internal/shared/middleware"
	"github.com/schemastudio/server/internal/utils/metrics"
)

// App represents the application.
type App struct {
	config    *config.Config
	db        *gorm.DB
	redis     redis.UniversalClient
	router    *gin.Engine
	logger    *logger.Logger
	zapLogger *zap.Logger
	metrics   *metrics.Metrics

	// Event infrastructure
	eventBus *events.Bus

	// Modules
	collabHandler *collaboration.Handler
	hub           *presence.Hub
	relay         *presence.Relay

	sweepCancel context.CancelFunc
}

// New creates a new application instance.
func New(cfg *config.Config) (*App, error) {
	// Initialize logger
	log := logger.New(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})

	// Initialize zap logger for modules that use zap
	zapLog, err := logger.NewZapLogger(&logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
	})
	if err != nil {
		return nil, fmt.Errorf("init zap logger: %w", err)
	}

	app := &App{
		config:    cfg,
		logger:    log,
		zapLogger: zapLog,
		metrics:   metrics.New("schemastudio"),
	}

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}
	app.db = db

	// Initialize Redis (optional)
	if cfg.Redis.Address != "" {
		redisClient, err := sharedcache.NewRedisClient(&cfg.Redis)
		if err != nil {
			// Redis is optional, log warning but continue
			log.Warn("redis connection failed, presence snapshots disabled", "error", err)
		} else {
			app.redis = redisClient
		}
	}

	// Initialize router
	app.router = app.setupRouter()

	// Initialize modules
	app.initModules()

	// Register module routes
	app.registerRoutes()

	// Start the liveness sweeper
	ctx, cancel := context.WithCancel(context.Background())
	app.sweepCancel = cancel
	go app.hub.RunSweeper(ctx)

	return app, nil
}

// setupRouter creates and configures the Gin router.
func (a *App) setupRouter() *gin.Engine {
	// Set Gin mode based on environment
	if a.config.Log.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Apply global middleware
	r.Use(middleware.Recovery(a.logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.Logging(a.logger))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.Metrics(a.metrics))

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "timestamp": time.Now().UTC()})
	})

	// Prometheus metrics endpoint
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

// initModules initializes all application modules.
func (a *App) initModules() {
	// Initialize event bus for domain events
	a.eventBus = events.NewBus(a.zapLogger)

	// Initialize collaboration module
	collabRepo := collaboration.NewRepository(a.db)
	collabService := collaboration.NewService(collabRepo, a.eventBus, a.zapLogger)

	baseURL := a.config.Server.BaseURL
	if baseURL == "" {
		baseURL = "http://localhost" + a.config.Server.Address
	}
	a.collabHandler = collaboration.NewHandler(collabService, baseURL)

	// Initialize presence module
	a.hub = presence.NewHub(a.config.Presence, a.logger, a.metrics, a.redis)
	a.relay = presence.NewRelay(a.logger, a.config.Presence.SendTimeout)

	// Membership changes flow to connected editors through the hub
	a.eventBus.Register(presence.NewEventHandler(a.hub, a.zapLogger))
}

// registerRoutes registers routes for all modules.
func (a *App) registerRoutes() {
	// API v1 group
	v1 := a.router.Group("/api/v1")
	a.collabHandler.RegisterRoutes(v1)

	// WebSocket endpoints
	a.router.GET("/ws/collaboration/:workspaceId", a.hub.HandleCollaboration)
	a.router.GET("/ws/portfolio-updates", a.relay.HandleUpdates)
}

// Router returns the HTTP router.
func (a *App) Router() *gin.Engine {
	return a.router
}

// Stop stops the application and releases resources.
func (a *App) Stop() {
	if a.sweepCancel != nil {
		a.sweepCancel()
	}

	// Close every live connection before the process exits
	if a.hub != nil {
		a.hub.Shutdown()
	}
	if a.relay != nil {
		a.relay.Shutdown()
	}

	// Sync zap logger
	if a.zapLogger != nil {
		_ = a.zapLogger.Sync()
	}

	// Close Redis connection
	if a.redis != nil {
		_ = sharedcache.Close(a.redis)
	}

	// Close database connection
	if a.db != nil {
		_ = database.Close(a.db)
	}
}
