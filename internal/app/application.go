package app

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"studyroom/internal/activity"
	"studyroom/internal/api"
	"studyroom/internal/cache"
	"studyroom/internal/chat"
	"studyroom/internal/config"
	"studyroom/internal/database"
	"studyroom/internal/interview"
	"studyroom/internal/membership"
	"studyroom/internal/router"
	"studyroom/internal/websocket"
	"studyroom/migrations"
	pkgdatabase "studyroom/pkg/database"
	"studyroom/pkg/interfaces"
)

// limiterSweepInterval is how often idle rate-limit buckets are dropped
const limiterSweepInterval = time.Minute

// Application coordinates all system components
// Clean dependency injection pattern with proper initialization order
type Application struct {
	config     *config.Config
	logger     *logrus.Logger
	dbManager  *database.Manager
	roleCache  *cache.RoleCache
	registry   *websocket.Registry
	recorder   *activity.Recorder
	limiter    *router.RateLimiter
	wsHandler  *websocket.Handler
	apiServer  *api.Server
	httpServer *http.Server

	mu       sync.Mutex
	listener net.Listener
	stopped  bool
	cancel   context.CancelFunc
	workers  sync.WaitGroup
}

// NewApplication creates a new application instance with all components initialized
// Component initialization follows strict dependency order:
// Database → Registry → Chat → Membership/Interview → Router → Gateway → API → HTTP
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}

	// Validate configuration before component initialization
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger := cfg.Log.NewLogger()

	// STEP 1: Initialize database manager (foundation layer)
	dbConfig := &pkgdatabase.Config{
		DatabasePath:    cfg.Database.Path,
		MaxConnections:  cfg.Database.MaxConnections,
		ConnMaxLifetime: cfg.Database.Timeout,
		ConnMaxIdleTime: cfg.Database.Timeout / 3,
		MigrationsPath:  cfg.Database.MigrationsPath,
	}
	if err := dbConfig.Validate(); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}
	if dir := filepath.Dir(dbConfig.DatabasePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	dbManager, err := database.NewManager(dbConfig, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}

	// STEP 1.5: Apply database migrations to ensure schema is up to date
	if err := migrate(dbManager, dbConfig, logger); err != nil {
		_ = dbManager.Close()
		return nil, err
	}

	// STEP 2: Membership lookups go through the Redis role cache when configured
	var roles interfaces.MembershipLookup = dbManager
	var roleCache *cache.RoleCache
	if cfg.Redis.Addr != "" {
		cacheConfig := cache.Config{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Prefix:   cache.DefaultConfig().Prefix,
			TTL:      cfg.Redis.TTL,
		}
		roleCache = cache.NewRoleCache(cache.NewClient(cacheConfig), dbManager, cacheConfig, logger)
		roles = roleCache

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		if err := roleCache.Ping(ctx); err != nil {
			// Lookups fall through to the database while Redis is unreachable
			logger.WithError(err).WithField("addr", cfg.Redis.Addr).Warn("Role cache unreachable")
		}
		cancel()
	}

	// STEP 3: Initialize WebSocket registry for connection tracking
	registry := websocket.NewRegistry(logger)

	// STEP 4: Room services
	publisher := chat.NewPublisher(registry, dbManager, logger)
	recorder := activity.NewRecorder(dbManager, cfg.Chat.ActivityBuffer, logger)
	members := membership.NewManager(registry, roles, publisher, recorder, logger)
	interviews := interview.NewManager(registry, logger)
	limiter := router.NewRateLimiter(cfg.Chat.RateLimit, cfg.Chat.RateWindow)

	// STEP 5: Initialize event router with dependencies
	eventRouter := router.NewRouter(router.Dependencies{
		Registry:   registry,
		Membership: members,
		Interview:  interviews,
		Publisher:  publisher,
		Roles:      roles,
		Progress:   dbManager,
		Problems:   dbManager,
		Limiter:    limiter,
		Logger:     logger,
	})

	// STEP 6: Initialize WebSocket gateway
	connConfig := websocket.DefaultConnectionConfig()
	connConfig.SendBuffer = cfg.WebSocket.BufferSize
	connConfig.EphemeralBuffer = cfg.WebSocket.EphemeralBufferSize
	connConfig.WriteTimeout = cfg.WebSocket.WriteTimeout
	connConfig.PingInterval = cfg.WebSocket.PingInterval
	connConfig.PongWait = cfg.WebSocket.ReadTimeout

	auth := websocket.NewAuthenticator(websocket.AuthConfig{
		JWTSecret:    cfg.Auth.JWTSecret,
		Issuer:       cfg.Auth.Issuer,
		TokenTTL:     cfg.Auth.TokenTTL,
		RequireToken: cfg.Auth.RequireToken,
	})
	wsHandler := websocket.NewHandler(registry, eventRouter, auth, websocket.HandlerConfig{
		Connection:       connConfig,
		AllowedOrigins:   cfg.WebSocket.AllowedOrigins,
		HandshakeTimeout: 10 * time.Second,
	}, logger)

	// STEP 7: Initialize API server
	apiOptions := api.Options{
		HistoryLimit: cfg.Chat.HistoryLimit,
		AdminToken:   cfg.Auth.AdminToken,
		Logger:       logger,
	}
	if roleCache != nil {
		apiOptions.Roles = roleCache
	}
	apiServer := api.NewServer(dbManager, registry, apiOptions)

	// STEP 8: Setup HTTP server with both API and WebSocket endpoints
	mux := http.NewServeMux()
	mux.Handle("/api/", apiServer)
	mux.Handle("/health", apiServer)
	mux.HandleFunc("/ws", wsHandler.HandleWebSocket)

	httpServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(cfg.HTTP.Port)),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:     cfg,
		logger:     logger,
		dbManager:  dbManager,
		roleCache:  roleCache,
		registry:   registry,
		recorder:   recorder,
		limiter:    limiter,
		wsHandler:  wsHandler,
		apiServer:  apiServer,
		httpServer: httpServer,
	}, nil
}

// migrate applies pending migrations and checks the resulting schema
func migrate(dbManager *database.Manager, dbConfig *pkgdatabase.Config, logger logrus.FieldLogger) error {
	var source fs.FS = migrations.FS
	if dbConfig.MigrationsPath != "" {
		source = os.DirFS(dbConfig.MigrationsPath)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	applied, err := pkgdatabase.NewMigrationManager(dbManager.GetDB(), source).ApplyMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to apply database migrations: %w", err)
	}
	if err := pkgdatabase.NewSchemaValidator(dbManager.GetDB()).Validate(ctx); err != nil {
		return fmt.Errorf("database schema validation failed: %w", err)
	}
	logger.WithField("applied", applied).Info("Database migrations applied successfully")
	return nil
}

// Start begins application execution
// Background workers start first, then the listener is bound and served
func (app *Application) Start(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.stopped {
		return ErrStopped
	}
	if app.listener != nil {
		return ErrAlreadyStarted
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Workers outlive the start context; Stop cancels them
	workerCtx, cancel := context.WithCancel(context.Background())

	// STEP 1: Start the activity recorder
	if err := app.recorder.Start(workerCtx); err != nil {
		cancel()
		return fmt.Errorf("failed to start activity recorder: %w", err)
	}

	// STEP 2: Bind before returning so address errors surface here
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		cancel()
		_ = app.recorder.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.listener = listener
	app.cancel = cancel

	app.workers.Add(2)
	go func() {
		defer app.workers.Done()
		app.limiter.Run(workerCtx, limiterSweepInterval)
	}()
	go func() {
		defer app.workers.Done()
		if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.logger.WithError(err).Error("HTTP server error")
		}
	}()

	app.logger.WithField("addr", listener.Addr().String()).Info("Studyroom server started")
	return nil
}

// Stop gracefully shuts down the application
// Reverse dependency order: HTTP → Gateway → Activity → Cache → Database
func (app *Application) Stop(ctx context.Context) error {
	app.mu.Lock()
	defer app.mu.Unlock()

	if app.listener == nil {
		return ErrNotStarted
	}
	app.logger.Info("Shutting down studyroom server")

	var errs []error

	// STEP 1: Stop accepting new connections
	if err := app.httpServer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("HTTP server shutdown: %w", err))
	}

	// STEP 2: Close upgraded sockets; their departures still reach the database
	if err := app.wsHandler.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("websocket shutdown: %w", err))
	}

	// STEP 3: Flush last-active touches and stop background workers
	if err := app.recorder.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("activity recorder shutdown: %w", err))
	}
	app.cancel()
	app.workers.Wait()

	if app.roleCache != nil {
		if err := app.roleCache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("role cache shutdown: %w", err))
		}
	}

	// STEP 4: Close database connections
	if err := app.dbManager.Close(); err != nil {
		errs = append(errs, fmt.Errorf("database shutdown: %w", err))
	}

	app.listener = nil
	app.stopped = true
	if len(errs) > 0 {
		app.logger.WithError(errors.Join(errs...)).Error("Shutdown completed with errors")
		return errors.Join(errs...)
	}
	app.logger.Info("Studyroom server shutdown complete")
	return nil
}

// GetAddr returns the bound address once started, otherwise the configured one
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	if app.listener != nil {
		return app.listener.Addr().String()
	}
	return app.httpServer.Addr
}

// Logger returns the application logger
func (app *Application) Logger() *logrus.Logger {
	return app.logger
}
