package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"bookrental/internal/catalog"
	"bookrental/internal/config"
	"bookrental/internal/httpapi"
	"bookrental/internal/importer"
	"bookrental/internal/ledger"
	"bookrental/internal/storage"
	"bookrental/internal/storage/ch"
	"bookrental/internal/storage/pg"
	"bookrental/internal/storage/stubs"
	"bookrental/internal/validation"
)

// App represents the application
type App struct {
	config    *config.Config
	logger    *zap.Logger
	db        storage.Storage
	analytics *ch.ClickHouseDB

	validator *validation.Validator
	catalog   *catalog.Service
	ledger    *ledger.Ledger

	server *http.Server
}

// New creates and initializes a new application instance
func New() (*App, error) {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	// Load configuration from environment variables
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger, err := NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	app := &App{config: cfg, logger: logger}

	logger.Info("Starting book rental service...")

	ctx := context.Background()
	if err := app.initDatabase(ctx); err != nil {
		return nil, err
	}
	if err := app.initAnalytics(ctx); err != nil {
		app.db.Close()
		return nil, err
	}

	app.initServices()
	app.initHTTPServer()

	return app, nil
}

// NewLogger builds the process logger. level is a zap level name, format is
// json or console.
func NewLogger(level, format string) (*zap.Logger, error) {
	lvl, err := zap.ParseAtomicLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	cfg := zap.NewProductionConfig()
	if format == "console" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	cfg.Level = lvl
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}

// initDatabase initializes the database connection
func (a *App) initDatabase(ctx context.Context) error {
	var db storage.Storage
	if a.config.UseMockDB {
		a.logger.Info("Using mock database")
		db = stubs.NewMockDB()
	} else {
		a.logger.Info("Connecting to PostgreSQL", zap.Bool("auto_migrate", a.config.AutoMigrate))
		postgresDB, err := pg.NewPostgresDB(ctx, a.config.PostgresDSN(), a.config.AutoMigrate)
		if err != nil {
			return fmt.Errorf("failed to connect to PostgreSQL: %w", err)
		}
		db = postgresDB
	}

	// Initialize database schema and default data
	if err := db.Initialize(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	a.logger.Info("Database initialized successfully")

	a.db = db
	return nil
}

// initAnalytics connects the optional ClickHouse rental activity store
func (a *App) initAnalytics(ctx context.Context) error {
	if !a.config.ClickHouseEnabled() {
		a.logger.Info("ClickHouse not configured, rental analytics disabled")
		return nil
	}

	a.logger.Info("Connecting to ClickHouse",
		zap.String("host", a.config.ClickHouseHost),
		zap.Int("port", a.config.ClickHousePort),
		zap.String("database", a.config.ClickHouseDatabase),
		zap.String("user", a.config.ClickHouseUser),
		zap.Bool("tls", a.config.ClickHouseUseTLS),
	)
	analytics, err := ch.NewClickHouseDB(
		a.config.ClickHouseHost,
		a.config.ClickHousePort,
		a.config.ClickHouseDatabase,
		a.config.ClickHouseUser,
		a.config.ClickHousePassword,
		a.config.ClickHouseUseTLS,
	)
	if err != nil {
		return fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}
	if err := analytics.Initialize(ctx); err != nil {
		analytics.Close()
		return fmt.Errorf("failed to initialize ClickHouse: %w", err)
	}

	a.analytics = analytics
	return nil
}

func (a *App) initServices() {
	var sink ledger.ActivitySink = ledger.NopSink{}
	if a.analytics != nil {
		sink = a.analytics
	}

	a.validator = validation.New()
	a.catalog = catalog.NewService(a.db, a.validator, a.logger.Named("catalog"))
	a.ledger = ledger.New(a.db, sink, a.logger.Named("ledger"))
}

// initHTTPServer builds the HTTP server; Run starts it
func (a *App) initHTTPServer() {
	var stats httpapi.Stats
	if a.analytics != nil {
		stats = a.analytics
	}

	api := httpapi.NewServer(a.catalog, a.ledger, a.validator, stats, a.logger.Named("http"))

	a.server = &http.Server{
		Addr:         ":" + a.config.Port,
		Handler:      api.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// Import runs one CSV import batch from dir. An empty dir means IMPORT_DIR.
func (a *App) Import(ctx context.Context, dir string) (importer.Report, error) {
	if dir == "" {
		dir = a.config.ImportDir
	}
	im := importer.New(a.catalog, a.ledger, a.validator, a.logger.Named("import"))
	return im.ImportDir(ctx, dir)
}

// Run starts the application and blocks until shutdown
func (a *App) Run() error {
	// Handle graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		a.logger.Info("Starting HTTP server", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("Shutting down...")
	case err := <-errChan:
		a.logger.Error("HTTP server error", zap.Error(err))
		runErr = fmt.Errorf("http server: %w", err)
	}

	if err := a.Shutdown(); err != nil {
		return err
	}
	return runErr
}

// Shutdown gracefully shuts down the application
func (a *App) Shutdown() error {
	// Shutdown HTTP server gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.ShutdownTimeout)
	defer cancel()
	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	return a.Close()
}

// Close releases the database connections without touching the HTTP server
func (a *App) Close() error {
	var errs []error
	if a.analytics != nil {
		if err := a.analytics.Close(); err != nil {
			a.logger.Error("Error closing ClickHouse", zap.Error(err))
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("Error closing database", zap.Error(err))
		errs = append(errs, err)
	}

	a.logger.Info("Shutdown complete")
	a.logger.Sync()
	return errors.Join(errs...)
}
