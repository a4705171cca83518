package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/FACorreiaa/statement-recon/internal/domain/categorization"
	categorizationhandler "github.com/FACorreiaa/statement-recon/internal/domain/categorization/handler"
	importhandler "github.com/FACorreiaa/statement-recon/internal/domain/import/handler"
	"github.com/FACorreiaa/statement-recon/internal/domain/import/parser"
	importservice "github.com/FACorreiaa/statement-recon/internal/domain/import/service"
	"github.com/FACorreiaa/statement-recon/internal/domain/reconciliation"
	reconciliationhandler "github.com/FACorreiaa/statement-recon/internal/domain/reconciliation/handler"
	"github.com/FACorreiaa/statement-recon/pkg/config"
	"github.com/FACorreiaa/statement-recon/pkg/db"
	"github.com/FACorreiaa/statement-recon/pkg/metrics"
	"github.com/FACorreiaa/statement-recon/pkg/storage"
)

// Dependencies holds all application dependencies
type Dependencies struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics *metrics.Metrics

	// exactly one of these is set, per DB_DRIVER
	DB       *db.DB
	SQLiteDB *sql.DB

	Store       reconciliation.Store
	FileStorage storage.Storage

	// Services
	CategorizationService *categorization.Service
	IngestionService      *importservice.IngestionService
	ReconciliationService *reconciliation.Service

	// Handlers
	ImportHandler         *importhandler.ImportHandler
	ReconciliationHandler *reconciliationhandler.ReconciliationHandler
	CategorizationHandler *categorizationhandler.CategorizationHandler
}

// InitDependencies initializes all application dependencies
func InitDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	deps := &Dependencies{
		Config:  cfg,
		Logger:  logger,
		Metrics: metrics.New(),
	}

	if err := deps.initDatabase(ctx); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init database: %w", err)
	}

	if err := deps.initServices(); err != nil {
		deps.Cleanup()
		return nil, fmt.Errorf("failed to init services: %w", err)
	}

	deps.initHandlers()

	logger.Info("all dependencies initialized successfully")
	return deps, nil
}

// initDatabase opens the configured store and runs migrations
func (d *Dependencies) initDatabase(ctx context.Context) error {
	switch d.Config.Database.Driver {
	case config.DriverSQLite:
		sqlDB, err := db.OpenSQLite(ctx, d.Config.Database.SQLitePath, d.Logger)
		if err != nil {
			return err
		}
		d.SQLiteDB = sqlDB
		d.Store = reconciliation.NewSQLiteStore(sqlDB)
		d.Logger.Info("sqlite store ready", slog.String("path", d.Config.Database.SQLitePath))
	default:
		database, err := db.New(db.Config{
			DSN:             d.Config.Database.DSN(),
			MaxConns:        25,
			MinConns:        2,
			MaxConnLifetime: 5 * time.Minute,
			MaxConnIdleTime: 10 * time.Minute,
		}, d.Logger)
		if err != nil {
			return err
		}
		d.DB = database

		if err := d.DB.RunMigrations(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		d.Store = reconciliation.NewPostgresStore(d.DB.Pool)
		d.Logger.Info("database connected and migrations completed successfully")
	}
	return nil
}

// initServices initializes all service layer dependencies
func (d *Dependencies) initServices() error {
	rules, err := categorization.LoadRules(d.Config.Import.RulesFile)
	if err != nil {
		return err
	}
	d.CategorizationService = categorization.NewService(rules, d.Config.Import.RulesFile, d.Logger)

	d.IngestionService = importservice.NewIngestionService(
		d.Store,
		d.CategorizationService,
		parser.NewPDFToTextExtractor(d.Config.Import.PDFToTextBin),
		importservice.Config{
			DefaultFormat: d.Config.Import.DefaultFormat,
			ExcludeTerms:  d.Config.Import.ExcludeTerms,
		},
		d.Logger,
	).WithMetrics(d.Metrics)

	if dir := d.Config.Import.ArchiveDir; dir != "" {
		fileStorage, err := storage.NewLocalStorage(dir)
		if err != nil {
			return fmt.Errorf("failed to init file storage: %w", err)
		}
		d.FileStorage = fileStorage
		d.IngestionService.WithArchive(fileStorage)
	}

	d.ReconciliationService = reconciliation.NewService(d.Store, d.CategorizationService, d.Logger)

	d.Logger.Info("services initialized",
		slog.Int("rules", len(rules.Rules)),
		slog.String("default_format", d.Config.Import.DefaultFormat),
		slog.Bool("archive", d.FileStorage != nil),
	)
	return nil
}

// initHandlers initializes all handler dependencies
func (d *Dependencies) initHandlers() {
	d.ImportHandler = importhandler.NewImportHandler(
		d.IngestionService,
		d.ReconciliationService,
		d.FileStorage,
		d.Config.Server.MaxUploadBytes,
		d.Logger,
	)
	d.ReconciliationHandler = reconciliationhandler.NewReconciliationHandler(d.ReconciliationService, d.Config.AllowReset, d.Logger)
	d.CategorizationHandler = categorizationhandler.NewCategorizationHandler(d.CategorizationService, d.IngestionService, d.Logger)

	d.Logger.Info("handlers initialized")
}

// Health checks the active store
func (d *Dependencies) Health(ctx context.Context) error {
	if d.DB != nil {
		return d.DB.Health(ctx)
	}
	if d.SQLiteDB != nil {
		return d.SQLiteDB.PingContext(ctx)
	}
	return fmt.Errorf("no database configured")
}

// Cleanup closes all resources
func (d *Dependencies) Cleanup() {
	if d.DB != nil {
		d.DB.Close()
	}
	if d.SQLiteDB != nil {
		if err := d.SQLiteDB.Close(); err != nil {
			d.Logger.Warn("failed to close sqlite", slog.Any("error", err))
		}
	}
	d.Logger.Info("cleanup completed")
}
