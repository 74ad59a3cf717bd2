package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"

	"org-backup-engine/internal/config"
	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/schedule"
	"org-backup-engine/internal/storage"
	"org-backup-engine/internal/store"
)

// App holds the wired engine for one command invocation
type App struct {
	Config     *config.Config
	Logger     *logging.Logger
	Service    *engine.Service
	Schedules  *schedule.Manager
	Dispatcher *schedule.Dispatcher
	Pool       *engine.Pool

	tenantDB   *sql.DB
	metadataDB *sql.DB
	cancel     context.CancelFunc
}

// osFileSource opens uploaded files from the local filesystem so they can be
// captured into archives alongside row data.
type osFileSource struct{}

func (osFileSource) Open(path string) (io.ReadCloser, error) {
	return os.Open(filepath.Clean(path))
}

// newApp loads configuration and wires the full engine: databases, discovery,
// extraction, packaging, storage disks, orchestrators and the worker pool.
// The pool is started; Close drains it.
func newApp(ctx context.Context) (*App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	level := logging.LogLevel(cfg.LogLevel)
	if verbose {
		level = logging.LogLevelVerbose
	}
	if quiet {
		level = logging.LogLevelQuiet
	}
	logger, err := logging.NewLogger(logging.Config{
		Level:   level,
		LogFile: cfg.LogFile,
	})
	if err != nil {
		return nil, err
	}

	tenantDB, err := sql.Open("mysql", cfg.TenantDB.DSN())
	if err != nil {
		return nil, fmt.Errorf("tenant database: %w", err)
	}
	metadataDB, err := sql.Open("mysql", cfg.MetadataDB.DSN())
	if err != nil {
		tenantDB.Close()
		return nil, fmt.Errorf("metadata database: %w", err)
	}

	catalog := discovery.NewMySQLCatalog(tenantDB)
	discoverySvc := discovery.NewService(catalog, cfg.Discovery.ToDiscovery(), logger)

	extractor := extract.NewExtractor(tenantDB, cfg.Backup.ChunkSize, logger)
	writer := extract.NewWriter(tenantDB, cfg.Backup.WriteBatchSize, logger)

	compression := packaging.NewCompressionManager()

	var keys *packaging.KeyManager
	if cfg.Encryption.Enabled {
		masterKey, err := cfg.Encryption.MasterKey()
		if err != nil {
			tenantDB.Close()
			metadataDB.Close()
			return nil, err
		}
		keys, err = packaging.NewKeyManager(masterKey)
		if err != nil {
			tenantDB.Close()
			metadataDB.Close()
			return nil, err
		}
	}

	stores := make(engine.StoreRegistry, len(cfg.Storage))
	for _, diskCfg := range cfg.Storage {
		archiveStore, err := storage.NewStore(ctx, diskCfg)
		if err != nil {
			tenantDB.Close()
			metadataDB.Close()
			return nil, fmt.Errorf("storage disk %s: %w", diskCfg.Disk, err)
		}
		stores[diskCfg.Disk] = archiveStore
	}

	metadata := store.NewMySQLStore(metadataDB)
	plans := &engine.StaticPlanSource{
		Tiers:   cfg.Plans.Tiers(),
		Default: plan.Tier(cfg.Plans.Default),
	}

	backupOrch := engine.NewBackupOrchestrator(
		metadata.Backups, metadata.Audit, discoverySvc, extractor,
		compression, keys, stores, plans, osFileSource{},
		engine.BackupConfig{
			TenantColumn:       cfg.Discovery.TenantColumn,
			DefaultCompression: packaging.CompressionType(cfg.Backup.DefaultCompression),
			ArchivePathPrefix:  cfg.Backup.ArchivePathPrefix,
		}, logger)

	restoreOrch := engine.NewRestoreOrchestrator(
		metadata.Restores, metadata.Backups, metadata.Audit, discoverySvc,
		writer, compression, keys, stores, plans, backupOrch,
		engine.RestoreConfig{
			TenantColumn:   cfg.Discovery.TenantColumn,
			IDColumn:       cfg.Restore.IDColumn,
			RollbackWindow: cfg.Restore.RollbackWindow,
		}, logger)

	pool := engine.NewPool(cfg.Workers.Count, cfg.Workers.QueueSize, cfg.Workers.JobTimeout, logger)
	poolCtx, cancel := context.WithCancel(context.Background())
	pool.Start(poolCtx)

	service := engine.NewService(
		backupOrch, restoreOrch,
		metadata.Backups, metadata.Restores, metadata.Audit,
		stores, pool, logger)

	manager := schedule.NewManager(metadata.Schedules, plans, logger)
	dispatcher := schedule.NewDispatcher(metadata.Schedules, service, cfg.Schedule.PollInterval, logger)

	return &App{
		Config:     cfg,
		Logger:     logger,
		Service:    service,
		Schedules:  manager,
		Dispatcher: dispatcher,
		Pool:       pool,
		tenantDB:   tenantDB,
		metadataDB: metadataDB,
		cancel:     cancel,
	}, nil
}

// Close drains the worker pool and releases database connections
func (a *App) Close() {
	a.Pool.Stop()
	a.cancel()
	if err := a.tenantDB.Close(); err != nil {
		a.Logger.Warnf("closing tenant database: %v", err)
	}
	if err := a.metadataDB.Close(); err != nil {
		a.Logger.Warnf("closing metadata database: %v", err)
	}
}
