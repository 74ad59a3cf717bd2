package engine

import (
	"context"
	"database/sql"
	"io"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/storage"
	"org-backup-engine/internal/store"
)

// fakeCatalog serves a fixed schema so pipeline tests exercise discovery
// without a live catalog.
type fakeCatalog struct {
	tables  []discovery.TableRef
	columns map[string][]discovery.Column
	fks     map[string][]discovery.ForeignKey
}

func (f *fakeCatalog) ListTenantTables(ctx context.Context, schemas []string, tenantColumn string) ([]discovery.TableRef, error) {
	return f.tables, nil
}

func (f *fakeCatalog) Columns(ctx context.Context, table discovery.TableRef) ([]discovery.Column, error) {
	return f.columns[table.String()], nil
}

func (f *fakeCatalog) ForeignKeys(ctx context.Context, table discovery.TableRef) ([]discovery.ForeignKey, error) {
	return f.fks[table.String()], nil
}

func (f *fakeCatalog) Stats(ctx context.Context, table discovery.TableRef) (discovery.TableStats, error) {
	return discovery.TableStats{RowCount: 1, AvgRowBytes: 64}, nil
}

// harness wires a full engine against a mocked tenant database, in-memory
// metadata repositories and a temp-dir archive store. The wired dependencies
// stay accessible so tests can rebuild an orchestrator around a substitute.
type harness struct {
	db          *sql.DB
	mock        sqlmock.Sqlmock
	memory      *store.MemoryStore
	stores      StoreRegistry
	plans       *StaticPlanSource
	discovery   *discovery.Service
	extractor   *extract.Extractor
	writer      *extract.Writer
	compression *packaging.CompressionManager
	keys        *packaging.KeyManager
	logger      *logging.Logger
	backupOrch  *BackupOrchestrator
	restoreOrch *RestoreOrchestrator
}

func campaignColumns() []discovery.Column {
	return []discovery.Column{
		{Name: "id", DataType: "bigint"},
		{Name: "org_id", DataType: "varchar"},
		{Name: "name", DataType: "varchar"},
		{Name: "updated_at", DataType: "datetime"},
	}
}

func newHarness(t *testing.T, tier plan.Tier) *harness {
	t.Helper()
	return newHarnessWithCatalog(t, tier, &fakeCatalog{
		tables: []discovery.TableRef{{Schema: "app", Name: "campaigns"}},
		columns: map[string][]discovery.Column{
			"app.campaigns": campaignColumns(),
		},
		fks: map[string][]discovery.ForeignKey{},
	})
}

func newHarnessWithCatalog(t *testing.T, tier plan.Tier, catalog *fakeCatalog) *harness {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger, err := logging.NewLogger(logging.Config{Level: logging.LogLevelQuiet, Output: io.Discard})
	require.NoError(t, err)
	discoverySvc := discovery.NewService(catalog, discovery.Config{Schemas: []string{"app"}}, logger)
	extractor := extract.NewExtractor(db, 0, logger)
	writer := extract.NewWriter(db, 0, logger)
	compression := packaging.NewCompressionManager()

	keys, err := packaging.NewKeyManager(testMasterKey())
	require.NoError(t, err)

	local, err := storage.NewLocalStore(storage.LocalConfig{BasePath: t.TempDir()})
	require.NoError(t, err)
	stores := StoreRegistry{"local": local}

	memory := store.NewMemoryStore()
	plans := &StaticPlanSource{Default: tier}

	backupOrch := NewBackupOrchestrator(memory.Backups, memory.Audit, discoverySvc,
		extractor, compression, keys, stores, plans, nil, BackupConfig{}, logger)
	restoreOrch := NewRestoreOrchestrator(memory.Restores, memory.Backups, memory.Audit,
		discoverySvc, writer, compression, keys, stores, plans, backupOrch,
		RestoreConfig{}, logger)

	return &harness{
		db:          db,
		mock:        mock,
		memory:      memory,
		stores:      stores,
		plans:       plans,
		discovery:   discoverySvc,
		extractor:   extractor,
		writer:      writer,
		compression: compression,
		keys:        keys,
		logger:      logger,
		backupOrch:  backupOrch,
		restoreOrch: restoreOrch,
	}
}

// expectCampaignExtraction queues the tenant-scoped SELECT the extractor
// issues for app.campaigns.
func (h *harness) expectCampaignExtraction(orgID string, rows ...[]driverValue) {
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns` WHERE `org_id` = \\?").
		WithArgs(orgID).
		WillReturnRows(sqlRows(rows...))
}

// sqlRows builds a campaigns result set
func sqlRows(rows ...[]driverValue) *sqlmock.Rows {
	result := sqlmock.NewRows([]string{"id", "org_id", "name", "updated_at"})
	for _, row := range rows {
		result.AddRow(row[0], row[1], row[2], row[3])
	}
	return result
}

type driverValue = interface{}

func campaignRow(id, orgID, name, updatedAt string) []driverValue {
	return []driverValue{id, orgID, name, updatedAt}
}

// runBackup requests and synchronously executes a backup
func (h *harness) runBackup(t *testing.T, orgID string, req BackupRequest) *store.Backup {
	t.Helper()
	ctx := context.Background()

	backup, err := h.backupOrch.Request(ctx, orgID, req)
	require.NoError(t, err)
	require.NoError(t, h.backupOrch.Execute(ctx, orgID, backup.ID, req))

	completed, err := h.memory.Backups.Get(ctx, orgID, backup.ID)
	require.NoError(t, err)
	require.Equal(t, store.BackupStatusCompleted, completed.Status)
	return completed
}

func testMasterKey() []byte {
	key := make([]byte, packaging.KeySize)
	for i := range key {
		key[i] = byte(i + 1)
	}
	return key
}

func storageMeta(orgID string) storage.ObjectMetadata {
	return storage.ObjectMetadata{OrgID: orgID}
}
