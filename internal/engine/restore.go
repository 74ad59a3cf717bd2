package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/store"
)

// DefaultRollbackWindow is how long after completion a restore can be
// rolled back to its safety backup.
const DefaultRollbackWindow = 24 * time.Hour

// RestoreRequest describes a restore a tenant wants to run
type RestoreRequest struct {
	BackupID   string
	Type       plan.RestoreType
	Categories []string // empty means every category in the backup
	Strategy   store.ConflictStrategy

	// AcknowledgeSchemaGaps lets the restore proceed when the schema has
	// drifted since the backup. Data for tables and columns that no longer
	// exist is dropped, not written.
	AcknowledgeSchemaGaps bool
}

// RestoreConfig tunes the restore pipeline
type RestoreConfig struct {
	TenantColumn   string
	IDColumn       string
	RollbackWindow time.Duration
}

// SetDefaults fills unset fields
func (c *RestoreConfig) SetDefaults() {
	if c.TenantColumn == "" {
		c.TenantColumn = "org_id"
	}
	if c.IDColumn == "" {
		c.IDColumn = "id"
	}
	if c.RollbackWindow <= 0 {
		c.RollbackWindow = DefaultRollbackWindow
	}
}

// Analysis is what a tenant reviews before confirming a restore
type Analysis struct {
	Backup     *store.Backup          `json:"backup"`
	Categories []string               `json:"categories"`
	Diff       *discovery.SnapshotDiff `json:"diff"`
	Compatible bool                   `json:"compatible"`
	Warnings   []string               `json:"warnings,omitempty"`
}

// RestoreOrchestrator runs the restore pipeline: analysis, confirmation,
// the safety backup, per-category transactional writes and rollback.
type RestoreOrchestrator struct {
	restores   store.RestoreRepository
	backups    store.BackupRepository
	audit      store.AuditRepository
	discovery  *discovery.Service
	writer     *extract.Writer
	compression *packaging.CompressionManager
	keys       *packaging.KeyManager
	stores     StoreRegistry
	plans      PlanSource
	backupOrch *BackupOrchestrator
	config     RestoreConfig
	logger     *logging.Logger
}

// NewRestoreOrchestrator wires the restore pipeline
func NewRestoreOrchestrator(
	restores store.RestoreRepository,
	backups store.BackupRepository,
	audit store.AuditRepository,
	discoverySvc *discovery.Service,
	writer *extract.Writer,
	compression *packaging.CompressionManager,
	keys *packaging.KeyManager,
	stores StoreRegistry,
	plans PlanSource,
	backupOrch *BackupOrchestrator,
	config RestoreConfig,
	logger *logging.Logger,
) *RestoreOrchestrator {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &RestoreOrchestrator{
		restores:    restores,
		backups:     backups,
		audit:       audit,
		discovery:   discoverySvc,
		writer:      writer,
		compression: compression,
		keys:        keys,
		stores:      stores,
		plans:       plans,
		backupOrch:  backupOrch,
		config:      config,
		logger:      logger,
	}
}

// Analyze compares the backup's schema snapshot against the tenant store as
// it is now and reports what a restore would face. Added columns are fine
// (their data was never captured); removed columns drop silently; changed
// column types block the restore.
func (o *RestoreOrchestrator) Analyze(ctx context.Context, orgID, backupID string) (*Analysis, error) {
	backup, err := o.backups.Get(ctx, orgID, backupID)
	if err != nil {
		return nil, err
	}
	if backup.Status != store.BackupStatusCompleted {
		return nil, errors.NewValidationError(
			fmt.Sprintf("backup %s is %s and cannot be restored", backup.BackupNumber, backup.Status), nil)
	}
	if backup.Snapshot == nil {
		return nil, errors.NewIntegrityError(
			fmt.Sprintf("backup %s has no schema snapshot", backup.BackupNumber), nil)
	}

	ctx = extract.WithTenant(ctx, orgID)
	tables, err := o.discovery.DiscoverTenantTables(ctx)
	if err != nil {
		return nil, err
	}
	current, err := o.discovery.CreateSnapshot(ctx, tables)
	if err != nil {
		return nil, err
	}

	diff := discovery.CompareSnapshots(backup.Snapshot, current)

	analysis := &Analysis{
		Backup:     backup,
		Diff:       diff,
		Compatible: diff.Compatible(),
	}
	if backup.Summary != nil {
		analysis.Categories = categoryNames(backup.Summary)
	}
	for _, table := range diff.MissingTables {
		analysis.Warnings = append(analysis.Warnings,
			fmt.Sprintf("table %s no longer exists; its data will not be restored", table))
	}
	return analysis, nil
}

// Create validates a restore request and records it awaiting confirmation.
// Nothing is written to tenant data until Start.
func (o *RestoreOrchestrator) Create(ctx context.Context, orgID string, req RestoreRequest) (*store.Restore, error) {
	if req.Strategy == "" {
		req.Strategy = store.StrategyAsk
	}
	if !store.ValidStrategy(req.Strategy) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("unknown conflict strategy %q", req.Strategy), nil)
	}
	if !plan.ValidRestoreType(req.Type) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("unknown restore type %q", req.Type), nil)
	}

	tier, err := o.plans.TierFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if !plan.CanRestore(plan.LimitsFor(tier), req.Type) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("%s restores are not available on the %s plan", req.Type, tier), nil)
	}

	busy, err := o.restores.HasProcessing(ctx, orgID)
	if err != nil {
		return nil, err
	}
	if busy {
		return nil, errors.NewValidationError(
			"another restore is already running for this organization", nil)
	}

	analysis, err := o.Analyze(ctx, orgID, req.BackupID)
	if err != nil {
		return nil, err
	}
	if !analysis.Compatible && !req.AcknowledgeSchemaGaps {
		return nil, errors.NewSchemaIncompatibleError(
			"the schema has changed since the backup was taken; "+
				"acknowledge the gaps or narrow the category selection", nil)
	}

	categories := req.Categories
	if len(categories) == 0 {
		categories = analysis.Categories
	} else {
		available := make(map[string]bool, len(analysis.Categories))
		for _, name := range analysis.Categories {
			available[name] = true
		}
		for _, name := range categories {
			if !available[name] {
				return nil, errors.NewValidationError(
					fmt.Sprintf("category %q is not present in backup %s",
						name, analysis.Backup.BackupNumber), nil)
			}
		}
	}
	if len(categories) == 0 {
		return nil, errors.NewValidationError("the backup contains no categories to restore", nil)
	}

	now := time.Now().UTC()
	seq, err := o.restores.NextSequence(ctx, orgID, now.Year())
	if err != nil {
		return nil, err
	}

	restore := &store.Restore{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		RestoreNumber: store.FormatRestoreNumber(now.Year(), seq),
		BackupID:      req.BackupID,
		Type:          req.Type,
		Status:        store.RestoreStatusAwaitingConfirmation,
		Categories:    categories,
		Strategy:      req.Strategy,
		Report:        store.RestoreReport{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := o.restores.Create(ctx, restore); err != nil {
		return nil, err
	}

	o.appendAudit(ctx, orgID, "restore.created", restore.ID,
		fmt.Sprintf("%s restore of backup %s", req.Type, analysis.Backup.BackupNumber))
	o.logger.LogRestoreLifecycle(orgID, restore.ID, "",
		string(store.RestoreStatusAwaitingConfirmation))
	return restore, nil
}

// SetDecisions records per-record conflict decisions while the restore
// awaits confirmation.
func (o *RestoreOrchestrator) SetDecisions(ctx context.Context, orgID, restoreID string, decisions map[string]store.ConflictStrategy) (*store.Restore, error) {
	restore, err := o.restores.Get(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if restore.Status != store.RestoreStatusAwaitingConfirmation {
		return nil, errors.NewValidationError(
			fmt.Sprintf("restore %s is %s; decisions can only be set before confirmation",
				restore.RestoreNumber, restore.Status), nil)
	}
	for key, strategy := range decisions {
		if !store.ValidStrategy(strategy) || strategy == store.StrategyAsk {
			return nil, errors.NewValidationError(
				fmt.Sprintf("invalid decision %q for record %s", strategy, key), nil)
		}
	}

	if restore.Decisions == nil {
		restore.Decisions = make(map[string]store.ConflictStrategy, len(decisions))
	}
	for key, strategy := range decisions {
		restore.Decisions[key] = strategy
	}
	if err := o.restores.Update(ctx, restore); err != nil {
		return nil, err
	}
	return restore, nil
}

// Start moves a confirmed restore to processing. The caller must have
// acknowledged that existing data will be modified.
func (o *RestoreOrchestrator) Start(ctx context.Context, orgID, restoreID string, acknowledged bool) (*store.Restore, error) {
	if !acknowledged {
		return nil, errors.NewValidationError(
			"restore must be acknowledged before it can start", nil)
	}

	restore, err := o.restores.Get(ctx, orgID, restoreID)
	if err != nil {
		return nil, err
	}
	if !store.CanTransitionRestore(restore.Status, store.RestoreStatusProcessing) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("restore %s is %s, not awaiting confirmation",
				restore.RestoreNumber, restore.Status), nil)
	}

	restore.Acknowledged = true
	restore.Status = store.RestoreStatusProcessing
	if err := o.restores.Update(ctx, restore); err != nil {
		return nil, err
	}
	o.logger.LogRestoreLifecycle(orgID, restore.ID,
		string(store.RestoreStatusAwaitingConfirmation), string(store.RestoreStatusProcessing))
	return restore, nil
}

// Execute runs a processing restore: safety backup first, then the backup's
// rows applied category by category, each category inside its own
// transaction. It is invoked from a worker.
func (o *RestoreOrchestrator) Execute(ctx context.Context, orgID, restoreID string) error {
	restore, err := o.restores.Get(ctx, orgID, restoreID)
	if err != nil {
		return err
	}
	if restore.Status != store.RestoreStatusProcessing {
		return errors.NewValidationError(
			fmt.Sprintf("restore %s is %s, not processing", restore.RestoreNumber, restore.Status), nil)
	}

	if err := o.run(ctx, restore); err != nil {
		// Transient failures leave the record processing so the worker's
		// next attempt can re-enter; the terminal failure is written once
		// the retry budget is exhausted.
		if errors.IsRetryable(errors.Classify(err)) && ctx.Err() == nil {
			return err
		}
		o.fail(ctx, restore, err)
		return err
	}

	now := time.Now().UTC()
	rollbackExpiry := now.Add(o.config.RollbackWindow)
	restore.Status = store.RestoreStatusCompleted
	restore.CompletedAt = &now
	restore.RollbackExpiresAt = &rollbackExpiry
	restore.Report.Progress = 100
	restore.Report.CurrentCategory = ""
	if err := o.restores.Update(ctx, restore); err != nil {
		return err
	}
	o.logger.LogRestoreLifecycle(orgID, restore.ID,
		string(store.RestoreStatusProcessing), string(store.RestoreStatusCompleted))
	o.appendAudit(ctx, orgID, "restore.completed", restore.ID, restore.RestoreNumber)
	return nil
}

func (o *RestoreOrchestrator) run(ctx context.Context, restore *store.Restore) error {
	orgID := restore.OrgID
	ctx = extract.WithTenant(ctx, orgID)

	backup, err := o.backups.Get(ctx, orgID, restore.BackupID)
	if err != nil {
		return err
	}

	// The safety backup freezes current data before any mutation. Without
	// it there is nothing to roll back to, so its failure aborts the
	// restore.
	safety, err := o.takeSafetyBackup(ctx, orgID, backup.BackupNumber)
	if err != nil {
		return err
	}
	restore.SafetyBackupID = safety.ID
	if err := o.restores.Update(ctx, restore); err != nil {
		return err
	}

	reader, err := o.openArchive(ctx, backup)
	if err != nil {
		return err
	}

	resolver, err := NewResolver(restore.Strategy, restore.Decisions)
	if err != nil {
		return err
	}

	return o.applyArchive(ctx, restore, reader, resolver, restore.Type)
}

// takeSafetyBackup captures the tenant's current data synchronously
func (o *RestoreOrchestrator) takeSafetyBackup(ctx context.Context, orgID, backupNumber string) (*store.Backup, error) {
	req := BackupRequest{
		Name:        fmt.Sprintf("Pre-restore safety backup (restoring %s)", backupNumber),
		Type:        store.BackupTypeSafety,
		Encrypt:     false,
		Compression: o.backupOrch.config.DefaultCompression,
	}
	safety, err := o.backupOrch.Request(ctx, orgID, req)
	if err != nil {
		return nil, errors.NewFatalError("could not create safety backup", err)
	}
	if err := o.backupOrch.Execute(ctx, orgID, safety.ID, req); err != nil {
		return nil, errors.NewFatalError("safety backup failed; restore aborted", err)
	}
	return safety, nil
}

// openArchive loads, integrity-checks and decrypts a backup archive
func (o *RestoreOrchestrator) openArchive(ctx context.Context, backup *store.Backup) (*packaging.Reader, error) {
	archiveStore, err := o.stores.Get(backup.Disk)
	if err != nil {
		return nil, err
	}
	data, err := archiveStore.Get(ctx, backup.Path)
	if err != nil {
		return nil, err
	}

	if !packaging.VerifyChecksum(data, backup.Checksum) {
		return nil, errors.NewIntegrityError(
			fmt.Sprintf("archive checksum mismatch for backup %s", backup.BackupNumber), nil)
	}

	if backup.Encrypted {
		if o.keys == nil {
			return nil, errors.NewConfigurationError(
				"backup is encrypted but no key is configured", nil)
		}
		data, err = packaging.Decrypt(data, o.keys.TenantKey(backup.OrgID))
		if err != nil {
			return nil, err
		}
	}

	return packaging.NewReader(data, o.compression)
}

// applyArchive writes the archive's selected categories back into the tenant
// store, one transaction per category. A category either fully applies or
// fully rolls back; earlier categories stay applied either way. Full restores
// first clear every selected table in a separate transaction, children before
// parents, so foreign keys never block a delete.
func (o *RestoreOrchestrator) applyArchive(ctx context.Context, restore *store.Restore, reader *packaging.Reader, resolver *Resolver, restoreType plan.RestoreType) error {
	selected := make(map[string]bool, len(restore.Categories))
	for _, name := range restore.Categories {
		selected[name] = true
	}

	categoryTables, order, err := o.planCategories(ctx, reader, selected)
	if err != nil {
		return err
	}
	if len(order) == 0 {
		return errors.NewValidationError(
			"none of the selected categories have tables in the archive", nil)
	}

	if restoreType == plan.RestoreTypeFull {
		var all []discovery.TableRef
		for _, category := range order {
			all = append(all, categoryTables[category]...)
		}
		if err := o.clearTables(ctx, all); err != nil {
			restore.Report.Errors = append(restore.Report.Errors,
				fmt.Sprintf("clearing pass: %v", err))
			return err
		}
	}

	if restore.Report.Categories == nil {
		restore.Report.Categories = make(map[string]store.CategoryOutcome, len(order))
	}

	for i, category := range order {
		restore.Report.CurrentCategory = category
		restore.Report.Progress = i * 100 / len(order)
		if err := o.restores.Update(ctx, restore); err != nil {
			return err
		}

		outcome, err := o.applyCategory(ctx, reader, resolver, restoreType, categoryTables[category])
		if err != nil {
			restore.Report.Errors = append(restore.Report.Errors,
				fmt.Sprintf("category %s: %v", category, err))
			return err
		}
		restore.Report.Categories[category] = outcome
	}

	return nil
}

// planCategories groups the archive's tables by category, keeps the selected
// ones and orders tables within each so parents restore before children.
func (o *RestoreOrchestrator) planCategories(ctx context.Context, reader *packaging.Reader, selected map[string]bool) (map[string][]discovery.TableRef, []string, error) {
	var refs []discovery.TableRef
	for _, name := range reader.Tables() {
		ref, err := discovery.ParseTableRef(name)
		if err != nil {
			return nil, nil, errors.NewIntegrityError(
				fmt.Sprintf("archive contains malformed table name %q", name), err)
		}
		refs = append(refs, ref)
	}

	fks, err := o.discovery.ForeignKeys(ctx, refs)
	if err != nil {
		return nil, nil, err
	}
	ordered := discovery.OrderTables(refs, fks, o.logger)

	categoryTables := make(map[string][]discovery.TableRef)
	var order []string
	for _, table := range ordered {
		category := o.discovery.Categorize(table)
		if !selected[category] {
			continue
		}
		if _, seen := categoryTables[category]; !seen {
			order = append(order, category)
		}
		categoryTables[category] = append(categoryTables[category], table)
	}
	// Categories apply in the order the dependency-sorted tables first
	// reach them, so parent tables never restore after their children.
	return categoryTables, order, nil
}

// clearTables deletes the tenant's rows from every selected table inside one
// transaction. Tables clear in reverse dependency order: a child's rows are
// gone before its parent's rows go, so no foreign key ever blocks a delete.
func (o *RestoreOrchestrator) clearTables(ctx context.Context, ordered []discovery.TableRef) error {
	tx, err := o.writer.Begin(ctx)
	if err != nil {
		return err
	}

	for i := len(ordered) - 1; i >= 0; i-- {
		table := ordered[i]
		if _, err := o.discovery.GetTableSchema(ctx, table); err != nil {
			if errors.IsType(err, errors.ErrorTypeNotFound) ||
				errors.IsType(err, errors.ErrorTypeSchemaIncompatible) {
				continue
			}
			tx.Rollback()
			return err
		}
		if _, err := o.writer.DeleteTenantRows(ctx, tx, table, o.config.TenantColumn); err != nil {
			tx.Rollback()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.NewDatabaseError("failed to commit clearing pass", err)
	}
	return nil
}

// applyCategory restores one category's tables inside a single transaction
func (o *RestoreOrchestrator) applyCategory(ctx context.Context, reader *packaging.Reader, resolver *Resolver, restoreType plan.RestoreType, tables []discovery.TableRef) (store.CategoryOutcome, error) {
	var outcome store.CategoryOutcome

	tx, err := o.writer.Begin(ctx)
	if err != nil {
		return outcome, err
	}

	for _, table := range tables {
		schema, err := o.discovery.GetTableSchema(ctx, table)
		if err != nil {
			// Archives can reference tables dropped since the backup was
			// taken; their data is dropped rather than failing the category.
			if errors.IsType(err, errors.ErrorTypeNotFound) ||
				errors.IsType(err, errors.ErrorTypeSchemaIncompatible) {
				o.logger.Warnf("table %s no longer exists, dropping its backup data", table)
				continue
			}
			tx.Rollback()
			return store.CategoryOutcome{}, err
		}

		tableOutcome, err := o.applyTable(ctx, tx, reader, resolver, restoreType,
			table, schema.Columns)
		if err != nil {
			tx.Rollback()
			return store.CategoryOutcome{}, err
		}
		outcome.Inserted += tableOutcome.Inserted
		outcome.Updated += tableOutcome.Updated
		outcome.Skipped += tableOutcome.Skipped
	}

	if err := tx.Commit(); err != nil {
		return store.CategoryOutcome{}, errors.NewDatabaseError("failed to commit category", err)
	}
	return outcome, nil
}

// applyTable streams one table's backup rows through conflict resolution.
// Full restores cleared the table beforehand, so every row inserts; the
// other types look up each row and resolve.
func (o *RestoreOrchestrator) applyTable(ctx context.Context, sqlTx *sql.Tx, reader *packaging.Reader, resolver *Resolver, restoreType plan.RestoreType, table discovery.TableRef, currentColumns []discovery.Column) (store.CategoryOutcome, error) {
	var outcome store.CategoryOutcome

	err := reader.ReadTable(table.String(), extract.DefaultChunkSize, func(batch []extract.Row) error {
		for _, row := range batch {
			columns := extract.WritableColumns(row, currentColumns)
			if len(columns) == 0 {
				continue
			}

			if restoreType == plan.RestoreTypeFull {
				if err := o.writer.InsertRows(ctx, sqlTx, table, columns, []extract.Row{row}); err != nil {
					return err
				}
				outcome.Inserted++
				continue
			}

			id := row[o.config.IDColumn]
			existing, found, err := o.writer.ExistingRow(ctx, sqlTx, table,
				o.config.TenantColumn, o.config.IDColumn, id)
			if err != nil {
				return err
			}
			var existingRow extract.Row
			if found {
				existingRow = existing
			}

			resolution, err := resolver.Resolve(table.Name, id, row, existingRow)
			if err != nil {
				return err
			}

			switch resolution.Action {
			case ActionInsert:
				if err := o.writer.InsertRows(ctx, sqlTx, table, columns, []extract.Row{resolution.Row}); err != nil {
					return err
				}
				outcome.Inserted++
			case ActionUpdate:
				updateColumns := extract.WritableColumns(resolution.Row, currentColumns)
				if err := o.writer.UpdateRow(ctx, sqlTx, table,
					o.config.TenantColumn, o.config.IDColumn, updateColumns, resolution.Row); err != nil {
					return err
				}
				outcome.Updated++
			case ActionSkip:
				outcome.Skipped++
			}
		}
		return nil
	})
	return outcome, err
}

// fail marks the restore failed with the cause on the record
func (o *RestoreOrchestrator) fail(ctx context.Context, restore *store.Restore, cause error) {
	// The job context may already be canceled or past its deadline; the
	// failure must still reach the record.
	ctx = context.WithoutCancel(ctx)

	restore.Status = store.RestoreStatusFailed
	restore.Error = cause.Error()
	restore.Report.CurrentCategory = ""
	if err := o.restores.Update(ctx, restore); err != nil {
		o.logger.Errorf("could not mark restore %s failed: %v", restore.ID, err)
		return
	}
	o.logger.LogRestoreLifecycle(restore.OrgID, restore.ID,
		string(store.RestoreStatusProcessing), string(store.RestoreStatusFailed))
	o.appendAudit(ctx, restore.OrgID, "restore.failed", restore.ID, cause.Error())
}

// Rollback reverts a completed restore to its safety backup. It only works
// inside the rollback window; afterwards the safety backup may already be
// pruned and the restore is final.
func (o *RestoreOrchestrator) Rollback(ctx context.Context, orgID, restoreID string) error {
	restore, err := o.restores.Get(ctx, orgID, restoreID)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if restore.Status != store.RestoreStatusCompleted {
		return errors.NewValidationError(
			fmt.Sprintf("restore %s is %s; only completed restores roll back",
				restore.RestoreNumber, restore.Status), nil)
	}
	if !restore.RollbackOpen(now) {
		return errors.NewRollbackExpiredError(
			fmt.Sprintf("the rollback window for restore %s closed at %s",
				restore.RestoreNumber, restore.RollbackExpiresAt.Format(time.RFC3339)), nil)
	}
	if restore.SafetyBackupID == "" {
		return errors.NewIntegrityError(
			fmt.Sprintf("restore %s has no safety backup", restore.RestoreNumber), nil)
	}

	busy, err := o.restores.HasProcessing(ctx, orgID)
	if err != nil {
		return err
	}
	if busy {
		return errors.NewValidationError(
			"another restore is running for this organization; roll back after it finishes", nil)
	}

	safety, err := o.backups.Get(ctx, orgID, restore.SafetyBackupID)
	if err != nil {
		return err
	}

	reader, err := o.openArchive(extract.WithTenant(ctx, orgID), safety)
	if err != nil {
		return err
	}

	// Replaying the safety backup as a full replace restores the exact
	// pre-restore state for every category the restore touched.
	resolver, err := NewResolver(store.StrategyReplace, nil)
	if err != nil {
		return err
	}
	rollbackState := *restore
	rollbackState.Type = plan.RestoreTypeFull
	if err := o.applyArchive(extract.WithTenant(ctx, orgID), &rollbackState, reader, resolver, plan.RestoreTypeFull); err != nil {
		return err
	}

	restore.Status = store.RestoreStatusRolledBack
	restore.Report = rollbackState.Report
	restore.Report.CurrentCategory = ""
	restore.Report.Progress = 100
	if err := o.restores.Update(ctx, restore); err != nil {
		return err
	}
	o.logger.LogRestoreLifecycle(orgID, restore.ID,
		string(store.RestoreStatusCompleted), string(store.RestoreStatusRolledBack))
	o.appendAudit(ctx, orgID, "restore.rolled_back", restore.ID, restore.RestoreNumber)
	return nil
}

func (o *RestoreOrchestrator) appendAudit(ctx context.Context, orgID, action, targetID, detail string) {
	entry := &store.AuditEntry{
		ID:        uuid.New().String(),
		OrgID:     orgID,
		Action:    action,
		TargetID:  targetID,
		Detail:    detail,
		CreatedAt: time.Now().UTC(),
	}
	if err := o.audit.Append(ctx, entry); err != nil {
		o.logger.Warnf("could not append audit entry %s: %v", action, err)
	}
}

func categoryNames(summary *store.Summary) []string {
	names := make([]string, 0, len(summary.Categories))
	for name := range summary.Categories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
