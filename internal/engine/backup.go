package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/storage"
	"org-backup-engine/internal/store"
)

// PlanSource resolves a tenant's subscription tier
type PlanSource interface {
	TierFor(ctx context.Context, orgID string) (plan.Tier, error)
}

// StaticPlanSource maps tenants to tiers from a fixed table, falling back to
// a default tier for unknown tenants.
type StaticPlanSource struct {
	Tiers   map[string]plan.Tier
	Default plan.Tier
}

func (s *StaticPlanSource) TierFor(ctx context.Context, orgID string) (plan.Tier, error) {
	if tier, ok := s.Tiers[orgID]; ok {
		return tier, nil
	}
	if s.Default != "" {
		return s.Default, nil
	}
	return plan.DefaultTier, nil
}

// FileSource opens the uploaded files that tenant rows point at so they can
// be captured into the archive alongside the row data.
type FileSource interface {
	Open(path string) (io.ReadCloser, error)
}

// StoreRegistry maps disk identifiers to archive stores
type StoreRegistry map[string]storage.ArchiveStore

// Get returns the store for a disk
func (r StoreRegistry) Get(disk string) (storage.ArchiveStore, error) {
	if disk == "" {
		disk = "local"
	}
	archiveStore, ok := r[disk]
	if !ok {
		return nil, errors.NewConfigurationError(
			fmt.Sprintf("no archive store configured for disk %q", disk), nil)
	}
	return archiveStore, nil
}

// BackupRequest describes a backup a tenant wants taken
type BackupRequest struct {
	Name        string
	Description string
	Type        store.BackupType
	Categories  []string // empty means all categories
	Disk        string
	Encrypt     bool
	Compression packaging.CompressionType

	// RetentionDays shortens the plan's retention for this backup. It can
	// never extend past what the plan grants.
	RetentionDays int
}

// BackupConfig tunes the backup pipeline
type BackupConfig struct {
	TenantColumn       string
	DefaultCompression packaging.CompressionType
	ArchivePathPrefix  string
}

// SetDefaults fills unset fields
func (c *BackupConfig) SetDefaults() {
	if c.TenantColumn == "" {
		c.TenantColumn = "org_id"
	}
	if c.DefaultCompression == "" {
		c.DefaultCompression = packaging.CompressionTypeGzip
	}
	if c.ArchivePathPrefix == "" {
		c.ArchivePathPrefix = "org_backups"
	}
}

// BackupOrchestrator runs the backup pipeline: quota check, discovery,
// extraction, packaging and storage, with the metadata record tracking every
// state change.
type BackupOrchestrator struct {
	backups     store.BackupRepository
	audit       store.AuditRepository
	discovery   *discovery.Service
	extractor   *extract.Extractor
	compression *packaging.CompressionManager
	keys        *packaging.KeyManager
	stores      StoreRegistry
	plans       PlanSource
	files       FileSource
	config      BackupConfig
	logger      *logging.Logger
}

// NewBackupOrchestrator wires the backup pipeline. keys may be nil when
// encryption is not configured; files may be nil when uploaded-file capture
// is not wanted.
func NewBackupOrchestrator(
	backups store.BackupRepository,
	audit store.AuditRepository,
	discoverySvc *discovery.Service,
	extractor *extract.Extractor,
	compression *packaging.CompressionManager,
	keys *packaging.KeyManager,
	stores StoreRegistry,
	plans PlanSource,
	files FileSource,
	config BackupConfig,
	logger *logging.Logger,
) *BackupOrchestrator {
	config.SetDefaults()
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &BackupOrchestrator{
		backups:     backups,
		audit:       audit,
		discovery:   discoverySvc,
		extractor:   extractor,
		compression: compression,
		keys:        keys,
		stores:      stores,
		plans:       plans,
		files:       files,
		config:      config,
		logger:      logger,
	}
}

// Request validates a backup request against the tenant's plan, reserves a
// backup number and creates the pending metadata record. Quota is checked
// here, at request time, so an over-quota tenant is refused before any work
// is queued.
func (o *BackupOrchestrator) Request(ctx context.Context, orgID string, req BackupRequest) (*store.Backup, error) {
	if orgID == "" {
		return nil, errors.NewValidationError("organization id is required", nil)
	}
	if strings.TrimSpace(req.Name) == "" {
		return nil, errors.NewValidationError("backup name is required", nil)
	}
	req = o.normalize(req)
	if !packaging.ValidCompressionType(req.Compression) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("unknown compression algorithm %q", req.Compression), nil)
	}

	tier, err := o.plans.TierFor(ctx, orgID)
	if err != nil {
		return nil, err
	}
	limits := plan.LimitsFor(tier)

	if !plan.DiskAllowed(limits, req.Disk) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("storage disk %q is not available on the %s plan", req.Disk, tier), nil)
	}
	if req.Encrypt && !plan.CanUseEncryption(limits) {
		return nil, errors.NewValidationError(
			fmt.Sprintf("encryption is not available on the %s plan", tier), nil)
	}
	if req.Encrypt && o.keys == nil {
		return nil, errors.NewConfigurationError("no encryption key configured", nil)
	}

	now := time.Now().UTC()

	// Safety backups ride on the restore that triggered them and never
	// consume the tenant's quota.
	if req.Type != store.BackupTypeSafety {
		start, end := plan.MonthWindow(now)
		count, err := o.backups.CountInWindow(ctx, orgID, start, end)
		if err != nil {
			return nil, err
		}
		stored, err := o.backups.StoredBytes(ctx, orgID)
		if err != nil {
			return nil, err
		}
		decision := plan.CheckBackupAllowed(limits, plan.Usage{
			BackupsThisMonth: count,
			StorageUsedBytes: stored,
		})
		if !decision.Allowed {
			return nil, errors.NewQuotaError(decision.Reason, nil)
		}
	}

	seq, err := o.backups.NextSequence(ctx, orgID, now.Year())
	if err != nil {
		return nil, err
	}
	number := store.FormatBackupNumber(now.Year(), seq)

	expiry := plan.ExpiryFor(limits, now)
	if req.RetentionDays > 0 {
		if custom := now.AddDate(0, 0, req.RetentionDays); custom.Before(expiry) {
			expiry = custom
		}
	}
	keyRef := ""
	if req.Encrypt {
		keyRef = o.keys.KeyRef(orgID)
	}

	backup := &store.Backup{
		ID:           uuid.New().String(),
		OrgID:        orgID,
		BackupNumber: number,
		Name:         strings.TrimSpace(req.Name),
		Description:  req.Description,
		Type:         req.Type,
		Status:       store.BackupStatusPending,
		Disk:         req.Disk,
		Path:         fmt.Sprintf("%s/%s/%s.zip", o.config.ArchivePathPrefix, orgID, number),
		Encrypted:    req.Encrypt,
		KeyRef:       keyRef,
		ExpiresAt:    &expiry,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := o.backups.Create(ctx, backup); err != nil {
		return nil, err
	}

	o.appendAudit(ctx, orgID, "backup.requested", backup.ID,
		fmt.Sprintf("%s backup %s", backup.Type, number))
	o.logger.LogBackupLifecycle(orgID, backup.ID, "", string(store.BackupStatusPending))

	return backup, nil
}

// normalize fills the request defaults shared by validation and execution.
// Execution re-reads the caller's original request, so both paths must agree
// on the effective type, disk and compression.
func (o *BackupOrchestrator) normalize(req BackupRequest) BackupRequest {
	if req.Type == "" {
		req.Type = store.BackupTypeManual
	}
	if req.Disk == "" {
		req.Disk = "local"
	}
	if req.Compression == "" {
		req.Compression = o.config.DefaultCompression
	}
	return req
}

// Execute runs the pipeline for a previously requested backup. It is invoked
// from a worker and may be invoked again after a transient failure: such
// failures return the record to pending so the retry can pick it up, while
// permanent failures mark it failed with the message on the record. Either
// way a partially stored archive is removed.
func (o *BackupOrchestrator) Execute(ctx context.Context, orgID, backupID string, req BackupRequest) error {
	req = o.normalize(req)

	backup, err := o.backups.Get(ctx, orgID, backupID)
	if err != nil {
		return err
	}
	if !store.CanTransitionBackup(backup.Status, store.BackupStatusProcessing) {
		return errors.NewValidationError(
			fmt.Sprintf("backup %s is %s, not pending", backup.BackupNumber, backup.Status), nil)
	}

	backup.Status = store.BackupStatusProcessing
	if err := o.backups.Update(ctx, backup); err != nil {
		return err
	}
	o.logger.LogBackupLifecycle(orgID, backup.ID, string(store.BackupStatusPending), string(store.BackupStatusProcessing))

	stored, err := o.run(ctx, backup, req)
	if err != nil {
		o.discardPartialArchive(ctx, backup, stored)
		if errors.IsRetryable(errors.Classify(err)) && ctx.Err() == nil {
			o.requeue(ctx, backup, err)
		} else {
			o.fail(ctx, backup, err)
		}
		return err
	}

	now := time.Now().UTC()
	backup.Status = store.BackupStatusCompleted
	backup.CompletedAt = &now
	backup.Error = ""
	if err := o.backups.Update(ctx, backup); err != nil {
		return err
	}
	o.logger.LogBackupLifecycle(orgID, backup.ID, string(store.BackupStatusProcessing), string(store.BackupStatusCompleted))
	o.appendAudit(ctx, orgID, "backup.completed", backup.ID,
		fmt.Sprintf("%d records, %d bytes", backup.Summary.TotalRecords, backup.SizeBytes))
	return nil
}

// run performs discovery, extraction and packaging, storing the archive and
// filling the record's summary, snapshot, checksum and size. The returned
// bool reports whether archive bytes were stored, so failures can clean up.
func (o *BackupOrchestrator) run(ctx context.Context, backup *store.Backup, req BackupRequest) (bool, error) {
	orgID := backup.OrgID
	ctx = extract.WithTenant(ctx, orgID)

	tables, err := o.discovery.DiscoverTenantTables(ctx)
	if err != nil {
		return false, err
	}
	if len(req.Categories) > 0 {
		tables = o.discovery.TablesForCategories(tables, req.Categories)
		if len(tables) == 0 {
			return false, errors.NewValidationError(
				"no tables match the requested categories", nil)
		}
	}

	fks, err := o.discovery.ForeignKeys(ctx, tables)
	if err != nil {
		return false, err
	}
	ordered := discovery.OrderTables(tables, fks, o.logger)

	snapshot, err := o.discovery.CreateSnapshot(ctx, ordered)
	if err != nil {
		return false, err
	}

	// The archive spools to a temp file instead of memory, hashed as it is
	// written, so an archive larger than RAM still backs up.
	spool, err := os.CreateTemp("", "org-backup-*.zip")
	if err != nil {
		return false, errors.NewStorageError("could not create archive spool file", err)
	}
	defer func() {
		spool.Close()
		os.Remove(spool.Name())
	}()

	counter := packaging.NewChecksumWriter(spool)
	builder, err := packaging.NewBuilder(counter, req.Compression, o.compression)
	if err != nil {
		return false, err
	}
	if err := builder.WriteSnapshot(snapshot); err != nil {
		return false, err
	}

	manifest := packaging.NewManifest(orgID, req.Compression)
	manifest.Encrypted = backup.Encrypted
	manifest.KeyRef = backup.KeyRef

	filePaths := make(map[string]bool)
	for _, table := range ordered {
		category := o.discovery.Categorize(table)
		tw, err := builder.BeginTable(table.String())
		if err != nil {
			return false, err
		}

		result, err := o.extractor.ExtractTable(ctx, table, o.config.TenantColumn, func(batch []extract.Row) error {
			for _, row := range batch {
				collectFilePointers(row, filePaths)
			}
			return tw.WriteRows(batch)
		})
		if err != nil {
			return false, err
		}
		if err := tw.Close(); err != nil {
			return false, err
		}
		manifest.AddTable(category, table.String(), result.Rows, result.SizeBytes)
	}

	if o.files != nil && len(filePaths) > 0 {
		paths := make([]string, 0, len(filePaths))
		for path := range filePaths {
			paths = append(paths, path)
		}
		sort.Strings(paths)
		for _, path := range paths {
			rc, err := o.files.Open(path)
			if err != nil {
				// Dangling file pointers are common after uploads are
				// pruned; the rows still carry the path.
				o.logger.Warnf("skipping unreadable file %s: %v", path, err)
				continue
			}
			addErr := builder.AddFile(path, rc)
			rc.Close()
			if addErr != nil {
				return false, addErr
			}
			manifest.FileCount++
		}
	}

	if err := builder.Finish(manifest); err != nil {
		return false, err
	}
	if _, err := spool.Seek(0, io.SeekStart); err != nil {
		return false, errors.NewStorageError("could not rewind archive spool file", err)
	}

	// Encrypted archives seal as a single AES-GCM message, so the
	// ciphertext is built in memory; plain archives stream straight off
	// the spool.
	var (
		payload  io.Reader
		size     int64
		checksum string
	)
	if backup.Encrypted {
		raw, err := io.ReadAll(spool)
		if err != nil {
			return false, errors.NewStorageError("could not read archive spool file", err)
		}
		sealed, err := packaging.Encrypt(raw, o.keys.TenantKey(orgID))
		if err != nil {
			return false, err
		}
		payload = bytes.NewReader(sealed)
		size = int64(len(sealed))
		checksum = packaging.Checksum(sealed)
	} else {
		payload = spool
		size = counter.Written()
		checksum = counter.Sum()
	}

	tier, err := o.plans.TierFor(ctx, orgID)
	if err != nil {
		return false, err
	}
	limits := plan.LimitsFor(tier)
	if limits.MaxStorageBytes != plan.Unlimited {
		storedBytes, err := o.backups.StoredBytes(ctx, orgID)
		if err != nil {
			return false, err
		}
		if storedBytes+size > limits.MaxStorageBytes {
			return false, errors.NewQuotaError(fmt.Sprintf(
				"archive of %d bytes would exceed the %d byte storage limit",
				size, limits.MaxStorageBytes), nil)
		}
	}

	archiveStore, err := o.stores.Get(backup.Disk)
	if err != nil {
		return false, err
	}
	if err := archiveStore.Put(ctx, backup.Path, payload, storage.ObjectMetadata{
		OrgID:        orgID,
		BackupNumber: backup.BackupNumber,
		Checksum:     checksum,
		Encrypted:    backup.Encrypted,
	}); err != nil {
		return false, err
	}

	backup.SizeBytes = size
	backup.Checksum = checksum
	backup.Snapshot = snapshot
	backup.Summary = summaryFromManifest(manifest)
	return true, nil
}

// discardPartialArchive removes whatever a failed attempt stored
func (o *BackupOrchestrator) discardPartialArchive(ctx context.Context, backup *store.Backup, stored bool) {
	if !stored {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if archiveStore, err := o.stores.Get(backup.Disk); err == nil {
		if err := archiveStore.Delete(ctx, backup.Path); err != nil {
			o.logger.Warnf("could not remove partial archive %s: %v", backup.Path, err)
		}
	}
}

// requeue returns a backup to pending after a transient failure so the next
// attempt can run it again. The terminal failure is written only once the
// retry budget is exhausted.
func (o *BackupOrchestrator) requeue(ctx context.Context, backup *store.Backup, cause error) {
	backup.Status = store.BackupStatusPending
	backup.Error = cause.Error()
	if err := o.backups.Update(ctx, backup); err != nil {
		o.logger.Errorf("could not requeue backup %s: %v", backup.ID, err)
		return
	}
	o.logger.LogBackupLifecycle(backup.OrgID, backup.ID, string(store.BackupStatusProcessing), string(store.BackupStatusPending))
}

// fail marks the backup failed with the cause on the record
func (o *BackupOrchestrator) fail(ctx context.Context, backup *store.Backup, cause error) {
	// The job context may already be canceled or past its deadline; the
	// failure must still reach the record.
	ctx = context.WithoutCancel(ctx)

	backup.Status = store.BackupStatusFailed
	backup.Error = cause.Error()
	if err := o.backups.Update(ctx, backup); err != nil {
		o.logger.Errorf("could not mark backup %s failed: %v", backup.ID, err)
		return
	}
	o.logger.LogBackupLifecycle(backup.OrgID, backup.ID, string(store.BackupStatusProcessing), string(store.BackupStatusFailed))
	o.appendAudit(ctx, backup.OrgID, "backup.failed", backup.ID, cause.Error())
}

// MarkExpired sweeps completed backups past their retention window: the
// archive is removed from storage and the record transitions to expired.
// Expired backups free quota but their metadata stays for the audit trail.
func (o *BackupOrchestrator) MarkExpired(ctx context.Context, now time.Time) (int, error) {
	expirable, err := o.backups.ListExpirable(ctx, now)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, backup := range expirable {
		archiveStore, err := o.stores.Get(backup.Disk)
		if err == nil {
			if err := archiveStore.Delete(ctx, backup.Path); err != nil {
				o.logger.Warnf("could not remove expired archive %s: %v", backup.Path, err)
			}
		}

		backup.Status = store.BackupStatusExpired
		if err := o.backups.Update(ctx, backup); err != nil {
			o.logger.Errorf("could not mark backup %s expired: %v", backup.ID, err)
			continue
		}
		o.logger.LogBackupLifecycle(backup.OrgID, backup.ID, string(store.BackupStatusCompleted), string(store.BackupStatusExpired))
		o.appendAudit(ctx, backup.OrgID, "backup.expired", backup.ID, backup.BackupNumber)
		expired++
	}
	return expired, nil
}

func (o *BackupOrchestrator) appendAudit(ctx context.Context, orgID, action, targetID, detail string) {
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

// collectFilePointers records the file paths a row points at
func collectFilePointers(row extract.Row, into map[string]bool) {
	for col, value := range row {
		if !discovery.IsFilePointerColumn(col) {
			continue
		}
		path, ok := value.(string)
		if ok && path != "" {
			into[path] = true
		}
	}
}

// summaryFromManifest mirrors the manifest's per-category stats onto the
// metadata record.
func summaryFromManifest(m *packaging.Manifest) *store.Summary {
	summary := &store.Summary{
		TotalRecords: m.TotalRecords,
		TotalBytes:   m.TotalBytes,
		Categories:   make(map[string]store.CategorySummary, len(m.Categories)),
	}
	for name, stats := range m.Categories {
		summary.Categories[name] = store.CategorySummary{
			Records:   stats.Records,
			SizeBytes: stats.SizeBytes,
		}
	}
	return summary
}
