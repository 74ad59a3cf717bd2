package engine

import (
	"bytes"
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/extract"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/storage"
	"org-backup-engine/internal/store"
)

func TestBackup_EndToEnd(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
		campaignRow("2", "org-a", "Summer Push", "2026-08-02 10:00:00"),
	)

	backup := h.runBackup(t, "org-a", BackupRequest{Name: "august"})

	assert.Regexp(t, `^BKUP-\d{4}-\d{3,}$`, backup.BackupNumber)
	assert.NotNil(t, backup.CompletedAt)
	assert.NotNil(t, backup.ExpiresAt)
	assert.NotNil(t, backup.Snapshot)

	require.NotNil(t, backup.Summary)
	assert.Equal(t, int64(2), backup.Summary.TotalRecords)
	assert.Equal(t, int64(2), backup.Summary.Categories["campaigns"].Records)

	// The stored archive matches its recorded checksum and reads back whole
	data, err := h.stores["local"].Get(ctx, backup.Path)
	require.NoError(t, err)
	assert.Equal(t, int64(len(data)), backup.SizeBytes)
	assert.True(t, packaging.VerifyChecksum(data, backup.Checksum))

	reader, err := packaging.NewReader(data, packaging.NewCompressionManager())
	require.NoError(t, err)
	assert.Equal(t, []string{"app.campaigns"}, reader.Tables())

	snapshot, err := reader.Snapshot()
	require.NoError(t, err)
	assert.Contains(t, snapshot.Tables, "app.campaigns")

	var restored []extract.Row
	require.NoError(t, reader.ReadTable("app.campaigns", 0, func(batch []extract.Row) error {
		restored = append(restored, batch...)
		return nil
	}))
	require.Len(t, restored, 2)
	assert.Equal(t, "Spring Sale", restored[0]["name"])
	assert.Equal(t, "org-a", restored[0]["org_id"])

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestBackup_QuotaDeniedAtRequestTime(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()

	// Free tier allows two backups per calendar month
	for i := 0; i < 2; i++ {
		require.NoError(t, h.memory.Backups.Create(ctx, &store.Backup{
			ID:        uuid.New().String(),
			OrgID:     "org-a",
			Type:      store.BackupTypeManual,
			Status:    store.BackupStatusCompleted,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	_, err := h.backupOrch.Request(ctx, "org-a", BackupRequest{Name: "third"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuota))

	// Another tenant's quota is untouched
	_, err = h.backupOrch.Request(ctx, "org-b", BackupRequest{Name: "first"})
	assert.NoError(t, err)

	// Safety backups ride on restores and never consume quota
	_, err = h.backupOrch.Request(ctx, "org-a", BackupRequest{
		Name: "pre-restore", Type: store.BackupTypeSafety,
	})
	assert.NoError(t, err)
}

func TestBackup_FailedBackupsDoNotCountTowardQuota(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, h.memory.Backups.Create(ctx, &store.Backup{
			ID:        uuid.New().String(),
			OrgID:     "org-a",
			Type:      store.BackupTypeManual,
			Status:    store.BackupStatusFailed,
			CreatedAt: now,
			UpdatedAt: now,
		}))
	}

	_, err := h.backupOrch.Request(ctx, "org-a", BackupRequest{Name: "fresh"})
	assert.NoError(t, err)
}

func TestBackup_PlanGatesDiskAndEncryption(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	_, err := h.backupOrch.Request(ctx, "org-a", BackupRequest{Name: "b", Disk: "s3"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.backupOrch.Request(ctx, "org-a", BackupRequest{Name: "b", Encrypt: true})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.backupOrch.Request(ctx, "org-a", BackupRequest{Name: "b", Compression: "lzma"})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBackup_EncryptedArchive(t *testing.T) {
	h := newHarness(t, plan.TierPro)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)

	backup := h.runBackup(t, "org-a", BackupRequest{Name: "secret", Encrypt: true})
	assert.True(t, backup.Encrypted)
	assert.NotEmpty(t, backup.KeyRef)

	data, err := h.stores["local"].Get(ctx, backup.Path)
	require.NoError(t, err)

	// Ciphertext is not a readable container
	_, err = packaging.NewReader(data, packaging.NewCompressionManager())
	assert.Error(t, err)

	// The tenant's derived key opens it
	key, err := packaging.NewKeyManager(testMasterKey())
	require.NoError(t, err)
	plaintext, err := packaging.Decrypt(data, key.TenantKey("org-a"))
	require.NoError(t, err)
	reader, err := packaging.NewReader(plaintext, packaging.NewCompressionManager())
	require.NoError(t, err)
	assert.Equal(t, []string{"app.campaigns"}, reader.Tables())
}

func TestBackup_FailureMarksRecordFailed(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns`").
		WillReturnError(assert.AnError)

	req := BackupRequest{Name: "doomed"}
	backup, err := h.backupOrch.Request(ctx, "org-a", req)
	require.NoError(t, err)

	err = h.backupOrch.Execute(ctx, "org-a", backup.ID, req)
	assert.True(t, errors.IsType(err, errors.ErrorTypeDatabase))

	failed, err := h.memory.Backups.Get(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	exists, err := h.stores["local"].Exists(ctx, backup.Path)
	require.NoError(t, err)
	assert.False(t, exists, "no partial archive may survive a failed backup")

	entries, err := h.memory.Audit.List(ctx, "org-a", 10)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Equal(t, "backup.failed", entries[0].Action)
}

func TestBackup_NoTablesMatchCategories(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	req := BackupRequest{Name: "empty", Categories: []string{"analytics"}}
	backup, err := h.backupOrch.Request(ctx, "org-a", req)
	require.NoError(t, err)

	err = h.backupOrch.Execute(ctx, "org-a", backup.ID, req)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	failed, err := h.memory.Backups.Get(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusFailed, failed.Status)
}

func TestBackup_ExecuteRejectsNonPending(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	req := BackupRequest{Name: "once"}
	backup := h.runBackup(t, "org-a", req)

	err := h.backupOrch.Execute(ctx, "org-a", backup.ID, req)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestBackup_MarkExpired(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)

	data := []byte("archive bytes")
	require.NoError(t, h.stores["local"].Put(ctx, "org_backups/org-a/old.zip",
		bytes.NewReader(data), storageMeta("org-a")))

	require.NoError(t, h.memory.Backups.Create(ctx, &store.Backup{
		ID:        "old",
		OrgID:     "org-a",
		Type:      store.BackupTypeManual,
		Status:    store.BackupStatusCompleted,
		Disk:      "local",
		Path:      "org_backups/org-a/old.zip",
		ExpiresAt: &past,
		CreatedAt: now.Add(-48 * time.Hour),
		UpdatedAt: now.Add(-48 * time.Hour),
	}))
	future := now.Add(time.Hour)
	require.NoError(t, h.memory.Backups.Create(ctx, &store.Backup{
		ID:        "fresh",
		OrgID:     "org-a",
		Type:      store.BackupTypeManual,
		Status:    store.BackupStatusCompleted,
		Disk:      "local",
		Path:      "org_backups/org-a/fresh.zip",
		ExpiresAt: &future,
		CreatedAt: now,
		UpdatedAt: now,
	}))

	expired, err := h.backupOrch.MarkExpired(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, expired)

	old, err := h.memory.Backups.Get(ctx, "org-a", "old")
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusExpired, old.Status)

	exists, err := h.stores["local"].Exists(ctx, "org_backups/org-a/old.zip")
	require.NoError(t, err)
	assert.False(t, exists)

	fresh, err := h.memory.Backups.Get(ctx, "org-a", "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, fresh.Status)
}

// TestBackup_ExecuteAppliesRequestDefaults replays the caller's unfilled
// request through Execute the way a queued job does, and expects the
// orchestrator defaults to hold on both paths.
func TestBackup_ExecuteAppliesRequestDefaults(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	req := BackupRequest{Name: "defaults"}
	backup, err := h.backupOrch.Request(ctx, "org-a", req)
	require.NoError(t, err)
	assert.Equal(t, "local", backup.Disk)

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	require.NoError(t, h.backupOrch.Execute(ctx, "org-a", backup.ID, req))

	completed, err := h.memory.Backups.Get(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, completed.Status)
	assert.Equal(t, store.BackupTypeManual, completed.Type)

	data, err := h.stores["local"].Get(ctx, completed.Path)
	require.NoError(t, err)
	reader, err := packaging.NewReader(data, packaging.NewCompressionManager())
	require.NoError(t, err)
	manifest, err := reader.Manifest()
	require.NoError(t, err)
	assert.Equal(t, packaging.CompressionTypeGzip, manifest.Compression)
}

// transientStore fails the first Put attempts with a retryable storage error
type transientStore struct {
	storage.ArchiveStore
	failures int
}

func (s *transientStore) Put(ctx context.Context, path string, contents io.Reader, meta storage.ObjectMetadata) error {
	if s.failures > 0 {
		s.failures--
		return errors.NewStorageError("upload interrupted", nil)
	}
	return s.ArchiveStore.Put(ctx, path, contents, meta)
}

func TestBackup_TransientFailureReturnsRecordToPending(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	h.stores["local"] = &transientStore{ArchiveStore: h.stores["local"], failures: 1}

	req := BackupRequest{Name: "flaky"}
	backup, err := h.backupOrch.Request(ctx, "org-a", req)
	require.NoError(t, err)

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	err = h.backupOrch.Execute(ctx, "org-a", backup.ID, req)
	assert.True(t, errors.IsType(err, errors.ErrorTypeStorage))

	pending, err := h.memory.Backups.Get(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusPending, pending.Status,
		"a transient failure must leave the backup retryable")
	assert.NotEmpty(t, pending.Error)

	// The next attempt runs the pipeline again and succeeds
	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	require.NoError(t, h.backupOrch.Execute(ctx, "org-a", backup.ID, req))

	completed, err := h.memory.Backups.Get(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusCompleted, completed.Status)
	assert.Empty(t, completed.Error)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

// ctxBoundBackups rejects writes once the caller's context is finished,
// mirroring how a real metadata database behaves.
type ctxBoundBackups struct {
	store.BackupRepository
}

func (r *ctxBoundBackups) Update(ctx context.Context, backup *store.Backup) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.BackupRepository.Update(ctx, backup)
}

func TestBackup_FailureRecordedAfterJobDeadline(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	orch := NewBackupOrchestrator(&ctxBoundBackups{h.memory.Backups}, h.memory.Audit,
		h.discovery, h.extractor, h.compression, h.keys, h.stores, h.plans, nil,
		BackupConfig{}, h.logger)

	req := BackupRequest{Name: "slow"}
	backup, err := orch.Request(context.Background(), "org-a", req)
	require.NoError(t, err)

	// The extraction outlives the job budget
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns`").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlRows())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = orch.Execute(ctx, "org-a", backup.ID, req)
	require.Error(t, err)

	failed, err := h.memory.Backups.Get(context.Background(), "org-a", backup.ID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupStatusFailed, failed.Status,
		"the failure must reach the record even though the job context is done")
	assert.NotEmpty(t, failed.Error)
}
