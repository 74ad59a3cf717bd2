package engine

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/store"
)

func seedCompletedBackup(t *testing.T, h *harness, orgID, id string) *store.Backup {
	t.Helper()
	now := time.Now().UTC()
	backup := &store.Backup{
		ID:           id,
		OrgID:        orgID,
		BackupNumber: "BKUP-2026-001",
		Name:         "seeded",
		Type:         store.BackupTypeManual,
		Status:       store.BackupStatusCompleted,
		Disk:         "local",
		Path:         "org_backups/" + orgID + "/" + id + ".zip",
		Snapshot: &discovery.Snapshot{
			Version:   discovery.SnapshotVersion,
			CreatedAt: now,
			Tables: map[string][]discovery.Column{
				"app.campaigns": campaignColumns(),
			},
		},
		Summary: &store.Summary{
			TotalRecords: 1,
			Categories: map[string]store.CategorySummary{
				"campaigns": {Records: 1},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	require.NoError(t, h.memory.Backups.Create(context.Background(), backup))
	return backup
}

func TestRestoreCreate_Validations(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	backup := seedCompletedBackup(t, h, "org-a", "b1")

	_, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective, Strategy: "overwrite",
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: "partial",
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// Free plan only allows selective restores
	_, err = h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeFull,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective,
		Categories: []string{"analytics"},
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	// Another tenant cannot see, let alone restore, this backup
	_, err = h.restoreOrch.Create(ctx, "org-b", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))
}

func TestRestoreCreate_RefusesBusyTenant(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "r0", OrgID: "org-a", BackupID: "b0",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusProcessing, CreatedAt: now, UpdatedAt: now,
	}))

	_, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: "b1", Type: plan.RestoreTypeSelective,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already running")
}

func TestRestoreCreate_SchemaGapsNeedAcknowledgment(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	backup := seedCompletedBackup(t, h, "org-a", "b1")
	backup.Snapshot.Tables["app.legacy"] = []discovery.Column{
		{Name: "id", DataType: "bigint"},
		{Name: "org_id", DataType: "varchar"},
	}
	require.NoError(t, h.memory.Backups.Update(ctx, backup))

	analysis, err := h.restoreOrch.Analyze(ctx, "org-a", backup.ID)
	require.NoError(t, err)
	assert.False(t, analysis.Compatible)
	assert.NotEmpty(t, analysis.Warnings)

	_, err = h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective,
	})
	assert.True(t, errors.IsType(err, errors.ErrorTypeSchemaIncompatible))

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective,
		AcknowledgeSchemaGaps: true,
	})
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusAwaitingConfirmation, restore.Status)
	assert.Equal(t, []string{"campaigns"}, restore.Categories)
	assert.Equal(t, store.StrategyAsk, restore.Strategy)
}

func TestRestoreStart_RequiresAcknowledgment(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	backup := seedCompletedBackup(t, h, "org-a", "b1")

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
	})
	require.NoError(t, err)

	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, false)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	started, err := h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusProcessing, started.Status)
	assert.True(t, started.Acknowledged)

	// A processing restore cannot be started again
	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRestoreSetDecisions(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	backup := seedCompletedBackup(t, h, "org-a", "b1")

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective,
	})
	require.NoError(t, err)

	// "ask" is a question, not an answer
	_, err = h.restoreOrch.SetDecisions(ctx, "org-a", restore.ID,
		map[string]store.ConflictStrategy{"campaigns:1": store.StrategyAsk})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	updated, err := h.restoreOrch.SetDecisions(ctx, "org-a", restore.ID,
		map[string]store.ConflictStrategy{"campaigns:1": store.StrategyReplace})
	require.NoError(t, err)
	assert.Equal(t, store.StrategyReplace, updated.Decisions["campaigns:1"])

	updated, err = h.restoreOrch.SetDecisions(ctx, "org-a", restore.ID,
		map[string]store.ConflictStrategy{"campaigns:2": store.StrategySkip})
	require.NoError(t, err)
	assert.Len(t, updated.Decisions, 2, "decisions accumulate across calls")

	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)
	_, err = h.restoreOrch.SetDecisions(ctx, "org-a", restore.ID,
		map[string]store.ConflictStrategy{"campaigns:3": store.StrategySkip})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

// TestRestore_EndToEnd walks the whole lifecycle: backup, selective restore
// with a replace strategy, then rollback to the safety backup.
func TestRestore_EndToEnd(t *testing.T) {
	h := newHarness(t, plan.TierPro)
	ctx := context.Background()

	// Take the backup that will be restored
	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	backup := h.runBackup(t, "org-a", BackupRequest{Name: "before-changes"})

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID,
		Type:     plan.RestoreTypeSelective,
		Strategy: store.StrategyReplace,
	})
	require.NoError(t, err)
	assert.Regexp(t, `^RST-\d{4}-\d{3,}$`, restore.RestoreNumber)

	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)

	// The safety backup snapshots the row as it is now
	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Renamed Sale", "2026-08-20 09:00:00"),
	)
	// Then the restore looks the row up and replaces it
	h.mock.ExpectBegin()
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns` WHERE `org_id` = \\? AND `id` = \\?").
		WithArgs("org-a", "1").
		WillReturnRows(sqlRows(campaignRow("1", "org-a", "Renamed Sale", "2026-08-20 09:00:00")))
	h.mock.ExpectExec("UPDATE `app`\\.`campaigns` SET `name` = \\?, `updated_at` = \\? WHERE `org_id` = \\? AND `id` = \\?").
		WithArgs("Spring Sale", "2026-08-01 10:00:00", "org-a", "1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	require.NoError(t, h.restoreOrch.Execute(ctx, "org-a", restore.ID))

	completed, err := h.memory.Restores.Get(ctx, "org-a", restore.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusCompleted, completed.Status)
	assert.Equal(t, 100, completed.Report.Progress)
	assert.Equal(t, int64(1), completed.Report.Categories["campaigns"].Updated)
	assert.NotEmpty(t, completed.SafetyBackupID)
	require.NotNil(t, completed.RollbackExpiresAt)
	assert.True(t, completed.RollbackExpiresAt.After(time.Now().UTC()))

	// The safety backup exists but consumed no quota
	safety, err := h.memory.Backups.Get(ctx, "org-a", completed.SafetyBackupID)
	require.NoError(t, err)
	assert.Equal(t, store.BackupTypeSafety, safety.Type)
	assert.False(t, safety.CountsTowardQuota())

	// Rolling back replays the safety backup as a full replace: the clearing
	// pass commits on its own, then the data goes back in.
	h.mock.ExpectBegin()
	h.mock.ExpectExec("DELETE FROM `app`\\.`campaigns` WHERE `org_id` = \\?").
		WithArgs("org-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectBegin()
	h.mock.ExpectExec("INSERT INTO `app`\\.`campaigns` \\(`id`, `name`, `org_id`, `updated_at`\\) VALUES \\(\\?, \\?, \\?, \\?\\)").
		WithArgs("1", "Renamed Sale", "org-a", "2026-08-20 09:00:00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	require.NoError(t, h.restoreOrch.Rollback(ctx, "org-a", restore.ID))

	rolledBack, err := h.memory.Restores.Get(ctx, "org-a", restore.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusRolledBack, rolledBack.Status)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRestoreExecute_SafetyBackupFailureAborts(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"),
	)
	backup := h.runBackup(t, "org-a", BackupRequest{Name: "before"})

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
	})
	require.NoError(t, err)
	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)

	// The safety extraction fails, so nothing may be mutated
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns`").
		WillReturnError(assert.AnError)

	err = h.restoreOrch.Execute(ctx, "org-a", restore.ID)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFatal))

	failed, err := h.memory.Restores.Get(ctx, "org-a", restore.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusFailed, failed.Status)
	assert.NotEmpty(t, failed.Error)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRestoreRollback_WindowAndState(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()
	past := now.Add(-time.Hour)
	completedAt := now.Add(-25 * time.Hour)

	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "expired", OrgID: "org-a", BackupID: "b1",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusCompleted, SafetyBackupID: "s1",
		CompletedAt: &completedAt, RollbackExpiresAt: &past,
		CreatedAt: completedAt, UpdatedAt: completedAt,
	}))
	err := h.restoreOrch.Rollback(ctx, "org-a", "expired")
	assert.True(t, errors.IsType(err, errors.ErrorTypeRollbackExpired))

	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "running", OrgID: "org-a", BackupID: "b1",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusProcessing,
		CreatedAt: now, UpdatedAt: now,
	}))
	err = h.restoreOrch.Rollback(ctx, "org-a", "running")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	future := now.Add(time.Hour)
	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "orphan", OrgID: "org-a", BackupID: "b1",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusCompleted,
		CompletedAt: &now, RollbackExpiresAt: &future,
		CreatedAt: now, UpdatedAt: now,
	}))
	err = h.restoreOrch.Rollback(ctx, "org-a", "orphan")
	assert.True(t, errors.IsType(err, errors.ErrorTypeIntegrity))
}

func TestRestoreRollback_RefusesWhileAnotherRestoreRuns(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	ctx := context.Background()
	now := time.Now().UTC()
	future := now.Add(time.Hour)

	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "done", OrgID: "org-a", BackupID: "b1",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusCompleted, SafetyBackupID: "s1",
		CompletedAt: &now, RollbackExpiresAt: &future,
		CreatedAt: now, UpdatedAt: now,
	}))
	require.NoError(t, h.memory.Restores.Create(ctx, &store.Restore{
		ID: "running", OrgID: "org-a", BackupID: "b2",
		Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
		Status: store.RestoreStatusProcessing,
		CreatedAt: now, UpdatedAt: now,
	}))

	err := h.restoreOrch.Rollback(ctx, "org-a", "done")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
	assert.Contains(t, err.Error(), "another restore is running")
}

func metricsColumns() []discovery.Column {
	return []discovery.Column{
		{Name: "id", DataType: "varchar"},
		{Name: "org_id", DataType: "varchar"},
		{Name: "campaign_id", DataType: "bigint", References: "app.campaigns"},
		{Name: "clicks", DataType: "bigint"},
	}
}

// newCampaignMetricsHarness serves two tables where campaign_metrics holds a
// foreign key onto campaigns.
func newCampaignMetricsHarness(t *testing.T, tier plan.Tier) *harness {
	t.Helper()
	campaigns := discovery.TableRef{Schema: "app", Name: "campaigns"}
	metrics := discovery.TableRef{Schema: "app", Name: "campaign_metrics"}
	return newHarnessWithCatalog(t, tier, &fakeCatalog{
		tables: []discovery.TableRef{campaigns, metrics},
		columns: map[string][]discovery.Column{
			"app.campaigns":        campaignColumns(),
			"app.campaign_metrics": metricsColumns(),
		},
		fks: map[string][]discovery.ForeignKey{
			"app.campaign_metrics": {{
				Table: metrics, Column: "campaign_id",
				RefTable: campaigns, RefColumn: "id",
			}},
		},
	})
}

func (h *harness) expectMetricsExtraction(orgID string, rows ...[]driverValue) {
	result := sqlmock.NewRows([]string{"id", "org_id", "campaign_id", "clicks"})
	for _, row := range rows {
		result.AddRow(row[0], row[1], row[2], row[3])
	}
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaign_metrics` WHERE `org_id` = \\?").
		WithArgs(orgID).
		WillReturnRows(result)
}

// TestRestoreFull_ClearsChildrenBeforeParents backs up a campaign and its
// metrics row, then runs a full restore. The clearing pass must delete the
// child table before the parent so the metrics foreign key never blocks the
// campaign delete.
func TestRestoreFull_ClearsChildrenBeforeParents(t *testing.T) {
	h := newCampaignMetricsHarness(t, plan.TierPro)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"))
	h.expectMetricsExtraction("org-a",
		[]driverValue{"m1", "org-a", "1", "250"})
	backup := h.runBackup(t, "org-a", BackupRequest{Name: "with-metrics"})

	restore, err := h.restoreOrch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeFull, Strategy: store.StrategyReplace,
	})
	require.NoError(t, err)
	_, err = h.restoreOrch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)

	// The safety backup snapshots both tables first
	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"))
	h.expectMetricsExtraction("org-a",
		[]driverValue{"m1", "org-a", "1", "250"})

	// The clearing pass empties campaign_metrics before campaigns
	h.mock.ExpectBegin()
	h.mock.ExpectExec("DELETE FROM `app`\\.`campaign_metrics` WHERE `org_id` = \\?").
		WithArgs("org-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectExec("DELETE FROM `app`\\.`campaigns` WHERE `org_id` = \\?").
		WithArgs("org-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	// Then the data returns parents first, one transaction per category
	h.mock.ExpectBegin()
	h.mock.ExpectExec("INSERT INTO `app`\\.`campaigns` \\(`id`, `name`, `org_id`, `updated_at`\\) VALUES \\(\\?, \\?, \\?, \\?\\)").
		WithArgs("1", "Spring Sale", "org-a", "2026-08-01 10:00:00").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()
	h.mock.ExpectBegin()
	h.mock.ExpectExec("INSERT INTO `app`\\.`campaign_metrics` \\(`campaign_id`, `clicks`, `id`, `org_id`\\) VALUES \\(\\?, \\?, \\?, \\?\\)").
		WithArgs("1", "250", "m1", "org-a").
		WillReturnResult(sqlmock.NewResult(0, 1))
	h.mock.ExpectCommit()

	require.NoError(t, h.restoreOrch.Execute(ctx, "org-a", restore.ID))

	completed, err := h.memory.Restores.Get(ctx, "org-a", restore.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusCompleted, completed.Status)
	assert.Equal(t, int64(1), completed.Report.Categories["campaigns"].Inserted)
	assert.Equal(t, int64(1), completed.Report.Categories["analytics"].Inserted)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

// ctxBoundRestores rejects writes once the caller's context is finished,
// mirroring how a real metadata database behaves.
type ctxBoundRestores struct {
	store.RestoreRepository
}

func (r *ctxBoundRestores) Update(ctx context.Context, restore *store.Restore) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return r.RestoreRepository.Update(ctx, restore)
}

func TestRestoreExecute_FailureRecordedAfterJobDeadline(t *testing.T) {
	h := newHarness(t, plan.TierFree)
	orch := NewRestoreOrchestrator(&ctxBoundRestores{h.memory.Restores}, h.memory.Backups,
		h.memory.Audit, h.discovery, h.writer, h.compression, h.keys, h.stores, h.plans,
		h.backupOrch, RestoreConfig{}, h.logger)
	ctx := context.Background()

	h.expectCampaignExtraction("org-a",
		campaignRow("1", "org-a", "Spring Sale", "2026-08-01 10:00:00"))
	backup := h.runBackup(t, "org-a", BackupRequest{Name: "before"})

	restore, err := orch.Create(ctx, "org-a", RestoreRequest{
		BackupID: backup.ID, Type: plan.RestoreTypeSelective, Strategy: store.StrategySkip,
	})
	require.NoError(t, err)
	_, err = orch.Start(ctx, "org-a", restore.ID, true)
	require.NoError(t, err)

	// The safety extraction outlives the job budget
	h.mock.ExpectQuery("SELECT \\* FROM `app`\\.`campaigns`").
		WillDelayFor(200 * time.Millisecond).
		WillReturnRows(sqlRows())

	jobCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	err = orch.Execute(jobCtx, "org-a", restore.ID)
	require.Error(t, err)

	failed, err := h.memory.Restores.Get(ctx, "org-a", restore.ID)
	require.NoError(t, err)
	assert.Equal(t, store.RestoreStatusFailed, failed.Status,
		"the failure must reach the record even though the job context is done")
	assert.NotEmpty(t, failed.Error)
}
