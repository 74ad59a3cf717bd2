package engine

import (
	"context"
	"fmt"
	"time"

	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/store"
)

// Service is the engine's public surface. Every operation takes the calling
// tenant's organization id and never reaches data owned by anyone else; a
// record belonging to another tenant is indistinguishable from one that does
// not exist.
type Service struct {
	backupOrch  *BackupOrchestrator
	restoreOrch *RestoreOrchestrator
	backups     store.BackupRepository
	restores    store.RestoreRepository
	audit       store.AuditRepository
	stores      StoreRegistry
	pool        *Pool
	logger      *logging.Logger
}

// NewService assembles the engine facade on top of the orchestrators and a
// running worker pool.
func NewService(
	backupOrch *BackupOrchestrator,
	restoreOrch *RestoreOrchestrator,
	backups store.BackupRepository,
	restores store.RestoreRepository,
	audit store.AuditRepository,
	stores StoreRegistry,
	pool *Pool,
	logger *logging.Logger,
) *Service {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Service{
		backupOrch:  backupOrch,
		restoreOrch: restoreOrch,
		backups:     backups,
		restores:    restores,
		audit:       audit,
		stores:      stores,
		pool:        pool,
		logger:      logger,
	}
}

// CreateBackup validates and records a backup request, then queues its
// execution. The returned record is pending; poll GetBackup for progress.
func (s *Service) CreateBackup(ctx context.Context, orgID string, req BackupRequest) (*store.Backup, error) {
	backup, err := s.backupOrch.Request(ctx, orgID, req)
	if err != nil {
		return nil, err
	}

	job := Job{
		ID:        backup.ID,
		OrgID:     orgID,
		Kind:      "backup",
		Exclusive: true,
		Run: func(jobCtx context.Context) error {
			return s.backupOrch.Execute(jobCtx, orgID, backup.ID, req)
		},
		Done: func(err error) {
			if err != nil {
				s.finishFailedBackup(orgID, backup.ID, err)
			}
		},
	}
	if err := s.pool.Submit(job); err != nil {
		// The record exists but nothing will run it; fail it immediately
		// rather than leaving a pending backup that never progresses.
		backup.Status = store.BackupStatusFailed
		backup.Error = err.Error()
		if updateErr := s.backups.Update(ctx, backup); updateErr != nil {
			s.logger.Errorf("could not fail unqueued backup %s: %v", backup.ID, updateErr)
		}
		return nil, err
	}
	return backup, nil
}

// finishFailedBackup writes the terminal failure once the pool has given up
// on a backup job. Transient attempts return the record to pending for the
// next try, so only the final error reaches a non-terminal record here.
func (s *Service) finishFailedBackup(orgID, backupID string, cause error) {
	ctx := context.Background()
	backup, err := s.backups.Get(ctx, orgID, backupID)
	if err != nil {
		s.logger.Errorf("could not load backup %s to record its failure: %v", backupID, err)
		return
	}
	if backup.Status != store.BackupStatusPending && backup.Status != store.BackupStatusProcessing {
		return
	}
	s.backupOrch.fail(ctx, backup, cause)
}

// ListBackups returns the tenant's backups, newest first
func (s *Service) ListBackups(ctx context.Context, orgID string) ([]*store.Backup, error) {
	return s.backups.List(ctx, orgID)
}

// GetBackup returns one backup's metadata
func (s *Service) GetBackup(ctx context.Context, orgID, backupID string) (*store.Backup, error) {
	return s.backups.Get(ctx, orgID, backupID)
}

// DownloadBackup returns the archive bytes after verifying their checksum.
// Corrupt archives are never served. Each successful download is counted on
// the record.
func (s *Service) DownloadBackup(ctx context.Context, orgID, backupID string) ([]byte, *store.Backup, error) {
	backup, err := s.backups.Get(ctx, orgID, backupID)
	if err != nil {
		return nil, nil, err
	}
	if !backup.Downloadable() {
		return nil, nil, errors.NewValidationError(
			fmt.Sprintf("backup %s is %s and cannot be downloaded",
				backup.BackupNumber, backup.Status), nil)
	}

	archiveStore, err := s.stores.Get(backup.Disk)
	if err != nil {
		return nil, nil, err
	}
	data, err := archiveStore.Get(ctx, backup.Path)
	if err != nil {
		return nil, nil, err
	}
	if !packaging.VerifyChecksum(data, backup.Checksum) {
		return nil, nil, errors.NewIntegrityError(
			fmt.Sprintf("archive checksum mismatch for backup %s", backup.BackupNumber), nil)
	}

	now := time.Now().UTC()
	backup.DownloadCount++
	backup.LastDownloadedAt = &now
	if err := s.backups.Update(ctx, backup); err != nil {
		s.logger.Warnf("could not record download of backup %s: %v", backup.ID, err)
	}
	return data, backup, nil
}

// DeleteBackup soft-deletes the record and removes the archive from storage.
// The metadata row survives for the audit trail.
func (s *Service) DeleteBackup(ctx context.Context, orgID, backupID string) error {
	backup, err := s.backups.Get(ctx, orgID, backupID)
	if err != nil {
		return err
	}
	if backup.Status == store.BackupStatusProcessing {
		return errors.NewValidationError(
			fmt.Sprintf("backup %s is still processing", backup.BackupNumber), nil)
	}

	if err := s.backups.SoftDelete(ctx, orgID, backupID); err != nil {
		return err
	}

	if backup.Status == store.BackupStatusCompleted {
		archiveStore, err := s.stores.Get(backup.Disk)
		if err == nil {
			if err := archiveStore.Delete(ctx, backup.Path); err != nil {
				s.logger.Warnf("could not remove archive %s: %v", backup.Path, err)
			}
		}
	}
	return nil
}

// AnalyzeRestore reports what restoring a backup would face
func (s *Service) AnalyzeRestore(ctx context.Context, orgID, backupID string) (*Analysis, error) {
	return s.restoreOrch.Analyze(ctx, orgID, backupID)
}

// CreateRestore validates a restore request and records it awaiting
// confirmation.
func (s *Service) CreateRestore(ctx context.Context, orgID string, req RestoreRequest) (*store.Restore, error) {
	return s.restoreOrch.Create(ctx, orgID, req)
}

// SetRestoreDecisions records per-record conflict decisions before the
// restore is confirmed.
func (s *Service) SetRestoreDecisions(ctx context.Context, orgID, restoreID string, decisions map[string]store.ConflictStrategy) (*store.Restore, error) {
	return s.restoreOrch.SetDecisions(ctx, orgID, restoreID, decisions)
}

// StartRestore confirms a restore and queues its execution. Restores run
// exclusively per tenant so no two mutations interleave.
func (s *Service) StartRestore(ctx context.Context, orgID, restoreID string, acknowledged bool) (*store.Restore, error) {
	restore, err := s.restoreOrch.Start(ctx, orgID, restoreID, acknowledged)
	if err != nil {
		return nil, err
	}

	job := Job{
		ID:        restore.ID,
		OrgID:     orgID,
		Kind:      "restore",
		Exclusive: true,
		Run: func(jobCtx context.Context) error {
			return s.restoreOrch.Execute(jobCtx, orgID, restore.ID)
		},
		Done: func(err error) {
			if err != nil {
				s.finishFailedRestore(orgID, restore.ID, err)
			}
		},
	}
	if err := s.pool.Submit(job); err != nil {
		restore.Status = store.RestoreStatusFailed
		restore.Error = err.Error()
		if updateErr := s.restores.Update(ctx, restore); updateErr != nil {
			s.logger.Errorf("could not fail unqueued restore %s: %v", restore.ID, updateErr)
		}
		return nil, err
	}
	return restore, nil
}

// finishFailedRestore writes the terminal failure once the pool has given up
// on a restore job. Transient attempts leave the record processing for the
// next try, so only the final error reaches a processing record here.
func (s *Service) finishFailedRestore(orgID, restoreID string, cause error) {
	ctx := context.Background()
	restore, err := s.restores.Get(ctx, orgID, restoreID)
	if err != nil {
		s.logger.Errorf("could not load restore %s to record its failure: %v", restoreID, err)
		return
	}
	if restore.Status != store.RestoreStatusProcessing {
		return
	}
	s.restoreOrch.fail(ctx, restore, cause)
}

// RestoreProgress returns the restore record with its execution report,
// which callers poll while the restore runs.
func (s *Service) RestoreProgress(ctx context.Context, orgID, restoreID string) (*store.Restore, error) {
	return s.restores.Get(ctx, orgID, restoreID)
}

// ListRestores returns the tenant's restores, newest first
func (s *Service) ListRestores(ctx context.Context, orgID string) ([]*store.Restore, error) {
	return s.restores.List(ctx, orgID)
}

// RollbackRestore reverts a completed restore to its safety backup while
// the rollback window is open. It mutates tenant data like a restore does,
// so it holds the tenant's exclusive lock for the duration.
func (s *Service) RollbackRestore(ctx context.Context, orgID, restoreID string) error {
	return s.pool.RunExclusive(orgID, func() error {
		return s.restoreOrch.Rollback(ctx, orgID, restoreID)
	})
}

// SweepExpired expires backups past their retention window. Meant to run
// periodically from the schedule dispatcher.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	return s.backupOrch.MarkExpired(ctx, time.Now().UTC())
}

// AuditTrail returns the tenant's newest audit entries
func (s *Service) AuditTrail(ctx context.Context, orgID string, limit int) ([]*store.AuditEntry, error) {
	return s.audit.List(ctx, orgID, limit)
}
