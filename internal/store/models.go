// Package store holds the metadata records the engine persists about
// backups, restores and schedules, plus the repositories that read and
// write them.
package store

import (
	"fmt"
	"time"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/plan"
)

// BackupType identifies what triggered a backup
type BackupType string

const (
	BackupTypeManual    BackupType = "manual"
	BackupTypeScheduled BackupType = "scheduled"
	// BackupTypeSafety marks the automatic backup taken immediately before
	// a restore mutates tenant data.
	BackupTypeSafety BackupType = "pre_restore_safety"
)

// BackupStatus is a backup's lifecycle state
type BackupStatus string

const (
	BackupStatusPending    BackupStatus = "pending"
	BackupStatusProcessing BackupStatus = "processing"
	BackupStatusCompleted  BackupStatus = "completed"
	BackupStatusFailed     BackupStatus = "failed"
	BackupStatusExpired    BackupStatus = "expired"
)

// backupTransitions lists the legal backup status transitions. Processing
// may move back to pending when a transient failure leaves the backup to be
// retried.
var backupTransitions = map[BackupStatus][]BackupStatus{
	BackupStatusPending:    {BackupStatusProcessing, BackupStatusFailed},
	BackupStatusProcessing: {BackupStatusCompleted, BackupStatusFailed, BackupStatusPending},
	BackupStatusCompleted:  {BackupStatusExpired},
}

// CanTransitionBackup reports whether a backup may move between two statuses
func CanTransitionBackup(from, to BackupStatus) bool {
	for _, allowed := range backupTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// RestoreStatus is a restore's lifecycle state
type RestoreStatus string

const (
	RestoreStatusPending              RestoreStatus = "pending"
	RestoreStatusAwaitingConfirmation RestoreStatus = "awaiting_confirmation"
	RestoreStatusProcessing           RestoreStatus = "processing"
	RestoreStatusCompleted            RestoreStatus = "completed"
	RestoreStatusFailed               RestoreStatus = "failed"
	RestoreStatusRolledBack           RestoreStatus = "rolled_back"
)

var restoreTransitions = map[RestoreStatus][]RestoreStatus{
	RestoreStatusPending:              {RestoreStatusAwaitingConfirmation, RestoreStatusFailed},
	RestoreStatusAwaitingConfirmation: {RestoreStatusProcessing, RestoreStatusFailed},
	RestoreStatusProcessing:           {RestoreStatusCompleted, RestoreStatusFailed},
	RestoreStatusCompleted:            {RestoreStatusRolledBack},
}

// CanTransitionRestore reports whether a restore may move between two statuses
func CanTransitionRestore(from, to RestoreStatus) bool {
	for _, allowed := range restoreTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ConflictStrategy is the policy applied when restore data collides with
// existing tenant data.
type ConflictStrategy string

const (
	StrategySkip    ConflictStrategy = "skip"
	StrategyReplace ConflictStrategy = "replace"
	StrategyMerge   ConflictStrategy = "merge"
	StrategyAsk     ConflictStrategy = "ask"
)

// ValidStrategy reports whether the value names a known conflict strategy
func ValidStrategy(s ConflictStrategy) bool {
	switch s {
	case StrategySkip, StrategyReplace, StrategyMerge, StrategyAsk:
		return true
	}
	return false
}

// CategorySummary is one category's share of a backup
type CategorySummary struct {
	Records   int64 `json:"records"`
	SizeBytes int64 `json:"size_bytes"`
}

// Summary aggregates a backup's contents per category
type Summary struct {
	TotalRecords int64                      `json:"total_records"`
	TotalBytes   int64                      `json:"total_bytes"`
	Categories   map[string]CategorySummary `json:"categories"`
}

// Validate enforces the summary invariant: totals equal the category sums
func (s *Summary) Validate() error {
	var records, bytes int64
	for _, cs := range s.Categories {
		records += cs.Records
		bytes += cs.SizeBytes
	}
	if records != s.TotalRecords {
		return errors.NewIntegrityError(fmt.Sprintf(
			"summary record total %d does not match category sum %d",
			s.TotalRecords, records), nil)
	}
	if bytes != s.TotalBytes {
		return errors.NewIntegrityError(fmt.Sprintf(
			"summary byte total %d does not match category sum %d",
			s.TotalBytes, bytes), nil)
	}
	return nil
}

// Backup is the metadata record for one point-in-time export
type Backup struct {
	ID           string              `json:"id"`
	OrgID        string              `json:"org_id"`
	BackupNumber string              `json:"backup_number"`
	Name         string              `json:"name"`
	Description  string              `json:"description,omitempty"`
	Type         BackupType          `json:"type"`
	Status       BackupStatus        `json:"status"`
	SizeBytes    int64               `json:"size_bytes"`
	Disk         string              `json:"disk"`
	Path         string              `json:"path"`
	Checksum     string              `json:"checksum"`
	Encrypted    bool                `json:"encrypted"`
	KeyRef       string              `json:"key_ref,omitempty"`
	Summary      *Summary            `json:"summary,omitempty"`
	Snapshot     *discovery.Snapshot `json:"snapshot,omitempty"`
	Error        string              `json:"error,omitempty"`
	ExpiresAt    *time.Time          `json:"expires_at,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
	CompletedAt  *time.Time          `json:"completed_at,omitempty"`
	DeletedAt    *time.Time          `json:"deleted_at,omitempty"`

	DownloadCount    int        `json:"download_count"`
	LastDownloadedAt *time.Time `json:"last_downloaded_at,omitempty"`
}

// Deleted reports whether the backup has been soft-deleted
func (b *Backup) Deleted() bool {
	return b.DeletedAt != nil
}

// Downloadable reports whether the archive may be served
func (b *Backup) Downloadable() bool {
	return b.Status == BackupStatusCompleted && !b.Deleted()
}

// CountsTowardQuota reports whether the backup consumes monthly quota.
// Failed and expired backups never count.
func (b *Backup) CountsTowardQuota() bool {
	switch b.Status {
	case BackupStatusPending, BackupStatusProcessing, BackupStatusCompleted:
		return true
	}
	return false
}

// CategoryOutcome tracks what happened to one category during a restore
type CategoryOutcome struct {
	Inserted int64 `json:"inserted"`
	Updated  int64 `json:"updated"`
	Skipped  int64 `json:"skipped"`
}

// RestoreReport is the incrementally updated execution report callers poll
type RestoreReport struct {
	Progress        int                        `json:"progress"` // 0..100
	CurrentCategory string                     `json:"current_category,omitempty"`
	Categories      map[string]CategoryOutcome `json:"categories,omitempty"`
	Errors          []string                   `json:"errors,omitempty"`
}

// Restore is the metadata record for one restore attempt
type Restore struct {
	ID            string           `json:"id"`
	OrgID         string           `json:"org_id"`
	RestoreNumber string           `json:"restore_number"`
	BackupID      string           `json:"backup_id"`
	Type          plan.RestoreType `json:"type"`
	Status        RestoreStatus    `json:"status"`
	Categories    []string         `json:"categories"`
	Strategy      ConflictStrategy `json:"strategy"`
	// Decisions maps record identity (table:id) to a per-record strategy,
	// required before execution when Strategy is "ask".
	Decisions map[string]ConflictStrategy `json:"decisions,omitempty"`
	Report    RestoreReport               `json:"report"`
	// SafetyBackupID references the backup taken before mutation began
	SafetyBackupID    string     `json:"safety_backup_id,omitempty"`
	RollbackExpiresAt *time.Time `json:"rollback_expires_at,omitempty"`
	Acknowledged      bool       `json:"acknowledged"`
	Error             string     `json:"error,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// RollbackOpen reports whether rollback may still be invoked at the given time
func (r *Restore) RollbackOpen(now time.Time) bool {
	return r.Status == RestoreStatusCompleted &&
		r.RollbackExpiresAt != nil &&
		now.Before(*r.RollbackExpiresAt)
}

// Schedule is a recurring backup trigger for one tenant
type Schedule struct {
	ID            string         `json:"id"`
	OrgID         string         `json:"org_id"`
	Frequency     plan.Frequency `json:"frequency"`
	TimeOfDay     string         `json:"time_of_day"` // "15:04"
	Timezone      string         `json:"timezone"`
	DayOfWeek     time.Weekday   `json:"day_of_week"`   // weekly schedules
	DayOfMonth    int            `json:"day_of_month"`  // monthly schedules, 1..28
	RetentionDays int            `json:"retention_days"`
	Categories    []string       `json:"categories,omitempty"`
	Active        bool           `json:"active"`
	NextRunAt     time.Time      `json:"next_run_at"`
	LastRunAt     *time.Time     `json:"last_run_at,omitempty"`
	// ConsecutiveFailures counts failed dispatches since the last success;
	// the schedule deactivates once the failure budget is exhausted.
	ConsecutiveFailures int       `json:"consecutive_failures"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

// AuditEntry records one engine operation for the tenant's audit trail
type AuditEntry struct {
	ID        string    `json:"id"`
	OrgID     string    `json:"org_id"`
	Action    string    `json:"action"`
	TargetID  string    `json:"target_id,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// FormatBackupNumber renders the human-readable backup code, e.g.
// "BKUP-2026-001". Numbers are unique per tenant per year.
func FormatBackupNumber(year, seq int) string {
	return fmt.Sprintf("BKUP-%d-%03d", year, seq)
}

// FormatRestoreNumber renders the human-readable restore code
func FormatRestoreNumber(year, seq int) string {
	return fmt.Sprintf("RST-%d-%03d", year, seq)
}
