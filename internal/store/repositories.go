package store

import (
	"context"
	"time"
)

// BackupRepository persists backup metadata records. Every read is scoped to
// one tenant except the expiry sweep, which spans tenants by design.
type BackupRepository interface {
	Create(ctx context.Context, backup *Backup) error
	Update(ctx context.Context, backup *Backup) error

	// Get returns the tenant's backup or a not-found error. Records owned
	// by other tenants and soft-deleted records are not found.
	Get(ctx context.Context, orgID, id string) (*Backup, error)

	// List returns the tenant's live backups, newest first
	List(ctx context.Context, orgID string) ([]*Backup, error)

	// CountInWindow counts quota-consuming backups created in [start, end)
	CountInWindow(ctx context.Context, orgID string, start, end time.Time) (int, error)

	// StoredBytes sums the size of the tenant's completed live backups
	StoredBytes(ctx context.Context, orgID string) (int64, error)

	// NextSequence reserves the next per-tenant backup number for a year
	NextSequence(ctx context.Context, orgID string, year int) (int, error)

	// SoftDelete marks a backup deleted without removing the row
	SoftDelete(ctx context.Context, orgID, id string) error

	// ListExpirable returns completed backups whose expiry has passed
	ListExpirable(ctx context.Context, now time.Time) ([]*Backup, error)
}

// RestoreRepository persists restore metadata records
type RestoreRepository interface {
	Create(ctx context.Context, restore *Restore) error
	Update(ctx context.Context, restore *Restore) error
	Get(ctx context.Context, orgID, id string) (*Restore, error)
	List(ctx context.Context, orgID string) ([]*Restore, error)

	// NextSequence reserves the next per-tenant restore number for a year
	NextSequence(ctx context.Context, orgID string, year int) (int, error)

	// HasProcessing reports whether the tenant has a restore mid-mutation
	HasProcessing(ctx context.Context, orgID string) (bool, error)
}

// ScheduleRepository persists recurring backup schedules
type ScheduleRepository interface {
	Create(ctx context.Context, schedule *Schedule) error
	Update(ctx context.Context, schedule *Schedule) error
	Delete(ctx context.Context, orgID, id string) error
	Get(ctx context.Context, orgID, id string) (*Schedule, error)
	List(ctx context.Context, orgID string) ([]*Schedule, error)

	// ListDue returns active schedules across all tenants whose next run
	// time has passed.
	ListDue(ctx context.Context, now time.Time) ([]*Schedule, error)
}

// AuditRepository appends to the tenant audit trail
type AuditRepository interface {
	Append(ctx context.Context, entry *AuditEntry) error
	List(ctx context.Context, orgID string, limit int) ([]*AuditEntry, error)
}
