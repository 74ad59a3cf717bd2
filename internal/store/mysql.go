package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"org-backup-engine/internal/discovery"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/plan"
)

// MySQLStore bundles the MySQL-backed repositories on one connection pool.
// Engine bookkeeping lives in its own tables (org_backups, org_restores,
// org_backup_schedules, org_backup_audit, org_backup_counters), which the
// discovery exclusion list keeps out of backups.
type MySQLStore struct {
	Backups   *MySQLBackupRepository
	Restores  *MySQLRestoreRepository
	Schedules *MySQLScheduleRepository
	Audit     *MySQLAuditRepository
}

// NewMySQLStore creates the metadata repositories on the given pool
func NewMySQLStore(db *sql.DB) *MySQLStore {
	return &MySQLStore{
		Backups:   &MySQLBackupRepository{db: db},
		Restores:  &MySQLRestoreRepository{db: db},
		Schedules: &MySQLScheduleRepository{db: db},
		Audit:     &MySQLAuditRepository{db: db},
	}
}

// MySQLBackupRepository implements BackupRepository on MySQL
type MySQLBackupRepository struct {
	db *sql.DB
}

const backupColumns = `id, org_id, backup_number, name, description, type, status,
	size_bytes, disk, path, checksum, encrypted, key_ref, summary, snapshot,
	error, expires_at, created_at, updated_at, completed_at, deleted_at,
	download_count, last_downloaded_at`

// Create inserts a backup record
func (r *MySQLBackupRepository) Create(ctx context.Context, backup *Backup) error {
	summary, snapshot, err := marshalBackupBlobs(backup)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO org_backups (`+backupColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		backup.ID, backup.OrgID, backup.BackupNumber, backup.Name, backup.Description,
		backup.Type, backup.Status, backup.SizeBytes, backup.Disk, backup.Path,
		backup.Checksum, backup.Encrypted, backup.KeyRef, summary, snapshot,
		backup.Error, backup.ExpiresAt, backup.CreatedAt, backup.UpdatedAt,
		backup.CompletedAt, backup.DeletedAt, backup.DownloadCount, backup.LastDownloadedAt)
	if err != nil {
		return errors.NewDatabaseError("failed to insert backup record", err)
	}
	return nil
}

// Update rewrites a backup record
func (r *MySQLBackupRepository) Update(ctx context.Context, backup *Backup) error {
	summary, snapshot, err := marshalBackupBlobs(backup)
	if err != nil {
		return err
	}
	backup.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE org_backups SET
			name = ?, description = ?, status = ?, size_bytes = ?, disk = ?,
			path = ?, checksum = ?, encrypted = ?, key_ref = ?, summary = ?,
			snapshot = ?, error = ?, expires_at = ?, updated_at = ?,
			completed_at = ?, deleted_at = ?, download_count = ?,
			last_downloaded_at = ?
		WHERE id = ? AND org_id = ?`,
		backup.Name, backup.Description, backup.Status, backup.SizeBytes,
		backup.Disk, backup.Path, backup.Checksum, backup.Encrypted, backup.KeyRef,
		summary, snapshot, backup.Error, backup.ExpiresAt, backup.UpdatedAt,
		backup.CompletedAt, backup.DeletedAt, backup.DownloadCount,
		backup.LastDownloadedAt, backup.ID, backup.OrgID)
	if err != nil {
		return errors.NewDatabaseError("failed to update backup record", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.NewNotFoundError("backup not found", nil)
	}
	return nil
}

// Get returns the tenant's live backup
func (r *MySQLBackupRepository) Get(ctx context.Context, orgID, id string) (*Backup, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+backupColumns+`
		FROM org_backups
		WHERE id = ? AND org_id = ? AND deleted_at IS NULL`, id, orgID)

	backup, err := scanBackup(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("backup not found", nil)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("failed to read backup record", err)
	}
	return backup, nil
}

// List returns the tenant's live backups, newest first
func (r *MySQLBackupRepository) List(ctx context.Context, orgID string) ([]*Backup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+backupColumns+`
		FROM org_backups
		WHERE org_id = ? AND deleted_at IS NULL
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list backup records", err)
	}
	return collectBackups(rows)
}

// CountInWindow counts quota-consuming backups created within [start, end)
func (r *MySQLBackupRepository) CountInWindow(ctx context.Context, orgID string, start, end time.Time) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*)
		FROM org_backups
		WHERE org_id = ? AND deleted_at IS NULL
		  AND status IN (?, ?, ?)
		  AND created_at >= ? AND created_at < ?`,
		orgID, BackupStatusPending, BackupStatusProcessing, BackupStatusCompleted,
		start, end).Scan(&count)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to count backups in window", err)
	}
	return count, nil
}

// StoredBytes sums the size of the tenant's completed live backups
func (r *MySQLBackupRepository) StoredBytes(ctx context.Context, orgID string) (int64, error) {
	var total int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(size_bytes), 0)
		FROM org_backups
		WHERE org_id = ? AND deleted_at IS NULL AND status = ?`,
		orgID, BackupStatusCompleted).Scan(&total)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to sum stored bytes", err)
	}
	return total, nil
}

// NextSequence reserves the next per-tenant backup number for a year
func (r *MySQLBackupRepository) NextSequence(ctx context.Context, orgID string, year int) (int, error) {
	return nextSequence(ctx, r.db, orgID, year, "backup")
}

// SoftDelete marks a backup deleted
func (r *MySQLBackupRepository) SoftDelete(ctx context.Context, orgID, id string) error {
	now := time.Now().UTC()
	result, err := r.db.ExecContext(ctx, `
		UPDATE org_backups SET deleted_at = ?, updated_at = ?
		WHERE id = ? AND org_id = ? AND deleted_at IS NULL`,
		now, now, id, orgID)
	if err != nil {
		return errors.NewDatabaseError("failed to soft-delete backup", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.NewNotFoundError("backup not found", nil)
	}
	return nil
}

// ListExpirable returns completed backups across all tenants whose expiry
// has passed.
func (r *MySQLBackupRepository) ListExpirable(ctx context.Context, now time.Time) ([]*Backup, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+backupColumns+`
		FROM org_backups
		WHERE status = ? AND deleted_at IS NULL
		  AND expires_at IS NOT NULL AND expires_at <= ?`,
		BackupStatusCompleted, now)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list expirable backups", err)
	}
	return collectBackups(rows)
}

// MySQLRestoreRepository implements RestoreRepository on MySQL
type MySQLRestoreRepository struct {
	db *sql.DB
}

const restoreColumns = `id, org_id, restore_number, backup_id, type, status,
	categories, strategy, decisions, report, safety_backup_id,
	rollback_expires_at, acknowledged, error, created_at, updated_at, completed_at`

// Create inserts a restore record
func (r *MySQLRestoreRepository) Create(ctx context.Context, restore *Restore) error {
	categories, decisions, report, err := marshalRestoreBlobs(restore)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO org_restores (`+restoreColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		restore.ID, restore.OrgID, restore.RestoreNumber, restore.BackupID,
		restore.Type, restore.Status, categories, restore.Strategy, decisions,
		report, restore.SafetyBackupID, restore.RollbackExpiresAt,
		restore.Acknowledged, restore.Error, restore.CreatedAt,
		restore.UpdatedAt, restore.CompletedAt)
	if err != nil {
		return errors.NewDatabaseError("failed to insert restore record", err)
	}
	return nil
}

// Update rewrites a restore record
func (r *MySQLRestoreRepository) Update(ctx context.Context, restore *Restore) error {
	categories, decisions, report, err := marshalRestoreBlobs(restore)
	if err != nil {
		return err
	}
	restore.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE org_restores SET
			status = ?, categories = ?, strategy = ?, decisions = ?, report = ?,
			safety_backup_id = ?, rollback_expires_at = ?, acknowledged = ?,
			error = ?, updated_at = ?, completed_at = ?
		WHERE id = ? AND org_id = ?`,
		restore.Status, categories, restore.Strategy, decisions, report,
		restore.SafetyBackupID, restore.RollbackExpiresAt, restore.Acknowledged,
		restore.Error, restore.UpdatedAt, restore.CompletedAt,
		restore.ID, restore.OrgID)
	if err != nil {
		return errors.NewDatabaseError("failed to update restore record", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.NewNotFoundError("restore not found", nil)
	}
	return nil
}

// Get returns the tenant's restore
func (r *MySQLRestoreRepository) Get(ctx context.Context, orgID, id string) (*Restore, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+restoreColumns+`
		FROM org_restores
		WHERE id = ? AND org_id = ?`, id, orgID)

	restore, err := scanRestore(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("restore not found", nil)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("failed to read restore record", err)
	}
	return restore, nil
}

// List returns the tenant's restores, newest first
func (r *MySQLRestoreRepository) List(ctx context.Context, orgID string) ([]*Restore, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+restoreColumns+`
		FROM org_restores
		WHERE org_id = ?
		ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list restore records", err)
	}
	defer rows.Close()

	var restores []*Restore
	for rows.Next() {
		restore, err := scanRestore(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan restore record", err)
		}
		restores = append(restores, restore)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("failed to list restore records", err)
	}
	return restores, nil
}

// NextSequence reserves the next per-tenant restore number for a year
func (r *MySQLRestoreRepository) NextSequence(ctx context.Context, orgID string, year int) (int, error) {
	return nextSequence(ctx, r.db, orgID, year, "restore")
}

// HasProcessing reports whether the tenant has a restore mid-mutation
func (r *MySQLRestoreRepository) HasProcessing(ctx context.Context, orgID string) (bool, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM org_restores
		WHERE org_id = ? AND status = ?`, orgID, RestoreStatusProcessing).Scan(&count)
	if err != nil {
		return false, errors.NewDatabaseError("failed to count processing restores", err)
	}
	return count > 0, nil
}

// MySQLScheduleRepository implements ScheduleRepository on MySQL
type MySQLScheduleRepository struct {
	db *sql.DB
}

const scheduleColumns = `id, org_id, frequency, time_of_day, timezone,
	day_of_week, day_of_month, retention_days, categories, active,
	next_run_at, last_run_at, consecutive_failures, created_at, updated_at`

// Create inserts a schedule record
func (r *MySQLScheduleRepository) Create(ctx context.Context, schedule *Schedule) error {
	categories, err := marshalJSON(schedule.Categories)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO org_backup_schedules (`+scheduleColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		schedule.ID, schedule.OrgID, schedule.Frequency, schedule.TimeOfDay,
		schedule.Timezone, schedule.DayOfWeek, schedule.DayOfMonth,
		schedule.RetentionDays, categories, schedule.Active, schedule.NextRunAt,
		schedule.LastRunAt, schedule.ConsecutiveFailures, schedule.CreatedAt,
		schedule.UpdatedAt)
	if err != nil {
		return errors.NewDatabaseError("failed to insert schedule record", err)
	}
	return nil
}

// Update rewrites a schedule record
func (r *MySQLScheduleRepository) Update(ctx context.Context, schedule *Schedule) error {
	categories, err := marshalJSON(schedule.Categories)
	if err != nil {
		return err
	}
	schedule.UpdatedAt = time.Now().UTC()

	result, err := r.db.ExecContext(ctx, `
		UPDATE org_backup_schedules SET
			frequency = ?, time_of_day = ?, timezone = ?, day_of_week = ?,
			day_of_month = ?, retention_days = ?, categories = ?, active = ?,
			next_run_at = ?, last_run_at = ?, consecutive_failures = ?,
			updated_at = ?
		WHERE id = ? AND org_id = ?`,
		schedule.Frequency, schedule.TimeOfDay, schedule.Timezone,
		schedule.DayOfWeek, schedule.DayOfMonth, schedule.RetentionDays,
		categories, schedule.Active, schedule.NextRunAt, schedule.LastRunAt,
		schedule.ConsecutiveFailures, schedule.UpdatedAt,
		schedule.ID, schedule.OrgID)
	if err != nil {
		return errors.NewDatabaseError("failed to update schedule record", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.NewNotFoundError("schedule not found", nil)
	}
	return nil
}

// Delete removes a schedule record
func (r *MySQLScheduleRepository) Delete(ctx context.Context, orgID, id string) error {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM org_backup_schedules WHERE id = ? AND org_id = ?`, id, orgID)
	if err != nil {
		return errors.NewDatabaseError("failed to delete schedule record", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return errors.NewNotFoundError("schedule not found", nil)
	}
	return nil
}

// Get returns the tenant's schedule
func (r *MySQLScheduleRepository) Get(ctx context.Context, orgID, id string) (*Schedule, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM org_backup_schedules
		WHERE id = ? AND org_id = ?`, id, orgID)

	schedule, err := scanSchedule(row)
	if err == sql.ErrNoRows {
		return nil, errors.NewNotFoundError("schedule not found", nil)
	}
	if err != nil {
		return nil, errors.NewDatabaseError("failed to read schedule record", err)
	}
	return schedule, nil
}

// List returns the tenant's schedules
func (r *MySQLScheduleRepository) List(ctx context.Context, orgID string) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM org_backup_schedules
		WHERE org_id = ?
		ORDER BY created_at`, orgID)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list schedule records", err)
	}
	return collectSchedules(rows)
}

// ListDue returns active schedules across all tenants whose next run time
// has passed.
func (r *MySQLScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+scheduleColumns+`
		FROM org_backup_schedules
		WHERE active = TRUE AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list due schedules", err)
	}
	return collectSchedules(rows)
}

// MySQLAuditRepository implements AuditRepository on MySQL
type MySQLAuditRepository struct {
	db *sql.DB
}

// Append writes one audit trail entry
func (r *MySQLAuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO org_backup_audit (id, org_id, action, target_id, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.OrgID, entry.Action, entry.TargetID, entry.Detail, entry.CreatedAt)
	if err != nil {
		return errors.NewDatabaseError("failed to append audit entry", err)
	}
	return nil
}

// List returns the tenant's newest audit entries
func (r *MySQLAuditRepository) List(ctx context.Context, orgID string, limit int) ([]*AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, org_id, action, target_id, detail, created_at
		FROM org_backup_audit
		WHERE org_id = ?
		ORDER BY created_at DESC
		LIMIT ?`, orgID, limit)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to list audit entries", err)
	}
	defer rows.Close()

	var entries []*AuditEntry
	for rows.Next() {
		var entry AuditEntry
		if err := rows.Scan(&entry.ID, &entry.OrgID, &entry.Action,
			&entry.TargetID, &entry.Detail, &entry.CreatedAt); err != nil {
			return nil, errors.NewDatabaseError("failed to scan audit entry", err)
		}
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("failed to list audit entries", err)
	}
	return entries, nil
}

// nextSequence uses the LAST_INSERT_ID counter idiom so reservation is
// atomic without an explicit transaction.
func nextSequence(ctx context.Context, db *sql.DB, orgID string, year int, kind string) (int, error) {
	_, err := db.ExecContext(ctx, `
		INSERT INTO org_backup_counters (org_id, year, kind, seq)
		VALUES (?, ?, ?, LAST_INSERT_ID(1))
		ON DUPLICATE KEY UPDATE seq = LAST_INSERT_ID(seq + 1)`,
		orgID, year, kind)
	if err != nil {
		return 0, errors.NewDatabaseError("failed to reserve sequence number", err)
	}

	var seq int
	if err := db.QueryRowContext(ctx, `SELECT LAST_INSERT_ID()`).Scan(&seq); err != nil {
		return 0, errors.NewDatabaseError("failed to read reserved sequence number", err)
	}
	return seq, nil
}

// scanner abstracts sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

func collectBackups(rows *sql.Rows) ([]*Backup, error) {
	defer rows.Close()

	var backups []*Backup
	for rows.Next() {
		backup, err := scanBackup(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan backup record", err)
		}
		backups = append(backups, backup)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("failed to read backup records", err)
	}
	return backups, nil
}

func collectSchedules(rows *sql.Rows) ([]*Schedule, error) {
	defer rows.Close()

	var schedules []*Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, errors.NewDatabaseError("failed to scan schedule record", err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewDatabaseError("failed to read schedule records", err)
	}
	return schedules, nil
}

func scanBackup(row scanner) (*Backup, error) {
	var backup Backup
	var summary, snapshot sql.NullString
	var expiresAt, completedAt, deletedAt, lastDownloadedAt sql.NullTime

	err := row.Scan(&backup.ID, &backup.OrgID, &backup.BackupNumber, &backup.Name,
		&backup.Description, &backup.Type, &backup.Status, &backup.SizeBytes,
		&backup.Disk, &backup.Path, &backup.Checksum, &backup.Encrypted,
		&backup.KeyRef, &summary, &snapshot, &backup.Error, &expiresAt,
		&backup.CreatedAt, &backup.UpdatedAt, &completedAt, &deletedAt,
		&backup.DownloadCount, &lastDownloadedAt)
	if err != nil {
		return nil, err
	}

	if summary.Valid && summary.String != "" {
		backup.Summary = &Summary{}
		if err := json.Unmarshal([]byte(summary.String), backup.Summary); err != nil {
			return nil, fmt.Errorf("corrupt summary column: %w", err)
		}
	}
	if snapshot.Valid && snapshot.String != "" {
		backup.Snapshot = &discovery.Snapshot{}
		if err := json.Unmarshal([]byte(snapshot.String), backup.Snapshot); err != nil {
			return nil, fmt.Errorf("corrupt snapshot column: %w", err)
		}
	}
	backup.ExpiresAt = timePtr(expiresAt)
	backup.CompletedAt = timePtr(completedAt)
	backup.DeletedAt = timePtr(deletedAt)
	backup.LastDownloadedAt = timePtr(lastDownloadedAt)

	return &backup, nil
}

func scanRestore(row scanner) (*Restore, error) {
	var restore Restore
	var categories, decisions, report sql.NullString
	var rollbackExpiresAt, completedAt sql.NullTime
	var restoreType string

	err := row.Scan(&restore.ID, &restore.OrgID, &restore.RestoreNumber,
		&restore.BackupID, &restoreType, &restore.Status, &categories,
		&restore.Strategy, &decisions, &report, &restore.SafetyBackupID,
		&rollbackExpiresAt, &restore.Acknowledged, &restore.Error,
		&restore.CreatedAt, &restore.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	restore.Type = plan.RestoreType(restoreType)
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &restore.Categories); err != nil {
			return nil, fmt.Errorf("corrupt categories column: %w", err)
		}
	}
	if decisions.Valid && decisions.String != "" {
		if err := json.Unmarshal([]byte(decisions.String), &restore.Decisions); err != nil {
			return nil, fmt.Errorf("corrupt decisions column: %w", err)
		}
	}
	if report.Valid && report.String != "" {
		if err := json.Unmarshal([]byte(report.String), &restore.Report); err != nil {
			return nil, fmt.Errorf("corrupt report column: %w", err)
		}
	}
	restore.RollbackExpiresAt = timePtr(rollbackExpiresAt)
	restore.CompletedAt = timePtr(completedAt)

	return &restore, nil
}

func scanSchedule(row scanner) (*Schedule, error) {
	var schedule Schedule
	var categories sql.NullString
	var lastRunAt sql.NullTime
	var frequency string
	var dayOfWeek int

	err := row.Scan(&schedule.ID, &schedule.OrgID, &frequency,
		&schedule.TimeOfDay, &schedule.Timezone, &dayOfWeek,
		&schedule.DayOfMonth, &schedule.RetentionDays, &categories,
		&schedule.Active, &schedule.NextRunAt, &lastRunAt,
		&schedule.ConsecutiveFailures, &schedule.CreatedAt, &schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}

	schedule.Frequency = plan.Frequency(frequency)
	schedule.DayOfWeek = time.Weekday(dayOfWeek)
	if categories.Valid && categories.String != "" {
		if err := json.Unmarshal([]byte(categories.String), &schedule.Categories); err != nil {
			return nil, fmt.Errorf("corrupt categories column: %w", err)
		}
	}
	schedule.LastRunAt = timePtr(lastRunAt)

	return &schedule, nil
}

func marshalBackupBlobs(backup *Backup) (summary, snapshot interface{}, err error) {
	if backup.Summary != nil {
		if err := backup.Summary.Validate(); err != nil {
			return nil, nil, err
		}
		data, err := json.Marshal(backup.Summary)
		if err != nil {
			return nil, nil, errors.NewDatabaseError("failed to serialize summary", err)
		}
		summary = string(data)
	}
	if backup.Snapshot != nil {
		data, err := json.Marshal(backup.Snapshot)
		if err != nil {
			return nil, nil, errors.NewDatabaseError("failed to serialize snapshot", err)
		}
		snapshot = string(data)
	}
	return summary, snapshot, nil
}

func marshalRestoreBlobs(restore *Restore) (categories, decisions, report interface{}, err error) {
	categories, err = marshalJSON(restore.Categories)
	if err != nil {
		return nil, nil, nil, err
	}
	if len(restore.Decisions) > 0 {
		decisions, err = marshalJSON(restore.Decisions)
		if err != nil {
			return nil, nil, nil, err
		}
	}
	report, err = marshalJSON(restore.Report)
	if err != nil {
		return nil, nil, nil, err
	}
	return categories, decisions, report, nil
}

func marshalJSON(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, errors.NewDatabaseError("failed to serialize record field", err)
	}
	return string(data), nil
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	value := t.Time
	return &value
}
