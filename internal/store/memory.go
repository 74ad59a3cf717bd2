package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"org-backup-engine/internal/errors"
)

// MemoryStore is an in-process implementation of the repositories. It backs
// unit tests and single-binary runs where MySQL bookkeeping is unwanted.
type MemoryStore struct {
	Backups   *MemoryBackupRepository
	Restores  *MemoryRestoreRepository
	Schedules *MemoryScheduleRepository
	Audit     *MemoryAuditRepository
}

// NewMemoryStore creates empty in-memory repositories
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		Backups:   &MemoryBackupRepository{records: map[string]*Backup{}, seqs: map[seqKey]int{}},
		Restores:  &MemoryRestoreRepository{records: map[string]*Restore{}, seqs: map[seqKey]int{}},
		Schedules: &MemoryScheduleRepository{records: map[string]*Schedule{}},
		Audit:     &MemoryAuditRepository{},
	}
}

type seqKey struct {
	orgID string
	year  int
}

// MemoryBackupRepository implements BackupRepository in memory
type MemoryBackupRepository struct {
	mu      sync.Mutex
	records map[string]*Backup
	seqs    map[seqKey]int
}

func (r *MemoryBackupRepository) Create(ctx context.Context, backup *Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[backup.ID]; exists {
		return errors.NewDatabaseError("duplicate backup id", nil)
	}
	clone := *backup
	r.records[backup.ID] = &clone
	return nil
}

func (r *MemoryBackupRepository) Update(ctx context.Context, backup *Backup) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[backup.ID]
	if !ok || existing.OrgID != backup.OrgID {
		return errors.NewNotFoundError("backup not found", nil)
	}
	backup.UpdatedAt = time.Now().UTC()
	clone := *backup
	r.records[backup.ID] = &clone
	return nil
}

func (r *MemoryBackupRepository) Get(ctx context.Context, orgID, id string) (*Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	backup, ok := r.records[id]
	if !ok || backup.OrgID != orgID || backup.Deleted() {
		return nil, errors.NewNotFoundError("backup not found", nil)
	}
	clone := *backup
	return &clone, nil
}

func (r *MemoryBackupRepository) List(ctx context.Context, orgID string) ([]*Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var backups []*Backup
	for _, backup := range r.records {
		if backup.OrgID == orgID && !backup.Deleted() {
			clone := *backup
			backups = append(backups, &clone)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.After(backups[j].CreatedAt)
	})
	return backups, nil
}

func (r *MemoryBackupRepository) CountInWindow(ctx context.Context, orgID string, start, end time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, backup := range r.records {
		if backup.OrgID == orgID && !backup.Deleted() && backup.CountsTowardQuota() &&
			!backup.CreatedAt.Before(start) && backup.CreatedAt.Before(end) {
			count++
		}
	}
	return count, nil
}

func (r *MemoryBackupRepository) StoredBytes(ctx context.Context, orgID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var total int64
	for _, backup := range r.records {
		if backup.OrgID == orgID && !backup.Deleted() && backup.Status == BackupStatusCompleted {
			total += backup.SizeBytes
		}
	}
	return total, nil
}

func (r *MemoryBackupRepository) NextSequence(ctx context.Context, orgID string, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seqKey{orgID, year}
	r.seqs[key]++
	return r.seqs[key], nil
}

func (r *MemoryBackupRepository) SoftDelete(ctx context.Context, orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	backup, ok := r.records[id]
	if !ok || backup.OrgID != orgID || backup.Deleted() {
		return errors.NewNotFoundError("backup not found", nil)
	}
	now := time.Now().UTC()
	backup.DeletedAt = &now
	backup.UpdatedAt = now
	return nil
}

func (r *MemoryBackupRepository) ListExpirable(ctx context.Context, now time.Time) ([]*Backup, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var backups []*Backup
	for _, backup := range r.records {
		if backup.Status == BackupStatusCompleted && !backup.Deleted() &&
			backup.ExpiresAt != nil && !backup.ExpiresAt.After(now) {
			clone := *backup
			backups = append(backups, &clone)
		}
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].CreatedAt.Before(backups[j].CreatedAt)
	})
	return backups, nil
}

// MemoryRestoreRepository implements RestoreRepository in memory
type MemoryRestoreRepository struct {
	mu      sync.Mutex
	records map[string]*Restore
	seqs    map[seqKey]int
}

func (r *MemoryRestoreRepository) Create(ctx context.Context, restore *Restore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[restore.ID]; exists {
		return errors.NewDatabaseError("duplicate restore id", nil)
	}
	clone := *restore
	r.records[restore.ID] = &clone
	return nil
}

func (r *MemoryRestoreRepository) Update(ctx context.Context, restore *Restore) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[restore.ID]
	if !ok || existing.OrgID != restore.OrgID {
		return errors.NewNotFoundError("restore not found", nil)
	}
	restore.UpdatedAt = time.Now().UTC()
	clone := *restore
	r.records[restore.ID] = &clone
	return nil
}

func (r *MemoryRestoreRepository) Get(ctx context.Context, orgID, id string) (*Restore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	restore, ok := r.records[id]
	if !ok || restore.OrgID != orgID {
		return nil, errors.NewNotFoundError("restore not found", nil)
	}
	clone := *restore
	return &clone, nil
}

func (r *MemoryRestoreRepository) List(ctx context.Context, orgID string) ([]*Restore, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var restores []*Restore
	for _, restore := range r.records {
		if restore.OrgID == orgID {
			clone := *restore
			restores = append(restores, &clone)
		}
	}
	sort.Slice(restores, func(i, j int) bool {
		return restores[i].CreatedAt.After(restores[j].CreatedAt)
	})
	return restores, nil
}

func (r *MemoryRestoreRepository) NextSequence(ctx context.Context, orgID string, year int) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := seqKey{orgID, year}
	r.seqs[key]++
	return r.seqs[key], nil
}

func (r *MemoryRestoreRepository) HasProcessing(ctx context.Context, orgID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, restore := range r.records {
		if restore.OrgID == orgID && restore.Status == RestoreStatusProcessing {
			return true, nil
		}
	}
	return false, nil
}

// MemoryScheduleRepository implements ScheduleRepository in memory
type MemoryScheduleRepository struct {
	mu      sync.Mutex
	records map[string]*Schedule
}

func (r *MemoryScheduleRepository) Create(ctx context.Context, schedule *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.records[schedule.ID]; exists {
		return errors.NewDatabaseError("duplicate schedule id", nil)
	}
	clone := *schedule
	r.records[schedule.ID] = &clone
	return nil
}

func (r *MemoryScheduleRepository) Update(ctx context.Context, schedule *Schedule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.records[schedule.ID]
	if !ok || existing.OrgID != schedule.OrgID {
		return errors.NewNotFoundError("schedule not found", nil)
	}
	schedule.UpdatedAt = time.Now().UTC()
	clone := *schedule
	r.records[schedule.ID] = &clone
	return nil
}

func (r *MemoryScheduleRepository) Delete(ctx context.Context, orgID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.records[id]
	if !ok || schedule.OrgID != orgID {
		return errors.NewNotFoundError("schedule not found", nil)
	}
	delete(r.records, id)
	return nil
}

func (r *MemoryScheduleRepository) Get(ctx context.Context, orgID, id string) (*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	schedule, ok := r.records[id]
	if !ok || schedule.OrgID != orgID {
		return nil, errors.NewNotFoundError("schedule not found", nil)
	}
	clone := *schedule
	return &clone, nil
}

func (r *MemoryScheduleRepository) List(ctx context.Context, orgID string) ([]*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var schedules []*Schedule
	for _, schedule := range r.records {
		if schedule.OrgID == orgID {
			clone := *schedule
			schedules = append(schedules, &clone)
		}
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].CreatedAt.Before(schedules[j].CreatedAt)
	})
	return schedules, nil
}

func (r *MemoryScheduleRepository) ListDue(ctx context.Context, now time.Time) ([]*Schedule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var schedules []*Schedule
	for _, schedule := range r.records {
		if schedule.Active && !schedule.NextRunAt.After(now) {
			clone := *schedule
			schedules = append(schedules, &clone)
		}
	}
	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].NextRunAt.Before(schedules[j].NextRunAt)
	})
	return schedules, nil
}

// MemoryAuditRepository implements AuditRepository in memory
type MemoryAuditRepository struct {
	mu      sync.Mutex
	entries []*AuditEntry
}

func (r *MemoryAuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *entry
	r.entries = append(r.entries, &clone)
	return nil
}

func (r *MemoryAuditRepository) List(ctx context.Context, orgID string, limit int) ([]*AuditEntry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if limit <= 0 {
		limit = 100
	}
	var entries []*AuditEntry
	for i := len(r.entries) - 1; i >= 0 && len(entries) < limit; i-- {
		if r.entries[i].OrgID == orgID {
			clone := *r.entries[i]
			entries = append(entries, &clone)
		}
	}
	return entries, nil
}
