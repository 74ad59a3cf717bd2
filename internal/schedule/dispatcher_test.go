package schedule

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/store"
)

func testLogger() *logging.Logger {
	logger, err := logging.NewLogger(logging.Config{
		Level:  logging.LogLevelQuiet,
		Output: io.Discard,
	})
	if err != nil {
		panic(err)
	}
	return logger
}

type fakeService struct {
	requests []engine.BackupRequest
	orgIDs   []string
	err      error
	swept    int
}

func (f *fakeService) CreateBackup(ctx context.Context, orgID string, req engine.BackupRequest) (*store.Backup, error) {
	f.orgIDs = append(f.orgIDs, orgID)
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &store.Backup{ID: "b", OrgID: orgID}, nil
}

func (f *fakeService) SweepExpired(ctx context.Context) (int, error) {
	f.swept++
	return 0, nil
}

func seedDueSchedule(t *testing.T, memory *store.MemoryStore, id, orgID string, now time.Time) *store.Schedule {
	t.Helper()
	schedule := &store.Schedule{
		ID:            id,
		OrgID:         orgID,
		Frequency:     plan.FrequencyDaily,
		TimeOfDay:     "03:00",
		Timezone:      "UTC",
		RetentionDays: 14,
		Categories:    []string{"campaigns"},
		Active:        true,
		NextRunAt:     now.Add(-time.Minute),
		CreatedAt:     now.Add(-24 * time.Hour),
		UpdatedAt:     now.Add(-24 * time.Hour),
	}
	require.NoError(t, memory.Schedules.Create(context.Background(), schedule))
	return schedule
}

func TestDispatchDue_QueuesScheduledBackups(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	memory := store.NewMemoryStore()
	service := &fakeService{}
	d := NewDispatcher(memory.Schedules, service, 0, testLogger())

	seedDueSchedule(t, memory, "s1", "org-a", now)

	// Not yet due
	future := seedDueSchedule(t, memory, "s2", "org-b", now)
	future.NextRunAt = now.Add(time.Hour)
	require.NoError(t, memory.Schedules.Update(ctx, future))

	dispatched, err := d.DispatchDue(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	require.Len(t, service.requests, 1)
	assert.Equal(t, []string{"org-a"}, service.orgIDs)
	req := service.requests[0]
	assert.Equal(t, store.BackupTypeScheduled, req.Type)
	assert.Equal(t, []string{"campaigns"}, req.Categories)
	assert.Equal(t, 14, req.RetentionDays)

	updated, err := memory.Schedules.Get(ctx, "org-a", "s1")
	require.NoError(t, err)
	require.NotNil(t, updated.LastRunAt)
	assert.Zero(t, updated.ConsecutiveFailures)
	assert.True(t, updated.NextRunAt.After(now), "schedule must advance past now")
}

func TestDispatchDue_FailuresDeactivateAfterBudget(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	memory := store.NewMemoryStore()
	service := &fakeService{err: errors.NewQuotaError("monthly backup limit reached", nil)}
	d := NewDispatcher(memory.Schedules, service, 0, testLogger())

	seedDueSchedule(t, memory, "s1", "org-a", now)

	for i := 1; i <= MaxConsecutiveFailures; i++ {
		schedule, err := memory.Schedules.Get(ctx, "org-a", "s1")
		require.NoError(t, err)
		schedule.NextRunAt = now.Add(-time.Minute)
		schedule.Active = true
		require.NoError(t, memory.Schedules.Update(ctx, schedule))

		dispatched, err := d.DispatchDue(ctx, now)
		require.NoError(t, err)
		assert.Zero(t, dispatched)

		schedule, err = memory.Schedules.Get(ctx, "org-a", "s1")
		require.NoError(t, err)
		assert.Equal(t, i, schedule.ConsecutiveFailures)
		if i < MaxConsecutiveFailures {
			assert.True(t, schedule.Active)
		} else {
			assert.False(t, schedule.Active, "failure budget exhausted")
		}
	}
	assert.Len(t, service.requests, MaxConsecutiveFailures)
}

func TestDispatchDue_SuccessResetsFailureCount(t *testing.T) {
	ctx := context.Background()
	now := time.Now().UTC()
	memory := store.NewMemoryStore()
	service := &fakeService{}
	d := NewDispatcher(memory.Schedules, service, 0, testLogger())

	schedule := seedDueSchedule(t, memory, "s1", "org-a", now)
	schedule.ConsecutiveFailures = MaxConsecutiveFailures - 1
	require.NoError(t, memory.Schedules.Update(ctx, schedule))

	_, err := d.DispatchDue(ctx, now)
	require.NoError(t, err)

	updated, err := memory.Schedules.Get(ctx, "org-a", "s1")
	require.NoError(t, err)
	assert.Zero(t, updated.ConsecutiveFailures)
	assert.True(t, updated.Active)
}

func TestDispatcher_RunAndStop(t *testing.T) {
	memory := store.NewMemoryStore()
	service := &fakeService{}
	d := NewDispatcher(memory.Schedules, service, 10*time.Millisecond, testLogger())

	go d.Run(context.Background())
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, d.Stop())

	assert.Greater(t, service.swept, 0, "each tick sweeps expired backups")
}
