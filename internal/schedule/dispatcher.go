package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/store"
)

// DefaultPollInterval is how often the dispatcher looks for due schedules
const DefaultPollInterval = time.Minute

// BackupService is the slice of the engine the dispatcher drives
type BackupService interface {
	CreateBackup(ctx context.Context, orgID string, req engine.BackupRequest) (*store.Backup, error)
	SweepExpired(ctx context.Context) (int, error)
}

// Dispatcher polls for due schedules and queues their backups. One instance
// runs per process; the metadata store's due query spans all tenants.
type Dispatcher struct {
	schedules store.ScheduleRepository
	service   BackupService
	interval  time.Duration
	logger    *logging.Logger

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewDispatcher creates a dispatcher. An interval of zero or less uses the
// default.
func NewDispatcher(schedules store.ScheduleRepository, service BackupService, interval time.Duration, logger *logging.Logger) *Dispatcher {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Dispatcher{
		schedules: schedules,
		service:   service,
		interval:  interval,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Run polls until Stop is called or the context is cancelled. Register Stop
// with the graceful shutdown handler so a signal drains the current tick.
func (d *Dispatcher) Run(ctx context.Context) {
	defer close(d.done)

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-d.stop:
			return
		case <-ticker.C:
			now := time.Now().UTC()
			if _, err := d.DispatchDue(ctx, now); err != nil {
				d.logger.Errorf("schedule dispatch failed: %v", err)
			}
			if expired, err := d.service.SweepExpired(ctx); err != nil {
				d.logger.Errorf("expiry sweep failed: %v", err)
			} else if expired > 0 {
				d.logger.Infof("expired %d backups past retention", expired)
			}
		}
	}
}

// Stop ends the polling loop and waits for the current tick to finish
func (d *Dispatcher) Stop() error {
	d.stopOnce.Do(func() { close(d.stop) })
	<-d.done
	return nil
}

// DispatchDue queues a backup for every schedule whose next run has passed
// and returns how many were dispatched. Each schedule advances to its next
// occurrence whether or not the dispatch succeeded, so a broken schedule
// cannot fire on every poll.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	due, err := d.schedules.ListDue(ctx, now)
	if err != nil {
		return 0, err
	}

	dispatched := 0
	for _, schedule := range due {
		if err := d.dispatch(ctx, schedule, now); err != nil {
			d.logger.Warnf("schedule %s for org %s failed: %v",
				schedule.ID, schedule.OrgID, err)
		} else {
			dispatched++
		}
	}
	return dispatched, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, schedule *store.Schedule, now time.Time) error {
	req := engine.BackupRequest{
		Name:          fmt.Sprintf("Scheduled backup %s", now.Format("2006-01-02 15:04")),
		Type:          store.BackupTypeScheduled,
		Categories:    schedule.Categories,
		RetentionDays: schedule.RetentionDays,
	}

	_, err := d.service.CreateBackup(ctx, schedule.OrgID, req)
	if err != nil {
		schedule.ConsecutiveFailures++
		if schedule.ConsecutiveFailures >= MaxConsecutiveFailures {
			schedule.Active = false
			d.logger.Warnf("schedule %s deactivated after %d consecutive failures",
				schedule.ID, schedule.ConsecutiveFailures)
		}
	} else {
		lastRun := now
		schedule.LastRunAt = &lastRun
		schedule.ConsecutiveFailures = 0
	}

	next, nextErr := NextRun(schedule, now)
	if nextErr != nil {
		// An uncomputable next run would otherwise fire on every poll
		schedule.Active = false
		d.logger.Errorf("schedule %s deactivated, next run not computable: %v",
			schedule.ID, nextErr)
	} else {
		schedule.NextRunAt = next
	}
	schedule.UpdatedAt = now

	if updateErr := d.schedules.Update(ctx, schedule); updateErr != nil {
		return updateErr
	}
	return err
}
