// Package schedule manages recurring backup triggers: per-tenant schedule
// records with plan-gated cadences, next-run computation in the tenant's
// timezone, and the dispatcher that turns due schedules into backup jobs.
package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/errors"
	"org-backup-engine/internal/logging"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/store"
)

// MaxConsecutiveFailures deactivates a schedule after this many failed
// dispatches in a row. A deactivated schedule stays visible so the tenant
// can fix the cause and re-enable it.
const MaxConsecutiveFailures = 3

// timeOfDayLayout is the wall-clock format schedules carry
const timeOfDayLayout = "15:04"

// Request describes a schedule a tenant wants created or changed
type Request struct {
	Frequency     plan.Frequency
	TimeOfDay     string // "15:04" wall clock in Timezone
	Timezone      string // IANA name, defaults to UTC
	DayOfWeek     time.Weekday
	DayOfMonth    int // 1..28 so every month qualifies
	RetentionDays int // 0 uses the plan's retention
	Categories    []string
}

// Manager owns schedule records and their plan gating
type Manager struct {
	schedules store.ScheduleRepository
	plans     engine.PlanSource
	logger    *logging.Logger
}

// NewManager creates a schedule manager
func NewManager(schedules store.ScheduleRepository, plans engine.PlanSource, logger *logging.Logger) *Manager {
	if logger == nil {
		logger = logging.NewDefaultLogger()
	}
	return &Manager{schedules: schedules, plans: plans, logger: logger}
}

// Create validates the request against the tenant's plan and stores an
// active schedule with its first run time computed.
func (m *Manager) Create(ctx context.Context, orgID string, req Request) (*store.Schedule, error) {
	if orgID == "" {
		return nil, errors.NewValidationError("organization id is required", nil)
	}
	if err := m.validate(ctx, orgID, &req); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	schedule := &store.Schedule{
		ID:            uuid.New().String(),
		OrgID:         orgID,
		Frequency:     req.Frequency,
		TimeOfDay:     req.TimeOfDay,
		Timezone:      req.Timezone,
		DayOfWeek:     req.DayOfWeek,
		DayOfMonth:    req.DayOfMonth,
		RetentionDays: req.RetentionDays,
		Categories:    req.Categories,
		Active:        true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	next, err := NextRun(schedule, now)
	if err != nil {
		return nil, err
	}
	schedule.NextRunAt = next

	if err := m.schedules.Create(ctx, schedule); err != nil {
		return nil, err
	}
	m.logger.Infof("schedule %s created for org %s: %s at %s %s",
		schedule.ID, orgID, schedule.Frequency, schedule.TimeOfDay, schedule.Timezone)
	return schedule, nil
}

// Update replaces a schedule's cadence and recomputes its next run. An
// updated schedule reactivates and its failure count resets.
func (m *Manager) Update(ctx context.Context, orgID, scheduleID string, req Request) (*store.Schedule, error) {
	schedule, err := m.schedules.Get(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}
	if err := m.validate(ctx, orgID, &req); err != nil {
		return nil, err
	}

	schedule.Frequency = req.Frequency
	schedule.TimeOfDay = req.TimeOfDay
	schedule.Timezone = req.Timezone
	schedule.DayOfWeek = req.DayOfWeek
	schedule.DayOfMonth = req.DayOfMonth
	schedule.RetentionDays = req.RetentionDays
	schedule.Categories = req.Categories
	schedule.Active = true
	schedule.ConsecutiveFailures = 0
	schedule.UpdatedAt = time.Now().UTC()

	next, err := NextRun(schedule, schedule.UpdatedAt)
	if err != nil {
		return nil, err
	}
	schedule.NextRunAt = next

	if err := m.schedules.Update(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// SetActive pauses or resumes a schedule. Resuming recomputes the next run
// so a long-paused schedule does not fire immediately for every missed slot.
func (m *Manager) SetActive(ctx context.Context, orgID, scheduleID string, active bool) (*store.Schedule, error) {
	schedule, err := m.schedules.Get(ctx, orgID, scheduleID)
	if err != nil {
		return nil, err
	}

	schedule.Active = active
	schedule.UpdatedAt = time.Now().UTC()
	if active {
		schedule.ConsecutiveFailures = 0
		next, err := NextRun(schedule, schedule.UpdatedAt)
		if err != nil {
			return nil, err
		}
		schedule.NextRunAt = next
	}

	if err := m.schedules.Update(ctx, schedule); err != nil {
		return nil, err
	}
	return schedule, nil
}

// Delete removes a schedule
func (m *Manager) Delete(ctx context.Context, orgID, scheduleID string) error {
	return m.schedules.Delete(ctx, orgID, scheduleID)
}

// Get returns one schedule
func (m *Manager) Get(ctx context.Context, orgID, scheduleID string) (*store.Schedule, error) {
	return m.schedules.Get(ctx, orgID, scheduleID)
}

// List returns the tenant's schedules
func (m *Manager) List(ctx context.Context, orgID string) ([]*store.Schedule, error) {
	return m.schedules.List(ctx, orgID)
}

func (m *Manager) validate(ctx context.Context, orgID string, req *Request) error {
	if !plan.ValidFrequency(req.Frequency) {
		return errors.NewValidationError(
			fmt.Sprintf("unknown schedule frequency %q", req.Frequency), nil)
	}

	tier, err := m.plans.TierFor(ctx, orgID)
	if err != nil {
		return err
	}
	limits := plan.LimitsFor(tier)
	if !plan.CanSchedule(limits, req.Frequency) {
		return errors.NewValidationError(
			fmt.Sprintf("%s schedules are not available on the %s plan", req.Frequency, tier), nil)
	}

	if strings.TrimSpace(req.TimeOfDay) == "" {
		req.TimeOfDay = "00:00"
	}
	if _, err := time.Parse(timeOfDayLayout, req.TimeOfDay); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("time of day %q is not in HH:MM form", req.TimeOfDay), nil)
	}

	if req.Timezone == "" {
		req.Timezone = "UTC"
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		return errors.NewValidationError(
			fmt.Sprintf("unknown timezone %q", req.Timezone), nil)
	}

	if req.Frequency == plan.FrequencyMonthly && (req.DayOfMonth < 1 || req.DayOfMonth > 28) {
		return errors.NewValidationError(
			"day of month must be between 1 and 28 so the schedule fires every month", nil)
	}

	if req.RetentionDays < 0 {
		return errors.NewValidationError("retention days cannot be negative", nil)
	}
	if req.RetentionDays > limits.RetentionDays {
		return errors.NewValidationError(
			fmt.Sprintf("retention of %d days exceeds the %s plan's %d days",
				req.RetentionDays, tier, limits.RetentionDays), nil)
	}

	return nil
}

// NextRun computes the first occurrence of the schedule strictly after the
// given instant, evaluated in the schedule's timezone and returned in UTC.
func NextRun(s *store.Schedule, after time.Time) (time.Time, error) {
	loc, err := time.LoadLocation(s.Timezone)
	if err != nil {
		return time.Time{}, errors.NewValidationError(
			fmt.Sprintf("unknown timezone %q", s.Timezone), nil)
	}
	wall, err := time.Parse(timeOfDayLayout, s.TimeOfDay)
	if err != nil {
		return time.Time{}, errors.NewValidationError(
			fmt.Sprintf("time of day %q is not in HH:MM form", s.TimeOfDay), nil)
	}

	local := after.In(loc)
	year, month, day := local.Date()

	var next time.Time
	switch s.Frequency {
	case plan.FrequencyHourly:
		// Hourly schedules fire at the minute of TimeOfDay, every hour
		next = time.Date(year, month, day, local.Hour(), wall.Minute(), 0, 0, loc)
		if !next.After(local) {
			next = next.Add(time.Hour)
		}

	case plan.FrequencyDaily:
		next = time.Date(year, month, day, wall.Hour(), wall.Minute(), 0, 0, loc)
		if !next.After(local) {
			next = next.AddDate(0, 0, 1)
		}

	case plan.FrequencyWeekly:
		next = time.Date(year, month, day, wall.Hour(), wall.Minute(), 0, 0, loc)
		ahead := (int(s.DayOfWeek) - int(next.Weekday()) + 7) % 7
		next = next.AddDate(0, 0, ahead)
		if !next.After(local) {
			next = next.AddDate(0, 0, 7)
		}

	case plan.FrequencyMonthly:
		next = time.Date(year, month, s.DayOfMonth, wall.Hour(), wall.Minute(), 0, 0, loc)
		if !next.After(local) {
			next = time.Date(year, month+1, s.DayOfMonth, wall.Hour(), wall.Minute(), 0, 0, loc)
		}

	default:
		return time.Time{}, errors.NewValidationError(
			fmt.Sprintf("unknown schedule frequency %q", s.Frequency), nil)
	}

	return next.UTC(), nil
}
