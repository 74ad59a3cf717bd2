package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"org-backup-engine/internal/display"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/schedule"
	"org-backup-engine/internal/store"
)

var (
	scheduleFrequency  string
	scheduleTime       string
	scheduleTimezone   string
	scheduleDayOfWeek  string
	scheduleDayOfMonth int
	scheduleRetention  int
	scheduleCategories []string
)

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func init() {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recurring backup schedules",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a recurring backup schedule",
		Long: `Create a recurring backup schedule.

Which frequencies are available depends on the organization's plan.
Times are wall-clock in the schedule's timezone.

Examples:
  org-backup-engine schedule create --org=org-acme --frequency=daily --time=03:00
  org-backup-engine schedule create --org=org-acme --frequency=weekly \
      --day-of-week=sunday --time=02:30 --timezone=Europe/Istanbul
  org-backup-engine schedule create --org=org-acme --frequency=monthly \
      --day-of-month=1 --categories=campaigns,audiences`,
		RunE: runScheduleCreate,
	}
	addScheduleFlags(createCmd)
	createCmd.MarkFlagRequired("frequency")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's schedules",
		RunE:  runScheduleList,
	}

	updateCmd := &cobra.Command{
		Use:   "update <schedule-id>",
		Short: "Update a schedule and reactivate it",
		Args:  cobra.ExactArgs(1),
		RunE:  runScheduleUpdate,
	}
	addScheduleFlags(updateCmd)
	updateCmd.MarkFlagRequired("frequency")

	pauseCmd := &cobra.Command{
		Use:   "pause <schedule-id>",
		Short: "Pause a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSetActive(cmd, args[0], false)
		},
	}

	resumeCmd := &cobra.Command{
		Use:   "resume <schedule-id>",
		Short: "Resume a paused schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScheduleSetActive(cmd, args[0], true)
		},
	}

	deleteCmd := &cobra.Command{
		Use:   "delete <schedule-id>",
		Short: "Delete a schedule",
		Args:  cobra.ExactArgs(1),
		RunE:  runScheduleDelete,
	}

	scheduleCmd.AddCommand(createCmd, listCmd, updateCmd, pauseCmd, resumeCmd, deleteCmd)
	rootCmd.AddCommand(scheduleCmd)
}

func addScheduleFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&scheduleFrequency, "frequency", "", "cadence (hourly, daily, weekly, monthly)")
	cmd.Flags().StringVar(&scheduleTime, "time", "", "wall-clock time, e.g. 03:00 (default 00:00)")
	cmd.Flags().StringVar(&scheduleTimezone, "timezone", "", "IANA timezone (default UTC)")
	cmd.Flags().StringVar(&scheduleDayOfWeek, "day-of-week", "", "weekday for weekly schedules, e.g. sunday")
	cmd.Flags().IntVar(&scheduleDayOfMonth, "day-of-month", 0, "day 1-28 for monthly schedules")
	cmd.Flags().IntVar(&scheduleRetention, "retention-days", 0, "shorten retention below the plan's window")
	cmd.Flags().StringSliceVar(&scheduleCategories, "categories", nil, "data categories to back up (default all)")
}

func buildScheduleRequest() (schedule.Request, error) {
	req := schedule.Request{
		Frequency:     plan.Frequency(scheduleFrequency),
		TimeOfDay:     scheduleTime,
		Timezone:      scheduleTimezone,
		DayOfMonth:    scheduleDayOfMonth,
		RetentionDays: scheduleRetention,
		Categories:    scheduleCategories,
	}
	if scheduleDayOfWeek != "" {
		day, ok := weekdays[strings.ToLower(scheduleDayOfWeek)]
		if !ok {
			return req, fmt.Errorf("unknown weekday %q", scheduleDayOfWeek)
		}
		req.DayOfWeek = day
	}
	return req, nil
}

func runScheduleCreate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	req, err := buildScheduleRequest()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	created, err := app.Schedules.Create(ctx, orgID, req)
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("schedule %s created, next run %s",
		created.ID, display.FormatTime(created.NextRunAt))
	return nil
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	schedules, err := app.Schedules.List(ctx, orgID)
	if err != nil {
		return err
	}
	if len(schedules) == 0 {
		printer.Plainf("no schedules")
		return nil
	}

	cs := printer.ColorSystem()
	table := display.NewTable(cs, "ID", "FREQUENCY", "WHEN", "TZ", "ACTIVE", "NEXT RUN", "LAST RUN", "FAILURES")
	for _, s := range schedules {
		table.AddRow(
			s.ID, string(s.Frequency), scheduleWhen(s), s.Timezone,
			fmt.Sprintf("%t", s.Active),
			display.FormatTime(s.NextRunAt),
			display.FormatTimePtr(s.LastRunAt),
			fmt.Sprintf("%d", s.ConsecutiveFailures))
	}
	table.RenderTo(printer.Writer())
	return nil
}

// scheduleWhen renders the cadence detail for a listing row
func scheduleWhen(s *store.Schedule) string {
	switch s.Frequency {
	case plan.FrequencyWeekly:
		return fmt.Sprintf("%s %s", strings.ToLower(s.DayOfWeek.String()), s.TimeOfDay)
	case plan.FrequencyMonthly:
		return fmt.Sprintf("day %d %s", s.DayOfMonth, s.TimeOfDay)
	default:
		return s.TimeOfDay
	}
}

func runScheduleUpdate(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	req, err := buildScheduleRequest()
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	updated, err := app.Schedules.Update(ctx, orgID, args[0], req)
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("schedule updated, next run %s", display.FormatTime(updated.NextRunAt))
	return nil
}

func runScheduleSetActive(cmd *cobra.Command, scheduleID string, active bool) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	updated, err := app.Schedules.SetActive(ctx, orgID, scheduleID, active)
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	if updated.Active {
		printer.Successf("schedule resumed, next run %s", display.FormatTime(updated.NextRunAt))
	} else {
		printer.Successf("schedule paused")
	}
	return nil
}

func runScheduleDelete(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	if err := app.Schedules.Delete(ctx, orgID, args[0]); err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("schedule deleted")
	return nil
}
