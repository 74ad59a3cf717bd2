package cmd

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"org-backup-engine/internal/display"
	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/plan"
	"org-backup-engine/internal/store"
)

var (
	restoreType        string
	restoreCategories  []string
	restoreStrategy    string
	restoreAcknowledge bool
	restoreDecisions   []string
	restoreYes         bool
	restoreWait        bool
)

func init() {
	restoreCmd := &cobra.Command{
		Use:   "restore",
		Short: "Analyze, run and roll back restores",
	}

	analyzeCmd := &cobra.Command{
		Use:   "analyze <backup-id>",
		Short: "Report what restoring a backup would face",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestoreAnalyze,
	}

	createCmd := &cobra.Command{
		Use:   "create <backup-id>",
		Short: "Record a restore request awaiting confirmation",
		Long: `Record a restore request awaiting confirmation.

The restore does not run yet. Review it, resolve conflicts with
"restore decide" when using the ask strategy, then confirm it with
"restore start".`,
		Args: cobra.ExactArgs(1),
		RunE: runRestoreCreate,
	}
	createCmd.Flags().StringVar(&restoreType, "type", string(plan.RestoreTypeSelective), "restore type (full, selective, merge)")
	createCmd.Flags().StringSliceVar(&restoreCategories, "categories", nil, "categories to restore (default all in the backup)")
	createCmd.Flags().StringVar(&restoreStrategy, "strategy", "", "conflict strategy (skip, replace, merge, ask)")
	createCmd.Flags().BoolVar(&restoreAcknowledge, "acknowledge-schema-gaps", false, "proceed although some backed-up tables or columns no longer exist")

	decideCmd := &cobra.Command{
		Use:   "decide <restore-id>",
		Short: "Record per-record conflict decisions",
		Long: `Record per-record conflict decisions for a restore using the ask
strategy. Decisions are "table:id=strategy" pairs, e.g.

  org-backup-engine restore decide --org=org-acme <restore-id> \
      --decision app.campaigns:42=replace --decision app.campaigns:43=skip`,
		Args: cobra.ExactArgs(1),
		RunE: runRestoreDecide,
	}
	decideCmd.Flags().StringArrayVar(&restoreDecisions, "decision", nil, "table:id=strategy pair (repeatable)")

	startCmd := &cobra.Command{
		Use:   "start <restore-id>",
		Short: "Confirm and run a restore",
		Long: `Confirm and run a restore. A safety backup of the current data is
taken first; if it cannot be taken the restore aborts untouched.`,
		Args: cobra.ExactArgs(1),
		RunE: runRestoreStart,
	}
	startCmd.Flags().BoolVar(&restoreYes, "yes", false, "skip the interactive confirmation")
	startCmd.Flags().BoolVar(&restoreWait, "wait", true, "wait for the restore to finish")

	statusCmd := &cobra.Command{
		Use:   "status <restore-id>",
		Short: "Show a restore's progress and report",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestoreStatus,
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's restores",
		RunE:  runRestoreList,
	}

	rollbackCmd := &cobra.Command{
		Use:   "rollback <restore-id>",
		Short: "Revert a completed restore to its safety backup",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestoreRollback,
	}
	rollbackCmd.Flags().BoolVar(&restoreYes, "yes", false, "skip the interactive confirmation")

	restoreCmd.AddCommand(analyzeCmd, createCmd, decideCmd, startCmd, statusCmd, listCmd, rollbackCmd)
	rootCmd.AddCommand(restoreCmd)
}

func runRestoreAnalyze(cmd *cobra.Command, args []string) error {
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

	analysis, err := app.Service.AnalyzeRestore(ctx, orgID, args[0])
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}

	printer.Plainf("Backup:     %s (%s)", analysis.Backup.BackupNumber, analysis.Backup.Name)
	printer.Plainf("Categories: %s", strings.Join(analysis.Categories, ", "))
	if analysis.Compatible {
		printer.Successf("schema is compatible, restore can proceed")
	} else {
		printer.Warnf("schema has drifted since the backup was taken")
	}
	for _, warning := range analysis.Warnings {
		printer.Warnf("%s", warning)
	}
	if !analysis.Compatible {
		printer.Plainf("pass --acknowledge-schema-gaps to restore anyway; data for missing tables and columns is dropped")
	}
	return nil
}

func runRestoreCreate(cmd *cobra.Command, args []string) error {
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

	restore, err := app.Service.CreateRestore(ctx, orgID, engine.RestoreRequest{
		BackupID:              args[0],
		Type:                  plan.RestoreType(restoreType),
		Categories:            restoreCategories,
		Strategy:              store.ConflictStrategy(restoreStrategy),
		AcknowledgeSchemaGaps: restoreAcknowledge,
	})
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}

	printer.Successf("restore %s recorded, awaiting confirmation", restore.RestoreNumber)
	printer.Plainf("id:         %s", restore.ID)
	printer.Plainf("type:       %s", restore.Type)
	printer.Plainf("strategy:   %s", restore.Strategy)
	printer.Plainf("categories: %s", strings.Join(restore.Categories, ", "))
	if restore.Strategy == store.StrategyAsk {
		printer.Infof("resolve conflicts with \"restore decide\" before starting")
	}
	printer.Infof("confirm with: org-backup-engine restore start --org=%s %s", orgID, restore.ID)
	return nil
}

func runRestoreDecide(cmd *cobra.Command, args []string) error {
	if err := requireOrg(); err != nil {
		return err
	}
	if len(restoreDecisions) == 0 {
		return fmt.Errorf("at least one --decision is required")
	}

	decisions := make(map[string]store.ConflictStrategy, len(restoreDecisions))
	for _, pair := range restoreDecisions {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" || value == "" {
			return fmt.Errorf("malformed decision %q, want table:id=strategy", pair)
		}
		decisions[key] = store.ConflictStrategy(value)
	}

	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	restore, err := app.Service.SetRestoreDecisions(ctx, orgID, args[0], decisions)
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("%d decisions recorded on restore %s", len(restore.Decisions), restore.RestoreNumber)
	return nil
}

func runRestoreStart(cmd *cobra.Command, args []string) error {
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

	if !restoreYes {
		confirmed, err := confirmDestructive(printer,
			fmt.Sprintf("This restore will modify organization %s's live data.", orgID))
		if err != nil {
			return err
		}
		if !confirmed {
			printer.Plainf("aborted")
			return nil
		}
	}

	restore, err := app.Service.StartRestore(ctx, orgID, args[0], true)
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Infof("restore %s started", restore.RestoreNumber)

	if !restoreWait {
		return nil
	}

	final, err := waitForRestore(ctx, app, printer, restore)
	if err != nil {
		return err
	}
	if final.Status != store.RestoreStatusCompleted {
		printer.Errorf("restore %s %s: %s", final.RestoreNumber, final.Status, final.Error)
		return fmt.Errorf("restore failed")
	}

	printer.Successf("restore %s completed", final.RestoreNumber)
	printRestoreReport(printer, final)
	if final.RollbackExpiresAt != nil {
		printer.Infof("rollback available until %s", display.FormatTime(*final.RollbackExpiresAt))
	}
	return nil
}

// confirmDestructive asks for a typed "yes" on a terminal. Non-terminal
// stdin refuses rather than assuming consent.
func confirmDestructive(printer *display.Printer, warning string) (bool, error) {
	printer.Warnf("%s", warning)
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return false, fmt.Errorf("stdin is not a terminal; pass --yes to confirm")
	}
	fmt.Fprint(printer.Writer(), "Type \"yes\" to continue: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(line) == "yes", nil
}

// waitForRestore polls the record until it leaves its running states
func waitForRestore(ctx context.Context, app *App, printer *display.Printer, restore *store.Restore) (*store.Restore, error) {
	spinner := printer.Spinner(fmt.Sprintf("running restore %s", restore.RestoreNumber))
	spinner.Start()
	defer spinner.Stop("")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			current, err := app.Service.RestoreProgress(ctx, restore.OrgID, restore.ID)
			if err != nil {
				return nil, err
			}
			switch current.Status {
			case store.RestoreStatusPending, store.RestoreStatusProcessing:
				message := fmt.Sprintf("restore %s %d%%", current.RestoreNumber, current.Report.Progress)
				if current.Report.CurrentCategory != "" {
					message += " (" + current.Report.CurrentCategory + ")"
				}
				spinner.UpdateMessage(message)
			default:
				return current, nil
			}
		}
	}
}

func printRestoreReport(printer *display.Printer, restore *store.Restore) {
	if len(restore.Report.Categories) == 0 {
		return
	}
	table := display.NewTable(printer.ColorSystem(), "CATEGORY", "INSERTED", "UPDATED", "SKIPPED")
	for _, category := range sortedKeys(restore.Report.Categories) {
		outcome := restore.Report.Categories[category]
		table.AddRow(category,
			fmt.Sprintf("%d", outcome.Inserted),
			fmt.Sprintf("%d", outcome.Updated),
			fmt.Sprintf("%d", outcome.Skipped))
	}
	table.RenderTo(printer.Writer())
	for _, message := range restore.Report.Errors {
		printer.Warnf("%s", message)
	}
}

func runRestoreStatus(cmd *cobra.Command, args []string) error {
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

	restore, err := app.Service.RestoreProgress(ctx, orgID, args[0])
	if err != nil {
		return err
	}

	cs := printer.ColorSystem()
	printer.Plainf("Number:   %s", restore.RestoreNumber)
	printer.Plainf("Backup:   %s", restore.BackupID)
	printer.Plainf("Type:     %s", restore.Type)
	printer.Plainf("Status:   %s", display.StatusBadge(cs, string(restore.Status)))
	printer.Plainf("Progress: %d%%", restore.Report.Progress)
	printer.Plainf("Strategy: %s", restore.Strategy)
	printer.Plainf("Created:  %s", display.FormatTime(restore.CreatedAt))
	if restore.RollbackExpiresAt != nil {
		printer.Plainf("Rollback: until %s", display.FormatTime(*restore.RollbackExpiresAt))
	}
	if restore.Error != "" {
		printer.Errorf("error: %s", restore.Error)
	}
	printRestoreReport(printer, restore)
	return nil
}

func runRestoreList(cmd *cobra.Command, args []string) error {
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

	restores, err := app.Service.ListRestores(ctx, orgID)
	if err != nil {
		return err
	}
	if len(restores) == 0 {
		printer.Plainf("no restores")
		return nil
	}

	cs := printer.ColorSystem()
	table := display.NewTable(cs, "NUMBER", "BACKUP", "TYPE", "STATUS", "PROGRESS", "CREATED")
	for _, r := range restores {
		table.AddRow(
			r.RestoreNumber, r.BackupID, string(r.Type),
			display.StatusBadge(cs, string(r.Status)),
			fmt.Sprintf("%d%%", r.Report.Progress),
			display.FormatTime(r.CreatedAt))
	}
	table.RenderTo(printer.Writer())
	return nil
}

func runRestoreRollback(cmd *cobra.Command, args []string) error {
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

	if !restoreYes {
		confirmed, err := confirmDestructive(printer,
			fmt.Sprintf("Rolling back will replace organization %s's data with the pre-restore safety backup.", orgID))
		if err != nil {
			return err
		}
		if !confirmed {
			printer.Plainf("aborted")
			return nil
		}
	}

	if err := app.Service.RollbackRestore(ctx, orgID, args[0]); err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("restore rolled back to its safety backup")
	return nil
}
