package cmd

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"org-backup-engine/internal/display"
	"org-backup-engine/internal/engine"
	"org-backup-engine/internal/packaging"
	"org-backup-engine/internal/store"
)

var (
	backupName        string
	backupDescription string
	backupCategories  []string
	backupDisk        string
	backupEncrypt     bool
	backupCompression string
	backupRetention   int
	backupWait        bool
	downloadOutput    string
)

func init() {
	backupCmd := &cobra.Command{
		Use:   "backup",
		Short: "Create, list, download and delete backups",
	}

	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a backup of the organization's data",
		Long: `Create a backup of the organization's data.

The backup runs in the background; with --wait the command polls until it
completes. Categories narrow the backup to specific data groups, e.g.
campaigns or audiences. Omitting --categories backs up everything.`,
		RunE: runBackupCreate,
	}
	createCmd.Flags().StringVar(&backupName, "name", "", "backup name (required)")
	createCmd.Flags().StringVar(&backupDescription, "description", "", "backup description")
	createCmd.Flags().StringSliceVar(&backupCategories, "categories", nil, "data categories to include (default all)")
	createCmd.Flags().StringVar(&backupDisk, "disk", "", "storage disk (local, s3, gcs, azure)")
	createCmd.Flags().BoolVar(&backupEncrypt, "encrypt", false, "encrypt the archive")
	createCmd.Flags().StringVar(&backupCompression, "compression", "", "compression algorithm (none, gzip, lz4, zstd)")
	createCmd.Flags().IntVar(&backupRetention, "retention-days", 0, "shorten retention below the plan's window")
	createCmd.Flags().BoolVar(&backupWait, "wait", true, "wait for the backup to finish")
	createCmd.MarkFlagRequired("name")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List the organization's backups",
		RunE:  runBackupList,
	}

	getCmd := &cobra.Command{
		Use:   "get <backup-id>",
		Short: "Show one backup's details",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupGet,
	}

	downloadCmd := &cobra.Command{
		Use:   "download <backup-id>",
		Short: "Download the archive after verifying its checksum",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupDownload,
	}
	downloadCmd.Flags().StringVarP(&downloadOutput, "output", "o", "", "output file (default <backup-number>.zip)")

	deleteCmd := &cobra.Command{
		Use:   "delete <backup-id>",
		Short: "Delete a backup and its archive",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackupDelete,
	}

	expireCmd := &cobra.Command{
		Use:   "sweep-expired",
		Short: "Expire backups past their retention window",
		RunE:  runBackupSweep,
	}

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Show the organization's audit trail",
		RunE:  runAudit,
	}
	auditCmd.Flags().IntVar(&auditLimit, "limit", 20, "number of entries to show")

	backupCmd.AddCommand(createCmd, listCmd, getCmd, downloadCmd, deleteCmd, expireCmd)
	rootCmd.AddCommand(backupCmd, auditCmd)
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
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

	backup, err := app.Service.CreateBackup(ctx, orgID, engine.BackupRequest{
		Name:          backupName,
		Description:   backupDescription,
		Categories:    backupCategories,
		Disk:          backupDisk,
		Encrypt:       backupEncrypt,
		Compression:   packaging.CompressionType(backupCompression),
		RetentionDays: backupRetention,
	})
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Infof("backup %s queued", backup.BackupNumber)

	if !backupWait {
		printer.Plainf("%s", backup.ID)
		return nil
	}

	final, err := waitForBackup(ctx, app, printer, backup)
	if err != nil {
		return err
	}
	if final.Status != store.BackupStatusCompleted {
		printer.Errorf("backup %s %s: %s", final.BackupNumber, final.Status, final.Error)
		return fmt.Errorf("backup failed")
	}

	printer.Successf("backup %s completed (%s on %s)",
		final.BackupNumber, display.FormatBytes(final.SizeBytes), final.Disk)
	if final.Summary != nil {
		printBackupSummary(printer, final)
	}
	return nil
}

// waitForBackup polls the record until it leaves pending/processing
func waitForBackup(ctx context.Context, app *App, printer *display.Printer, backup *store.Backup) (*store.Backup, error) {
	spinner := printer.Spinner(fmt.Sprintf("running backup %s", backup.BackupNumber))
	spinner.Start()
	defer spinner.Stop("")

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			current, err := app.Service.GetBackup(ctx, backup.OrgID, backup.ID)
			if err != nil {
				return nil, err
			}
			switch current.Status {
			case store.BackupStatusPending, store.BackupStatusProcessing:
				spinner.UpdateMessage(fmt.Sprintf("backup %s %s", current.BackupNumber, current.Status))
			default:
				return current, nil
			}
		}
	}
}

func printBackupSummary(printer *display.Printer, backup *store.Backup) {
	cs := printer.ColorSystem()
	table := display.NewTable(cs, "CATEGORY", "RECORDS", "SIZE")
	for _, category := range sortedKeys(backup.Summary.Categories) {
		stats := backup.Summary.Categories[category]
		table.AddRow(category,
			fmt.Sprintf("%d", stats.Records),
			display.FormatBytes(stats.SizeBytes))
	}
	table.RenderTo(printer.Writer())
	printer.Plainf("total: %d records, %s",
		backup.Summary.TotalRecords, display.FormatBytes(backup.Summary.TotalBytes))
}

func runBackupList(cmd *cobra.Command, args []string) error {
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

	backups, err := app.Service.ListBackups(ctx, orgID)
	if err != nil {
		return err
	}
	if len(backups) == 0 {
		printer.Plainf("no backups")
		return nil
	}

	cs := printer.ColorSystem()
	table := display.NewTable(cs, "NUMBER", "NAME", "TYPE", "STATUS", "SIZE", "DISK", "CREATED", "EXPIRES")
	for _, b := range backups {
		table.AddRow(
			b.BackupNumber, b.Name, string(b.Type),
			display.StatusBadge(cs, string(b.Status)),
			display.FormatBytes(b.SizeBytes), b.Disk,
			display.FormatTime(b.CreatedAt),
			display.FormatTimePtr(b.ExpiresAt))
	}
	table.RenderTo(printer.Writer())
	return nil
}

func runBackupGet(cmd *cobra.Command, args []string) error {
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

	backup, err := app.Service.GetBackup(ctx, orgID, args[0])
	if err != nil {
		return err
	}

	cs := printer.ColorSystem()
	printer.Plainf("Number:      %s", backup.BackupNumber)
	printer.Plainf("Name:        %s", backup.Name)
	if backup.Description != "" {
		printer.Plainf("Description: %s", backup.Description)
	}
	printer.Plainf("Type:        %s", backup.Type)
	printer.Plainf("Status:      %s", display.StatusBadge(cs, string(backup.Status)))
	printer.Plainf("Size:        %s", display.FormatBytes(backup.SizeBytes))
	printer.Plainf("Disk:        %s", backup.Disk)
	printer.Plainf("Encrypted:   %t", backup.Encrypted)
	printer.Plainf("Checksum:    %s", backup.Checksum)
	printer.Plainf("Created:     %s", display.FormatTime(backup.CreatedAt))
	printer.Plainf("Expires:     %s", display.FormatTimePtr(backup.ExpiresAt))
	printer.Plainf("Downloads:   %d", backup.DownloadCount)
	if backup.Error != "" {
		printer.Errorf("error: %s", backup.Error)
	}
	if backup.Summary != nil {
		printBackupSummary(printer, backup)
	}
	return nil
}

func runBackupDownload(cmd *cobra.Command, args []string) error {
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

	data, backup, err := app.Service.DownloadBackup(ctx, orgID, args[0])
	if err != nil {
		printer.Errorf("%v", err)
		return err
	}

	output := downloadOutput
	if output == "" {
		output = strings.ToLower(backup.BackupNumber) + ".zip"
	}
	if err := os.WriteFile(output, data, 0600); err != nil {
		return err
	}
	printer.Successf("wrote %s to %s", display.FormatBytes(int64(len(data))), output)
	return nil
}

func runBackupDelete(cmd *cobra.Command, args []string) error {
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

	if err := app.Service.DeleteBackup(ctx, orgID, args[0]); err != nil {
		printer.Errorf("%v", err)
		return err
	}
	printer.Successf("backup deleted")
	return nil
}

func runBackupSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	printer := newPrinter()

	count, err := app.Service.SweepExpired(ctx)
	if err != nil {
		return err
	}
	printer.Successf("expired %d backups", count)
	return nil
}

var auditLimit int

func runAudit(cmd *cobra.Command, args []string) error {
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

	entries, err := app.Service.AuditTrail(ctx, orgID, auditLimit)
	if err != nil {
		return err
	}

	table := display.NewTable(printer.ColorSystem(), "TIME", "ACTION", "TARGET", "DETAIL")
	for _, entry := range entries {
		table.AddRow(display.FormatTime(entry.CreatedAt), entry.Action, entry.TargetID, entry.Detail)
	}
	table.RenderTo(printer.Writer())
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
