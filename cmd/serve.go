package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"org-backup-engine/internal/errors"
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine as a daemon",
		Long: `Run the engine as a daemon: the worker pool executes queued backups
and restores while the schedule dispatcher fires due schedules and expires
backups past their retention window. The process drains in-flight jobs on
SIGINT and SIGTERM.`,
		RunE: runServe,
	}
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	if !app.Config.Schedule.Enabled {
		app.Logger.Warnf("schedule dispatcher is disabled in configuration; only queued jobs will run")
	} else {
		go app.Dispatcher.Run(ctx)
	}

	app.Logger.Infof("org-backup-engine serving (workers=%d, poll=%s)",
		app.Config.Workers.Count, app.Config.Schedule.PollInterval)

	shutdown := errors.NewGracefulShutdownHandler()
	if app.Config.Schedule.Enabled {
		shutdown.RegisterShutdownFunc(app.Dispatcher.Stop)
	}
	shutdown.RegisterShutdownFunc(func() error {
		cancel()
		return nil
	})
	shutdown.Start()
	shutdown.WaitForShutdown()

	app.Logger.Infof("shutdown complete")
	return nil
}
