package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"crontrolhours/internal/app"

	"github.com/spf13/cobra"
)

const defaultConfigPath = "./config.yaml"

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{
		Use:   "crontrol",
		Short: "Move scheduled jobs into a daily off-peak window",
		Long: `crontrol keeps a store of scheduled jobs and moves the ones that would run
outside the configured window (start_time to end_time, site timezone) into it.

Without a subcommand it runs the daemon, same as "crontrol serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", defaultConfigPath, "path to config file (yaml or json)")

	open := func() (*app.App, error) { return app.New(cfgPath) }

	serve := newServeCommand(open)
	root.RunE = serve.RunE
	root.AddCommand(
		serve,
		newSweepCommand(open),
		newCarryoverCommand(open),
		newInstallCommand(open),
		newUninstallCommand(open),
		newJobsCommand(open),
		newSettingsCommand(open),
	)
	return root
}

type opener func() (*app.App, error)

// withApp builds the app for a one-shot command and closes it afterwards.
func withApp(open opener, fn func(*app.App) error) (err error) {
	a, err := open()
	if err != nil {
		return err
	}
	defer func() {
		if cerr := a.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(a)
}

func newServeCommand(open opener) *cobra.Command {
	var stopTimeout time.Duration
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the dispatcher, the admin API and the maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := open()
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				_ = a.Stop(context.Background(), app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			reason := app.StopSignal
			select {
			case <-ctx.Done():
			case <-a.Done():
				if a.Err() != nil {
					reason = app.StopFatalError
				}
			}

			stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
			defer stopCancel()
			stopErr := a.Stop(stopCtx, reason)
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return stopErr
		},
	}
	cmd.Flags().DurationVar(&stopTimeout, "stop-timeout", 15*time.Second, "upper bound for graceful shutdown")
	return cmd
}
