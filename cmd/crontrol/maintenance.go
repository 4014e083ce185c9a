package main

import (
	"encoding/json"
	"fmt"
	"io"

	"crontrolhours/internal/app"
	"crontrolhours/internal/reschedule"

	"github.com/spf13/cobra"
)

func printReport(w io.Writer, rep reschedule.Report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	_, err := io.WriteString(w, rep.Render())
	return err
}

func reportErr(rep reschedule.Report) error {
	if rep.OK() {
		return nil
	}
	return fmt.Errorf("%s finished with %d error(s)", rep.Kind, rep.Error)
}

func newSweepCommand(open opener) *cobra.Command {
	var dryRun, asJSON bool
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Move tracked jobs that run outside the window into it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				rep := a.Rescheduler().Sweep(cmd.Context(), dryRun)
				if err := printReport(cmd.OutOrStdout(), rep, asJSON); err != nil {
					return err
				}
				return reportErr(rep)
			})
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "report what would move without touching the store")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newCarryoverCommand(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "carryover",
		Short: "Push frequent jobs due before the window end past it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				rep := a.Rescheduler().Carryover(cmd.Context())
				if err := printReport(cmd.OutOrStdout(), rep, asJSON); err != nil {
					return err
				}
				return reportErr(rep)
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")
	return cmd
}

func newInstallCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "install",
		Short: "Schedule the maintenance jobs (daily sweep, and the carryover when enabled)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				if err := a.Rescheduler().Activate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "maintenance jobs installed")
				return nil
			})
		},
	}
}

func newUninstallCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove the maintenance jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				if err := a.Rescheduler().Deactivate(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "maintenance jobs removed")
				return nil
			})
		},
	}
}
