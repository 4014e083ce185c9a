package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"crontrolhours/internal/app"
	"crontrolhours/internal/storage"

	"github.com/spf13/cobra"
)

func newJobsCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and edit the job store",
	}
	cmd.AddCommand(newJobsListCommand(open), newJobsAddCommand(open), newJobsRemoveCommand(open))
	return cmd
}

func newJobsListCommand(open opener) *cobra.Command {
	var hook string
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List scheduled jobs",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				jobs, err := a.Store().List(cmd.Context())
				if err != nil {
					return err
				}
				loc := a.Rescheduler().Location()
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NEXT RUN\tHOOK\tRECURRENCE\tARGS")
				for _, j := range jobs {
					if hook != "" && j.Hook != hook {
						continue
					}
					rec := j.Recurrence
					if rec == "" {
						rec = "-"
					}
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", j.NextRun.In(loc).Format(time.RFC3339), j.Hook, rec, j.Args.String())
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&hook, "hook", "", "only list jobs for this hook")
	return cmd
}

// parseWhen accepts an RFC 3339 time, "2006-01-02 15:04" in the site timezone, or a
// duration offset from now ("+90m").
func parseWhen(raw string, now time.Time, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "now" {
		return now, nil
	}
	if strings.HasPrefix(raw, "+") {
		d, err := time.ParseDuration(raw[1:])
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid offset %q: %w", raw, err)
		}
		return now.Add(d), nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation("2006-01-02 15:04", raw, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q: want RFC 3339, \"YYYY-MM-DD HH:MM\" or +duration", raw)
	}
	return t, nil
}

func newJobsAddCommand(open opener) *cobra.Command {
	var at, recurrence string
	cmd := &cobra.Command{
		Use:   "add HOOK [ARGS...]",
		Short: "Schedule a job",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				when, err := parseWhen(at, time.Now(), a.Rescheduler().Location())
				if err != nil {
					return err
				}
				job := storage.Job{Hook: args[0], NextRun: when, Args: storage.Args(args[1:])}
				if recurrence != "" {
					iv, ok := a.Recurrences().Interval(recurrence)
					if !ok {
						return fmt.Errorf("unknown recurrence %q (known: %s)", recurrence, strings.Join(a.Recurrences().Names(), ", "))
					}
					job.Recurrence, job.Interval = recurrence, iv
				}
				if err := a.Store().Schedule(cmd.Context(), job); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "scheduled", job.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "now", "first run: RFC 3339, \"YYYY-MM-DD HH:MM\" (site timezone) or +duration")
	cmd.Flags().StringVar(&recurrence, "recurrence", "", "recurrence name; empty schedules a single event")
	return cmd
}

func newJobsRemoveCommand(open opener) *cobra.Command {
	var at string
	cmd := &cobra.Command{
		Use:     "remove HOOK [ARGS...]",
		Aliases: []string{"rm"},
		Short:   "Remove every job for a hook and args, or one occurrence with --at",
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				hook, jobArgs := args[0], storage.Args(args[1:])
				if at == "" {
					n, err := a.Store().Cancel(cmd.Context(), hook, jobArgs)
					if err != nil {
						return err
					}
					if n == 0 {
						return fmt.Errorf("%s: %w", hook, storage.ErrNotFound)
					}
					fmt.Fprintf(cmd.OutOrStdout(), "removed %d job(s)\n", n)
					return nil
				}
				when, err := parseWhen(at, time.Now(), a.Rescheduler().Location())
				if err != nil {
					return err
				}
				ok, err := a.Store().Unschedule(cmd.Context(), when, hook, jobArgs)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("%s at %s: %w", hook, when.Format(time.RFC3339), storage.ErrNotFound)
				}
				fmt.Fprintln(cmd.OutOrStdout(), "removed 1 job(s)")
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "remove only the occurrence at this time")
	return cmd
}
