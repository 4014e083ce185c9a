package main

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"
	"text/tabwriter"

	"crontrolhours/internal/app"
	"crontrolhours/internal/settings"

	"github.com/spf13/cobra"
)

func newSettingsCommand(open opener) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show and change the window policy",
	}
	cmd.AddCommand(newSettingsListCommand(open), newSettingsGetCommand(open), newSettingsSetCommand(open))
	return cmd
}

func newSettingsListCommand(open opener) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List every setting with its source",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withApp(open, func(a *app.App) error {
				entries := a.Settings().All()
				if asJSON {
					enc := json.NewEncoder(cmd.OutOrStdout())
					enc.SetIndent("", "  ")
					return enc.Encode(entries)
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "NAME\tVALUE\tSOURCE")
				for _, e := range entries {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", e.Name, e.Value, e.Source)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print as JSON")
	return cmd
}

func checkSettingName(name string) error {
	if !slices.Contains(settings.Names(), name) {
		return fmt.Errorf("%w: %q (known: %s)", settings.ErrUnknownKey, name, strings.Join(settings.Names(), ", "))
	}
	return nil
}

func newSettingsGetCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "get NAME",
		Short: "Print the effective value of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkSettingName(args[0]); err != nil {
				return err
			}
			return withApp(open, func(a *app.App) error {
				v, _ := a.Settings().Lookup(args[0])
				fmt.Fprintln(cmd.OutOrStdout(), v)
				return nil
			})
		},
	}
}

func newSettingsSetCommand(open opener) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Change a setting in the settings file",
		Long: `Change a setting in the settings file. Changing start_time or end_time refreshes
the cached window duration; changing restrict_frequent installs or removes the
carryover job.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(open, func(a *app.App) error {
				if err := a.Settings().Set(args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s=%s\n", args[0], a.Settings().Get(args[0]))
				return nil
			})
		},
	}
}
