package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSettingsCommand(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Inspect and change board settings",
		Long: `Inspect and change the live board settings.

Subcommands:
  list    - Show every setting with its effective and stored value
  set     - Change one setting
  reset   - Restore settings to their defaults`,
	}
	cmd.AddCommand(
		newSettingsListCommand(opts),
		newSettingsSetCommand(opts),
		newSettingsResetCommand(opts),
	)
	return cmd
}

func newSettingsListCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Show all settings",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			views, err := rt.Settings.List(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.jsonOutput {
				return opts.printJSON(out, views)
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "NAME\tVALUE\tSTORED\tDEFAULT\tDESCRIPTION")
			for _, v := range views {
				stored := "-"
				if v.Stored {
					stored = v.Raw
				}
				fmt.Fprintf(w, "%s\t%d\t%s\t%d\t%s\n", v.Name, v.Value, stored, v.Default, v.Desc)
			}
			return w.Flush()
		},
	}
}

func newSettingsSetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "set NAME VALUE",
		Short: "Change one setting",
		Long: `Change one setting. The value must be an integer within the allowed range.

Examples:
  sharectl settings set items_per_page 20
  sharectl settings set text_expire_days 7`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Settings.Set(ctx, args[0], args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s updated\n", args[0])
			return nil
		},
	}
}

func newSettingsResetCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "reset [NAME...]",
		Short: "Restore settings to their defaults",
		Long: `Restore the named settings to their defaults, or every setting when no name is given.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			rt, _, _, err := opts.open(ctx)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := rt.Settings.Reset(ctx, args...); err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "all settings reset")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%d setting(s) reset\n", len(args))
			}
			return nil
		},
	}
}
