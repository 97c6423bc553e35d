package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"skimmer/internal/api"
)

func newModulesCommand(ctx *commandContext) *cobra.Command {
	modulesCmd := &cobra.Command{
		Use:   "modules",
		Short: "Inspect and toggle pipeline modules",
	}
	modulesCmd.AddCommand(newModulesListCommand(ctx))
	modulesCmd.AddCommand(newModuleToggleCommand(ctx, "enable", true))
	modulesCmd.AddCommand(newModuleToggleCommand(ctx, "disable", false))
	return modulesCmd
}

func newModulesListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered modules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			resp, err := client.Modules(cmd.Context())
			if err != nil {
				if api.IsUnavailable(err) {
					return fmt.Errorf("daemon is not reachable; start it with `skimmer daemon`")
				}
				return err
			}

			rows := make([][]string, 0, len(resp.Modules))
			for _, m := range resp.Modules {
				kind := "external"
				if m.Builtin {
					kind = "builtin"
				}
				detail := m.Error
				rows = append(rows, []string{
					m.Name, kind, yesNo(m.Enabled), yesNo(m.Active), detail,
				})
			}
			fmt.Fprintln(cmd.OutOrStdout(), renderTable(
				[]string{"Name", "Kind", "Enabled", "Active", "Error"},
				rows,
				nil,
			))
			return nil
		},
	}
}

func newModuleToggleCommand(ctx *commandContext, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <module>",
		Short: fmt.Sprintf("%s a module by name", verb),
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			if err := client.SetModuleEnabled(cmd.Context(), args[0], enabled); err != nil {
				if api.IsUnavailable(err) {
					return fmt.Errorf("daemon is not reachable; start it with `skimmer daemon`")
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "module %s %sd\n", args[0], verb)
			return nil
		},
	}
}
