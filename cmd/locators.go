package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/xkilldash9x/worklog-cli/internal/locators"
)

func newLocatorsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "locators",
		Short: "Inspect the element locator registry",
	}
	cmd.AddCommand(newLocatorsCheckCmd())
	return cmd
}

func newLocatorsCheckCmd() *cobra.Command {
	var file string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Validate an override file and print the merged registry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				cfg, err := getConfig(cmd)
				if err != nil {
					return err
				}
				file = cfg.Worklog().LocatorsFile
			}
			reg, err := locators.LoadWithOverride(file)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, target := range reg.Targets() {
				cands, err := reg.Candidates(target)
				if err != nil {
					return err
				}
				fmt.Fprintf(out, "%s (%d)\n", target, len(cands))
				for _, c := range cands {
					fmt.Fprintf(out, "  - %s\n", c)
				}
			}
			if file == "" {
				fmt.Fprintln(out, "Using the built-in locators.")
			} else {
				fmt.Fprintf(out, "%s is valid.\n", file)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "override file to check (default is worklog.locators_file)")
	return cmd
}
