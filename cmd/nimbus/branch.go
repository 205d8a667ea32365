package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newBranchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "branch <experiment-id>",
		Short: "Print the enrolled branch of one experiment",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, cleanup, err := a.newEngine(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer cleanup()

			branch, err := engine.GetExperimentBranch(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), branch)
			return nil
		},
	}
}
