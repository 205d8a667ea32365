package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"nimbus/internal/experiments/service"
)

func newResetCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "reset",
		Short: "Delete the persisted enrollment state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, cleanup, err := openStore(cmd.Context(), a.cfg.Storage)
			if err != nil {
				return err
			}
			defer cleanup()

			if err := service.ResetState(cmd.Context(), st); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "enrollment state reset")
			return nil
		},
	}
}
