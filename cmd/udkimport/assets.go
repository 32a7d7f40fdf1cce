package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newAssetsCmd(a *app) *cobra.Command {
	var driver string
	cmd := &cobra.Command{
		Use:   "assets",
		Short: "List the target paths stored in the asset database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := a.cfg
			if cmd.Flags().Changed("store") {
				cfg.Store.Driver = driver
			}
			store, closeStore, err := openStore(cmd.Context(), cfg, a.logger)
			if err != nil {
				return err
			}
			defer closeStore()
			paths, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, p := range paths {
				fmt.Fprintln(out, p)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&driver, "store", "", "asset store driver: fs or postgres (overrides config)")
	return cmd
}
