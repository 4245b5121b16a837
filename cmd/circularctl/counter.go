package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dakota002/gcn.nasa.gov/internal/config"
)

func counterCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "counter",
		Short: "Print the last issued Circular number",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := opts.openApp(ctx, func(c *config.Config) {
				c.NATS.Enabled = false
			})
			if err != nil {
				return err
			}
			defer a.Close()

			value, exists, err := a.Allocator.Current(ctx)
			if err != nil {
				return fmt.Errorf("failed to read counter: %w", err)
			}

			if !exists {
				fmt.Fprintln(cmd.OutOrStdout(), "no circulars allocated yet")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), value)
			return nil
		},
	}
}
