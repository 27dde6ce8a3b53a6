package main

import (
	"fmt"

	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/version"
	"github.com/spf13/cobra"
)

func newVersionCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			info := version.Get()
			if a.opts.Output == config.OutputText {
				_, err := fmt.Fprintln(a.out, info.String())
				return err
			}
			return writeStructured(a.out, a.opts.Output, info)
		},
	}
}
