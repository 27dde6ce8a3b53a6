// File: cmd/strata/runs.go
// Brief: Lists recorded runs from the project history database.

package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/stack"
	"github.com/spf13/cobra"
)

func newRunsCommand(a *app) *cobra.Command {
	limit := 20
	cmd := &cobra.Command{
		Use:   "runs [RUN_ID]",
		Short: "List recorded runs, or the stack outcomes of one run",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			h, err := stack.OpenHistory(a.opts.ProjectPath, true)
			if err != nil {
				return err
			}
			defer h.Close()
			ctx := cmd.Context()
			if len(args) == 1 {
				stacks, err := h.Stacks(ctx, args[0])
				if err != nil {
					return err
				}
				if a.opts.Output != config.OutputText {
					return writeStructured(a.out, a.opts.Output, stacks)
				}
				tw := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
				defer tw.Flush()
				fmt.Fprintln(tw, "STACK\tSTATUS\tDURATION\tERROR")
				for _, s := range stacks {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.Stack, s.Status, s.Duration.Round(1e6), oneLine(s.Error))
				}
				return nil
			}
			runs, err := h.Runs(ctx, limit)
			if err != nil {
				return err
			}
			if a.opts.Output != config.OutputText {
				return writeStructured(a.out, a.opts.Output, runs)
			}
			return stack.PrintRuns(a.out, runs)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", limit, "Maximum runs to list, newest first")
	return cmd
}
