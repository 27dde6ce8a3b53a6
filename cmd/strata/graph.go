// File: cmd/strata/graph.go
// Brief: Prints the batches an action would run without executing it.

package main

import (
	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/stack"
	"github.com/spf13/cobra"
)

type graphReport struct {
	Action  string              `json:"action"`
	Batches [][]string          `json:"batches"`
	Reasons map[string][]string `json:"reasons"`
	Edges   [][2]string          `json:"edges,omitempty"`
}

func newGraphCommand(a *app) *cobra.Command {
	action := stack.ActionLaunch
	cmd := &cobra.Command{
		Use:   "graph [COMMAND_PATH]",
		Short: "Show stack selection and batch order for an action",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, cleanup, err := a.plan(commandPathArg(args))
			if err != nil {
				return err
			}
			defer cleanup()
			act, err := p.Action(action)
			if err != nil {
				return err
			}
			sel, g, err := p.Prepare(act)
			if err != nil {
				return err
			}
			if a.opts.Output == config.OutputText {
				return stack.PrintGraph(a.out, sel, g)
			}
			return writeStructured(a.out, a.opts.Output, graphReport{
				Action:  act.Name,
				Batches: g.Order(),
				Reasons: sel.Reasons,
				Edges:   g.Edges(),
			})
		},
	}
	cmd.Flags().StringVar(&action, "action", action, "Action whose ordering to show (delete runs dependents first)")
	return cmd
}
