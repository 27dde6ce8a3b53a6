// File: cmd/strata/commands.go
// Brief: Action subcommands (validate, generate, diff, estimate-cost, launch, delete).

package main

import (
	"fmt"
	"strings"

	"github.com/cli/browser"
	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/stack"
	"github.com/spf13/cobra"
)

// runFailedError reports a run that completed with non-succeeded stacks.
type runFailedError struct {
	action string
	counts map[stack.Status]int
}

func (e *runFailedError) Error() string {
	var parts []string
	for _, s := range []stack.Status{stack.StatusFailed, stack.StatusDependencyFailed, stack.StatusCancelled} {
		if n := e.counts[s]; n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, s))
		}
	}
	return fmt.Sprintf("%s finished with %s", e.action, strings.Join(parts, ", "))
}

func commandPathArg(args []string) string {
	if len(args) == 0 {
		return ""
	}
	return args[0]
}

// newPlaceholderActionCommand builds a read-only action that substitutes
// placeholders for values it cannot resolve unless --no-placeholders is set.
func newPlaceholderActionCommand(a *app, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [COMMAND_PATH]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := a.runAction(cmd, action, commandPathArg(args))
			return err
		},
	}
}

func newEstimateCostCommand(a *app) *cobra.Command {
	var noBrowser bool
	cmd := &cobra.Command{
		Use:   stack.ActionEstimateCost + " [COMMAND_PATH]",
		Short: "Request cost calculator links for the rendered templates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := a.runAction(cmd, stack.ActionEstimateCost, commandPathArg(args))
			if result == nil || noBrowser {
				return err
			}
			for _, name := range result.Names() {
				url := estimateURL(result.Outcomes[name].Value)
				if url == "" {
					continue
				}
				if openErr := browser.OpenURL(url); openErr != nil {
					a.logger.Info("unable to open browser", "stack", name, "url", url, "error", openErr.Error())
				}
			}
			return err
		},
	}
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Print cost estimate links without opening a browser")
	return cmd
}

func estimateURL(v any) string {
	resp, ok := v.(cloud.Response)
	if !ok {
		return ""
	}
	switch p := resp.Payload.(type) {
	case cloud.EstimateResult:
		return p.URL
	case *cloud.EstimateResult:
		if p != nil {
			return p.URL
		}
	}
	return ""
}

func newMutatingActionCommand(a *app, action, short string) *cobra.Command {
	return &cobra.Command{
		Use:   action + " [COMMAND_PATH]",
		Short: short,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := commandPathArg(args)
			if !a.opts.Yes {
				label := target
				if label == "" {
					label = "all stacks"
				}
				if err := confirm(cmd.Context(), a.in, a.errOut, fmt.Sprintf("Do you want to %s %s? [y/N]:", action, label)); err != nil {
					return err
				}
			}
			_, err := a.runAction(cmd, action, target)
			return err
		},
	}
}

// runAction executes action over commandPath and writes the result. The
// result is returned even when some stacks failed.
func (a *app) runAction(cmd *cobra.Command, action, commandPath string) (*stack.Result, error) {
	p, cleanup, err := a.plan(commandPath)
	if err != nil {
		return nil, err
	}
	defer cleanup()
	ctx := cmd.Context()
	usePlaceholders := !a.opts.NoPlaceholders
	var result *stack.Result
	switch action {
	case stack.ActionValidate:
		result, err = p.Validate(ctx, usePlaceholders)
	case stack.ActionGenerate:
		result, err = p.Generate(ctx, usePlaceholders)
	case stack.ActionEstimateCost:
		result, err = p.EstimateCost(ctx, usePlaceholders)
	case stack.ActionDiff:
		result, err = p.Diff(ctx, usePlaceholders)
	case stack.ActionLaunch:
		result, err = p.Launch(ctx)
	case stack.ActionDelete:
		result, err = p.Delete(ctx)
	default:
		return nil, fmt.Errorf("%w %q", stack.ErrUnknownAction, action)
	}
	if err != nil {
		return nil, err
	}
	if err := writeResult(a.out, a.opts.Output, result); err != nil {
		return result, err
	}
	if !result.OK() {
		return result, &runFailedError{action: action, counts: result.Counts()}
	}
	return result, nil
}
