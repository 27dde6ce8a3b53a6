// main.go bootstraps strata: it builds the root Cobra command, layers Viper config over flags, and executes with signal-aware contexts.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/example/strata/internal/cloud"
	"github.com/example/strata/internal/config"
	"github.com/example/strata/internal/resolver"
	"github.com/example/strata/internal/stack"
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	rootCmd := newRootCommand(os.Stdin, os.Stdout, os.Stderr)
	err := rootCmd.ExecuteContext(ctx)
	handleError(os.Stderr, err)
	if err != nil {
		os.Exit(1)
	}
}

// app carries state shared by every subcommand once flags are validated.
type app struct {
	opts   *config.Options
	logger logr.Logger
	in     io.Reader
	out    io.Writer
	errOut io.Writer
}

func newRootCommand(in io.Reader, out, errOut io.Writer) *cobra.Command {
	a := &app{opts: config.NewOptions(), logger: logr.Discard(), in: in, out: out, errOut: errOut}
	cmd := &cobra.Command{
		Use:           "strata",
		Short:         "Plan and run CloudFormation stacks from a layered config tree",
		Long:          "strata loads stack configs from config/, orders them by dependency and runs validate, generate, diff, launch and delete across the selected stacks.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	cmd.SetIn(in)
	cmd.SetOut(out)
	cmd.SetErr(errOut)
	a.opts.AddFlags(cmd)

	cmd.AddCommand(
		newPlaceholderActionCommand(a, stack.ActionValidate, "Validate the rendered templates with the provider"),
		newPlaceholderActionCommand(a, stack.ActionGenerate, "Render templates with resolved parameters"),
		newPlaceholderActionCommand(a, stack.ActionDiff, "Compare rendered templates and parameters with deployed stacks"),
		newEstimateCostCommand(a),
		newMutatingActionCommand(a, stack.ActionLaunch, "Create or update stacks in dependency order"),
		newMutatingActionCommand(a, stack.ActionDelete, "Delete stacks, dependents first"),
		newGraphCommand(a),
		newRunsCommand(a),
		newVersionCommand(a),
	)
	cmd.Example = `  # Validate every stack under config/dev
  strata validate dev --var env=dev

  # Show what launching dev/app would change
  strata diff dev/app.yaml --var-file vars/dev.yaml

  # Launch without dependencies, recording the run
  strata launch dev/app --ignore-dependencies --history --yes`
	bindViper(cmd)
	return cmd
}

func (a *app) setup() error {
	if err := a.opts.Validate(); err != nil {
		return err
	}
	if a.opts.NoColor {
		color.NoColor = true
	}
	logger, err := newLogger(a.opts.LogLevel, a.errOut)
	if err != nil {
		return err
	}
	a.logger = logger
	return nil
}

// plan builds a Plan for commandPath with every collaborator wired.
func (a *app) plan(commandPath string) (*stack.Plan, func(), error) {
	rc := a.opts.RequestContext(commandPath)
	project, err := stack.LoadProject(rc)
	if err != nil {
		return nil, nil, err
	}
	deps, err := newActionDeps(rc, project, a.opts, a.logger)
	if err != nil {
		return nil, nil, err
	}
	opts := stack.PlanOptions{
		Actions:   deps.actions,
		Project:   project,
		Outputs:   deps.pool,
		Secrets:   deps.secrets,
		Observers: []stack.EventObserver{logObserver(a.logger)},
	}
	cleanup := func() {}
	if a.opts.History {
		h, err := stack.OpenHistory(project.Root, false)
		if err != nil {
			return nil, nil, err
		}
		opts.History = h
		cleanup = func() {
			if err := h.Close(); err != nil {
				a.logger.Error(err, "close history")
			}
		}
	}
	p, err := stack.NewPlan(rc, opts)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return p, cleanup, nil
}

func bindViper(root *cobra.Command) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.SetEnvPrefix("STRATA")
	v.AutomaticEnv()
	configFile := os.Getenv("STRATA_CONFIG")
	configureConfigFile(v, configFile)

	cobra.OnInitialize(func() {
		commands := append([]*cobra.Command{root}, root.Commands()...)
		for _, cmd := range commands {
			if err := v.BindPFlags(cmd.Flags()); err != nil {
				cobra.CheckErr(err)
			}
			if err := v.BindPFlags(cmd.PersistentFlags()); err != nil {
				cobra.CheckErr(err)
			}
		}
		if err := readConfigFile(v, configFile != ""); err != nil {
			cobra.CheckErr(err)
		}
		for _, cmd := range commands {
			for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.PersistentFlags()} {
				fs.VisitAll(func(f *pflag.Flag) {
					if f.Changed || !v.IsSet(f.Name) {
						return
					}
					applyViperValue(f, v.Get(f.Name))
				})
			}
		}
	})
}

// applyViperValue sets f from a config or environment value. Lists from a
// config file are applied element by element for repeatable flags.
func applyViperValue(f *pflag.Flag, raw any) {
	if items, ok := raw.([]any); ok {
		if sv, ok := f.Value.(pflag.SliceValue); ok {
			vals := make([]string, 0, len(items))
			for _, item := range items {
				vals = append(vals, fmt.Sprintf("%v", item))
			}
			_ = sv.Replace(vals)
			return
		}
	}
	val := fmt.Sprintf("%v", raw)
	if val != "" {
		_ = f.Value.Set(val)
	}
}

func configureConfigFile(v *viper.Viper, explicitPath string) {
	if explicitPath != "" {
		if expanded, err := homedir.Expand(explicitPath); err == nil {
			explicitPath = expanded
		}
		v.SetConfigFile(explicitPath)
		return
	}
	v.SetConfigName("config")
	for _, dir := range configSearchDirs() {
		v.AddConfigPath(dir)
	}
}

func readConfigFile(v *viper.Viper, strict bool) error {
	if err := v.ReadInConfig(); err != nil {
		var cfgErr viper.ConfigFileNotFoundError
		if errors.As(err, &cfgErr) && !strict {
			return nil
		}
		return err
	}
	return nil
}

func configSearchDirs() []string {
	added := make(map[string]struct{})
	var dirs []string
	add := func(path string) {
		if path == "" {
			return
		}
		if _, ok := added[path]; ok {
			return
		}
		added[path] = struct{}{}
		dirs = append(dirs, path)
	}
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		add(filepath.Join(xdg, "strata"))
	}
	if home, err := homedir.Dir(); err == nil && home != "" {
		add(filepath.Join(home, ".config", "strata"))
		add(filepath.Join(home, ".strata"))
	}
	return dirs
}

func handleError(w io.Writer, err error) {
	if err == nil || errors.Is(err, pflag.ErrHelp) {
		return
	}
	var failed *runFailedError
	if errors.As(err, &failed) {
		fmt.Fprintf(w, "Error: %s\n", err)
		return
	}
	message := err.Error()
	var (
		cycle   *stack.CyclicDependencyError
		missing *stack.MissingDependencyError
		cfgErr  *stack.ConfigError
	)
	switch {
	case errors.Is(err, context.Canceled):
		message = fmt.Sprintf("%s\nHint: the run was interrupted; stacks that had not started are reported as cancelled.", err)
	case errors.Is(err, stack.ErrPlaceholdersNotAllowed):
		message = fmt.Sprintf("%s\nHint: launch and delete always resolve real values; drop --ignore-dependencies or deploy the referenced stacks first.", err)
	case errors.As(err, &cycle):
		message = fmt.Sprintf("%s\nHint: remove one of the dependencies listed above to break the cycle.", err)
	case errors.As(err, &missing):
		message = fmt.Sprintf("%s\nHint: check the stack name in the dependencies list or !stack_output reference; rerun with --ignore-dependencies to skip it.", err)
	case errors.Is(err, stack.ErrNoStacks):
		message = fmt.Sprintf("%s\nHint: run 'strata graph' to list the stacks under config/.", err)
	case errors.As(err, &cfgErr) && errors.Is(err, resolver.ErrUnknownTag):
		message = fmt.Sprintf("%s\nHint: supported tags are !stack_output, !stack_output_external, !environment_variable, !file_contents and !secret.", err)
	case cloud.Classify(err) == cloud.ClassAccess:
		message = fmt.Sprintf("%s\nHint: provider credentials were rejected. Check --profile, --iam-role or the AWS_* environment.", err)
	}
	fmt.Fprintf(w, "Error: %s\n", message)
}
