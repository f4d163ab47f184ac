package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mitchelldurbincs/GridworldDP/internal/config"
)

// configKeyAnnotation ties a flag to the config key it overrides.
const configKeyAnnotation = "config_key"

// worldKindAnnotation names the world kind a subcommand solves.
const worldKindAnnotation = "world_kind"

type rootOptions struct {
	configPath string
	verify     bool
	progress   bool
	color      bool
	traps      []string
}

func newRootCommand() *cobra.Command {
	o := &rootOptions{}

	rootCommand := &cobra.Command{
		Use:          "gridmdp",
		Short:        "Solve gridworld MDPs with policy or value iteration",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return o.loadConfig(cmd)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return solveConfigured(cmd, o)
		},
	}

	flags := rootCommand.PersistentFlags()
	flags.StringVarP(&o.configPath, "config", "c", "", "Path to config file")
	flags.BoolVar(&o.verify, "verify", false, "Compare the result with an exact linear solve of the final policy")
	flags.BoolVar(&o.progress, "progress", true, "Show live sweep progress on stderr")
	flags.BoolVar(&o.color, "color", true, "Colour console output")
	bindString(flags, "log-level", "logging.level", "info", "Log level (trace, debug, info, warn, error)")
	bindString(flags, "log-format", "logging.format", "console", "Log format (console, json)")
	bindString(flags, "algorithm", "solver.algorithm", config.AlgorithmValueIteration, "Solver (policy_iteration, value_iteration, pi, vi)")
	bindFloat(flags, "discount", "solver.discount", 1, "Discount factor in [0,1]")
	bindFloat(flags, "tolerance", "solver.tolerance", 0.01, "Stop when no value changes by this much in a sweep")
	bindInt(flags, "max-sweeps", "solver.max_sweeps", 100000, "Sweep budget per loop")
	flags.StringSlice("format", []string{config.FormatConsole}, "Outputs to produce (console, png, html)")
	_ = flags.SetAnnotation("format", configKeyAnnotation, []string{"render.formats"})
	bindString(flags, "out", "render.output_dir", ".", "Directory for png and html output")

	rootCommand.AddCommand(corridorCommand(o))
	rootCommand.AddCommand(gridCommand(o))
	return rootCommand
}

func corridorCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "corridor",
		Short:       "Solve the one-dimensional corridor with rewarding ends",
		Annotations: map[string]string{worldKindAnnotation: config.KindCorridor},
		RunE: func(cmd *cobra.Command, args []string) error {
			return solveConfigured(cmd, o)
		},
	}
	flags := cmd.Flags()
	bindInt(flags, "size", "world.corridor.size", 8, "Number of cells including both ends")
	bindFloat(flags, "left-reward", "world.corridor.left_reward", -1, "Reward for stepping onto the left end")
	bindFloat(flags, "right-reward", "world.corridor.right_reward", 1, "Reward for stepping onto the right end")
	bindFloat(flags, "step-reward", "world.corridor.step_reward", 0, "Reward for any other step")
	return cmd
}

func gridCommand(o *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:         "grid",
		Short:       "Solve the square gridworld with traps",
		Annotations: map[string]string{worldKindAnnotation: config.KindGrid},
		RunE: func(cmd *cobra.Command, args []string) error {
			return solveConfigured(cmd, o)
		},
	}
	flags := cmd.Flags()
	bindInt(flags, "size", "world.grid.size", 6, "Side length of the grid")
	bindFloat(flags, "alpha", "world.grid.alpha", 0.5, "Probability a trap sends the agent back to the start")
	bindFloat(flags, "step-reward", "world.grid.step_reward", -1, "Reward for an ordinary step")
	flags.StringArrayVar(&o.traps, "trap", nil, "Trap cell as x,y (repeatable, replaces the configured traps)")
	return cmd
}

func bindString(flags *pflag.FlagSet, name, key, value, usage string) {
	flags.String(name, value, usage)
	_ = flags.SetAnnotation(name, configKeyAnnotation, []string{key})
}

func bindFloat(flags *pflag.FlagSet, name, key string, value float64, usage string) {
	flags.Float64(name, value, usage)
	_ = flags.SetAnnotation(name, configKeyAnnotation, []string{key})
}

func bindInt(flags *pflag.FlagSet, name, key string, value int, usage string) {
	flags.Int(name, value, usage)
	_ = flags.SetAnnotation(name, configKeyAnnotation, []string{key})
}

// loadConfig reads the config file and layers the command's flags over it.
func (o *rootOptions) loadConfig(cmd *cobra.Command) error {
	if err := config.Init(o.configPath); err != nil {
		return err
	}
	v := config.GetViper()

	var bindErr error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		keys, ok := f.Annotations[configKeyAnnotation]
		if !ok || bindErr != nil {
			return
		}
		bindErr = v.BindPFlag(keys[0], f)
	})
	if bindErr != nil {
		return fmt.Errorf("binding flags: %w", bindErr)
	}

	if kind, ok := cmd.Annotations[worldKindAnnotation]; ok {
		v.Set("world.kind", kind)
	}
	if len(o.traps) > 0 {
		traps, err := parseTraps(o.traps)
		if err != nil {
			return err
		}
		v.Set("world.grid.traps", traps)
	}

	if err := config.Reload(); err != nil {
		return err
	}
	cfg := config.Get()
	setupLogging(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	return nil
}

func parseTraps(values []string) ([][]int, error) {
	traps := make([][]int, 0, len(values))
	for _, s := range values {
		parts := strings.Split(s, ",")
		if len(parts) != 2 {
			return nil, fmt.Errorf("trap %q: want x,y", s)
		}
		x, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("trap %q: %w", s, err)
		}
		y, err := strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, fmt.Errorf("trap %q: %w", s, err)
		}
		traps = append(traps, []int{x, y})
	}
	return traps, nil
}
