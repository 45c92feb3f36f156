package main

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/adaiter/internal/config"
	"github.com/copyleftdev/adaiter/internal/optimization/adaptive"
	"github.com/copyleftdev/adaiter/internal/replay"
)

var (
	replayConfigFile string
	replayQuiet      bool
	replayFlags      controllerFlags
)

// controllerFlags mirrors adaptive.Config for the command line.
type controllerFlags struct {
	mode               string
	factor             float64
	patience           int
	threshold          float64
	thresholdMode      string
	initialIterTerm    float64
	maxIter            float64
	earlyStopThreshold float64
}

var replayCmd = &cobra.Command{
	Use:   "replay [file|-]",
	Short: "Replay a recorded metric series through a controller",
	Long: `Replay reads one metric per line (or "epoch metric" pairs) from a file or
stdin and prints the controller's decision after each observation.

Settings come from CTRL_* environment variables, then --config, then flags.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := replayConfig(cmd)
		if err != nil {
			return err
		}

		in := cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		points, err := replay.ReadSeries(in)
		if err != nil {
			return err
		}
		return runReplay(cmd.OutOrStdout(), cfg, points, replayQuiet)
	},
}

func init() {
	f := replayCmd.Flags()
	f.StringVarP(&replayConfigFile, "config", "c", "", "YAML file with controller settings")
	f.BoolVarP(&replayQuiet, "quiet", "q", false, "Only print notices and the final state")
	f.StringVar(&replayFlags.mode, "mode", "min", "Optimization direction: min or max")
	f.Float64Var(&replayFlags.factor, "factor", 1, "Increment applied to the iteration term")
	f.IntVar(&replayFlags.patience, "patience", 5, "Bad epochs tolerated before an increase")
	f.Float64Var(&replayFlags.threshold, "threshold", 1e-3, "Minimum improvement")
	f.StringVar(&replayFlags.thresholdMode, "threshold-mode", "rel", "Threshold interpretation: rel or abs")
	f.Float64Var(&replayFlags.initialIterTerm, "iter-term", 1, "Initial iteration term")
	f.Float64Var(&replayFlags.maxIter, "max-iter", 10, "Maximum iteration term")
	f.Float64Var(&replayFlags.earlyStopThreshold, "early-stop", 1e-4, "Early stop metric threshold")
}

func replayConfig(cmd *cobra.Command) (adaptive.Config, error) {
	env, err := config.Load()
	if err != nil {
		return adaptive.Config{}, fmt.Errorf("load configuration: %w", err)
	}
	cfg := env.Controller.Adaptive()
	cfg.Verbose = true

	if replayConfigFile != "" {
		if cfg, err = config.LoadControllerFile(replayConfigFile, cfg); err != nil {
			return adaptive.Config{}, err
		}
	}

	flags := cmd.Flags()
	if flags.Changed("mode") {
		cfg.Mode = adaptive.Mode(replayFlags.mode)
	}
	if flags.Changed("factor") {
		cfg.Factor = replayFlags.factor
	}
	if flags.Changed("patience") {
		cfg.Patience = replayFlags.patience
	}
	if flags.Changed("threshold") {
		cfg.Threshold = replayFlags.threshold
	}
	if flags.Changed("threshold-mode") {
		cfg.ThresholdMode = adaptive.ThresholdMode(replayFlags.thresholdMode)
	}
	if flags.Changed("iter-term") {
		cfg.InitialIterTerm = replayFlags.initialIterTerm
	}
	if flags.Changed("max-iter") {
		cfg.MaxIter = replayFlags.maxIter
	}
	if flags.Changed("early-stop") {
		cfg.EarlyStopThreshold = replayFlags.earlyStopThreshold
	}
	return cfg, nil
}

func runReplay(out io.Writer, cfg adaptive.Config, points []replay.Point, quiet bool) error {
	yellow := color.New(color.FgYellow).SprintFunc()
	green := color.New(color.FgGreen).SprintFunc()
	red := color.New(color.FgRed, color.Bold).SprintFunc()
	gray := color.New(color.FgHiBlack).SprintFunc()
	cyan := color.New(color.FgCyan, color.Bold).SprintFunc()

	notices := adaptive.NotifierFunc(func(e adaptive.Event) {
		switch e.Kind {
		case adaptive.EventIncrease:
			fmt.Fprintf(out, "  %s\n", yellow(e.String()))
		default:
			fmt.Fprintf(out, "  %s\n", red(e.String()))
		}
	})

	ctrl, err := adaptive.New(cfg, adaptive.WithNotifier(notices))
	if err != nil {
		return err
	}

	if !quiet {
		fmt.Fprintf(out, "%s\n", cyan(fmt.Sprintf("%6s  %12s  %9s  %4s  %12s", "epoch", "metric", "iter_term", "bad", "best")))
	}
	res := replay.Run(ctrl, points, func(r replay.Record) {
		if quiet {
			return
		}
		marker := gray("·")
		if r.Improved {
			marker = green("↓")
			if cfg.Mode == adaptive.Max {
				marker = green("↑")
			}
		}
		fmt.Fprintf(out, "%6d  %12.6g  %9.1f  %4d  %12.6g %s\n",
			r.Point.Epoch, r.Point.Metric, r.IterTerm, r.State.NumBadEpochs, r.State.Best, marker)
	})

	status := green("running")
	if res.Stopped {
		status = red("stopped (" + res.Final.StopReason.String() + ")")
	}
	fmt.Fprintf(out, "\n%s %d observations, iter_term=%.1f best=%g: %s\n",
		cyan("replayed"), res.Processed, res.Final.IterTerm, res.Final.Best, status)
	return nil
}
