package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/spf13/cobra"
)

// runOptions collects estimator and output settings for one invocation.
type runOptions struct {
	estimator fundamental.Config
	format    string
	precision int
	output    string
}

// addRANSACFlags registers the robust estimator flags on cmd.
func addRANSACFlags(cmd *cobra.Command) {
	defaults := fundamental.DefaultConfig()
	cmd.Flags().Int("iterations", defaults.Iterations, "number of RANSAC iterations")
	cmd.Flags().Float64("threshold", defaults.Threshold, "inlier threshold (residual must be strictly below)")
	cmd.Flags().Uint64("seed", defaults.Seed, "random seed (0 picks a random seed and reports it)")
	cmd.Flags().Int("workers", defaults.Workers, "parallel workers (results do not depend on this)")
	cmd.Flags().Bool("refine", defaults.Refine, "refit the best model on its inlier set")
}

// addOutputFlags registers residual and report flags on cmd.
func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().String("metric", string(fundamental.ResidualAlgebraic), "residual metric: algebraic, sampson")
	cmd.Flags().StringP("format", "f", report.FormatText, "output format: text, json, csv")
	cmd.Flags().Int("precision", report.DefaultPrecision, "significant digits in text and csv output (0 = shortest)")
	cmd.Flags().StringP("output", "o", "", "write the report to a file instead of stdout")
}

// optionsFromFlags merges the configuration with explicitly set flags.
func optionsFromFlags(cmd *cobra.Command) (runOptions, error) {
	cfg := GetConfig()
	opts := runOptions{
		estimator: cfg.ToEstimatorConfig(),
		format:    cfg.Output.Format,
		precision: cfg.Output.Precision,
		output:    cfg.Output.File,
	}

	setIntWithFlag(cmd, "iterations", &opts.estimator.Iterations)
	setFloat64WithFlag(cmd, "threshold", &opts.estimator.Threshold)
	setUint64WithFlag(cmd, "seed", &opts.estimator.Seed)
	setIntWithFlag(cmd, "workers", &opts.estimator.Workers)
	setBoolWithFlag(cmd, "refine", &opts.estimator.Refine)
	setStringWithFlag(cmd, "format", &opts.format)
	setIntWithFlag(cmd, "precision", &opts.precision)
	setStringWithFlag(cmd, "output", &opts.output)

	metric := string(opts.estimator.Metric)
	setStringWithFlag(cmd, "metric", &metric)
	m, err := fundamental.ParseResidualMetric(metric)
	if err != nil {
		return runOptions{}, err
	}
	opts.estimator.Metric = m

	if opts.format == "" {
		opts.format = report.FormatText
	}
	return opts, nil
}

func setIntWithFlag(cmd *cobra.Command, name string, target *int) {
	if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
		*target, _ = cmd.Flags().GetInt(name)
	}
}

func setFloat64WithFlag(cmd *cobra.Command, name string, target *float64) {
	if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
		*target, _ = cmd.Flags().GetFloat64(name)
	}
}

func setUint64WithFlag(cmd *cobra.Command, name string, target *uint64) {
	if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
		*target, _ = cmd.Flags().GetUint64(name)
	}
}

func setBoolWithFlag(cmd *cobra.Command, name string, target *bool) {
	if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
		*target, _ = cmd.Flags().GetBool(name)
	}
}

func setStringWithFlag(cmd *cobra.Command, name string, target *string) {
	if cmd.Flags().Lookup(name) != nil && cmd.Flags().Changed(name) {
		*target, _ = cmd.Flags().GetString(name)
	}
}

// estimateRobust runs RANSAC on matches and builds its report. Stages
// already lapped on timer are carried into the report.
func estimateRobust(
	ctx context.Context,
	timer *common.Timer,
	matches []geometry.Match2D2D,
	cfg fundamental.Config,
) (report.Report, error) {
	est, err := fundamental.NewEstimator(cfg)
	if err != nil {
		return report.Report{}, err
	}
	res, err := est.Estimate(ctx, matches)
	if err != nil {
		if errors.Is(err, fundamental.ErrNoConsensus) {
			slog.Warn("No model reached a nonzero inlier count",
				"matches", len(matches), "threshold", cfg.Threshold, "metric", est.Config().Metric)
		}
		return report.Report{}, err
	}
	timer.Lap("ransac")

	slog.Debug("Robust estimate finished",
		"inliers", len(res.Inliers),
		"matches", res.Matches,
		"best_iteration", res.Iteration,
		"skipped", res.Skipped,
		"seed", res.Seed,
		"workers", res.Workers)

	rep := report.FromResult(res, matches, est.Config().Metric, timer.Stop())
	for _, lap := range timer.Laps() {
		rep.AddTiming(lap.Name, lap.Duration)
	}
	return rep, nil
}

// writeReport renders rep and writes it to the output file or stdout.
func writeReport(cmd *cobra.Command, rep report.Report, opts runOptions) error {
	out, err := report.Format(rep, opts.format, opts.precision)
	if err != nil {
		return err
	}

	if opts.output == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), out)
		return err
	}

	if err := os.WriteFile(opts.output, []byte(out), 0o644); err != nil { //nolint:gosec // G306: reports are not secret
		return fmt.Errorf("failed to write report: %w", err)
	}
	slog.Info("Report written", "file", opts.output, "format", opts.format)
	return nil
}
