package cmd

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/spf13/cobra"
)

// benchCmd represents the bench command.
var benchCmd = &cobra.Command{
	Use:   "bench <file>",
	Short: "Benchmark robust estimation on a correspondence file",
	Long: `Run the robust estimator repeatedly on the correspondences in a file and
report run times and allocations. With --compare-workers the same runs are
repeated sequentially and with the configured worker count.

Examples:
  epipolar bench matches.csv --runs 20
  epipolar bench matches.csv --iterations 10000 --workers 8 --compare-workers`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		runs, _ := cmd.Flags().GetInt("runs")
		compare, _ := cmd.Flags().GetBool("compare-workers")

		matches, err := matchio.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load correspondences: %w", err)
		}

		configs := []fundamental.Config{opts.estimator}
		if compare && opts.estimator.Workers > 1 {
			sequential := opts.estimator
			sequential.Workers = 1
			configs = []fundamental.Config{sequential, opts.estimator}
		}

		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Correspondences: %d, iterations: %d, threshold: %g, metric: %s\n",
			len(matches), opts.estimator.Iterations, opts.estimator.Threshold, opts.estimator.Metric)

		for _, cfg := range configs {
			est, err := fundamental.NewEstimator(cfg)
			if err != nil {
				return err
			}
			inliers := 0
			res := common.Benchmark(fmt.Sprintf("workers=%d", est.Config().Workers), runs, func() error {
				r, err := est.Estimate(cmd.Context(), matches)
				if err != nil {
					return err
				}
				inliers = len(r.Inliers)
				return nil
			})
			if res.Error != nil {
				if errors.Is(res.Error, fundamental.ErrNoConsensus) {
					return fmt.Errorf("benchmark %s: %w (try a larger --threshold)", res.Name, res.Error)
				}
				return fmt.Errorf("benchmark %s: %w", res.Name, res.Error)
			}
			_, _ = fmt.Fprintf(out, "%s, inliers: %d\n", res.String(), inliers)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(benchCmd)
	addRANSACFlags(benchCmd)
	benchCmd.Flags().String("metric", string(fundamental.ResidualAlgebraic), "residual metric: algebraic, sampson")
	benchCmd.Flags().Int("runs", 10, "number of timed runs per configuration")
	benchCmd.Flags().Bool("compare-workers", false, "also time a sequential run for comparison")
}
