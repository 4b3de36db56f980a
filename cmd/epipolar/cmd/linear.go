package cmd

import (
	"fmt"
	"log/slog"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/spf13/cobra"
)

// linearCmd represents the linear command.
var linearCmd = &cobra.Command{
	Use:   "linear <file>",
	Short: "Fit a fundamental matrix to all correspondences without RANSAC",
	Long: `Run the normalized eight-point solver on every correspondence in the file and
print the rank-2 least-squares fit with per-correspondence residuals.

Use this for outlier-free data; a single gross mismatch corrupts the fit.

Examples:
  epipolar linear matches.csv
  epipolar linear matches.json --metric sampson --format csv`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}

		timer := common.NewNamedTimer("linear")
		matches, err := matchio.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load correspondences: %w", err)
		}
		timer.Lap("load")

		f, err := fundamental.EstimateLinear(matches)
		if err != nil {
			return fmt.Errorf("estimation failed: %w", err)
		}
		timer.Lap("solve")
		slog.Debug("Linear fit finished", "file", args[0], "matches", len(matches))

		rep := report.FromLinear(f, matches, opts.estimator.Metric, timer.Stop())
		for _, lap := range timer.Laps() {
			rep.AddTiming(lap.Name, lap.Duration)
		}
		return writeReport(cmd, rep, opts)
	},
}

func init() {
	rootCmd.AddCommand(linearCmd)
	addOutputFlags(linearCmd)
}
