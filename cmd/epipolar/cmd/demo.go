package cmd

import (
	"fmt"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/spf13/cobra"
)

// demoMatches are the ten correspondences estimated by the demo command.
func demoMatches() []geometry.Match2D2D {
	return []geometry.Match2D2D{
		geometry.NewMatch(10, 20, 12, 21),
		geometry.NewMatch(30, 50, 31, 49),
		geometry.NewMatch(15, 40, 14, 42),
		geometry.NewMatch(50, 80, 52, 78),
		geometry.NewMatch(25, 35, 26, 36),
		geometry.NewMatch(60, 90, 61, 91),
		geometry.NewMatch(70, 20, 72, 19),
		geometry.NewMatch(80, 40, 82, 41),
		geometry.NewMatch(90, 60, 88, 59),
		geometry.NewMatch(100, 80, 102, 81),
	}
}

// demoCmd represents the demo command.
var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Estimate a fundamental matrix for ten built-in correspondences",
	Long: `Run RANSAC on ten built-in correspondences with 1000 iterations and an
algebraic threshold of 0.01, then print the matrix and the inlier indices.

The RANSAC flags override the demo parameters; the configuration file does not.

Examples:
  epipolar demo
  epipolar demo --seed 7 --threshold 100
  epipolar demo --save demo.csv`,
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}
		// Demo parameters are fixed unless a flag says otherwise.
		defaults := fundamental.DefaultConfig()
		if !cmd.Flags().Changed("iterations") {
			opts.estimator.Iterations = defaults.Iterations
		}
		if !cmd.Flags().Changed("threshold") {
			opts.estimator.Threshold = defaults.Threshold
		}
		if !cmd.Flags().Changed("metric") {
			opts.estimator.Metric = defaults.Metric
		}

		matches := demoMatches()

		if path, _ := cmd.Flags().GetString("save"); path != "" {
			if err := matchio.Save(path, matches); err != nil {
				return fmt.Errorf("failed to save demo correspondences: %w", err)
			}
		}

		rep, err := estimateRobust(cmd.Context(), common.NewNamedTimer("demo"), matches, opts.estimator)
		if err != nil {
			return fmt.Errorf("estimation failed: %w", err)
		}
		return writeReport(cmd, rep, opts)
	},
}

func init() {
	rootCmd.AddCommand(demoCmd)
	addRANSACFlags(demoCmd)
	addOutputFlags(demoCmd)
	demoCmd.Flags().String("save", "", "also write the demo correspondences to a file (csv, json, yaml)")
}
