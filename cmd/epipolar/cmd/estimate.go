package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"

	"github.com/MeKo-Tech/epipolar/internal/common"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/spf13/cobra"
)

// estimateCmd represents the estimate command.
var estimateCmd = &cobra.Command{
	Use:   "estimate <file>",
	Short: "Estimate a fundamental matrix with RANSAC",
	Long: `Load point correspondences from a CSV, JSON or YAML file and estimate the
fundamental matrix with the normalized eight-point solver inside RANSAC.

CSV files hold one correspondence per row (x1,y1,x2,y2, optional header).
JSON and YAML files hold {"matches": [{"p1": [x, y], "p2": [x, y]}, ...]}.

A fixed --seed gives the same result for any --workers value.

Examples:
  epipolar estimate matches.csv
  epipolar estimate matches.yaml --iterations 5000 --threshold 0.05
  epipolar estimate matches.json --metric sampson --threshold 2 --refine
  epipolar estimate matches.csv --seed 42 --workers 4 --format json --output result.json`,
	Args:         cobra.ExactArgs(1),
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts, err := optionsFromFlags(cmd)
		if err != nil {
			return err
		}

		timer := common.NewNamedTimer("estimate")
		matches, err := matchio.Load(args[0])
		if err != nil {
			return fmt.Errorf("failed to load correspondences: %w", err)
		}
		timer.Lap("load")
		slog.Debug("Loaded correspondences", "file", args[0], "matches", len(matches))

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
		defer stop()

		rep, err := estimateRobust(ctx, timer, matches, opts.estimator)
		if err != nil {
			return fmt.Errorf("estimation failed: %w", err)
		}

		return writeReport(cmd, rep, opts)
	},
}

func init() {
	rootCmd.AddCommand(estimateCmd)
	addRANSACFlags(estimateCmd)
	addOutputFlags(estimateCmd)
}
