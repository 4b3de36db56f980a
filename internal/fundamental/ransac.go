package fundamental

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
)

// Config holds RANSAC parameters.
type Config struct {
	Iterations int            // Number of minimal samples to evaluate
	Threshold  float64        // Residual strictly below this marks an inlier
	Seed       uint64         // Base seed for per-iteration streams (0 = random per call)
	Workers    int            // Parallel workers (0 or 1 = sequential)
	Metric     ResidualMetric // Residual used for scoring (empty = algebraic)
	Refine     bool           // Refit on the best inlier set after the loop
}

// DefaultConfig returns the reference parameters: 1000 iterations and an
// algebraic threshold of 0.01, evaluated sequentially.
func DefaultConfig() Config {
	return Config{
		Iterations: 1000,
		Threshold:  0.01,
		Seed:       0,
		Workers:    1,
		Metric:     ResidualAlgebraic,
		Refine:     false,
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Iterations < 1 {
		return fmt.Errorf("%w: iterations must be at least 1, got %d", ErrInvalidParameters, c.Iterations)
	}
	if math.IsNaN(c.Threshold) || c.Threshold <= 0 {
		return fmt.Errorf("%w: threshold must be positive, got %g", ErrInvalidParameters, c.Threshold)
	}
	if c.Workers < 0 {
		return fmt.Errorf("%w: workers must not be negative, got %d", ErrInvalidParameters, c.Workers)
	}
	if _, err := ParseResidualMetric(string(c.Metric)); err != nil {
		return err
	}
	return nil
}

// Result is the outcome of a robust estimation.
type Result struct {
	F          geometry.Matrix3 // Best rank-2 fundamental matrix
	Inliers    []int            // Ascending indices of matches consistent with F
	Matches    int              // Number of matches scored
	Iteration  int              // Iteration that produced F
	Iterations int              // Iterations evaluated
	Skipped    int              // Iterations whose sample was degenerate
	Workers    int              // Workers actually used
	Seed       uint64           // Base seed of the per-iteration streams
	Refined    bool             // F was refit on its inlier set
}

// InlierRatio returns the fraction of matches that are inliers.
func (r *Result) InlierRatio() float64 {
	if r == nil || r.Matches == 0 {
		return 0
	}
	return float64(len(r.Inliers)) / float64(r.Matches)
}

// Option customises an Estimator.
type Option func(*Estimator)

// WithStreams replaces the seeded per-iteration random streams.
func WithStreams(fn StreamFunc) Option {
	return func(e *Estimator) {
		e.streams = fn
	}
}

// Estimator runs RANSAC around the eight-point solver. It holds no per-call
// state and is safe for concurrent use.
type Estimator struct {
	cfg     Config
	streams StreamFunc
}

// NewEstimator validates cfg and returns an estimator.
func NewEstimator(cfg Config, opts ...Option) (*Estimator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Metric, _ = ParseResidualMetric(string(cfg.Metric))
	if cfg.Workers == 0 {
		cfg.Workers = 1
	}

	e := &Estimator{cfg: cfg}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config returns the effective configuration.
func (e *Estimator) Config() Config { return e.cfg }

// candidate is one scored hypothesis.
type candidate struct {
	f         geometry.Matrix3
	inliers   []int
	iteration int
}

// beats orders candidates by inlier count, then by earlier iteration.
// A candidate with no inliers never wins.
func (c candidate) beats(o candidate) bool {
	if len(c.inliers) != len(o.inliers) {
		return len(c.inliers) > len(o.inliers)
	}
	return len(c.inliers) > 0 && c.iteration < o.iteration
}

func noCandidate() candidate { return candidate{iteration: -1} }

// Estimate returns the candidate F with the largest inlier set over the
// configured iterations. Ties keep the earliest iteration, so a fixed seed
// gives the same result for any worker count.
func (e *Estimator) Estimate(ctx context.Context, matches []geometry.Match2D2D) (*Result, error) {
	if err := requireCorrespondences(len(matches)); err != nil {
		return nil, err
	}

	pts1, pts2 := geometry.SplitMatches(matches)
	if geometry.Coincident(pts1) {
		return nil, fmt.Errorf("%w: all view 1 points coincide", ErrDegenerateInput)
	}
	if geometry.Coincident(pts2) {
		return nil, fmt.Errorf("%w: all view 2 points coincide", ErrDegenerateInput)
	}

	seed := e.cfg.Seed
	streams := e.streams
	if streams == nil {
		for seed == 0 {
			seed = rand.Uint64()
		}
		streams = SeededStreams(seed)
	}

	start := time.Now()
	workers := min(e.cfg.Workers, e.cfg.Iterations)

	var (
		best    candidate
		skipped int
		err     error
	)
	if workers == 1 {
		best, skipped, err = e.runSequential(ctx, matches, streams)
	} else {
		best, skipped, err = e.runParallel(ctx, matches, streams, workers)
	}
	if err != nil {
		return nil, fmt.Errorf("ransac: %w", err)
	}

	if len(best.inliers) == 0 {
		return nil, fmt.Errorf("%w: %d iterations, %d skipped, threshold %g",
			ErrNoConsensus, e.cfg.Iterations, skipped, e.cfg.Threshold)
	}

	refined := false
	if e.cfg.Refine {
		best, refined = e.refine(best, matches)
	}

	slog.Debug("RANSAC estimation completed",
		"matches", len(matches),
		"inliers", len(best.inliers),
		"iteration", best.iteration,
		"skipped", skipped,
		"workers", workers,
		"refined", refined,
		"duration_ms", time.Since(start).Milliseconds())

	return &Result{
		F:          best.f,
		Inliers:    best.inliers,
		Matches:    len(matches),
		Iteration:  best.iteration,
		Iterations: e.cfg.Iterations,
		Skipped:    skipped,
		Workers:    workers,
		Seed:       seed,
		Refined:    refined,
	}, nil
}

// evaluate fits and scores the sample of iteration i. ok is false when the
// sample was degenerate.
func (e *Estimator) evaluate(i int, matches []geometry.Match2D2D, streams StreamFunc) (candidate, bool) {
	idx := sampleIndices(streams(i), len(matches), MinCorrespondences)
	f, err := EstimateLinear(geometry.SelectMatches(matches, idx))
	if err != nil || !f.IsFinite() {
		slog.Debug("Skipping degenerate RANSAC sample", "iteration", i, "sample", idx, "error", err)
		return candidate{}, false
	}
	return candidate{
		f:         f,
		inliers:   Inliers(f, matches, e.cfg.Threshold, e.cfg.Metric),
		iteration: i,
	}, true
}

func (e *Estimator) runSequential(
	ctx context.Context,
	matches []geometry.Match2D2D,
	streams StreamFunc,
) (candidate, int, error) {
	best := noCandidate()
	skipped := 0
	for i := range e.cfg.Iterations {
		if err := ctx.Err(); err != nil {
			return candidate{}, 0, err
		}
		c, ok := e.evaluate(i, matches, streams)
		if !ok {
			skipped++
			continue
		}
		if c.beats(best) {
			best = c
		}
	}
	return best, skipped, nil
}

// refine refits F on the inliers of best and keeps the refit only if it does
// not lose inliers.
func (e *Estimator) refine(best candidate, matches []geometry.Match2D2D) (candidate, bool) {
	if len(best.inliers) < MinCorrespondences {
		return best, false
	}
	f, err := EstimateLinear(geometry.SelectMatches(matches, best.inliers))
	if err != nil || !f.IsFinite() {
		slog.Debug("Inlier refinement failed", "error", err)
		return best, false
	}
	inliers := Inliers(f, matches, e.cfg.Threshold, e.cfg.Metric)
	if len(inliers) < len(best.inliers) {
		return best, false
	}
	return candidate{f: f, inliers: inliers, iteration: best.iteration}, true
}

// EstimateRANSAC runs a sequential robust estimation with the algebraic
// residual.
func EstimateRANSAC(
	ctx context.Context,
	matches []geometry.Match2D2D,
	iterations int,
	threshold float64,
	seed uint64,
) (*Result, error) {
	cfg := DefaultConfig()
	cfg.Iterations = iterations
	cfg.Threshold = threshold
	cfg.Seed = seed

	e, err := NewEstimator(cfg)
	if err != nil {
		return nil, err
	}
	return e.Estimate(ctx, matches)
}
