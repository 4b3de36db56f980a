package fundamental

import (
	"context"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"golang.org/x/sync/errgroup"
)

// workerBest is the local result of one worker.
type workerBest struct {
	best    candidate
	skipped int
}

// runParallel splits iterations across workers by stride. Each worker keeps
// its own best and the reduction applies the same ordering as the sequential
// loop, so the winner does not depend on scheduling.
func (e *Estimator) runParallel(
	ctx context.Context,
	matches []geometry.Match2D2D,
	streams StreamFunc,
	workers int,
) (candidate, int, error) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	locals := make([]workerBest, workers)
	for w := range workers {
		g.Go(func() error {
			local := workerBest{best: noCandidate()}
			for i := w; i < e.cfg.Iterations; i += workers {
				if err := gctx.Err(); err != nil {
					return err
				}
				c, ok := e.evaluate(i, matches, streams)
				if !ok {
					local.skipped++
					continue
				}
				if c.beats(local.best) {
					local.best = c
				}
			}
			locals[w] = local
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return candidate{}, 0, err
	}

	best := noCandidate()
	skipped := 0
	for _, l := range locals {
		skipped += l.skipped
		if l.best.beats(best) {
			best = l.best
		}
	}
	return best, skipped, nil
}
