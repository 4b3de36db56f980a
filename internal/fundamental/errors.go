package fundamental

import (
	"errors"
	"fmt"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
)

// MinCorrespondences is the number of matches the eight-point solver needs.
const MinCorrespondences = 8

var (
	// ErrInsufficientCorrespondences is returned when fewer than
	// MinCorrespondences matches are supplied.
	ErrInsufficientCorrespondences = errors.New("insufficient correspondences")

	// ErrDegenerateInput is returned when one view's points have no spread.
	ErrDegenerateInput = geometry.ErrDegenerateInput

	// ErrInvalidParameters is returned for an unusable estimator configuration.
	ErrInvalidParameters = errors.New("invalid parameters")

	// ErrNoConsensus is returned when no RANSAC candidate explains any match.
	ErrNoConsensus = errors.New("no consensus")
)

func requireCorrespondences(n int) error {
	if n < MinCorrespondences {
		return fmt.Errorf("%w: got %d, need at least %d", ErrInsufficientCorrespondences, n, MinCorrespondences)
	}
	return nil
}
