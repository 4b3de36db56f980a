package testutil

import (
	"math"
	"math/rand/v2"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/golang/geo/r3"
)

// Camera intrinsics shared by both synthetic views.
const (
	sceneFocal = 500.0
	sceneCX    = 320.0
	sceneCY    = 240.0
	sceneW     = 640.0
	sceneH     = 480.0

	// Outliers are placed at least this far (in pixels) from their epipolar
	// line in both views.
	minOutlierDistance = 20.0
)

// SceneConfig describes a synthetic two-view scene.
type SceneConfig struct {
	Inliers  int     // Correspondences consistent with the true geometry
	Outliers int     // Random correspondences far from their epipolar line
	Noise    float64 // Gaussian pixel noise added to inliers (standard deviation)
	Seed     uint64
}

// Scene is a set of correspondences with known ground truth.
type Scene struct {
	F        geometry.Matrix3 // True fundamental matrix, unit Frobenius norm
	Matches  []geometry.Match2D2D
	Inliers  []int // Ascending indices of true inliers in Matches
	Outliers []int // Ascending indices of injected outliers in Matches
}

// NewScene projects random 3D points into two calibrated cameras related by a
// small rotation and translation, then mixes in outliers at random positions.
func NewScene(cfg SceneConfig) Scene {
	rng := rand.New(rand.NewPCG(cfg.Seed, 0x5eed))

	k := geometry.Matrix3{sceneFocal, 0, sceneCX, 0, sceneFocal, sceneCY, 0, 0, 1}
	kInv := geometry.Matrix3{1 / sceneFocal, 0, -sceneCX / sceneFocal, 0, 1 / sceneFocal, -sceneCY / sceneFocal, 0, 0, 1}
	rot := rotY(0.15).Mul(rotX(0.05))
	t := r3.Vector{X: 1, Y: 0.1, Z: 0.2}

	f := kInv.Transpose().Mul(skew(t)).Mul(rot).Mul(kInv).Normalized()
	ft := f.Transpose()

	all := make([]geometry.Match2D2D, 0, cfg.Inliers+cfg.Outliers)
	for range cfg.Inliers {
		x := r3.Vector{
			X: -2 + 4*rng.Float64(),
			Y: -1.5 + 3*rng.Float64(),
			Z: 5 + 4*rng.Float64(),
		}
		p1 := project(k, x)
		p2 := project(k, rot.MulVec(x).Add(t))
		if cfg.Noise > 0 {
			p1.X += cfg.Noise * rng.NormFloat64()
			p1.Y += cfg.Noise * rng.NormFloat64()
			p2.X += cfg.Noise * rng.NormFloat64()
			p2.Y += cfg.Noise * rng.NormFloat64()
		}
		all = append(all, geometry.Match2D2D{P1: p1, P2: p2})
	}

	for range cfg.Outliers {
		for {
			p1 := geometry.Point2D{X: sceneW * rng.Float64(), Y: sceneH * rng.Float64()}
			p2 := geometry.Point2D{X: sceneW * rng.Float64(), Y: sceneH * rng.Float64()}
			if EpipolarDistance(f, p1, p2) >= minOutlierDistance &&
				EpipolarDistance(ft, p2, p1) >= minOutlierDistance {
				all = append(all, geometry.Match2D2D{P1: p1, P2: p2})
				break
			}
		}
	}

	scene := Scene{F: f, Matches: make([]geometry.Match2D2D, len(all))}
	for i, src := range rng.Perm(len(all)) {
		scene.Matches[i] = all[src]
		if src < cfg.Inliers {
			scene.Inliers = append(scene.Inliers, i)
		} else {
			scene.Outliers = append(scene.Outliers, i)
		}
	}
	return scene
}

// EpipolarDistance returns the distance in pixels from p2 to the epipolar
// line F·p1. Pass Fᵗ with the points swapped for the first view.
func EpipolarDistance(f geometry.Matrix3, p1, p2 geometry.Point2D) float64 {
	l := f.MulVec(p1.Homogeneous())
	n := math.Hypot(l.X, l.Y)
	if n == 0 {
		return math.Inf(1)
	}
	return math.Abs(p2.Homogeneous().Dot(l)) / n
}

// ScaleMatches multiplies every coordinate by s.
func ScaleMatches(matches []geometry.Match2D2D, s float64) []geometry.Match2D2D {
	out := make([]geometry.Match2D2D, len(matches))
	for i, m := range matches {
		out[i] = geometry.NewMatch(s*m.P1.X, s*m.P1.Y, s*m.P2.X, s*m.P2.Y)
	}
	return out
}

// DemoMatches returns the ten correspondences of the bundled demo.
func DemoMatches() []geometry.Match2D2D {
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

func project(k geometry.Matrix3, x r3.Vector) geometry.Point2D {
	v := k.MulVec(x)
	return geometry.Point2D{X: v.X / v.Z, Y: v.Y / v.Z}
}

func skew(t r3.Vector) geometry.Matrix3 {
	return geometry.Matrix3{
		0, -t.Z, t.Y,
		t.Z, 0, -t.X,
		-t.Y, t.X, 0,
	}
}

func rotX(a float64) geometry.Matrix3 {
	s, c := math.Sincos(a)
	return geometry.Matrix3{1, 0, 0, 0, c, -s, 0, s, c}
}

func rotY(a float64) geometry.Matrix3 {
	s, c := math.Sincos(a)
	return geometry.Matrix3{c, 0, s, 0, 1, 0, -s, 0, c}
}
