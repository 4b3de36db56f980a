// Package report turns estimation results into text, JSON and CSV output.
package report

import (
	"encoding/json"
	"math"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
)

// Method names the estimator that produced a report.
type Method string

const (
	MethodRANSAC Method = "ransac"
	MethodLinear Method = "linear"
)

// Residual is a per-match residual. Non-finite values encode as JSON null.
type Residual float64

// MarshalJSON implements json.Marshaler.
func (r Residual) MarshalJSON() ([]byte, error) {
	v := float64(r)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte("null"), nil
	}
	return json.Marshal(v)
}

// UnmarshalJSON implements json.Unmarshaler; null decodes as +Inf.
func (r *Residual) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*r = Residual(math.Inf(1))
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*r = Residual(v)
	return nil
}

// Row describes one correspondence in a report.
type Row struct {
	Index    int      `json:"index"`
	X1       float64  `json:"x1"`
	Y1       float64  `json:"y1"`
	X2       float64  `json:"x2"`
	Y2       float64  `json:"y2"`
	Residual Residual `json:"residual"`
	Inlier   bool     `json:"inlier"`
}

// RANSACInfo holds the robust loop statistics.
type RANSACInfo struct {
	Iterations    int    `json:"iterations"`
	BestIteration int    `json:"best_iteration"`
	Skipped       int    `json:"skipped"`
	Workers       int    `json:"workers"`
	Seed          uint64 `json:"seed"`
	Refined       bool   `json:"refined"`
}

// Timing is the duration of one named processing stage.
type Timing struct {
	Stage string  `json:"stage"`
	Ms    float64 `json:"ms"`
}

// Report is the serialisable outcome of one estimation.
type Report struct {
	Method             Method        `json:"method"`
	Metric             string        `json:"metric"`
	F                  [3][3]float64 `json:"fundamental_matrix"`
	Matches            int           `json:"matches"`
	InlierCount        int           `json:"inlier_count"`
	Inliers            []int         `json:"inliers"`
	InlierRatio        float64       `json:"inlier_ratio"`
	MeanInlierResidual Residual      `json:"mean_inlier_residual"`
	MaxInlierResidual  Residual      `json:"max_inlier_residual"`
	RANSAC             *RANSACInfo   `json:"ransac,omitempty"`
	ElapsedMs          float64       `json:"elapsed_ms"`
	Timings            []Timing      `json:"timings,omitempty"`
	Rows               []Row         `json:"rows"`
}

// FromResult builds a report for a robust estimate. Residuals are computed
// with metric, which should match the metric the estimator scored with.
func FromResult(
	res *fundamental.Result,
	matches []geometry.Match2D2D,
	metric fundamental.ResidualMetric,
	elapsed time.Duration,
) Report {
	r := build(MethodRANSAC, res.F, matches, res.Inliers, metric, elapsed)
	r.RANSAC = &RANSACInfo{
		Iterations:    res.Iterations,
		BestIteration: res.Iteration,
		Skipped:       res.Skipped,
		Workers:       res.Workers,
		Seed:          res.Seed,
		Refined:       res.Refined,
	}
	return r
}

// FromLinear builds a report for a plain least-squares fit. Every
// correspondence took part in the fit and is reported as an inlier.
func FromLinear(
	f geometry.Matrix3,
	matches []geometry.Match2D2D,
	metric fundamental.ResidualMetric,
	elapsed time.Duration,
) Report {
	all := make([]int, len(matches))
	for i := range all {
		all[i] = i
	}
	return build(MethodLinear, f, matches, all, metric, elapsed)
}

// AddTiming appends a stage duration.
func (r *Report) AddTiming(stage string, d time.Duration) {
	r.Timings = append(r.Timings, Timing{Stage: stage, Ms: milliseconds(d)})
}

func build(
	method Method,
	f geometry.Matrix3,
	matches []geometry.Match2D2D,
	inliers []int,
	metric fundamental.ResidualMetric,
	elapsed time.Duration,
) Report {
	if metric == "" {
		metric = fundamental.ResidualAlgebraic
	}
	residuals := fundamental.Residuals(f, matches, metric)

	r := Report{
		Method:      method,
		Metric:      string(metric),
		F:           f.Array(),
		Matches:     len(matches),
		InlierCount: len(inliers),
		Inliers:     append([]int{}, inliers...),
		ElapsedMs:   milliseconds(elapsed),
		Rows:        make([]Row, len(matches)),
	}
	if len(matches) > 0 {
		r.InlierRatio = float64(len(inliers)) / float64(len(matches))
	}

	for i, m := range matches {
		r.Rows[i] = Row{
			Index:    i,
			X1:       m.P1.X,
			Y1:       m.P1.Y,
			X2:       m.P2.X,
			Y2:       m.P2.Y,
			Residual: Residual(residuals[i]),
		}
	}

	var sum, maxRes float64
	for _, idx := range inliers {
		r.Rows[idx].Inlier = true
		sum += residuals[idx]
		maxRes = math.Max(maxRes, residuals[idx])
	}
	if len(inliers) > 0 {
		r.MeanInlierResidual = Residual(sum / float64(len(inliers)))
		r.MaxInlierResidual = Residual(maxRes)
	}
	return r
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
