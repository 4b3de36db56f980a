package report

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/MeKo-Tech/epipolar/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func demoResult(t *testing.T) (*fundamental.Result, []geometry.Match2D2D) {
	t.Helper()
	matches := testutil.DemoMatches()
	res, err := fundamental.EstimateRANSAC(context.Background(), matches, 50, 100, 7)
	require.NoError(t, err)
	return res, matches
}

func TestFromResult(t *testing.T) {
	res, matches := demoResult(t)

	r := FromResult(res, matches, fundamental.ResidualAlgebraic, 1500*time.Microsecond)

	assert.Equal(t, MethodRANSAC, r.Method)
	assert.Equal(t, "algebraic", r.Metric)
	assert.Equal(t, res.F.Array(), r.F)
	assert.Equal(t, len(matches), r.Matches)
	assert.Equal(t, len(res.Inliers), r.InlierCount)
	assert.Equal(t, res.Inliers, r.Inliers)
	assert.InDelta(t, res.InlierRatio(), r.InlierRatio, 1e-12)
	assert.InDelta(t, 1.5, r.ElapsedMs, 1e-9)
	require.NotNil(t, r.RANSAC)
	assert.Equal(t, 50, r.RANSAC.Iterations)
	assert.Equal(t, uint64(7), r.RANSAC.Seed)
	assert.Equal(t, res.Iteration, r.RANSAC.BestIteration)

	require.Len(t, r.Rows, len(matches))
	residuals := fundamental.Residuals(res.F, matches, fundamental.ResidualAlgebraic)
	var maxRes float64
	for i, row := range r.Rows {
		assert.Equal(t, i, row.Index)
		assert.Equal(t, matches[i].P1.X, row.X1)
		assert.Equal(t, matches[i].P2.Y, row.Y2)
		assert.InDelta(t, residuals[i], float64(row.Residual), 1e-15)
		assert.True(t, row.Inlier, "threshold 100 admits every demo match")
		maxRes = math.Max(maxRes, residuals[i])
	}
	assert.InDelta(t, maxRes, float64(r.MaxInlierResidual), 1e-15)
	assert.LessOrEqual(t, float64(r.MeanInlierResidual), float64(r.MaxInlierResidual))
}

func TestFromResult_MarksOnlyInliers(t *testing.T) {
	matches := testutil.DemoMatches()
	res := &fundamental.Result{
		F:          geometry.Matrix3{0, 0, 0, 0, 0, -1, 0, 1, 0},
		Inliers:    []int{1, 4},
		Matches:    len(matches),
		Iterations: 3,
		Workers:    1,
	}

	r := FromResult(res, matches, "", 0)

	assert.Equal(t, "algebraic", r.Metric, "empty metric defaults to algebraic")
	for _, row := range r.Rows {
		assert.Equal(t, row.Index == 1 || row.Index == 4, row.Inlier, "row %d", row.Index)
	}
	assert.InDelta(t, 0.2, r.InlierRatio, 1e-12)
}

func TestFromLinear(t *testing.T) {
	scene := testutil.NewScene(testutil.SceneConfig{Inliers: 20, Noise: 0.2, Seed: 3})
	f, err := fundamental.EstimateLinear(scene.Matches)
	require.NoError(t, err)

	r := FromLinear(f, scene.Matches, fundamental.ResidualSampson, time.Millisecond)

	assert.Equal(t, MethodLinear, r.Method)
	assert.Equal(t, "sampson", r.Metric)
	assert.Nil(t, r.RANSAC)
	assert.Equal(t, 20, r.InlierCount)
	assert.InDelta(t, 1.0, r.InlierRatio, 1e-12)
	for _, row := range r.Rows {
		assert.True(t, row.Inlier)
	}
}

func TestResidual_JSON(t *testing.T) {
	b, err := json.Marshal([]Residual{1.5, Residual(math.Inf(1)), Residual(math.NaN())})
	require.NoError(t, err)
	assert.Equal(t, "[1.5,null,null]", string(b))

	var back []Residual
	require.NoError(t, json.Unmarshal(b, &back))
	require.Len(t, back, 3)
	assert.Equal(t, Residual(1.5), back[0])
	assert.True(t, math.IsInf(float64(back[1]), 1))
}

func TestToJSON(t *testing.T) {
	res, matches := demoResult(t)
	r := FromResult(res, matches, fundamental.ResidualAlgebraic, time.Millisecond)
	r.AddTiming("estimate", 2*time.Millisecond)

	b, err := ToJSON(r)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(string(b), "}\n"))

	var decoded Report
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, r, decoded)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(b, &raw))
	assert.Contains(t, raw, "fundamental_matrix")
	assert.Contains(t, raw, "ransac")
	assert.Contains(t, raw, "timings")
}

func TestToCSV(t *testing.T) {
	res, matches := demoResult(t)
	r := FromResult(res, matches, fundamental.ResidualAlgebraic, 0)

	out, err := ToCSV(r, 4)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, len(matches)+1)
	assert.Equal(t, []string{"index", "x1", "y1", "x2", "y2", "residual", "inlier"}, records[0])
	assert.Equal(t, []string{"0", "10", "20", "12", "21"}, records[1][:5])
	assert.Equal(t, "true", records[1][6])
}

func TestToCSV_InfiniteResidual(t *testing.T) {
	r := Report{Rows: []Row{{Index: 0, Residual: Residual(math.Inf(1))}}}

	out, err := ToCSV(r, 6)
	require.NoError(t, err)
	assert.Contains(t, out, "+Inf")
}

func TestToText(t *testing.T) {
	res, matches := demoResult(t)
	r := FromResult(res, matches, fundamental.ResidualAlgebraic, 0)

	out := ToText(r, DefaultPrecision)

	lines := strings.Split(out, "\n")
	require.Greater(t, len(lines), 6)
	assert.Equal(t, "Estimated Fundamental Matrix (RANSAC):", lines[0])
	assert.Len(t, strings.Fields(lines[1]), 3)
	assert.Len(t, strings.Fields(lines[3]), 3)
	assert.Equal(t, "Number of inliers: 10", lines[4])
	assert.Equal(t, "Inlier indices: 0 1 2 3 4 5 6 7 8 9", lines[5])
	assert.Contains(t, out, "Best iteration: ")
	assert.Contains(t, out, "Seed: 7, workers: 1")
	assert.Contains(t, out, "Correspondences:")
}

func TestToText_Linear(t *testing.T) {
	f, err := fundamental.EstimateLinear(testutil.DemoMatches())
	require.NoError(t, err)

	out := ToText(FromLinear(f, testutil.DemoMatches(), fundamental.ResidualAlgebraic, 0), 3)

	assert.True(t, strings.HasPrefix(out, "Estimated Fundamental Matrix (linear):\n"))
	assert.NotContains(t, out, "Best iteration")
}

func TestFormat(t *testing.T) {
	res, matches := demoResult(t)
	r := FromResult(res, matches, fundamental.ResidualAlgebraic, 0)

	tests := []struct {
		format  string
		prefix  string
		wantErr bool
	}{
		{format: "", prefix: "Estimated Fundamental Matrix"},
		{format: FormatText, prefix: "Estimated Fundamental Matrix"},
		{format: FormatJSON, prefix: "{"},
		{format: FormatCSV, prefix: "index,"},
		{format: "xml", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			out, err := Format(r, tt.format, DefaultPrecision)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, strings.HasPrefix(out, tt.prefix), out)
		})
	}
}

func TestFormatMatrix_Alignment(t *testing.T) {
	out := formatMatrix([3][3]float64{{1, -2.5, 3}, {0, 10, 0}, {-100, 0, 1}}, 6)

	lines := strings.Split(strings.TrimSuffix(out, "\n"), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, len(lines[0]), len(lines[1]))
	assert.Equal(t, len(lines[1]), len(lines[2]))
	assert.Equal(t, "   1 -2.5    3", lines[0])
}

func TestNum(t *testing.T) {
	assert.Equal(t, "0.333", num(1.0/3, 3))
	assert.Equal(t, "0.3333333333333333", num(1.0/3, 0))
	assert.Equal(t, "1e+06", num(1e6, 3))
}
