package cmd

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/MeKo-Tech/epipolar/internal/config"
	"github.com/MeKo-Tech/epipolar/internal/fundamental"
	"github.com/MeKo-Tech/epipolar/internal/matchio"
	"github.com/MeKo-Tech/epipolar/internal/report"
	"github.com/MeKo-Tech/epipolar/internal/testutil"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeReport(t *testing.T, out string) report.Report {
	t.Helper()
	var rep report.Report
	require.NoError(t, json.Unmarshal([]byte(out), &rep), out)
	return rep
}

func TestEstimateCommand_JSON(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.csv")

	out, _, err := executeCommand(t, "estimate", path,
		"--threshold", "100", "--seed", "7", "--iterations", "50", "--format", "json")
	require.NoError(t, err)

	rep := decodeReport(t, out)
	assert.Equal(t, report.MethodRANSAC, rep.Method)
	assert.Equal(t, 10, rep.Matches)
	assert.Equal(t, 10, rep.InlierCount)
	require.NotNil(t, rep.RANSAC)
	assert.Equal(t, uint64(7), rep.RANSAC.Seed)
	assert.Equal(t, 50, rep.RANSAC.Iterations)

	var stages []string
	for _, tm := range rep.Timings {
		stages = append(stages, tm.Stage)
	}
	assert.Equal(t, []string{"load", "ransac"}, stages)
}

func TestEstimateCommand_WorkersDoNotChangeResult(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.yaml")
	args := []string{"estimate", path, "--threshold", "100", "--seed", "11", "--iterations", "64", "--format", "json"}

	seqOut, _, err := executeCommand(t, args...)
	require.NoError(t, err)
	parOut, _, err := executeCommand(t, append(args, "--workers", "4")...)
	require.NoError(t, err)

	seq, par := decodeReport(t, seqOut), decodeReport(t, parOut)
	assert.Equal(t, seq.F, par.F)
	assert.Equal(t, seq.Inliers, par.Inliers)
	assert.Equal(t, seq.RANSAC.BestIteration, par.RANSAC.BestIteration)
	assert.Equal(t, 4, par.RANSAC.Workers)
}

func TestEstimateCommand_TextToFile(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.json")
	outFile := filepath.Join(t.TempDir(), "report.txt")

	out, _, err := executeCommand(t, "estimate", path, "--threshold", "100", "--seed", "1", "--output", outFile)
	require.NoError(t, err)
	assert.Empty(t, out)

	data, err := os.ReadFile(outFile)
	require.NoError(t, err)
	text := string(data)
	assert.Contains(t, text, "Estimated Fundamental Matrix (RANSAC):")
	assert.Contains(t, text, "Number of inliers: 10")
	assert.Contains(t, text, "Inlier indices: 0 1 2 3 4 5 6 7 8 9")
}

func TestEstimateCommand_CSV(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.csv")

	out, _, err := executeCommand(t, "estimate", path, "--threshold", "100", "--seed", "1", "--format", "csv")
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 11)
	assert.Equal(t, []string{"index", "x1", "y1", "x2", "y2", "residual", "inlier"}, records[0])
}

func TestEstimateCommand_Errors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		is      error
	}{
		{
			name:    "missing argument",
			args:    []string{"estimate"},
			wantErr: "accepts 1 arg",
		},
		{
			name:    "missing file",
			args:    []string{"estimate", filepath.Join(t.TempDir(), "nope.csv")},
			wantErr: "failed to load correspondences",
		},
		{
			name:    "too few correspondences",
			args:    []string{"estimate", testutil.GetMatchesPath(t, "seven.csv")},
			wantErr: "estimation failed",
			is:      fundamental.ErrInsufficientCorrespondences,
		},
		{
			name:    "unknown metric",
			args:    []string{"estimate", testutil.GetMatchesPath(t, "demo.csv"), "--metric", "median"},
			wantErr: "unknown residual metric",
			is:      fundamental.ErrInvalidParameters,
		},
		{
			name:    "zero threshold",
			args:    []string{"estimate", testutil.GetMatchesPath(t, "demo.csv"), "--threshold", "0"},
			wantErr: "threshold must be positive",
			is:      fundamental.ErrInvalidParameters,
		},
		{
			name:    "unknown format",
			args:    []string{"estimate", testutil.GetMatchesPath(t, "demo.csv"), "--threshold", "100", "--format", "xml"},
			wantErr: "unsupported output format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
			if tt.is != nil {
				assert.ErrorIs(t, err, tt.is)
			}
		})
	}
}

func TestLinearCommand(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.csv")

	out, _, err := executeCommand(t, "linear", path, "--format", "json")
	require.NoError(t, err)

	rep := decodeReport(t, out)
	assert.Equal(t, report.MethodLinear, rep.Method)
	assert.Equal(t, 10, rep.InlierCount)
	assert.Nil(t, rep.RANSAC)

	matches, err := matchio.Load(path)
	require.NoError(t, err)
	f, err := fundamental.EstimateLinear(matches)
	require.NoError(t, err)
	assert.Equal(t, f.Array(), rep.F)
}

func TestLinearCommand_RejectsRANSACFlags(t *testing.T) {
	_, errOut, err := executeCommand(t, "linear", testutil.GetMatchesPath(t, "demo.csv"), "--iterations", "5")
	require.Error(t, err)
	assert.Contains(t, errOut, "unknown flag")
}

func TestDemoCommand(t *testing.T) {
	out, _, err := executeCommand(t, "demo", "--threshold", "100", "--seed", "3")
	require.NoError(t, err)

	assert.Contains(t, out, "Estimated Fundamental Matrix (RANSAC):")
	assert.Contains(t, out, "Number of inliers: 10")
	assert.Contains(t, out, "of 1000 (")
}

func TestDemoCommand_MatchesBundledData(t *testing.T) {
	assert.Equal(t, testutil.DemoMatches(), demoMatches())
}

func TestDemoCommand_Save(t *testing.T) {
	saved := filepath.Join(t.TempDir(), "demo.yaml")

	_, _, err := executeCommand(t, "demo", "--threshold", "100", "--seed", "3", "--save", saved)
	require.NoError(t, err)

	matches, err := matchio.Load(saved)
	require.NoError(t, err)
	assert.Equal(t, demoMatches(), matches)
}

func TestConfigInitCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "epipolar.yaml")

	out, _, err := executeCommand(t, "config", "init", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Configuration written to "+path)

	cfg, err := config.NewLoaderWithViper(viper.New()).LoadWithFile(path)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfig(), *cfg)
}

func TestConfigShowCommand(t *testing.T) {
	out, _, err := executeCommand(t, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "ransac:")
	assert.Contains(t, out, "server:")
}

func TestServerConfigFromFlags(t *testing.T) {
	resetFlags(rootCmd)
	t.Cleanup(func() { resetFlags(rootCmd) })

	require.NoError(t, serveCmd.Flags().Set("port", "9090"))
	require.NoError(t, serveCmd.Flags().Set("max-body-size", "2"))
	require.NoError(t, serveCmd.Flags().Set("rate-limit-enabled", "true"))
	require.NoError(t, serveCmd.Flags().Set("max-matches-per-day", "500"))

	cfg := config.DefaultConfig()
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.ShutdownTimeout = 3

	sc, shutdown := serverConfigFromFlags(serveCmd, &cfg)
	assert.Equal(t, "0.0.0.0", sc.Host, "unset flags keep the configured value")
	assert.Equal(t, 9090, sc.Port)
	assert.Equal(t, int64(2), sc.MaxBodyMB)
	assert.True(t, sc.RateLimit.Enabled)
	assert.Equal(t, 500, sc.RateLimit.MaxMatchesPerDay)
	assert.Equal(t, cfg.Server.RequestsPerMinute, sc.RateLimit.RequestsPerMinute)
	assert.Equal(t, cfg.ToEstimatorConfig(), sc.Estimator)
	assert.Equal(t, 3, shutdown)
}

func TestServeCommand_InvalidPort(t *testing.T) {
	_, _, err := executeCommand(t, "serve", "--port", "0")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port number")
}

func TestBenchCommand(t *testing.T) {
	path := testutil.GetMatchesPath(t, "demo.csv")

	out, _, err := executeCommand(t, "bench", path,
		"--runs", "2", "--iterations", "20", "--threshold", "100", "--seed", "5",
		"--workers", "2", "--compare-workers")
	require.NoError(t, err)

	assert.Contains(t, out, "Correspondences: 10")
	assert.Contains(t, out, "workers=1: 2 runs")
	assert.Contains(t, out, "workers=2: 2 runs")
	assert.Contains(t, out, "inliers: 10")
}

func TestBenchCommand_NoConsensus(t *testing.T) {
	_, _, err := executeCommand(t, "bench", testutil.GetMatchesPath(t, "demo.csv"),
		"--runs", "1", "--iterations", "5", "--threshold", "1e-300", "--seed", "5")
	require.Error(t, err)
	assert.ErrorIs(t, err, fundamental.ErrNoConsensus)
}
