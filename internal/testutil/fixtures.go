package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/MeKo-Tech/epipolar/internal/geometry"
	"github.com/stretchr/testify/require"
)

// TestFixture is a stored correspondence set with its expected estimate.
type TestFixture struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Matches     []geometry.Match2D2D   `json:"matches"`
	Expected    ExpectedEstimate       `json:"expected"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// ExpectedEstimate holds the ground truth of a fixture.
type ExpectedEstimate struct {
	F        *geometry.Matrix3 `json:"f,omitempty"`
	Inliers  []int             `json:"inliers,omitempty"`
	Outliers []int             `json:"outliers,omitempty"`
}

// FixtureFromScene captures a synthetic scene as a fixture.
func FixtureFromScene(name, description string, cfg SceneConfig) TestFixture {
	scene := NewScene(cfg)
	return TestFixture{
		Name:        name,
		Description: description,
		Matches:     scene.Matches,
		Expected: ExpectedEstimate{
			F:        &scene.F,
			Inliers:  scene.Inliers,
			Outliers: scene.Outliers,
		},
		Metadata: map[string]interface{}{
			"seed":  cfg.Seed,
			"noise": cfg.Noise,
		},
	}
}

// LoadFixture loads a test fixture from a JSON file in the fixtures directory.
func LoadFixture(t *testing.T, name string) TestFixture {
	t.Helper()

	return LoadFixtureFrom(t, GetFixturesDir(t), name)
}

// LoadFixtureFrom loads a test fixture from a JSON file in dir.
func LoadFixtureFrom(t *testing.T, dir, name string) TestFixture {
	t.Helper()

	fixturePath := filepath.Join(dir, name+".json")

	data, err := os.ReadFile(fixturePath) //nolint:gosec // G304: Reading test fixture files with controlled paths
	require.NoError(t, err, "Failed to read fixture file: %s", fixturePath)

	var fixture TestFixture
	err = json.Unmarshal(data, &fixture)
	require.NoError(t, err, "Failed to unmarshal fixture JSON")

	return fixture
}

// SaveFixture saves a test fixture as JSON in dir.
func SaveFixture(t *testing.T, dir string, fixture TestFixture) string {
	t.Helper()

	require.NoError(t, EnsureDir(dir))

	fixturePath := filepath.Join(dir, fixture.Name+".json")

	data, err := json.MarshalIndent(fixture, "", "  ")
	require.NoError(t, err, "Failed to marshal fixture to JSON")

	err = os.WriteFile(fixturePath, data, 0o600)
	require.NoError(t, err, "Failed to write fixture file: %s", fixturePath)

	return fixturePath
}
